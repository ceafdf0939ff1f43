package helpers

import (
	"fmt"
	"strconv"
	"strings"

	"go.mongodb.org/mongo-driver/bson/primitive"
)

// NormalizeDecimal converts any accepted DECIMAL literal form into the
// canonical Decimal128 representation. Writing 2, 2.0 or "2.0" always
// yields the same stored value, so round-trips compare equal no matter
// which literal form the caller used.
func NormalizeDecimal(v any) (primitive.Decimal128, error) {
	s, err := decimalString(v)
	if err != nil {
		return primitive.Decimal128{}, err
	}
	canonical, err := CanonicalDecimalString(s)
	if err != nil {
		return primitive.Decimal128{}, err
	}
	dec, err := primitive.ParseDecimal128(canonical)
	if err != nil {
		return primitive.Decimal128{}, fmt.Errorf("invalid decimal %q: %w", s, err)
	}
	return dec, nil
}

func decimalString(v any) (string, error) {
	switch x := v.(type) {
	case primitive.Decimal128:
		return x.String(), nil
	case string:
		return strings.TrimSpace(x), nil
	case int:
		return strconv.Itoa(x), nil
	case int32:
		return strconv.FormatInt(int64(x), 10), nil
	case int64:
		return strconv.FormatInt(x, 10), nil
	case float32:
		return strconv.FormatFloat(float64(x), 'f', -1, 32), nil
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64), nil
	default:
		return "", fmt.Errorf("cannot interpret %T as decimal", v)
	}
}

// CanonicalDecimalString trims the sign, leading integer zeros and
// trailing fraction zeros from a plain decimal literal, so equal values
// share one textual form.
func CanonicalDecimalString(s string) (string, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", fmt.Errorf("empty decimal literal")
	}
	neg := false
	switch s[0] {
	case '-':
		neg = true
		s = s[1:]
	case '+':
		s = s[1:]
	}
	intPart := s
	fracPart := ""
	if i := strings.IndexByte(s, '.'); i >= 0 {
		intPart, fracPart = s[:i], s[i+1:]
	}
	if intPart == "" && fracPart == "" {
		return "", fmt.Errorf("malformed decimal literal %q", s)
	}
	for _, part := range []string{intPart, fracPart} {
		for i := 0; i < len(part); i++ {
			if part[i] < '0' || part[i] > '9' {
				return "", fmt.Errorf("malformed decimal literal %q", s)
			}
		}
	}
	intPart = strings.TrimLeft(intPart, "0")
	if intPart == "" {
		intPart = "0"
	}
	fracPart = strings.TrimRight(fracPart, "0")
	out := intPart
	if fracPart != "" {
		out += "." + fracPart
	}
	if neg && out != "0" {
		out = "-" + out
	}
	return out, nil
}
