package query

// Expression is the engine-neutral filter tree produced by Parse.
// The variant set is closed: translators switch over it exhaustively.
type Expression interface {
	isExpression()
}

// Empty matches everything. Blank input parses to it.
type Empty struct{}

// CompareOp is a binary comparison operator.
type CompareOp string

const (
	OpEq   CompareOp = "="
	OpNe   CompareOp = "!="
	OpLt   CompareOp = "<"
	OpLe   CompareOp = "<="
	OpGt   CompareOp = ">"
	OpGe   CompareOp = ">="
	OpLike CompareOp = "like"
)

// LogicOp connects sub-expressions.
type LogicOp string

const (
	LogicAnd LogicOp = "and"
	LogicOr  LogicOp = "or"
	LogicNot LogicOp = "not"
)

// ArrayOp is a predicate over a multivalued field.
type ArrayOp string

const (
	ArrayAny ArrayOp = "any"
	ArrayAll ArrayOp = "all"
)

// ConstantType tags a literal so translators can format it natively.
type ConstantType string

const (
	ConstString    ConstantType = "STRING"
	ConstInteger   ConstantType = "INTEGER"
	ConstDecimal   ConstantType = "DECIMAL"
	ConstBoolean   ConstantType = "BOOLEAN"
	ConstDate      ConstantType = "DATE"
	ConstTimestamp ConstantType = "TIMESTAMP"
)

// Constant is a typed literal. Null constants carry no value.
type Constant struct {
	Type  ConstantType
	Value any
	Null  bool
}

// Comparison is `field op constant`. Field may be a dotted reference
// path ("countries.name") resolved by the translators.
type Comparison struct {
	Field string
	Op    CompareOp
	Value Constant
}

// In is `field in (c1, c2, ...)`.
type In struct {
	Field  string
	Values []Constant
}

// Logic is and/or over two or more operands, or not over exactly one.
type Logic struct {
	Op       LogicOp
	Operands []Expression
}

// Array is `field any [...]` / `field all [...]` against a multivalued field.
type Array struct {
	Field  string
	Op     ArrayOp
	Values []Constant
}

func (Empty) isExpression()      {}
func (Comparison) isExpression() {}
func (In) isExpression()         {}
func (Logic) isExpression()      {}
func (Array) isExpression()      {}
