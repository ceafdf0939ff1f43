package migration

import (
	"fmt"
	"strconv"
	"strings"
	"unicode"

	"dictstore/src/models"
)

// The migration dialect is a constrained SQL look-alike replayed against
// the services, never against a physical engine. Statements end with
// ';', identifiers may carry a display name in brackets
// (country['Country']), and WHERE clauses are passed through verbatim
// as filter-DSL text.

// Statement is one parsed migration statement.
type Statement interface {
	isStatement()
}

// ColumnDef is one column of a create/add-column statement.
type ColumnDef struct {
	ID         string
	Name       string
	Type       string
	NotNull    bool
	References string
}

type CreateTable struct {
	ID      string
	Name    string
	Columns []ColumnDef
	Engine  string
}

type AddColumn struct {
	Table  string
	Column ColumnDef
}

type DropColumn struct {
	Table  string
	Column string
}

type AddConstraint struct {
	Table  string
	ID     string
	Fields []string
}

type DropConstraint struct {
	Table string
	ID    string
}

type IndexFieldDef struct {
	Field string
	Desc  bool
}

type CreateIndex struct {
	ID     string
	Table  string
	Fields []IndexFieldDef
}

type DropIndex struct {
	ID    string
	Table string
}

// Literal is one value in an insert/update. A bare identifier on the
// right-hand side of an update set means "copy that column's current
// value per row" and lands in Column instead of Value.
type Literal struct {
	Value  any
	Null   bool
	Column string
}

type Insert struct {
	Table   string
	Columns []string
	Rows    [][]Literal
}

type SetClause struct {
	Column string
	Value  Literal
}

type Update struct {
	Table string
	Sets  []SetClause
	Where string
}

type Delete struct {
	Table string
	Where string
}

func (CreateTable) isStatement()   {}
func (AddColumn) isStatement()     {}
func (DropColumn) isStatement()    {}
func (AddConstraint) isStatement() {}
func (DropConstraint) isStatement() {}
func (CreateIndex) isStatement()   {}
func (DropIndex) isStatement()     {}
func (Insert) isStatement()        {}
func (Update) isStatement()        {}
func (Delete) isStatement()        {}

type sqlTokenKind int

const (
	sqlEOF sqlTokenKind = iota
	sqlIdent
	sqlString
	sqlNumber
	sqlPunct
)

type sqlToken struct {
	kind sqlTokenKind
	text string
	pos  int
	end  int
}

// ParseScript parses a whole migration script into statements. Comments
// and blank input parse to zero statements; any malformed statement
// fails the whole script.
func ParseScript(script string) ([]Statement, error) {
	src := stripComments(script)
	tokens, err := sqlTokenize(src)
	if err != nil {
		return nil, err
	}
	p := &sqlParser{src: src, tokens: tokens}
	var stmts []Statement
	for {
		for p.peek().kind == sqlPunct && p.peek().text == ";" {
			p.next()
		}
		if p.peek().kind == sqlEOF {
			return stmts, nil
		}
		stmt, err := p.parseStatement()
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, stmt)
	}
}

// stripComments blanks out -- line comments and /* */ block comments,
// preserving offsets so error positions stay meaningful.
func stripComments(src string) string {
	out := []byte(src)
	i := 0
	for i < len(out) {
		switch {
		case out[i] == '\'':
			i++
			for i < len(out) && out[i] != '\'' {
				i++
			}
			i++
		case i+1 < len(out) && out[i] == '-' && out[i+1] == '-':
			for i < len(out) && out[i] != '\n' {
				out[i] = ' '
				i++
			}
		case i+1 < len(out) && out[i] == '/' && out[i+1] == '*':
			for i < len(out) && !(out[i] == '*' && i+1 < len(out) && out[i+1] == '/') {
				out[i] = ' '
				i++
			}
			if i+1 < len(out) {
				out[i], out[i+1] = ' ', ' '
				i += 2
			}
		default:
			i++
		}
	}
	return string(out)
}

func sqlTokenize(src string) ([]sqlToken, error) {
	var tokens []sqlToken
	i := 0
	for i < len(src) {
		c := src[i]
		switch {
		case c == ' ' || c == '\t' || c == '\n' || c == '\r':
			i++
		case c == '\'':
			start := i
			i++
			var sb strings.Builder
			for {
				if i >= len(src) {
					return nil, fmt.Errorf("unterminated string at position %d: %w", start, models.ErrMigration)
				}
				if src[i] == '\'' {
					if i+1 < len(src) && src[i+1] == '\'' {
						sb.WriteByte('\'')
						i += 2
						continue
					}
					i++
					break
				}
				sb.WriteByte(src[i])
				i++
			}
			tokens = append(tokens, sqlToken{kind: sqlString, text: sb.String(), pos: start, end: i})
		case c == '-' || c >= '0' && c <= '9':
			start := i
			if c == '-' {
				i++
			}
			for i < len(src) && (src[i] >= '0' && src[i] <= '9' || src[i] == '.') {
				i++
			}
			if i == start+1 && c == '-' {
				return nil, fmt.Errorf("stray '-' at position %d: %w", start, models.ErrMigration)
			}
			tokens = append(tokens, sqlToken{kind: sqlNumber, text: src[start:i], pos: start, end: i})
		case isSQLIdentStart(rune(c)):
			start := i
			for i < len(src) && isSQLIdentPart(rune(src[i])) {
				i++
			}
			tokens = append(tokens, sqlToken{kind: sqlIdent, text: src[start:i], pos: start, end: i})
		// The tail of the set only occurs inside WHERE clauses, which are
		// re-captured as raw text; the tokens just have to pass through.
		case strings.ContainsRune("()[],=;*<>!:.", rune(c)):
			tokens = append(tokens, sqlToken{kind: sqlPunct, text: string(c), pos: i, end: i + 1})
			i++
		default:
			return nil, fmt.Errorf("unexpected character %q at position %d: %w", c, i, models.ErrMigration)
		}
	}
	tokens = append(tokens, sqlToken{kind: sqlEOF, pos: len(src), end: len(src)})
	return tokens, nil
}

func isSQLIdentStart(r rune) bool {
	return unicode.IsLetter(r) || r == '_'
}

func isSQLIdentPart(r rune) bool {
	return unicode.IsLetter(r) || unicode.IsDigit(r) || r == '_'
}

type sqlParser struct {
	src    string
	tokens []sqlToken
	idx    int
}

func (p *sqlParser) peek() sqlToken { return p.tokens[p.idx] }

func (p *sqlParser) next() sqlToken {
	t := p.tokens[p.idx]
	if t.kind != sqlEOF {
		p.idx++
	}
	return t
}

// keyword consumes the next token if it is the given keyword.
func (p *sqlParser) keyword(kw string) bool {
	t := p.peek()
	if t.kind == sqlIdent && strings.EqualFold(t.text, kw) {
		p.next()
		return true
	}
	return false
}

func (p *sqlParser) expectKeyword(kw string) error {
	if !p.keyword(kw) {
		return p.errorf("expected %q", kw)
	}
	return nil
}

func (p *sqlParser) expectPunct(s string) error {
	t := p.peek()
	if t.kind == sqlPunct && t.text == s {
		p.next()
		return nil
	}
	return p.errorf("expected %q", s)
}

func (p *sqlParser) ident() (string, error) {
	t := p.peek()
	if t.kind != sqlIdent {
		return "", p.errorf("expected an identifier")
	}
	p.next()
	return t.text, nil
}

func (p *sqlParser) errorf(format string, args ...any) error {
	t := p.peek()
	msg := fmt.Sprintf(format, args...)
	return fmt.Errorf("%s, found %q at position %d: %w", msg, t.text, t.pos, models.ErrMigration)
}

func (p *sqlParser) parseStatement() (Statement, error) {
	switch {
	case p.keyword("create"):
		if p.keyword("table") {
			return p.parseCreateTable()
		}
		if p.keyword("index") {
			return p.parseCreateIndex()
		}
		return nil, p.errorf("expected TABLE or INDEX after CREATE")
	case p.keyword("alter"):
		if err := p.expectKeyword("table"); err != nil {
			return nil, err
		}
		return p.parseAlterTable()
	case p.keyword("drop"):
		if err := p.expectKeyword("index"); err != nil {
			return nil, err
		}
		return p.parseDropIndex()
	case p.keyword("insert"):
		if err := p.expectKeyword("into"); err != nil {
			return nil, err
		}
		return p.parseInsert()
	case p.keyword("update"):
		return p.parseUpdate()
	case p.keyword("delete"):
		if err := p.expectKeyword("from"); err != nil {
			return nil, err
		}
		return p.parseDelete()
	default:
		return nil, p.errorf("expected a statement keyword")
	}
}

// namedIdent parses ident['display name']; without brackets the display
// name defaults to the identifier.
func (p *sqlParser) namedIdent() (id, name string, err error) {
	id, err = p.ident()
	if err != nil {
		return "", "", err
	}
	name = id
	if p.peek().kind == sqlPunct && p.peek().text == "[" {
		p.next()
		t := p.peek()
		if t.kind != sqlString {
			return "", "", p.errorf("expected a quoted display name")
		}
		p.next()
		name = t.text
		if err := p.expectPunct("]"); err != nil {
			return "", "", err
		}
	}
	return id, name, nil
}

func (p *sqlParser) parseCreateTable() (Statement, error) {
	id, name, err := p.namedIdent()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var cols []ColumnDef
	for {
		col, err := p.parseColumnDef()
		if err != nil {
			return nil, err
		}
		cols = append(cols, col)
		if p.peek().kind == sqlPunct && p.peek().text == "," {
			p.next()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	stmt := CreateTable{ID: id, Name: name, Columns: cols}
	if p.keyword("engine") {
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		t := p.peek()
		if t.kind != sqlString {
			return nil, p.errorf("expected a quoted engine name")
		}
		p.next()
		stmt.Engine = t.text
	}
	return stmt, p.endStatement()
}

func (p *sqlParser) parseColumnDef() (ColumnDef, error) {
	id, name, err := p.namedIdent()
	if err != nil {
		return ColumnDef{}, err
	}
	typeName, err := p.ident()
	if err != nil {
		return ColumnDef{}, err
	}
	col := ColumnDef{ID: id, Name: name, Type: strings.ToLower(typeName)}
	for {
		switch {
		case p.keyword("not"):
			if err := p.expectKeyword("null"); err != nil {
				return ColumnDef{}, err
			}
			col.NotNull = true
		case p.keyword("references"):
			ref, err := p.ident()
			if err != nil {
				return ColumnDef{}, err
			}
			col.References = ref
		default:
			return col, nil
		}
	}
}

func (p *sqlParser) parseAlterTable() (Statement, error) {
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	switch {
	case p.keyword("add"):
		if p.keyword("column") {
			col, err := p.parseColumnDef()
			if err != nil {
				return nil, err
			}
			return AddColumn{Table: table, Column: col}, p.endStatement()
		}
		if p.keyword("constraint") {
			id, err := p.ident()
			if err != nil {
				return nil, err
			}
			if err := p.expectKeyword("unique"); err != nil {
				return nil, err
			}
			fields, err := p.identList()
			if err != nil {
				return nil, err
			}
			return AddConstraint{Table: table, ID: id, Fields: fields}, p.endStatement()
		}
		return nil, p.errorf("expected COLUMN or CONSTRAINT after ADD")
	case p.keyword("drop"):
		if p.keyword("column") {
			col, err := p.ident()
			if err != nil {
				return nil, err
			}
			return DropColumn{Table: table, Column: col}, p.endStatement()
		}
		if p.keyword("constraint") {
			id, err := p.ident()
			if err != nil {
				return nil, err
			}
			return DropConstraint{Table: table, ID: id}, p.endStatement()
		}
		return nil, p.errorf("expected COLUMN or CONSTRAINT after DROP")
	default:
		return nil, p.errorf("expected ADD or DROP")
	}
}

func (p *sqlParser) identList() ([]string, error) {
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var out []string
	for {
		id, err := p.ident()
		if err != nil {
			return nil, err
		}
		out = append(out, id)
		if p.peek().kind == sqlPunct && p.peek().text == "," {
			p.next()
			continue
		}
		break
	}
	return out, p.expectPunct(")")
}

func (p *sqlParser) parseCreateIndex() (Statement, error) {
	id, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("on"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectPunct("("); err != nil {
		return nil, err
	}
	var fields []IndexFieldDef
	for {
		field, err := p.ident()
		if err != nil {
			return nil, err
		}
		def := IndexFieldDef{Field: field}
		if p.keyword("desc") {
			def.Desc = true
		} else {
			p.keyword("asc")
		}
		fields = append(fields, def)
		if p.peek().kind == sqlPunct && p.peek().text == "," {
			p.next()
			continue
		}
		break
	}
	if err := p.expectPunct(")"); err != nil {
		return nil, err
	}
	return CreateIndex{ID: id, Table: table, Fields: fields}, p.endStatement()
}

func (p *sqlParser) parseDropIndex() (Statement, error) {
	id, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("on"); err != nil {
		return nil, err
	}
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	return DropIndex{ID: id, Table: table}, p.endStatement()
}

func (p *sqlParser) parseInsert() (Statement, error) {
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	cols, err := p.identList()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("values"); err != nil {
		return nil, err
	}
	var rows [][]Literal
	for {
		if err := p.expectPunct("("); err != nil {
			return nil, err
		}
		var row []Literal
		for {
			lit, err := p.literal(false)
			if err != nil {
				return nil, err
			}
			row = append(row, lit)
			if p.peek().kind == sqlPunct && p.peek().text == "," {
				p.next()
				continue
			}
			break
		}
		if err := p.expectPunct(")"); err != nil {
			return nil, err
		}
		if len(row) != len(cols) {
			return nil, fmt.Errorf("row has %d values, column list has %d: %w", len(row), len(cols), models.ErrMigration)
		}
		rows = append(rows, row)
		if p.peek().kind == sqlPunct && p.peek().text == "," {
			p.next()
			continue
		}
		break
	}
	return Insert{Table: table, Columns: cols, Rows: rows}, p.endStatement()
}

func (p *sqlParser) parseUpdate() (Statement, error) {
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	if err := p.expectKeyword("set"); err != nil {
		return nil, err
	}
	var sets []SetClause
	for {
		col, err := p.ident()
		if err != nil {
			return nil, err
		}
		if err := p.expectPunct("="); err != nil {
			return nil, err
		}
		lit, err := p.literal(true)
		if err != nil {
			return nil, err
		}
		sets = append(sets, SetClause{Column: col, Value: lit})
		if p.peek().kind == sqlPunct && p.peek().text == "," {
			p.next()
			continue
		}
		break
	}
	where, err := p.optionalWhere()
	if err != nil {
		return nil, err
	}
	return Update{Table: table, Sets: sets, Where: where}, nil
}

func (p *sqlParser) parseDelete() (Statement, error) {
	table, err := p.ident()
	if err != nil {
		return nil, err
	}
	where, err := p.optionalWhere()
	if err != nil {
		return nil, err
	}
	return Delete{Table: table, Where: where}, nil
}

// optionalWhere captures the raw filter-DSL text up to the statement
// terminator; the data service parses it with the query parser.
func (p *sqlParser) optionalWhere() (string, error) {
	if !p.keyword("where") {
		return "", p.endStatement()
	}
	start := p.peek().pos
	end := start
	for {
		t := p.peek()
		if t.kind == sqlEOF || (t.kind == sqlPunct && t.text == ";") {
			break
		}
		end = t.end
		p.next()
	}
	where := strings.TrimSpace(p.src[start:end])
	if where == "" {
		return "", p.errorf("expected a filter after WHERE")
	}
	return where, p.endStatement()
}

// literal parses one value. With allowColumn, a bare identifier means a
// per-row column copy.
func (p *sqlParser) literal(allowColumn bool) (Literal, error) {
	t := p.peek()
	switch t.kind {
	case sqlString:
		p.next()
		return Literal{Value: t.text}, nil
	case sqlNumber:
		p.next()
		if !strings.Contains(t.text, ".") {
			n, err := strconv.ParseInt(t.text, 10, 64)
			if err != nil {
				return Literal{}, p.errorf("invalid number %q", t.text)
			}
			return Literal{Value: n}, nil
		}
		return Literal{Value: t.text}, nil
	case sqlIdent:
		switch {
		case strings.EqualFold(t.text, "null"):
			p.next()
			return Literal{Null: true}, nil
		case strings.EqualFold(t.text, "true"), strings.EqualFold(t.text, "false"):
			p.next()
			return Literal{Value: strings.EqualFold(t.text, "true")}, nil
		case allowColumn:
			p.next()
			return Literal{Column: t.text}, nil
		}
		return Literal{}, p.errorf("expected a literal value")
	default:
		return Literal{}, p.errorf("expected a literal value")
	}
}

// endStatement consumes the terminating ';' when present.
func (p *sqlParser) endStatement() error {
	t := p.peek()
	if t.kind == sqlEOF {
		return nil
	}
	if t.kind == sqlPunct && t.text == ";" {
		p.next()
		return nil
	}
	return p.errorf("expected end of statement")
}
