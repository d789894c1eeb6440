package expression

import (
	"fmt"
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var exprLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \r\n\t]+`},
	{Name: "Float", Pattern: `[-+]?\d+\.\d+`},
	{Name: "Int", Pattern: `[-+]?\d+`},
	{Name: "String", Pattern: `'(?:[^']|'')*'`},
	{Name: "Operators", Pattern: `<>|!=|<=|>=|[=<>(),]`},
	{Name: "Keyword", Pattern: `(?i)\b(?:AND|OR|NOT|IN|IS|NULL|CONTAINS|STARTS|ENDS|WITH|EQUALS|IGNORE|CASE|TRUE|FALSE)\b`},
	{Name: "Ident", Pattern: `[a-zA-Z_][\w.]*`},
})

var exprParser = participle.MustBuild[exprAST](
	participle.Lexer(exprLexer),
	participle.Elide("Whitespace"),
	participle.CaseInsensitive("Keyword"),
	participle.UseLookahead(4),
)

type exprAST struct {
	Head *termAST   `parser:"@@"`
	Tail []*joinAST `parser:"@@*"`
}

type joinAST struct {
	Op   string   `parser:"@('AND' | 'OR')"`
	Term *termAST `parser:"@@"`
}

type termAST struct {
	Group *exprAST      `parser:"  '(' @@ ')'"`
	Cond  *conditionAST `parser:"| @@"`
}

type conditionAST struct {
	Field string        `parser:"@Ident"`
	Pred  *predicateAST `parser:"@@"`
}

type predicateAST struct {
	Null    *nullAST    `parser:"  @@"`
	List    *listAST    `parser:"| @@"`
	Compare *compareAST `parser:"| @@"`
}

type nullAST struct {
	Not bool `parser:"'IS' @'NOT'? 'NULL'"`
}

type listAST struct {
	Not    bool        `parser:"@'NOT'? 'IN'"`
	Values []*valueAST `parser:"'(' (@@ (',' @@)*)? ')'"`
}

type compareAST struct {
	Op    []string  `parser:"@( '=' | '!=' | '<>' | '>=' | '<=' | '>' | '<' | 'CONTAINS' | 'STARTS' 'WITH' | 'ENDS' 'WITH' | 'EQUALS' 'IGNORE' 'CASE' | 'NOT' ( 'CONTAINS' | 'STARTS' 'WITH' | 'ENDS' 'WITH' ) )"`
	Value *valueAST `parser:"@@"`
}

type valueAST struct {
	Float  *float64 `parser:"  @Float"`
	Int    *int64   `parser:"| @Int"`
	String *string  `parser:"| @String"`
	Bool   *string  `parser:"| @('TRUE' | 'FALSE')"`
	Null   bool     `parser:"| @'NULL'"`
}

var comparisonWords = map[string]Comparison{
	"=":                  Equal,
	"!=":                 NotEqual,
	"<>":                 NotEqual,
	">":                  Greater,
	"<":                  Lesser,
	">=":                 EqualGreater,
	"<=":                 EqualLesser,
	"CONTAINS":           Contain,
	"NOT CONTAINS":       NotContain,
	"STARTS WITH":        StartWith,
	"NOT STARTS WITH":    NotStartWith,
	"ENDS WITH":          EndWith,
	"NOT ENDS WITH":      NotEndWith,
	"EQUALS IGNORE CASE": EqualsIgnoreCase,
}

// Parse reads the text form produced by Expression.String, e.g.
//
//	age > 30 AND (name = 'Alice' OR name = 'Bob')
//
// AND and OR have equal priority, so a chain mixing them must use
// parentheses.
func Parse(s string) (Expression, error) {
	ast, err := exprParser.ParseString("", s)
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, s, err)
	}
	e, err := ast.build()
	if err != nil {
		return nil, fmt.Errorf("%w: %q: %v", ErrInvalidExpression, s, err)
	}
	return e, nil
}

// MustParse is Parse that panics on error.
func MustParse(s string) Expression {
	e, err := Parse(s)
	if err != nil {
		panic(err)
	}
	return e
}

func (a *exprAST) build() (Expression, error) {
	left, err := a.Head.build()
	if err != nil {
		return nil, err
	}

	var first string
	for _, j := range a.Tail {
		op := strings.ToUpper(j.Op)
		if first == "" {
			first = op
		} else if op != first {
			return nil, fmt.Errorf("mixing AND and OR requires parentheses")
		}

		right, err := j.Term.build()
		if err != nil {
			return nil, err
		}
		if op == "OR" {
			left = Or(left, right)
		} else {
			left = And(left, right)
		}
	}
	return left, nil
}

func (t *termAST) build() (Expression, error) {
	if t.Group != nil {
		inner, err := t.Group.build()
		if err != nil {
			return nil, err
		}
		return Grouped(inner), nil
	}
	return t.Cond.build()
}

func (c *conditionAST) build() (Expression, error) {
	p := c.Pred
	switch {
	case p.Null != nil:
		if p.Null.Not {
			return NewComparison(c.Field, NotEqual, nil), nil
		}
		return New(c.Field, nil), nil

	case p.List != nil:
		values := make([]any, len(p.List.Values))
		for i, v := range p.List.Values {
			values[i] = v.value()
		}
		if p.List.Not {
			return NewComparison(c.Field, NotEqual, values), nil
		}
		return New(c.Field, values), nil
	}

	word := strings.ToUpper(strings.Join(p.Compare.Op, " "))
	cmp, ok := comparisonWords[word]
	if !ok {
		return nil, fmt.Errorf("unknown comparison %q", word)
	}
	return NewComparison(c.Field, cmp, p.Compare.Value.value()), nil
}

func (v *valueAST) value() any {
	switch {
	case v.Float != nil:
		return *v.Float
	case v.Int != nil:
		return *v.Int
	case v.String != nil:
		s := *v.String
		return strings.ReplaceAll(s[1:len(s)-1], "''", "'")
	case v.Bool != nil:
		return strings.EqualFold(*v.Bool, "TRUE")
	}
	return nil
}
