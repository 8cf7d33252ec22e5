package ruleexpr

import (
	"strings"

	"github.com/alecthomas/participle/v2"
	"github.com/alecthomas/participle/v2/lexer"
)

var triggerLexer = lexer.MustSimple([]lexer.SimpleRule{
	{Name: "Whitespace", Pattern: `[ \t\n\r]+`},

	{Name: "String", Pattern: `"(?:[^"\\]|\\.)*"|'(?:[^'\\]|\\.)*'`},

	{Name: "Operator", Pattern: `!=|>=|<=|==|[><]`},

	{Name: "LParen", Pattern: `\(`},
	{Name: "RParen", Pattern: `\)`},
	{Name: "Comma", Pattern: `,`},

	// Durations must win over bare numbers: "60s" is one token.
	{Name: "Duration", Pattern: `[0-9]+(?:ms|[smh])\b`},

	{Name: "Number", Pattern: `[-+]?[0-9]*\.?[0-9]+`},

	{Name: "Ident", Pattern: `[a-zA-Z_][a-zA-Z0-9_]*`},
})

// pExpr is the top-level trigger expression: a conjunction of clauses.
type pExpr struct {
	First *pClause    `parser:"@@"`
	Rest  []*pANDTail `parser:"@@*"`
}

// pANDTail captures "and <clause>".
type pANDTail struct {
	Clause *pClause `parser:"'and':Ident @@"`
}

// pClause is a single predicate over one signal field.
type pClause struct {
	Field      string       `parser:"@Ident"`
	Comparison *pComparison `parser:"( @@"`
	Membership *pMembership `parser:"| @@ )"`
}

// pComparison is "<op> <value> [for <duration>]".
type pComparison struct {
	Operator string  `parser:"@Operator"`
	Value    *pValue `parser:"@@"`
	Sustain  *string `parser:"( 'for':Ident @Duration )?"`
}

// pMembership is "in (<value>, <value>, ...)".
type pMembership struct {
	Values []*pValue `parser:"'in':Ident LParen @@ ( Comma @@ )* RParen"`
}

// pValue is a string literal, number, or bare identifier.
type pValue struct {
	Str    *string  `parser:"( @String"`
	Number *float64 `parser:"| @Number"`
	Ident  *string  `parser:"| @Ident )"`
}

var triggerParser = participle.MustBuild[pExpr](
	participle.Lexer(triggerLexer),
	participle.Elide("Whitespace"),
)

func (v *pValue) text() (string, bool) {
	switch {
	case v.Str != nil:
		return unquote(*v.Str), true
	case v.Ident != nil:
		return *v.Ident, true
	default:
		return "", false
	}
}

func unquote(s string) string {
	if len(s) >= 2 {
		s = s[1 : len(s)-1]
	}
	s = strings.ReplaceAll(s, `\"`, `"`)
	s = strings.ReplaceAll(s, `\'`, `'`)
	return s
}
