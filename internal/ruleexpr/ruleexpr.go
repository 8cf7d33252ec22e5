// Package ruleexpr parses trigger condition expressions into an immutable,
// evaluable form. Expressions are conjunctions of predicates over named
// signal fields, for example:
//
//	cpu_percent >= 80 for 60s and database == "erp_prod"
//	alert_type in ("deadlock", "log_full")
//
// Parsing happens once per catalog refresh; evaluation per tick works on the
// compiled Program and performs no allocation-heavy re-parsing.
package ruleexpr

import (
	"fmt"
	"time"
)

// CompareOp is a comparison operator in a trigger clause.
type CompareOp string

const (
	OpGT  CompareOp = ">"
	OpGTE CompareOp = ">="
	OpLT  CompareOp = "<"
	OpLTE CompareOp = "<="
	OpEQ  CompareOp = "=="
	OpNEQ CompareOp = "!="
)

// ClauseKind distinguishes the predicate shapes a clause can take.
type ClauseKind int

const (
	// KindNumeric compares a numeric signal field against a threshold,
	// optionally sustained over a duration.
	KindNumeric ClauseKind = iota
	// KindText compares a string signal field for (in)equality.
	KindText
	// KindMembership tests a string signal field against a value set.
	KindMembership
)

// Clause is one compiled predicate of a trigger expression.
type Clause struct {
	Kind      ClauseKind
	Field     string
	Op        CompareOp
	Threshold float64
	Text      string
	Set       []string
	// Sustain requires the numeric comparison to have held continuously for
	// at least this long. Zero means instantaneous.
	Sustain time.Duration
}

// Program is a parsed trigger expression. All clauses must match (AND).
type Program struct {
	Source  string
	Clauses []Clause
}

// Parse compiles a trigger expression into a Program. Malformed expressions
// return an error so the catalog can carry the rule as a configuration error
// instead of evaluating it.
func Parse(expr string) (*Program, error) {
	if expr == "" {
		return nil, fmt.Errorf("trigger expression is empty")
	}
	ast, err := triggerParser.ParseString("", expr)
	if err != nil {
		return nil, fmt.Errorf("invalid trigger expression: %w", err)
	}

	clauses := []*pClause{ast.First}
	for _, tail := range ast.Rest {
		clauses = append(clauses, tail.Clause)
	}

	prog := &Program{Source: expr, Clauses: make([]Clause, 0, len(clauses))}
	for _, pc := range clauses {
		clause, err := compileClause(pc)
		if err != nil {
			return nil, err
		}
		prog.Clauses = append(prog.Clauses, clause)
	}
	return prog, nil
}

func compileClause(pc *pClause) (Clause, error) {
	if pc.Membership != nil {
		set := make([]string, 0, len(pc.Membership.Values))
		for _, v := range pc.Membership.Values {
			text, ok := v.text()
			if !ok {
				return Clause{}, fmt.Errorf("field %q: membership values must be strings", pc.Field)
			}
			set = append(set, text)
		}
		return Clause{Kind: KindMembership, Field: pc.Field, Set: set}, nil
	}

	cmp := pc.Comparison
	op := CompareOp(cmp.Operator)

	var sustain time.Duration
	if cmp.Sustain != nil {
		d, err := time.ParseDuration(*cmp.Sustain)
		if err != nil {
			return Clause{}, fmt.Errorf("field %q: invalid duration %q: %w", pc.Field, *cmp.Sustain, err)
		}
		sustain = d
	}

	if cmp.Value.Number != nil {
		return Clause{
			Kind:      KindNumeric,
			Field:     pc.Field,
			Op:        op,
			Threshold: *cmp.Value.Number,
			Sustain:   sustain,
		}, nil
	}

	// String comparisons only support (in)equality and cannot be sustained.
	if op != OpEQ && op != OpNEQ {
		return Clause{}, fmt.Errorf("field %q: operator %s requires a numeric value", pc.Field, op)
	}
	if sustain > 0 {
		return Clause{}, fmt.Errorf("field %q: sustained conditions require a numeric value", pc.Field)
	}
	text, _ := cmp.Value.text()
	return Clause{Kind: KindText, Field: pc.Field, Op: op, Text: text}, nil
}

// Compare applies the operator to a numeric value and threshold.
func (op CompareOp) Compare(value, threshold float64) bool {
	switch op {
	case OpGT:
		return value > threshold
	case OpGTE:
		return value >= threshold
	case OpLT:
		return value < threshold
	case OpLTE:
		return value <= threshold
	case OpEQ:
		return value == threshold
	case OpNEQ:
		return value != threshold
	default:
		return false
	}
}
