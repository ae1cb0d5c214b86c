package filter

import (
	"strconv"
	"strings"

	"github.com/corralproject/corral/pkg/errdefs"
)

// Op is a comparison operator of the filter grammar
type Op string

const (
	OpLT Op = "<"
	OpLE Op = "<="
	OpGT Op = ">"
	OpGE Op = ">="
	OpEQ Op = "=="
	OpNE Op = "!="
	OpIn Op = "in"
)

var validOps = map[Op]bool{
	OpLT: true, OpLE: true, OpGT: true, OpGE: true,
	OpEQ: true, OpNE: true, OpIn: true,
}

// Expression is one parsed filter of the form "<key> <op> <value>",
// e.g. "memory_mb >= 2048" or "rack in r1,r2".
type Expression struct {
	Key   string
	Op    Op
	Value string
}

// Parse parses a single filter expression. Malformed expressions yield
// an ErrMalformedParameter kind.
func Parse(expr string) (*Expression, error) {
	fields := strings.Fields(expr)
	if len(fields) < 3 {
		return nil, errdefs.MalformedParameter("filter %q: want \"<key> <op> <value>\"", expr)
	}
	op := Op(fields[1])
	if !validOps[op] {
		return nil, errdefs.MalformedParameter("filter %q: unknown operator %q", expr, fields[1])
	}
	return &Expression{
		Key:   fields[0],
		Op:    op,
		Value: strings.Join(fields[2:], " "),
	}, nil
}

// ParseAll parses a list of filter expressions
func ParseAll(exprs []string) ([]*Expression, error) {
	parsed := make([]*Expression, 0, len(exprs))
	for _, e := range exprs {
		p, err := Parse(e)
		if err != nil {
			return nil, err
		}
		parsed = append(parsed, p)
	}
	return parsed, nil
}

// Match evaluates the expression against a capability map. A key absent
// from the map never matches.
func (e *Expression) Match(props map[string]string) bool {
	actual, ok := props[e.Key]
	if !ok {
		return false
	}

	switch e.Op {
	case OpIn:
		for _, candidate := range strings.Split(e.Value, ",") {
			if strings.TrimSpace(candidate) == actual {
				return true
			}
		}
		return false
	case OpEQ:
		return compare(actual, e.Value) == 0
	case OpNE:
		return compare(actual, e.Value) != 0
	case OpLT:
		return compare(actual, e.Value) < 0
	case OpLE:
		return compare(actual, e.Value) <= 0
	case OpGT:
		return compare(actual, e.Value) > 0
	case OpGE:
		return compare(actual, e.Value) >= 0
	}
	return false
}

// MatchAll parses every expression and reports whether the capability
// map satisfies all of them.
func MatchAll(exprs []string, props map[string]string) (bool, error) {
	parsed, err := ParseAll(exprs)
	if err != nil {
		return false, err
	}
	for _, e := range parsed {
		if !e.Match(props) {
			return false, nil
		}
	}
	return true, nil
}

// compare orders two values numerically when both parse as numbers,
// lexically otherwise.
func compare(a, b string) int {
	fa, errA := strconv.ParseFloat(a, 64)
	fb, errB := strconv.ParseFloat(b, 64)
	if errA == nil && errB == nil {
		switch {
		case fa < fb:
			return -1
		case fa > fb:
			return 1
		default:
			return 0
		}
	}
	return strings.Compare(a, b)
}
