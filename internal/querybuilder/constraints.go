package querybuilder

import (
	"fmt"
	"time"

	"github.com/intellabs/vdms-go/internal/model"
)

// CompareOp is one of the six comparison operators spec.md 4.C allows.
type CompareOp string

const (
	OpEQ CompareOp = "=="
	OpNE CompareOp = "!="
	OpLT CompareOp = "<"
	OpLE CompareOp = "<="
	OpGT CompareOp = ">"
	OpGE CompareOp = ">="
)

// Predicate is a single leaf comparison: key OP value.
type Predicate struct {
	Key   string
	Op    CompareOp
	Value model.PropertyValue
}

// PredicateNode is a node in the compiled predicate tree: either a leaf
// Predicate, an AND of children, or an OR of children. The constraints
// language of spec.md 4.C compiles down to this tree, which the graph
// engine adapter walks to build its native query.
type PredicateNode struct {
	Leaf     *Predicate
	And      []*PredicateNode
	Or       []*PredicateNode
}

func leafNode(p Predicate) *PredicateNode { return &PredicateNode{Leaf: &p} }

// CompileConstraints turns the constraints JSON object of spec.md 4.C
// into an AND-of-predicates tree. Each value is a 2-element
// [op, value] clause, a 4-element [op1, v1, op2, v2] range clause, or an
// OR expansion when the value slot is itself an array. A range clause
// combined with an OR on the same key is rejected, per spec.md 4.C.
func CompileConstraints(raw map[string]interface{}) (*PredicateNode, error) {
	if len(raw) == 0 {
		return nil, nil
	}

	children := make([]*PredicateNode, 0, len(raw))
	for key, v := range raw {
		clause, ok := v.([]interface{})
		if !ok || len(clause) == 0 {
			return nil, fmt.Errorf("constraints[%s]: expected a non-empty array", key)
		}

		node, err := compileClause(key, clause)
		if err != nil {
			return nil, err
		}
		children = append(children, node)
	}

	if len(children) == 1 {
		return children[0], nil
	}
	return &PredicateNode{And: children}, nil
}

func compileClause(key string, clause []interface{}) (*PredicateNode, error) {
	switch len(clause) {
	case 2:
		return compileSingle(key, clause[0], clause[1])
	case 4:
		lo, err := compileSingle(key, clause[0], clause[1])
		if err != nil {
			return nil, err
		}
		hi, err := compileSingle(key, clause[2], clause[3])
		if err != nil {
			return nil, err
		}
		if isOrValue(clause[1]) || isOrValue(clause[3]) {
			return nil, fmt.Errorf("constraints[%s]: range combined with OR is not allowed", key)
		}
		return &PredicateNode{And: []*PredicateNode{lo, hi}}, nil
	default:
		return nil, fmt.Errorf("constraints[%s]: expected 2 or 4 elements, got %d", key, len(clause))
	}
}

func isOrValue(v interface{}) bool {
	_, ok := v.([]interface{})
	return ok
}

func compileSingle(key string, opRaw, valueRaw interface{}) (*PredicateNode, error) {
	opStr, ok := opRaw.(string)
	if !ok {
		return nil, fmt.Errorf("constraints[%s]: operator must be a string", key)
	}
	op := CompareOp(opStr)
	switch op {
	case OpEQ, OpNE, OpLT, OpLE, OpGT, OpGE:
	default:
		return nil, fmt.Errorf("constraints[%s]: unknown operator %q", key, opStr)
	}

	if alternatives, ok := valueRaw.([]interface{}); ok {
		or := make([]*PredicateNode, 0, len(alternatives))
		for _, alt := range alternatives {
			pv, err := wrapTypedValue(alt)
			if err != nil {
				return nil, fmt.Errorf("constraints[%s]: %w", key, err)
			}
			or = append(or, leafNode(Predicate{Key: key, Op: op, Value: pv}))
		}
		return &PredicateNode{Or: or}, nil
	}

	pv, err := wrapTypedValue(valueRaw)
	if err != nil {
		return nil, fmt.Errorf("constraints[%s]: %w", key, err)
	}
	return leafNode(Predicate{Key: key, Op: op, Value: pv}), nil
}

// wrapTypedValue re-wraps a decoded JSON value into the engine's typed
// property representation, recognizing the {"_date": "..."} and
// {"_blob": "..."} sentinel wrappers of spec.md 4.C.
func wrapTypedValue(v interface{}) (model.PropertyValue, error) {
	switch t := v.(type) {
	case bool:
		return model.Bool(t), nil
	case float64:
		if t == float64(int64(t)) {
			return model.Int(int64(t)), nil
		}
		return model.Float(t), nil
	case string:
		return model.String(t), nil
	case map[string]interface{}:
		if dateStr, ok := t["_date"].(string); ok {
			ts, err := time.Parse(time.RFC3339, dateStr)
			if err != nil {
				return model.PropertyValue{}, fmt.Errorf("invalid _date value %q: %w", dateStr, err)
			}
			return model.Time(ts), nil
		}
		if blob, ok := t["_blob"].(string); ok {
			return model.String(blob), nil
		}
		return model.PropertyValue{}, fmt.Errorf("unrecognized typed-value wrapper %v", t)
	default:
		return model.PropertyValue{}, fmt.Errorf("unsupported value type %T", v)
	}
}
