package querybuilder

import "github.com/intellabs/vdms-go/internal/model"

// Direction is a link-traversal direction.
type Direction string

const (
	DirIn  Direction = "in"
	DirOut Direction = "out"
	DirAny Direction = "any"
)

// LinkSpec resolves neighbors of a previously cached ref, per spec.md 4.C
// "Links".
type LinkSpec struct {
	Ref       int
	Class     string // optional edge tag filter, empty means any
	Direction Direction
	Unique    bool // nb_unique: dedup neighbors
}

// Op is the primitive graph operation interface every AddNode/UpdateNode/
// AddEdge/UpdateEdge/QueryNode/QueryEdge value satisfies. GroupID ties an
// op back to the client command list element that produced it, so
// responses can be rebuilt in the same order (spec.md 4.C "Ordering &
// atomicity").
type Op interface {
	GroupID() int
	Ref() int
}

type baseOp struct {
	Group int
	Rf    int
}

func (b baseOp) GroupID() int { return b.Group }
func (b baseOp) Ref() int     { return b.Rf }

// AddNodeOp creates a node, optionally conditioned on a uniqueness
// constraint (spec.md 4.D "Reusable iterators").
type AddNodeOp struct {
	baseOp
	Tag        string
	Properties map[string]model.PropertyValue
	Unique     *PredicateNode // non-nil enables conditional add
}

// UpdateNodeOp mutates an existing node's properties, optionally removing
// some and filtering which nodes are affected by constraints.
type UpdateNodeOp struct {
	baseOp
	Tag           string
	SetProperties map[string]model.PropertyValue
	RemoveKeys    []string
	Constraints   *PredicateNode
	Unique        bool
}

// AddEdgeOp creates an edge between two previously referenced nodes.
type AddEdgeOp struct {
	baseOp
	SrcRef     int
	DstRef     int
	Tag        string
	Properties map[string]model.PropertyValue
}

// UpdateEdgeOp mutates edges reached via ref/constraints.
type UpdateEdgeOp struct {
	baseOp
	Tag           string
	SetProperties map[string]model.PropertyValue
	RemoveKeys    []string
	Constraints   *PredicateNode
}

// QueryNodeOp finds nodes by tag/constraints/link and produces results
// per ResultsSpec.
type QueryNodeOp struct {
	baseOp
	Tag         string
	Link        *LinkSpec
	Constraints *PredicateNode
	Results     *ResultsSpec
	Unique      bool
}

// QueryEdgeOp finds edges by tag/constraints and produces results per
// ResultsSpec.
type QueryEdgeOp struct {
	baseOp
	Tag         string
	Link        *LinkSpec
	Constraints *PredicateNode
	Results     *ResultsSpec
	Unique      bool
}

// Program is the ordered list of primitive ops produced by Builder.Run,
// ready to execute inside a single Begin/Commit transaction.
type Program struct {
	Ops        []Op
	ReadOnly   bool // true when no mutation op was added (spec.md 4.C "Mutation flag")
}
