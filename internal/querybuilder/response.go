package querybuilder

import "github.com/intellabs/vdms-go/internal/vdmserr"

// ErrorCode is the per-primitive outcome the graph engine adapter returns
// (spec.md 4.D "Responses").
type ErrorCode int

const (
	CodeSuccess ErrorCode = iota
	CodeExists
	CodeNotUnique
	CodeEmpty
	CodeError
)

// Status converts an ErrorCode to the wire status code of spec.md 6.
func (c ErrorCode) Status() vdmserr.Status {
	switch c {
	case CodeSuccess:
		return vdmserr.StatusSuccess
	case CodeExists:
		return vdmserr.StatusExists
	case CodeNotUnique:
		return vdmserr.StatusNotUnique
	case CodeEmpty:
		return vdmserr.StatusEmpty
	default:
		return vdmserr.StatusError
	}
}

// GroupResult is one primitive op's typed outcome, keyed by GroupID so
// the handler layer can reassemble responses in client command-list
// order (spec.md 4.C "Ordering & atomicity").
type GroupResult struct {
	GroupID int
	Code    ErrorCode
	Message string

	NodeID int64
	EdgeID int64

	Entities       []map[string]interface{}
	EntitiesSet    bool
	CountRequested bool
	Count          int
	SumRequested   bool
	Sum            float64
	AvgRequested   bool
	Average        float64

	BlobIndexes []int // indexes into Entities that carry a blob in the response envelope
}

// ResponseFragment is the JSON object shape of spec.md 6 for a single
// command's result.
type ResponseFragment struct {
	Status   int                      `json:"status"`
	Info     string                   `json:"info,omitempty"`
	Entities []map[string]interface{} `json:"entities,omitempty"`
	Count    *int                     `json:"count,omitempty"`
	Sum      *float64                 `json:"sum,omitempty"`
	Average  *float64                 `json:"average,omitempty"`
	Returned *int                     `json:"returned,omitempty"`
}

// ToResponseFragment converts a GroupResult into the wire shape of
// spec.md 6.
func ToResponseFragment(r *GroupResult) *ResponseFragment {
	frag := &ResponseFragment{Status: int(r.Code.Status()), Info: r.Message}
	if r.EntitiesSet {
		frag.Entities = r.Entities
		n := len(r.Entities)
		frag.Returned = &n
	}
	if r.CountRequested {
		c := r.Count
		frag.Count = &c
	}
	if r.SumRequested {
		s := r.Sum
		frag.Sum = &s
	}
	if r.AvgRequested {
		a := r.Average
		frag.Average = &a
	}
	return frag
}
