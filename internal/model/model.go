// Package model holds the shared data types of the visual-data management
// domain (spec.md section 3): entities, connections, references, typed
// property values, and the media/descriptor artifacts layered on top of
// them. Struct shapes follow the teacher's internal/models/types.go
// convention of JSON-tagged plain structs with small helper methods.
package model

import "time"

// PropertyType names the typed-value kinds a property may hold.
type PropertyType int

const (
	PropBool PropertyType = iota
	PropInt
	PropFloat
	PropString
	PropTime
)

// PropertyValue is a typed property value as stored on an Entity or
// Connection. Exactly one of the typed fields is meaningful, selected by
// Type.
type PropertyValue struct {
	Type PropertyType
	B    bool
	I    int64
	F    float64
	S    string
	T    time.Time
}

func Bool(v bool) PropertyValue       { return PropertyValue{Type: PropBool, B: v} }
func Int(v int64) PropertyValue       { return PropertyValue{Type: PropInt, I: v} }
func Float(v float64) PropertyValue   { return PropertyValue{Type: PropFloat, F: v} }
func String(v string) PropertyValue   { return PropertyValue{Type: PropString, S: v} }
func Time(v time.Time) PropertyValue  { return PropertyValue{Type: PropTime, T: v} }

// Value returns the property as a plain Go value, suitable for JSON
// marshaling in a response fragment.
func (p PropertyValue) Value() interface{} {
	switch p.Type {
	case PropBool:
		return p.B
	case PropInt:
		return p.I
	case PropFloat:
		return p.F
	case PropString:
		return p.S
	case PropTime:
		return p.T.Format(time.RFC3339)
	default:
		return nil
	}
}

// Reserved property name prefix. Clients may never set a property whose
// key begins with this prefix; the core owns it.
const ReservedPropertyPrefix = "VDMS_"

const (
	PropImagePath  = "VDMS_IM_PATH_PROP"
	PropVideoPath  = "VDMS_VD_PATH_PROP"
	PropExpiration = "VDMS_EXPIRATION"
	PropEngineID   = "VDMS_ID" // the graph engine's node/edge id, when requested in a results list

	// PropAsyncStatus records the outcome of the last RemoteOp/UserOp
	// the session-owned async dispatcher ran against this node's
	// artifact, spec.md §9 "Async remote ops": "done" or "failed".
	PropAsyncStatus = "VDMS_ASYNC_STATUS"
)

// Tag names for system-owned entity classes.
const (
	TagDescriptorSet = "VDMS_DESC_SET"
	TagDescriptor    = "VDMS_DESC"
)

// Entity is a graph node: an engine-assigned id, an immutable tag, and a
// property map.
type Entity struct {
	ID         int64
	Tag        string
	Properties map[string]PropertyValue
}

// Connection is a directed, tagged edge between two entities.
type Connection struct {
	ID         int64
	SrcID      int64
	DstID      int64
	Tag        string
	Properties map[string]PropertyValue
}

// DescriptorSet is the graph-visible metadata for a descriptor set
// (spec.md section 3): name, vector dimensionality, and the on-disk path
// containing its index files.
type DescriptorSet struct {
	EntityID   int64
	Name       string
	Dimensions int
	Engine     string
	Metric     string
	Path       string
}

// Descriptor is one vector belonging to a DescriptorSet, also
// materialized as a graph entity linked from the set.
type Descriptor struct {
	EntityID int64
	SetName  string
	Label    *string
	LocalID  int64 // index within the set's backing store
}

// MediaKind distinguishes image and video artifacts for path generation.
type MediaKind int

const (
	MediaImage MediaKind = iota
	MediaVideo
)
