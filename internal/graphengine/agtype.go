package graphengine

import (
	"encoding/json"
	"strconv"
	"strings"
)

// parseAgtypeID extracts the bare integer from an agtype scalar returned by
// id(n)/id(e), which AGE renders as a plain numeric string with no type
// suffix. The "::xxx" trim handles older AGE builds that do tag it.
func parseAgtypeID(raw string) int64 {
	s := raw
	if idx := strings.Index(s, "::"); idx >= 0 {
		s = s[:idx]
	}
	s = strings.Trim(s, `"`)
	id, _ := strconv.ParseInt(s, 10, 64)
	return id
}

// agtypeEntity is the JSON shape AGE renders a vertex/edge agtype value as,
// before the trailing "::vertex"/"::edge" type tag.
type agtypeEntity struct {
	ID         int64                  `json:"id"`
	Label      string                 `json:"label"`
	Properties map[string]interface{} `json:"properties"`
}

// parseAgtypeEntity parses a vertex or edge agtype value returned by a
// bare RETURN n / RETURN e clause.
func parseAgtypeEntity(raw string) (*agtypeEntity, error) {
	s := raw
	if idx := strings.LastIndex(s, "::"); idx >= 0 {
		s = s[:idx]
	}
	var ent agtypeEntity
	if err := json.Unmarshal([]byte(s), &ent); err != nil {
		return nil, err
	}
	return &ent, nil
}

// propertiesToEntity flattens an agtype entity's properties into the wire
// entity map of spec.md 4.C "Entities", adding the reserved id tag so
// callers can recover it from a result row.
func propertiesToEntity(ent *agtypeEntity, idTag string) map[string]interface{} {
	out := make(map[string]interface{}, len(ent.Properties)+1)
	for k, v := range ent.Properties {
		out[k] = v
	}
	if idTag != "" {
		out[idTag] = ent.ID
	}
	return out
}
