package command

import (
	"fmt"
)

var validOps = map[string]bool{
	"==": true, "!=": true, "<": true, "<=": true, ">": true, ">=": true,
}

// ValidateBatch validates every parsed command's required keys and the
// shape of its constraints/link/operations sub-objects, and checks that
// the number of commands declaring BlobNeeded equals blobCount - the
// whole batch fails before any handler runs if not, per spec.md 4.B.
func ValidateBatch(cmds []RawCommand, blobCount int) error {
	declaredBlobs := 0

	for i, cmd := range cmds {
		desc, ok := registry[cmd.Name]
		if !ok {
			return &ValidationError{Index: i, Message: fmt.Sprintf("unrecognized command %q", cmd.Name)}
		}

		for _, key := range desc.RequiredKeys {
			if _, present := cmd.Payload[key]; !present {
				return &ValidationError{Index: i, Message: fmt.Sprintf("%s requires field %q", cmd.Name, key)}
			}
		}

		if desc.BlobNeeded {
			declaredBlobs++
		}

		if err := validateConstraints(cmd.Payload["constraints"]); err != nil {
			return &ValidationError{Index: i, Message: err.Error()}
		}
		if err := validateResults(cmd.Payload["results"]); err != nil {
			return &ValidationError{Index: i, Message: err.Error()}
		}
		if err := validateLink(cmd.Payload["link"]); err != nil {
			return &ValidationError{Index: i, Message: err.Error()}
		}
		if err := validateOperations(cmd.Payload["operations"]); err != nil {
			return &ValidationError{Index: i, Message: err.Error()}
		}
	}

	if declaredBlobs != blobCount {
		return &ValidationError{
			Index:   -1,
			Message: fmt.Sprintf("batch declares %d blob-carrying commands but envelope has %d blobs", declaredBlobs, blobCount),
		}
	}
	return nil
}

// validateConstraints checks the shape described in spec.md 4.C: an
// object whose values are 2- or 4-element arrays of [op, value] or
// [op1, v1, op2, v2], where a value slot may itself be an array for an OR
// expansion. Only the array lengths and operators are checked here; the
// value slots are left to querybuilder.CompileConstraints.
func validateConstraints(raw interface{}) error {
	if raw == nil {
		return nil
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return fmt.Errorf("constraints must be an object")
	}
	for key, v := range obj {
		clause, ok := v.([]interface{})
		if !ok || len(clause) == 0 {
			return fmt.Errorf("constraints.%s must be a non-empty array", key)
		}
		if err := validateClause(key, clause); err != nil {
			return err
		}
	}
	return nil
}

func validateClause(key string, clause []interface{}) error {
	switch len(clause) {
	case 2:
		return validateOp(key, clause[0])
	case 4:
		if err := validateOp(key, clause[0]); err != nil {
			return err
		}
		return validateOp(key, clause[2])
	default:
		return fmt.Errorf("constraints.%s must have 2 or 4 elements, got %d", key, len(clause))
	}
}

func validateOp(key string, opVal interface{}) error {
	op, ok := opVal.(string)
	if !ok || !validOps[op] {
		return fmt.Errorf("constraints.%s has invalid operator %v", key, opVal)
	}
	return nil
}

func validateResults(raw interface{}) error {
	if raw == nil {
		return nil
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return fmt.Errorf("results must be an object")
	}
	for _, key := range []string{"list", "sum", "average"} {
		if v, present := obj[key]; present {
			if _, ok := v.([]interface{}); !ok {
				return fmt.Errorf("results.%s must be an array", key)
			}
		}
	}
	if v, present := obj["sort"]; present {
		switch v.(type) {
		case string, map[string]interface{}:
		default:
			return fmt.Errorf("results.sort must be a string or object")
		}
	}
	if v, present := obj["limit"]; present {
		if f, ok := v.(float64); !ok || f < 0 {
			return fmt.Errorf("results.limit must be a non-negative integer")
		}
	}
	return nil
}

func validateLink(raw interface{}) error {
	if raw == nil {
		return nil
	}
	obj, ok := raw.(map[string]interface{})
	if !ok {
		return fmt.Errorf("link must be an object")
	}
	if _, present := obj["ref"]; !present {
		return fmt.Errorf("link requires field \"ref\"")
	}
	if dir, present := obj["direction"]; present {
		s, ok := dir.(string)
		if !ok || (s != "in" && s != "out" && s != "any") {
			return fmt.Errorf("link.direction must be one of in|out|any")
		}
	}
	return nil
}

var validOpTypes = map[string]bool{
	"threshold": true, "resize": true, "crop": true, "interval": true,
	"syncremoteOp": true, "remoteOp": true, "userOp": true,
}

// validateOperations checks operations is an array of objects each
// carrying a recognized "type". The type values are pulled out with
// ojg/jp ($.*.type) rather than a manual loop-and-assert, the same
// JSONPath-over-generic-JSON approach agentic-research-mache's JsonWalker
// uses to read nested fields without a fixed struct.
func validateOperations(raw interface{}) error {
	if raw == nil {
		return nil
	}
	arr, ok := raw.([]interface{})
	if !ok {
		return fmt.Errorf("operations must be an array")
	}
	for i, item := range arr {
		if _, ok := item.(map[string]interface{}); !ok {
			return fmt.Errorf("operations[%d] must be an object", i)
		}
	}

	wrapper := map[string]interface{}{"operations": arr}
	types := jsonPath("$.operations[*].type", wrapper)
	if len(types) != len(arr) {
		return fmt.Errorf("every operation must declare a \"type\"")
	}
	for i, t := range types {
		s, ok := t.(string)
		if !ok || !validOpTypes[s] {
			return fmt.Errorf("operations[%d] has invalid type %v", i, t)
		}
	}
	return nil
}
