package querybuilder

import "fmt"

// SortOrder is the direction a "sort" results clause orders by.
type SortOrder string

const (
	Ascending  SortOrder = "ascending"
	Descending SortOrder = "descending"
)

// SortSpec is the compiled form of a "sort" results clause.
type SortSpec struct {
	Key   string
	Order SortOrder
}

// ResultsSpec is the compiled form of the results language of spec.md
// 4.C: list/count/sum/average/sort/limit.
type ResultsSpec struct {
	List    []string
	Count   bool
	Sum     string // property key, empty when not requested
	Average string // property key, empty when not requested
	Sort    *SortSpec
	Limit   *int
}

// CompileResults parses the results JSON object of spec.md 4.C.
func CompileResults(raw map[string]interface{}) (*ResultsSpec, error) {
	if raw == nil {
		return &ResultsSpec{}, nil
	}

	spec := &ResultsSpec{}

	if v, ok := raw["list"]; ok {
		keys, err := stringArray(v)
		if err != nil {
			return nil, fmt.Errorf("results.list: %w", err)
		}
		spec.List = keys
	}

	if _, ok := raw["count"]; ok {
		spec.Count = true
	}

	if v, ok := raw["sum"]; ok {
		keys, err := stringArray(v)
		if err != nil || len(keys) != 1 {
			return nil, fmt.Errorf("results.sum: expected a one-element array")
		}
		spec.Sum = keys[0]
	}

	if v, ok := raw["average"]; ok {
		keys, err := stringArray(v)
		if err != nil || len(keys) != 1 {
			return nil, fmt.Errorf("results.average: expected a one-element array")
		}
		spec.Average = keys[0]
	}

	if v, ok := raw["sort"]; ok {
		sortSpec, err := compileSort(v)
		if err != nil {
			return nil, err
		}
		spec.Sort = sortSpec
	}

	if v, ok := raw["limit"]; ok {
		f, ok := v.(float64)
		if !ok || f < 0 {
			return nil, fmt.Errorf("results.limit must be a non-negative integer")
		}
		n := int(f)
		spec.Limit = &n
	}

	return spec, nil
}

func compileSort(raw interface{}) (*SortSpec, error) {
	switch t := raw.(type) {
	case string:
		return &SortSpec{Key: t, Order: Ascending}, nil
	case map[string]interface{}:
		key, ok := t["key"].(string)
		if !ok {
			return nil, fmt.Errorf("results.sort.key must be a string")
		}
		order := Ascending
		if o, ok := t["order"].(string); ok {
			switch o {
			case "ascending":
				order = Ascending
			case "descending":
				order = Descending
			default:
				return nil, fmt.Errorf("results.sort.order must be ascending|descending")
			}
		}
		return &SortSpec{Key: key, Order: order}, nil
	default:
		return nil, fmt.Errorf("results.sort must be a string or object")
	}
}

func stringArray(raw interface{}) ([]string, error) {
	arr, ok := raw.([]interface{})
	if !ok {
		return nil, fmt.Errorf("expected an array")
	}
	out := make([]string, 0, len(arr))
	for _, v := range arr {
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("expected an array of strings")
		}
		out = append(out, s)
	}
	return out, nil
}
