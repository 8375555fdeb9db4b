package queue

import "encoding/json"

// requiredLotFields are the keys every queued lot must carry for the
// presentation layer to render it.
var requiredLotFields = []string{"id", "name", "basePrice"}

// Validate reports whether a stored queue value is usable: a non-empty JSON
// array whose every element is a non-null object carrying id, name and
// basePrice. Anything else (absent value, wrong shape, empty array, null or
// incomplete elements) is invalid and a candidate for repair. Pure check,
// no side effects.
func Validate(raw json.RawMessage) bool {
	if len(raw) == 0 {
		return false
	}

	var items []map[string]any
	if err := json.Unmarshal(raw, &items); err != nil {
		return false
	}
	if len(items) == 0 {
		return false
	}

	for _, item := range items {
		if item == nil {
			return false
		}
		for _, field := range requiredLotFields {
			v, ok := item[field]
			if !ok || v == nil {
				return false
			}
		}
	}
	return true
}
