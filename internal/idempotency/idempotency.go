// Package idempotency provides canonical JSON serialization: a deterministic
// encoding of arbitrary JSON-shaped values with recursively sorted map keys,
// so that logically equivalent values always produce byte-identical output
// regardless of map iteration order. It backs the signal adapter's
// content-derived event-ids (§4.5, §9 "Deterministic identity") through
// internal/ids.ContentDerivedEventID.
package idempotency

import (
	"encoding/json"
	"fmt"
	"sort"
)

// CanonicalJSON converts a value to deterministic JSON by recursively sorting
// map keys. This ensures that logically equivalent data structures always
// produce the same JSON, which is the building block for content-derived
// event-ids: (kind, mode, entity_id, ref, value) only hashes to a stable
// uuid if value serializes stably.
func CanonicalJSON(v interface{}) ([]byte, error) {
	normalized, err := normalizeValue(v)
	if err != nil {
		return nil, fmt.Errorf("failed to normalize value: %w", err)
	}

	data, err := json.Marshal(normalized)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal JSON: %w", err)
	}

	return data, nil
}

// normalizeValue recursively converts maps to sorted representations.
func normalizeValue(v interface{}) (interface{}, error) {
	switch val := v.(type) {
	case map[string]interface{}:
		return normalizeSortedMap(val)

	case []interface{}:
		normalized := make([]interface{}, len(val))
		for i, item := range val {
			n, err := normalizeValue(item)
			if err != nil {
				return nil, err
			}
			normalized[i] = n
		}
		return normalized, nil

	default:
		// Re-decode anything else (typed structs, etc.) through JSON first
		// so nested maps inside them get sorted too.
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, err
		}
		var generic interface{}
		if err := json.Unmarshal(raw, &generic); err != nil {
			return nil, err
		}
		switch generic.(type) {
		case map[string]interface{}, []interface{}:
			return normalizeValue(generic)
		default:
			return generic, nil
		}
	}
}

// sortedMap is a JSON-marshalable type that maintains key ordering.
type sortedMap struct {
	keys   []string
	values map[string]interface{}
}

func (sm *sortedMap) MarshalJSON() ([]byte, error) {
	if len(sm.keys) == 0 {
		return []byte("{}"), nil
	}

	result := "{"
	for i, key := range sm.keys {
		if i > 0 {
			result += ","
		}

		keyJSON, err := json.Marshal(key)
		if err != nil {
			return nil, err
		}

		valJSON, err := json.Marshal(sm.values[key])
		if err != nil {
			return nil, err
		}

		result += string(keyJSON) + ":" + string(valJSON)
	}
	result += "}"

	return []byte(result), nil
}

func normalizeSortedMap(m map[string]interface{}) (*sortedMap, error) {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	normalized := make(map[string]interface{}, len(m))
	for _, k := range keys {
		n, err := normalizeValue(m[k])
		if err != nil {
			return nil, err
		}
		normalized[k] = n
	}

	return &sortedMap{
		keys:   keys,
		values: normalized,
	}, nil
}
