package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
)

// HashAttributes computes the configuration hash of a canonical attribute
// set. The encoding sorts map keys at every level and leaves references in
// their unresolved ref:// form, so the hash of an unchanged descriptor is
// stable across runs even when referenced outputs change identity.
func HashAttributes(attrs map[string]any) (string, error) {
	data, err := marshalCanonical(attrs)
	if err != nil {
		return "", fmt.Errorf("failed to encode attributes for hashing: %w", err)
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), nil
}

// marshalCanonical produces deterministic JSON with sorted object keys.
func marshalCanonical(v any) ([]byte, error) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		buf := []byte{'{'}
		for i, k := range keys {
			if i > 0 {
				buf = append(buf, ',')
			}
			kb, err := json.Marshal(k)
			if err != nil {
				return nil, err
			}
			vb, err := marshalCanonical(val[k])
			if err != nil {
				return nil, err
			}
			buf = append(buf, kb...)
			buf = append(buf, ':')
			buf = append(buf, vb...)
		}
		return append(buf, '}'), nil
	case []any:
		buf := []byte{'['}
		for i, item := range val {
			if i > 0 {
				buf = append(buf, ',')
			}
			vb, err := marshalCanonical(item)
			if err != nil {
				return nil, err
			}
			buf = append(buf, vb...)
		}
		return append(buf, ']'), nil
	default:
		return json.Marshal(v)
	}
}
