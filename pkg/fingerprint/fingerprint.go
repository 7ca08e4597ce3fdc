// Package fingerprint produces stable hashes for item text and order content.
package fingerprint

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
)

// ItemHashLength is the number of hex characters kept from an item hash.
const ItemHashLength = 16

// HashTokens hashes a token list independent of its order. Used for the item
// part of an order key, so it is truncated to ItemHashLength.
func HashTokens(tokens []string) string {
	sorted := append([]string(nil), tokens...)
	sort.Strings(sorted)
	sum := sha256.Sum256([]byte(strings.Join(sorted, "\x1f")))
	return hex.EncodeToString(sum[:])[:ItemHashLength]
}

// GenerateWithExclusions is a SHA256 over the canonical JSON of data, keys
// sorted at every level, skipping the named top-level fields.
func GenerateWithExclusions(data map[string]any, exclude map[string]bool) string {
	var b strings.Builder
	writeCanonical(&b, data, exclude)
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:])
}

// FromStruct fingerprints any JSON-serializable value by round-tripping it
// through a map.
func FromStruct(v any, exclude map[string]bool) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", err
	}
	return GenerateWithExclusions(m, exclude), nil
}

func writeCanonical(b *strings.Builder, v any, exclude map[string]bool) {
	switch val := v.(type) {
	case map[string]any:
		keys := make([]string, 0, len(val))
		for k := range val {
			if exclude[k] {
				continue
			}
			keys = append(keys, k)
		}
		sort.Strings(keys)

		b.WriteByte('{')
		for i, k := range keys {
			if i > 0 {
				b.WriteByte(',')
			}
			key, _ := json.Marshal(k)
			b.Write(key)
			b.WriteByte(':')
			// exclusions only apply at the top level
			writeCanonical(b, val[k], nil)
		}
		b.WriteByte('}')
	case []any:
		b.WriteByte('[')
		for i, item := range val {
			if i > 0 {
				b.WriteByte(',')
			}
			writeCanonical(b, item, nil)
		}
		b.WriteByte(']')
	default:
		raw, _ := json.Marshal(val)
		b.Write(raw)
	}
}
