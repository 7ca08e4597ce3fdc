package fingerprint

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestHashTokens(t *testing.T) {
	t.Run("should ignore token order", func(t *testing.T) {
		assert.Equal(t, HashTokens([]string{"mug", "blue", "ceramic"}), HashTokens([]string{"ceramic", "mug", "blue"}))
	})

	t.Run("should differ for different tokens", func(t *testing.T) {
		assert.NotEqual(t, HashTokens([]string{"mug"}), HashTokens([]string{"cup"}))
	})

	t.Run("should be truncated", func(t *testing.T) {
		assert.Len(t, HashTokens([]string{"mug"}), ItemHashLength)
	})

	t.Run("should not mutate input", func(t *testing.T) {
		in := []string{"b", "a"}
		HashTokens(in)
		assert.Equal(t, []string{"b", "a"}, in)
	})
}

func TestGenerateWithExclusions(t *testing.T) {
	t.Run("should not depend on key order", func(t *testing.T) {
		a := map[string]any{"a": 1, "b": map[string]any{"x": "1", "y": []any{1, 2}}}
		b := map[string]any{"b": map[string]any{"y": []any{1, 2}, "x": "1"}, "a": 1}
		assert.Equal(t, GenerateWithExclusions(a, nil), GenerateWithExclusions(b, nil))
	})

	t.Run("should honor exclusions", func(t *testing.T) {
		a := map[string]any{"item": "mug", "updated_at": "2024-01-01"}
		b := map[string]any{"item": "mug", "updated_at": "2024-02-01"}
		exclude := map[string]bool{"updated_at": true}
		assert.Equal(t, GenerateWithExclusions(a, exclude), GenerateWithExclusions(b, exclude))
		assert.NotEqual(t, GenerateWithExclusions(a, nil), GenerateWithExclusions(b, nil))
	})
}

func TestFromStruct(t *testing.T) {
	type record struct {
		Name    string `json:"name"`
		Version int    `json:"version"`
	}

	a, err := FromStruct(record{Name: "x", Version: 1}, map[string]bool{"version": true})
	require.NoError(t, err)
	b, err := FromStruct(record{Name: "x", Version: 2}, map[string]bool{"version": true})
	require.NoError(t, err)
	assert.Equal(t, a, b)
}
