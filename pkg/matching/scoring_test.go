package matching

import (
	"testing"
	"time"

	"github.com/Ramsey-B/fern/pkg/normalizers"
	"github.com/stretchr/testify/assert"
)

func TestScorer_Jaccard(t *testing.T) {
	s := NewScorer()

	tests := []struct {
		name string
		a, b normalizers.TokenSet
		want float64
	}{
		{"both empty", normalizers.NewTokenSet(), normalizers.NewTokenSet(), 1.0},
		{"one empty", normalizers.NewTokenSet("mug"), normalizers.NewTokenSet(), 0.0},
		{"other empty", normalizers.NewTokenSet(), normalizers.NewTokenSet("mug"), 0.0},
		{"identical", normalizers.NewTokenSet("blue", "mug"), normalizers.NewTokenSet("mug", "blue"), 1.0},
		{"disjoint", normalizers.NewTokenSet("blue", "mug"), normalizers.NewTokenSet("red", "lamp"), 0.0},
		{"half", normalizers.NewTokenSet("blue", "mug", "ceramic"), normalizers.NewTokenSet("blue", "mug", "glass"), 0.5},
		{"one third", normalizers.NewTokenSet("blue", "mug"), normalizers.NewTokenSet("blue", "cup", "set", "mug", "tea", "red"), 2.0 / 6.0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, s.Jaccard(tt.a, tt.b), 1e-9)
			assert.InDelta(t, tt.want, s.Jaccard(tt.b, tt.a), 1e-9)
		})
	}
}

func TestScorer_WithinWindow(t *testing.T) {
	s := NewScorer()
	base := time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)
	window := 14 * 24 * time.Hour

	assert.True(t, s.WithinWindow(base, base.Add(window), window))
	assert.True(t, s.WithinWindow(base.Add(window), base, window))
	assert.False(t, s.WithinWindow(base, base.Add(window+time.Second), window))
	assert.True(t, s.WithinWindow(time.Time{}, base, window))
	assert.True(t, s.WithinWindow(base, time.Time{}, window))
}
