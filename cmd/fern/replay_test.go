package main

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Ramsey-B/fern/pkg/models"
)

func TestReadBatches(t *testing.T) {
	input := strings.Join([]string{
		`{"email_id":"e-1","order_number":"A1"}`,
		``,
		`{"email_id":"e-2"}`,
		`   `,
		`{"email_id":"e-3"}`,
	}, "\n")

	t.Run("should chunk in file order", func(t *testing.T) {
		var got [][]string
		err := readBatches(strings.NewReader(input), 2, func(batch []*models.FieldSet) error {
			ids := make([]string, 0, len(batch))
			for _, fs := range batch {
				ids = append(ids, fs.EmailID)
			}
			got = append(got, ids)
			return nil
		})
		require.NoError(t, err)
		assert.Equal(t, [][]string{{"e-1", "e-2"}, {"e-3"}}, got)
	})

	t.Run("should report the bad line", func(t *testing.T) {
		err := readBatches(strings.NewReader("{\"email_id\":\"e-1\"}\nnot json\n"), 10, func([]*models.FieldSet) error {
			return nil
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "line 2")
	})

	t.Run("should stop on a batch error", func(t *testing.T) {
		calls := 0
		err := readBatches(strings.NewReader(input), 1, func([]*models.FieldSet) error {
			calls++
			return errors.New("boom")
		})
		assert.EqualError(t, err, "boom")
		assert.Equal(t, 1, calls)
	})

	t.Run("should not call fn for empty input", func(t *testing.T) {
		err := readBatches(strings.NewReader("\n\n"), 5, func([]*models.FieldSet) error {
			t.Fatal("unexpected batch")
			return nil
		})
		assert.NoError(t, err)
	})
}
