package admission_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/dmitrymomot/admitq/pkg/admission"
)

func TestBackoff_NextDelay(t *testing.T) {
	t.Parallel()

	t.Run("doubles from base", func(t *testing.T) {
		t.Parallel()

		b := admission.NewBackoff(2*time.Second, 60*time.Second)
		assert.Equal(t, 2*time.Second, b.NextDelay(0))
		assert.Equal(t, 4*time.Second, b.NextDelay(1))
		assert.Equal(t, 8*time.Second, b.NextDelay(2))
	})

	t.Run("non-decreasing and capped", func(t *testing.T) {
		t.Parallel()

		b := admission.NewBackoff(2*time.Second, 60*time.Second)
		prev := time.Duration(0)
		for r := 0; r <= 10; r++ {
			d := b.NextDelay(r)
			require.GreaterOrEqual(t, d, prev, "retry %d", r)
			require.LessOrEqual(t, d, 60*time.Second, "retry %d", r)
			prev = d
		}
		assert.Equal(t, 60*time.Second, b.NextDelay(100))
	})

	t.Run("defaults applied on zero values", func(t *testing.T) {
		t.Parallel()

		b := admission.NewBackoff(0, 0)
		assert.Equal(t, admission.DefaultBaseBackoff, b.NextDelay(0))
		assert.Equal(t, admission.DefaultMaxBackoff, b.NextDelay(64))
	})

	t.Run("negative retry count treated as zero", func(t *testing.T) {
		t.Parallel()

		b := admission.NewBackoff(time.Second, time.Minute)
		assert.Equal(t, time.Second, b.NextDelay(-3))
	})
}
