package ids

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNew_Unique(t *testing.T) {
	a, b := New(), New()
	assert.NotEqual(t, a, b)
	assert.True(t, Valid(a))
	assert.False(t, Valid("not-a-uuid"))
}

func TestNewSortable_Monotonic(t *testing.T) {
	now := time.Now()
	prev := NewSortable(now)
	for range 100 {
		next := NewSortable(now)
		assert.Less(t, prev, next)
		prev = next
	}
}
