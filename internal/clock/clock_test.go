package clock

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestFixed(t *testing.T) {
	base := time.Date(2026, 3, 1, 23, 59, 0, 0, time.FixedZone("x", 3600))
	c := NewFixed(base)
	assert.Equal(t, time.UTC, c.Now().Location())
	assert.True(t, c.Now().Equal(base))

	c.Advance(2 * time.Minute)
	assert.Equal(t, 1, c.Now().Minute())
}

func TestOrSystem(t *testing.T) {
	assert.IsType(t, System{}, OrSystem(nil))
	f := NewFixed(time.Unix(0, 0))
	assert.Same(t, f, OrSystem(f))
	assert.Equal(t, time.UTC, System{}.Now().Location())
}
