package actions

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestViewCachePrefixInvalidation(t *testing.T) {
	c := NewViewCache()
	c.Put("cartera:resumen:01/2026", 1)
	c.Put("cartera:detalle:01/2026", 2)
	c.Put("gestores:ranking", 3)

	v, ok := c.Get("cartera:resumen:01/2026")
	assert.True(t, ok)
	assert.Equal(t, 1, v)

	assert.Equal(t, 2, c.InvalidatePrefix("cartera"))
	assert.Equal(t, 1, c.Len())
	_, ok = c.Get("cartera:detalle:01/2026")
	assert.False(t, ok)
	_, ok = c.Get("gestores:ranking")
	assert.True(t, ok)

	// Nothing left under the prefix; a second invalidation is a no-op.
	assert.Equal(t, 0, c.InvalidatePrefix("cartera"))
}
