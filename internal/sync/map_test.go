package sync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestMapStoreLoad(t *testing.T) {
	m := NewMap[string, int]()

	m.Store("a", 42)

	v, ok := m.Load("a")
	assert.True(t, ok)
	assert.Equal(t, 42, v)

	_, ok = m.Load("missing")
	assert.False(t, ok)
}

func TestMapDelete(t *testing.T) {
	m := NewMap[string, int]()

	m.Store("a", 1)
	m.Delete("a")

	_, ok := m.Load("a")
	assert.False(t, ok)
	assert.Equal(t, 0, m.Len())
}

func TestMapLoadAndDelete(t *testing.T) {
	m := NewMap[string, int]()

	m.Store("a", 7)

	v, loaded := m.LoadAndDelete("a")
	assert.True(t, loaded)
	assert.Equal(t, 7, v)

	_, loaded = m.LoadAndDelete("a")
	assert.False(t, loaded)
}

func TestMapRange(t *testing.T) {
	m := NewMap[string, int]()
	m.Store("a", 1)
	m.Store("b", 2)

	seen := map[string]int{}
	m.Range(func(k string, v int) bool {
		seen[k] = v
		return true
	})
	assert.Equal(t, map[string]int{"a": 1, "b": 2}, seen)
}
