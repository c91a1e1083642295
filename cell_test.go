package prefstore

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCell(t *testing.T) {
	c := NewCell(1)
	assert.Equal(t, 1, c.Get())

	var got []int
	unsubscribe := c.Subscribe(func(v int) { got = append(got, v) })
	c.Set(2)
	c.Set(3)
	unsubscribe()
	unsubscribe()
	c.Set(4)

	assert.Equal(t, []int{2, 3}, got)
	assert.Equal(t, 4, c.Get())
}

func TestCell_UnsubscribeFromCallback(t *testing.T) {
	c := NewCell("a")
	calls := 0
	var unsubscribe func()
	unsubscribe = c.Subscribe(func(string) {
		calls++
		unsubscribe()
	})
	c.Set("b")
	c.Set("c")
	assert.Equal(t, 1, calls)
}
