package set

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBitsUnion(t *testing.T) {
	x := Of(1, 3, 70)
	y := Of(2, 3)

	u := Union(x, y)

	assert.Equal(t, []int{1, 2, 3, 70}, u.Slice())
	assert.Equal(t, []int{1, 3, 70}, x.Slice(), "operands are not modified")
	assert.Equal(t, []int{2, 3}, y.Slice())

	u.Set(5)
	assert.False(t, x.IsSet(5))
	assert.False(t, y.IsSet(5))
}

func TestBitsMerge(t *testing.T) {
	var s Bits[int]

	assert.True(t, s.Merge(Of(4, 100)))
	assert.False(t, s.Merge(Of(4)))
	assert.True(t, s.Merge(Of(5)))
	assert.Equal(t, 3, s.Size())
	assert.Equal(t, 4, s.First())
}

func TestBitsEqual(t *testing.T) {
	a := Of(1, 2)
	b := Of(1, 2, 200)
	b.Clear(200)

	assert.True(t, a.Equal(b))
	assert.Equal(t, string(a.AppendKey(nil)), string(b.AppendKey(nil)))
	assert.False(t, a.Equal(Of(1)))
	assert.True(t, Bits[int]{}.Equal(Of[int]()))
	assert.Equal(t, -1, Bits[int]{}.First())
	assert.Equal(t, "{1 2}", a.String())
}

func TestBitsIntersects(t *testing.T) {
	assert.True(t, Of(1, 64).Intersects(Of(64)))
	assert.False(t, Of(1).Intersects(Of(2, 65)))
	assert.False(t, Of(0).IsSet(-1))
}
