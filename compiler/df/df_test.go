package df

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/unpack/compiler/ir"
	"github.com/slowlang/unpack/compiler/set"
	"github.com/slowlang/unpack/compiler/tp"
)

func TestMerge(t *testing.T) {
	a := New(tp.Long, set.Of[ir.ID](1), set.Of(0))
	b := New(tp.Long, set.Of[ir.ID](4), set.Of(2))

	assert.Same(t, a, Merge(a, nil))
	assert.Same(t, a, Merge(nil, a))
	assert.Same(t, a, Merge(a, New(tp.Long, set.Of[ir.ID](1), set.Of(0))))

	m := Merge(a, b)
	assert.Equal(t, []ir.ID{1, 4}, m.Prod.Slice())
	assert.Equal(t, []int{0, 2}, m.Slots.Slice())

	assert.Equal(t, []ir.ID{1}, a.Prod.Slice(), "operands are immutable")
	assert.Equal(t, []int{2}, b.Slots.Slice())
}

func TestKey(t *testing.T) {
	a := New(tp.Int, set.Of[ir.ID](1, 70), set.Of(3))
	b := New(tp.Int, set.Of[ir.ID](70, 1), set.Of(3))
	c := New(tp.Int, set.Of[ir.ID](1), set.Of(3))

	assert.True(t, a.Equal(b))
	assert.Equal(t, a.Key(), b.Key())
	assert.NotEqual(t, a.Key(), c.Key())
	assert.Equal(t, "", (*Value)(nil).Key())
}

func TestFrameMerge(t *testing.T) {
	x := &Frame{
		Stack:  []*Value{Produced(tp.Int, 1)},
		Locals: []*Value{Produced(tp.Obj, 0)},
	}

	y := &Frame{
		Stack:  []*Value{Produced(tp.Int, 2)},
		Locals: []*Value{nil, Produced(tp.Int, 3)},
	}

	f := x.Clone()

	changed, err := f.Merge(y)
	require.NoError(t, err)
	assert.True(t, changed)

	assert.Equal(t, []ir.ID{1, 2}, f.Stack[0].Prod.Slice())
	require.Len(t, f.Locals, 2)
	assert.Same(t, x.Locals[0], f.Locals[0])
	assert.Same(t, y.Locals[1], f.Locals[1])

	changed, err = f.Merge(y)
	require.NoError(t, err)
	assert.False(t, changed)

	assert.Len(t, x.Locals, 1, "clone is independent")
}

func TestFrameMergeErrors(t *testing.T) {
	f := &Frame{Stack: []*Value{Produced(tp.Int, 1)}}

	_, err := f.Merge(&Frame{})
	assert.Error(t, err)

	_, err = f.Merge(&Frame{Stack: []*Value{Produced(tp.Long, 2)}})
	assert.Error(t, err)
}

func TestFrameStack(t *testing.T) {
	f := &Frame{Stack: []*Value{Produced(tp.Long, 1), Produced(tp.Int, 2)}}

	assert.Equal(t, 3, f.Words())
	assert.Equal(t, ir.ID(2), f.Top(0).Prod.First())
	assert.Equal(t, ir.ID(1), f.Top(1).Prod.First())
	assert.Nil(t, f.Top(2))
	assert.Nil(t, f.Local(0))
	assert.Nil(t, f.Local(-1))
}
