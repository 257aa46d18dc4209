package ir

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListInsertRemove(t *testing.T) {
	l := NewList(Var{Op: LLOAD, Slot: 1}, Plain{Op: LRETURN})

	ids := l.IDs()
	require.Len(t, ids, 2)

	ins := l.InsertBefore(ids[1], Plain{Op: L2I}, Plain{Op: I2L})
	assert.Equal(t, []ID{0, 2, 3, 1}, l.IDs())

	l.InsertAfter(ids[1], Plain{Op: NOP})
	assert.Equal(t, 5, l.Len())
	assert.Equal(t, ID(4), l.Last())

	require.NoError(t, l.Remove(ins[0]))
	require.Error(t, l.Remove(ins[0]))
	assert.Equal(t, []ID{0, 3, 1, 4}, l.IDs())
	assert.Equal(t, Insn(Var{Op: LLOAD, Slot: 1}), l.Get(ids[0]))

	require.NoError(t, l.Remove(0))
	assert.Equal(t, ID(3), l.First())
	assert.Equal(t, Nil, l.Prev(3))

	pos := l.Index()
	assert.Equal(t, 1, pos[1])
	assert.Equal(t, -1, pos[0])
}

func TestListLabelsStay(t *testing.T) {
	l := NewList(Label{}, Jump{Op: GOTO, Target: 0})

	assert.Error(t, l.Remove(0))
}

func TestListCloneKeepsIDs(t *testing.T) {
	l := NewList(Plain{Op: ICONST_1}, Plain{Op: IRETURN})
	c := l.Clone()

	c.InsertBefore(1, Plain{Op: NOP})
	c.Set(0, Plain{Op: ICONST_2})

	assert.Equal(t, []ID{0, 1}, l.IDs())
	assert.Equal(t, Insn(Plain{Op: ICONST_1}), l.Get(0))
	assert.Equal(t, []ID{0, 2, 1}, c.IDs())
}

func TestMaxStack(t *testing.T) {
	m := &Method{
		Name:   "f",
		Desc:   "(JJ)Z",
		Access: AccStatic,
		Code: NewList(
			Var{Op: LLOAD, Slot: 0},
			Var{Op: LLOAD, Slot: 2},
			Plain{Op: LCMP},
			Jump{Op: IFNE, Target: 6},
			Plain{Op: ICONST_1},
			Plain{Op: IRETURN},
			Label{},
			Plain{Op: ICONST_0},
			Plain{Op: IRETURN},
		),
	}

	n, err := MaxStack(m)
	require.NoError(t, err)
	assert.Equal(t, 4, n)

	m.Code.InsertBefore(7, Plain{Op: POP})

	_, err = MaxStack(m)
	assert.Error(t, err)
}

func TestEffect(t *testing.T) {
	for _, tc := range []struct {
		x         Insn
		pop, push int
	}{
		{Call{Op: INVOKEVIRTUAL, Owner: "a/Pos", Name: "offset", Desc: "(JLa/Dir;)J"}, 4, 2},
		{Call{Op: INVOKESTATIC, Owner: "a/Pos", Name: "getX", Desc: "(J)I"}, 2, 1},
		{Field{Op: PUTFIELD, Owner: "a/B", Name: "pos", Desc: "J"}, 3, 0},
		{Ldc{Value: int64(1)}, 0, 2},
		{Plain{Op: DUP2_X1}, 3, 5},
		{Var{Op: DSTORE, Slot: 3}, 2, 0},
		{MultiArray{Desc: "[[I", Dims: 2}, 2, 1},
	} {
		pop, push, err := Effect(tc.x)
		require.NoError(t, err, "%v", tc.x)
		assert.Equal(t, tc.pop, pop, "%v", tc.x)
		assert.Equal(t, tc.push, push, "%v", tc.x)
	}

	_, _, err := Effect(Plain{Op: 0xfe})
	assert.Error(t, err)
}

func TestOpNames(t *testing.T) {
	op, ok := ParseOp("invokestatic")
	assert.True(t, ok)
	assert.Equal(t, INVOKESTATIC, op)
	assert.Equal(t, "lcmp", LCMP.String())
	assert.Equal(t, "op254", Op(0xfe).String())
}
