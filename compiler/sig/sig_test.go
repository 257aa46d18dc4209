package sig

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/unpack/compiler/asm"
	"github.com/slowlang/unpack/compiler/ir"
	"github.com/slowlang/unpack/compiler/remap"
	"github.com/slowlang/unpack/compiler/set"
	"github.com/slowlang/unpack/compiler/tp"
)

const src = `
class a/Light
method static f (JIJ)V
	local a J 0 Start End
	local i I 2 Start End
	local b J 3 Start End
	local tmp J 5 Start End
Start:
	lload 0
	lstore 5
	return
End:
end
method g (J)J
	lload 1
	lreturn
end
`

func TestApply(t *testing.T) {
	c := asm.MustParse(src)

	m := c.Methods[0].Clone()
	mp := remap.New(set.Of(0, 5))

	_, err := mp.Apply(m.Code)
	require.NoError(t, err)

	err = Apply(m, mp, DefaultSuffix)
	require.NoError(t, err)

	assert.Equal(t, "f", m.Name)
	assert.Equal(t, "(IIIIJ)V", m.Desc)

	var names []string
	var slots []int

	for _, l := range m.Locals {
		names = append(names, l.Name)
		slots = append(slots, l.Slot)
	}

	assert.Equal(t, []string{"a_x", "a_y", "a_z", "i", "b", "tmp_x", "tmp_y", "tmp_z"}, names)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 6, 7, 8}, slots)
	assert.Equal(t, "I", m.Locals[0].Desc)
	assert.Equal(t, c.Methods[0].Locals[0].Start, m.Locals[0].Start)

	assert.Equal(t, 9, m.MaxLocals)
}

func TestSuffix(t *testing.T) {
	c := asm.MustParse(src)

	m := c.Methods[1].Clone()
	mp := remap.New(set.Bits[int]{})

	err := Apply(m, mp, DefaultSuffix)
	require.NoError(t, err)

	assert.Equal(t, "g3int", m.Name)
	assert.Equal(t, "(J)J", m.Desc)
	assert.Equal(t, 2, m.MaxStack)
	assert.Equal(t, 3, m.MaxLocals)

	m = c.Methods[1].Clone()
	m.Name = "<init>"

	err = Apply(m, mp, DefaultSuffix)
	require.NoError(t, err)

	assert.Equal(t, "<init>", m.Name)
}

// New parameter width is the old one plus one slot per expanded long,
// a two-slot long becomes three int slots.
func TestParamWidth(t *testing.T) {
	c := asm.MustParse(src)
	m := c.Methods[0]

	for _, exp := range []set.Bits[int]{
		{},
		set.Of(0),
		set.Of(3),
		set.Of(0, 3),
	} {
		mp := remap.New(exp)

		desc, err := Desc(m, mp)
		require.NoError(t, err)

		f, err := tp.ParseFunc(m.Desc)
		require.NoError(t, err)

		nf, err := tp.ParseFunc(desc)
		require.NoError(t, err)

		assert.Equal(t, f.Size()+exp.Size()*remap.Delta, nf.Size(), "exp %v", exp)
	}
}

func TestNotLongParam(t *testing.T) {
	c := asm.MustParse(src)

	_, err := Desc(c.Methods[0], remap.New(set.Of(2)))

	var ce *ir.ConsistencyError
	require.ErrorAs(t, err, &ce)
}
