package analyze

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/unpack/compiler/asm"
	"github.com/slowlang/unpack/compiler/ir"
	"github.com/slowlang/unpack/compiler/set"
	"github.com/slowlang/unpack/compiler/tp"
)

const src = `
class a/B
method static cmp (JJ)Z
	lload 0
	lload 2
	lcmp
	ifne L
	iconst_1
	ireturn
L:
	iconst_0
	ireturn
end
method static loop (J)J
	lload 0
	lstore 2
L:
	lload 2
	lconst_1
	ladd
	lstore 2
	goto L
end
method static catch (I)I
	catch any S E H
S:
	iload 0
	istore 1
E:
	iload 1
	ireturn
H:
	pop
	iconst_0
	ireturn
end
method shuffle (JLjava/lang/Object;)V
	aload 0
	lload 1
	dup2
	lstore 4
	aload 3
	dup_x2
	pop
	pop2
	swap
	pop
	pop
	return
	nop
	return
end
`

func analyzeMethod(t *testing.T, name string) *Result {
	t.Helper()

	c := asm.MustParse(src)

	for _, m := range c.Methods {
		if m.Name != name {
			continue
		}

		r, err := Analyze(context.Background(), c.Name, m)
		require.NoError(t, err)

		return r
	}

	t.Fatalf("no method %v", name)

	return nil
}

func TestCompare(t *testing.T) {
	r := analyzeMethod(t, "cmp")
	ids := r.IDs

	a, b, lcmp := ids[0], ids[1], ids[2]

	va := r.Value(a)
	require.NotNil(t, va)
	assert.Equal(t, tp.Type(tp.Long), va.Type)
	assert.Equal(t, []int{0}, va.Slots.Slice())

	vb := r.Value(b)
	require.NotNil(t, vb)
	assert.Equal(t, []int{2}, vb.Slots.Slice())

	assert.Equal(t, []ir.ID{lcmp}, r.Consumers(va).Slice())
	assert.Equal(t, []ir.ID{lcmp}, r.ConsumersOf(b).Slice())

	f := r.Frame(lcmp)
	require.NotNil(t, f)
	assert.Len(t, f.Stack, 2)
	assert.Equal(t, 4, f.Words())

	// params: long takes two slots, the second is unusable
	require.Len(t, r.In[0].Locals, 4)
	assert.Nil(t, r.In[0].Locals[1])
}

func TestLoopFixedPoint(t *testing.T) {
	r := analyzeMethod(t, "loop")
	ids := r.IDs

	load, ladd, label := ids[0], ids[5], ids[2]

	v := r.Frame(label).Local(2)
	require.NotNil(t, v)

	assert.Equal(t, []ir.ID{load, ladd}, v.Prod.Slice())
	assert.Equal(t, []int{2}, v.Slots.Slice())

	assert.Equal(t, []ir.ID{ids[6]}, r.ConsumersOf(ladd).Slice())
}

func TestHandlerFrame(t *testing.T) {
	r := analyzeMethod(t, "catch")

	h := r.Method.Handlers[0].Handler

	f := r.Frame(h)
	require.NotNil(t, f)
	require.Len(t, f.Stack, 1)

	assert.Equal(t, tp.Type(tp.Throwable), f.Stack[0].Type)
	assert.True(t, f.Stack[0].Prod.IsSet(h))

	// locals stored inside the range reach the handler
	assert.NotNil(t, f.Local(1))
	assert.NotNil(t, f.Local(0))
}

func TestShuffleAndUnreachable(t *testing.T) {
	r := analyzeMethod(t, "shuffle")
	ids := r.IDs

	load := ids[1]

	// dup2 and dup_x2 copy without consuming, both copies come from the same load
	assert.Equal(t, []ir.ID{ids[3], ids[7]}, r.ConsumersOf(load).Slice())

	f := r.After(ids[5])
	require.NotNil(t, f)
	require.Len(t, f.Stack, 4)
	assert.Same(t, f.Stack[1], f.Stack[3])

	assert.Nil(t, r.Frame(ids[12]))
	assert.Nil(t, r.Frame(ids[13]))
	assert.NotNil(t, r.Frame(ids[11]))
}

// Every consumed value is indexed under itself and under each of its producers.
func TestConsumerIndexComplete(t *testing.T) {
	c := asm.MustParse(src)

	for _, m := range c.Methods {
		r, err := Analyze(context.Background(), c.Name, m)
		require.NoError(t, err, m.String())

		for p, id := range r.IDs {
			in := r.In[p]
			if in == nil {
				continue
			}

			_, used, err := exec(id, m.Code.Get(id), in)
			require.NoError(t, err)

			for _, v := range used {
				assert.True(t, r.Consumers(v).IsSet(id), "%v: insn %d value %v", m, id, v)

				v.Prod.Range(func(prod ir.ID) bool {
					assert.True(t, r.ConsumersOf(prod).IsSet(id), "%v: insn %d producer %d", m, id, prod)
					return true
				})
			}
		}
	}
}

func TestMalformed(t *testing.T) {
	for _, tc := range []struct {
		name string
		code string
	}{
		{"underflow", "pop\n\treturn"},
		{"falls_off", "iconst_0\n\tpop"},
		{"subroutine", "jsr L\nL:\n\treturn"},
		{"wrong_width", "lload 0\n\tpop2\n\treturn"},
		{"unset_local", "iload 3\n\tpop\n\treturn"},
		{"height_mismatch", "iload 0\n\tifeq L\n\ticonst_1\nL:\n\treturn"},
		{"split_wide", "lconst_0\n\tpop\n\treturn"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			c := asm.MustParse("class a/B\nmethod static f (I)V\n\t" + tc.code + "\nend\n")

			_, err := Analyze(context.Background(), c.Name, c.Methods[0])
			require.Error(t, err)
			assert.True(t, IsMalformed(err), "%v", err)
		})
	}
}

func TestCallArgs(t *testing.T) {
	r := analyzeMethod(t, "cmp")
	f := r.After(r.IDs[1])

	args, err := CallArgs(f, ir.Call{Op: ir.INVOKESTATIC, Owner: "a/B", Name: "g", Desc: "(JJ)V"})
	require.NoError(t, err)
	require.Len(t, args, 2)

	assert.Equal(t, set.Of(0), args[0].Slots)
	assert.Equal(t, set.Of(2), args[1].Slots)

	_, err = CallArgs(f, ir.Call{Op: ir.INVOKEVIRTUAL, Owner: "a/B", Name: "g", Desc: "(JJ)V"})
	assert.Error(t, err)

	assert.True(t, HasReceiver(ir.INVOKEINTERFACE))
	assert.False(t, HasReceiver(ir.INVOKESTATIC))
}
