package rewrite

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"tlog.app/go/errors"

	"github.com/slowlang/unpack/compiler/analyze"
	"github.com/slowlang/unpack/compiler/asm"
	"github.com/slowlang/unpack/compiler/catalog"
	"github.com/slowlang/unpack/compiler/expand"
	"github.com/slowlang/unpack/compiler/ir"
	"github.com/slowlang/unpack/compiler/remap"
)

const (
	pos   = "net/minecraft/util/math/BlockPos"
	dir   = "net/minecraft/util/math/Direction"
	level = "net/minecraft/world/chunk/light/LevelPropagator"
)

func transform(t *testing.T, src string) (*ir.Method, *Env, error) {
	t.Helper()

	ctx := context.Background()

	c := asm.MustParse(src)
	require.Len(t, c.Methods, 1)

	m := c.Methods[0]

	cat, err := catalog.Default()
	require.NoError(t, err)

	r, err := analyze.Analyze(ctx, c.Name, m)
	require.NoError(t, err)

	exp, err := expand.Solve(ctx, cat, r)
	if err != nil {
		return nil, nil, err
	}

	mp := remap.New(exp.Slots)
	out := m.Clone()

	if _, err = mp.Apply(out.Code); err != nil {
		return nil, nil, err
	}

	e := &Env{Cat: cat, Map: mp, Code: out.Code}

	if _, err = Apply(ctx, e, Rules()); err != nil {
		return nil, e, err
	}

	if _, err = Calls(ctx, e, r, exp); err != nil {
		return nil, e, err
	}

	if err = Leftovers(e); err != nil {
		return nil, e, err
	}

	return out, e, nil
}

func insns(l *ir.List) (r []ir.Insn) {
	for id := l.First(); id != ir.Nil; id = l.Next(id) {
		r = append(r, l.Get(id))
	}

	return r
}

func iload(s int) ir.Insn  { return ir.Var{Op: ir.ILOAD, Slot: s} }
func istore(s int) ir.Insn { return ir.Var{Op: ir.ISTORE, Slot: s} }
func aload(s int) ir.Insn  { return ir.Var{Op: ir.ALOAD, Slot: s} }
func plain(op ir.Op) ir.Insn {
	return ir.Plain{Op: op}
}

func virt(owner, name, desc string) ir.Insn {
	return ir.Call{Op: ir.INVOKEVIRTUAL, Owner: owner, Name: name, Desc: desc}
}

func TestAccessorsAndArguments(t *testing.T) {
	m, e, err := transform(t, `
class a/Light
method static test (L`+pos+`;L`+level+`;)V
	aload 0
	invokevirtual `+pos+`#asLong ()J
	lstore 2
	aload 1
	lload 2
	lload 2
	iconst_0
	iconst_1
	invokevirtual `+level+`#propagateLevel (JJIZ)V
	return
end
`)
	require.NoError(t, err)

	assert.Equal(t, []ir.Insn{
		aload(0), virt(pos, "getX", "()I"), istore(2),
		aload(0), virt(pos, "getY", "()I"), istore(3),
		aload(0), virt(pos, "getZ", "()I"), istore(4),
		aload(1),
		iload(2), iload(3), iload(4),
		iload(2), iload(3), iload(4),
		plain(ir.ICONST_0), plain(ir.ICONST_1),
		virt(level, "propagateLevel", "(IIIIIIIZ)V"),
		plain(ir.RETURN),
	}, insns(m.Code))

	assert.Equal(t, 1, e.Stats["accessors"])
}

func TestOffsetAndRemap(t *testing.T) {
	m, _, err := transform(t, `
class a/Light
method static near (JL`+dir+`;L`+level+`;)I
	lload 0
	aload 2
	invokestatic `+pos+`#offset (JL`+dir+`;)J
	lstore 4
	aload 3
	lload 4
	invokevirtual `+level+`#getLevel (J)I
	ireturn
end
`)
	require.NoError(t, err)

	var exp []ir.Insn

	for axis, n := range []string{"X", "Y", "Z"} {
		exp = append(exp,
			iload(axis), aload(3), virt(dir, "getOffset"+n, "()I"), plain(ir.IADD), istore(5+axis))
	}

	exp = append(exp,
		aload(4), iload(5), iload(6), iload(7),
		virt(level, "getLevel", "(III)I"),
		plain(ir.IRETURN))

	assert.Equal(t, exp, insns(m.Code))
}

func TestCompareNotEqual(t *testing.T) {
	m, _, err := transform(t, `
class a/Light
method static unset (L`+level+`;J)I
	aload 0
	lload 1
	invokevirtual `+level+`#getLevel (J)I
	pop
	lload 1
	ldc 9223372036854775807L
	lcmp
	ifne Skip
	iconst_1
	ireturn
Skip:
	iconst_0
	ireturn
end
`)
	require.NoError(t, err)

	xs := insns(m.Code)

	skip := ir.Nil
	for id := m.Code.First(); id != ir.Nil; id = m.Code.Next(id) {
		if _, ok := m.Code.Get(id).(ir.Label); ok {
			skip = id
		}
	}

	narrow := ir.Ldc{Value: int32(1<<31 - 1)}
	jne := ir.Jump{Op: ir.IF_ICMPNE, Target: skip}

	assert.Equal(t, []ir.Insn{
		aload(0), iload(1), iload(2), iload(3), virt(level, "getLevel", "(III)I"), plain(ir.POP),
		iload(1), narrow, jne,
		iload(2), narrow, jne,
		iload(3), narrow, jne,
		plain(ir.ICONST_1), plain(ir.IRETURN),
		ir.Label{},
		plain(ir.ICONST_0), plain(ir.IRETURN),
	}, xs)
}

func TestCompareEqual(t *testing.T) {
	m, _, err := transform(t, `
class a/Light
method static same (L`+level+`;JJ)I
	aload 0
	lload 1
	lload 3
	iconst_0
	invokevirtual `+level+`#getPropagatedLevel (JJI)I
	pop
	lload 1
	lload 3
	lcmp
	ifeq Same
	iconst_0
	ireturn
Same:
	iconst_1
	ireturn
end
`)
	require.NoError(t, err)

	var jumps []ir.Jump
	var labels []ir.ID

	for id := m.Code.First(); id != ir.Nil; id = m.Code.Next(id) {
		switch x := m.Code.Get(id).(type) {
		case ir.Jump:
			jumps = append(jumps, x)
		case ir.Label:
			labels = append(labels, id)
		}
	}

	require.Len(t, jumps, 3)
	require.Len(t, labels, 2)

	// skip label goes right after the rewritten comparison
	assert.Equal(t, ir.Jump{Op: ir.IF_ICMPNE, Target: labels[0]}, jumps[0])
	assert.Equal(t, ir.Jump{Op: ir.IF_ICMPNE, Target: labels[0]}, jumps[1])
	assert.Equal(t, ir.Jump{Op: ir.IF_ICMPEQ, Target: labels[1]}, jumps[2])

	assert.Equal(t, plain(ir.ICONST_0), m.Code.Get(m.Code.Next(labels[0])))
}

func TestSentinelStore(t *testing.T) {
	m, _, err := transform(t, `
class a/Light
method static reset (L`+level+`;)I
	ldc 9223372036854775807L
	lstore 1
	aload 0
	lload 1
	invokevirtual `+level+`#getLevel (J)I
	ireturn
end
`)
	require.NoError(t, err)

	narrow := ir.Ldc{Value: int32(1<<31 - 1)}

	assert.Equal(t, []ir.Insn{
		narrow, istore(1), narrow, istore(2), narrow, istore(3),
		aload(0), iload(1), iload(2), iload(3),
		virt(level, "getLevel", "(III)I"),
		plain(ir.IRETURN),
	}, insns(m.Code))
}

func TestSentinelArgument(t *testing.T) {
	m, _, err := transform(t, `
class a/Light
method static unknown (L`+level+`;)I
	aload 0
	ldc 9223372036854775807L
	invokevirtual `+level+`#getLevel (J)I
	ireturn
end
`)
	require.NoError(t, err)

	narrow := ir.Ldc{Value: int32(1<<31 - 1)}

	assert.Equal(t, []ir.Insn{
		aload(0), narrow, narrow, narrow,
		virt(level, "getLevel", "(III)I"),
		plain(ir.IRETURN),
	}, insns(m.Code))
}

func TestPackProducer(t *testing.T) {
	m, _, err := transform(t, `
class a/Light
method static at (L`+level+`;III)I
	aload 0
	iload 1
	iload 2
	iload 3
	invokestatic `+pos+`#asLong (III)J
	invokevirtual `+level+`#getLevel (J)I
	ireturn
end
`)
	require.NoError(t, err)

	assert.Equal(t, []ir.Insn{
		aload(0), iload(1), iload(2), iload(3),
		virt(level, "getLevel", "(III)I"),
		plain(ir.IRETURN),
	}, insns(m.Code))
}

func TestAccessorsArgument(t *testing.T) {
	m, _, err := transform(t, `
class a/Light
method static at (L`+level+`;L`+pos+`;)I
	aload 0
	aload 1
	invokevirtual `+pos+`#asLong ()J
	invokevirtual `+level+`#getLevel (J)I
	ireturn
end
`)
	require.NoError(t, err)

	assert.Equal(t, []ir.Insn{
		aload(0), aload(1),
		plain(ir.DUP), virt(pos, "getX", "()I"), plain(ir.SWAP),
		plain(ir.DUP), virt(pos, "getY", "()I"), plain(ir.SWAP),
		virt(pos, "getZ", "()I"),
		virt(level, "getLevel", "(III)I"),
		plain(ir.IRETURN),
	}, insns(m.Code))
}

func TestRenameAndUnknownCall(t *testing.T) {
	m, _, err := transform(t, `
class a/Light
method static update (L`+level+`;JJ)V
	aload 0
	lload 1
	lload 3
	bipush 15
	iconst_1
	invokevirtual `+level+`#updateLevel (JJIZ)V
	lload 1
	invokestatic a/Other#use (J)V
	return
end
`)
	require.NoError(t, err)

	xs := insns(m.Code)

	assert.Contains(t, xs, virt(level, "updateLevelInts", "(IIIIIIIZ)V"))
	assert.Contains(t, xs, ir.Insn(ir.Call{Op: ir.INVOKESTATIC, Owner: "a/Other", Name: "use", Desc: "(III)V"}))
}

func TestUnpack(t *testing.T) {
	m, e, err := transform(t, `
class a/Light
method static y (L`+level+`;J)I
	aload 0
	lload 1
	invokevirtual `+level+`#getLevel (J)I
	lload 1
	invokestatic `+pos+`#unpackLongY (J)I
	iadd
	ireturn
end
`)
	require.NoError(t, err)

	assert.Equal(t, []ir.Insn{
		aload(0), iload(1), iload(2), iload(3),
		virt(level, "getLevel", "(III)I"),
		iload(2),
		plain(ir.IADD),
		plain(ir.IRETURN),
	}, insns(m.Code))

	assert.Equal(t, 1, e.Stats["unpack"])
}

func TestUnsupported(t *testing.T) {
	for _, tc := range []struct {
		name string
		code string
	}{
		{"offset_not_stored", `
	aload 0
	lload 1
	aload 3
	invokestatic ` + pos + `#offset (JL` + dir + `;)J
	invokevirtual ` + level + `#getLevel (J)I
	ireturn`},
		{"ordering", `
	aload 0
	lload 1
	invokevirtual ` + level + `#getLevel (J)I
	pop
	lload 1
	ldc 9223372036854775807L
	lcmp
	iflt L
	iconst_0
	ireturn
L:
	iconst_1
	ireturn`},
		{"arithmetic_argument", `
	aload 0
	lload 1
	lconst_1
	ladd
	invokevirtual ` + level + `#getLevel (J)I
	ireturn`},
		{"shared_producer", `
	aload 0
	lload 1
	dup2
	lstore 5
	invokevirtual ` + level + `#getLevel (J)I
	ireturn`},
	} {
		t.Run(tc.name, func(t *testing.T) {
			_, _, err := transform(t, `
class a/Light
method static f (L`+level+`;JL`+dir+`;)I
`+tc.code+`
end
`)
			require.Error(t, err)

			var ce *ir.ConsistencyError
			assert.True(t, errors.As(err, &ce), "%v", err)
		})
	}
}
