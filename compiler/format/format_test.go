package format

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/unpack/compiler/asm"
	"github.com/slowlang/unpack/compiler/ir"
)

func TestFormat(t *testing.T) {
	c := asm.MustParse(`
class a/B
method static f (J)Z
	lload 0
	lconst_0
	lcmp
	ifne Other
	iconst_1
	ireturn
Other:
	iconst_0
	ireturn
end
`)

	b, err := Format(context.Background(), nil, c)
	require.NoError(t, err)

	assert.Equal(t, `class a/B

method static f (J)Z
	lload 0
	lconst_0
	lcmp
	ifne L0
	iconst_1
	ireturn
L0:
	iconst_0
	ireturn
end
`, string(b))
}

func TestFormatParseRoundTrip(t *testing.T) {
	ctx := context.Background()

	c := asm.MustParse(`
class a/Light a/Base
method public static f (JLjava/lang/String;)I
	maxs 6 5
	local pos J 0 Start End
	local s Ljava/lang/String; 2 Start End Ljava/lang/String;
	catch any Start End Handler
Start:
	ldc -7
	ldc 2.5D
	pop2
	pop
	ldc "q\"uote"
	pop
	ldc class [I
	pop
	iconst_5
	newarray int
	arraylength
	lookupswitch End 1:Start 5:End
End:
	getstatic a/Light#X I
	aload 1
	invokevirtual java/lang/String#length ()I
	iadd
	ireturn
Handler:
	athrow
end
`)

	first, err := Format(ctx, nil, c)
	require.NoError(t, err)

	c2, err := asm.Parse(ctx, first)
	require.NoError(t, err, "%s", first)

	second, err := Format(ctx, nil, c2)
	require.NoError(t, err)

	assert.Equal(t, string(first), string(second))
}

func TestFormatInsn(t *testing.T) {
	for _, tc := range []struct {
		x    ir.Insn
		want string
	}{
		{ir.Var{Op: ir.LSTORE, Slot: 4}, "lstore 4"},
		{ir.Iinc{Slot: 1, Delta: -2}, "iinc 1 -2"},
		{ir.Ldc{Value: int64(-1)}, "ldc -1L"},
		{ir.Ldc{Value: float32(1.5)}, "ldc 1.5F"},
		{ir.Call{Op: ir.INVOKESTATIC, Owner: "a/B", Name: "f", Desc: "(J)J"}, "invokestatic a/B#f (J)J"},
		{ir.Field{Op: ir.GETFIELD, Owner: "a/B", Name: "x", Desc: "I"}, "getfield a/B#x I"},
		{ir.TypeInsn{Op: ir.CHECKCAST, Type: "a/B"}, "checkcast a/B"},
	} {
		b, err := Format(context.Background(), nil, tc.x)
		require.NoError(t, err)

		assert.Equal(t, tc.want, string(b))
	}
}

func TestMethodBrokenTarget(t *testing.T) {
	m := &ir.Method{Name: "f", Desc: "()V", Code: ir.NewList()}

	m.Code.Append(ir.Jump{Op: ir.GOTO, Target: 100})

	assert.Contains(t, Method(m), "reference to non-label")
}
