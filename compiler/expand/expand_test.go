package expand

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/slowlang/unpack/compiler/analyze"
	"github.com/slowlang/unpack/compiler/asm"
	"github.com/slowlang/unpack/compiler/catalog"
	"github.com/slowlang/unpack/compiler/ir"
	"github.com/slowlang/unpack/compiler/set"
)

const (
	pos   = "net/minecraft/util/math/BlockPos"
	dir   = "net/minecraft/util/math/Direction"
	level = "net/minecraft/world/chunk/light/LevelPropagator"
)

func analyzeSrc(t *testing.T, src string) (*catalog.Catalog, *analyze.Result) {
	t.Helper()

	cat, err := catalog.Default()
	require.NoError(t, err)

	c := asm.MustParse("class a/B\n" + src)

	r, err := analyze.Analyze(context.Background(), c.Name, c.Methods[0])
	require.NoError(t, err)

	return cat, r
}

func TestSeed(t *testing.T) {
	for _, tc := range []struct {
		name string
		src  string
		want []int
	}{
		{"argument", `
method static f (IJ)V
	lload 1
	invokestatic ` + pos + `#fromLong (J)L` + pos + `;
	pop
	return
end`, []int{1}},
		{"returned", `
method static f (JL` + dir + `;)V
	lload 0
	aload 2
	invokestatic ` + pos + `#offset (JL` + dir + `;)J
	lstore 3
	return
end`, []int{0, 3}},
		{"second_argument", `
method static f (L` + level + `;JJ)I
	aload 0
	lload 3
	lload 1
	iconst_0
	invokevirtual ` + level + `#getPropagatedLevel (JJI)I
	ireturn
end`, []int{1, 3}},
		{"unpack_only", `
method static f (J)I
	lload 0
	invokestatic ` + pos + `#unpackLongX (J)I
	ireturn
end`, nil},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cat, r := analyzeSrc(t, tc.src)

			exp, warns, err := Seed(cat, r)
			require.NoError(t, err)

			assert.Equal(t, tc.want, exp.Slice())
			assert.Empty(t, warns)
		})
	}
}

func TestCloseCompare(t *testing.T) {
	cat, r := analyzeSrc(t, `
method static f (JJL`+level+`;)Z
	aload 4
	lload 0
	invokevirtual `+level+`#getLevel (J)I
	pop
	lload 0
	lload 2
	lcmp
	ifne L
	iconst_1
	ireturn
L:
	iconst_0
	ireturn
end`)

	res, err := Solve(context.Background(), cat, r)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 2}, res.Slots.Slice())
	assert.Greater(t, res.Rounds, 1)
}

func TestCloseCopies(t *testing.T) {
	cat, r := analyzeSrc(t, `
method static f (JL`+level+`;)I
	lload 0
	lstore 3
	lload 3
	lstore 5
	aload 2
	lload 5
	invokevirtual `+level+`#getLevel (J)I
	ireturn
end`)

	res, err := Solve(context.Background(), cat, r)
	require.NoError(t, err)

	assert.Equal(t, []int{0, 3, 5}, res.Slots.Slice())

	again, _ := Close(r, res.Slots)
	assert.True(t, again.Equal(res.Slots), "closure is a fixed point")
}

func TestCheck(t *testing.T) {
	for _, tc := range []struct {
		name string
		code string
	}{
		{"int_store", "iconst_0\n\tistore 0"},
		{"second_half", "iconst_0\n\tistore 1"},
		{"wide_store", "lconst_0\n\tlstore 1"},
	} {
		t.Run(tc.name, func(t *testing.T) {
			cat, r := analyzeSrc(t, `
method static f (JL`+level+`;)V
	aload 2
	lload 0
	invokevirtual `+level+`#getLevel (J)I
	pop
	`+tc.code+`
	return
end`)

			_, err := Solve(context.Background(), cat, r)

			var ce *ir.ConsistencyError
			require.ErrorAs(t, err, &ce)
		})
	}
}

func TestCheckWideOverlapBelow(t *testing.T) {
	_, r := analyzeSrc(t, `
method static f (IJ)V
	lconst_0
	lstore 0
	return
end`)

	err := Check(r, set.Of(1))

	var ce *ir.ConsistencyError
	require.ErrorAs(t, err, &ce)
}

func TestWarnings(t *testing.T) {
	cat, r := analyzeSrc(t, `
method static f (J)V
	lload 0
	invokestatic a/Other#use (J)V
	lload 0
	invokestatic `+pos+`#unpackLongY (J)I
	pop
	ldc "x"
	invokestatic a/Other#str (Ljava/lang/Jar;)V
	return
end`)

	exp, warns, err := Seed(cat, r)
	require.NoError(t, err)

	assert.True(t, exp.Empty())
	require.Len(t, warns, 1)
	assert.Contains(t, warns[0], "a/Other#use")
}

func TestUnknown(t *testing.T) {
	cat, r := analyzeSrc(t, `
method static f (J)V
	lload 0
	invokestatic a/Other#use (J)V
	ldc "x"
	invokestatic a/Other#str (Ljava/lang/Jar;)V
	return
end`)

	ks := Unknown(cat, r)
	require.Len(t, ks, 1)
	assert.Equal(t, "a/Other#str (Ljava/lang/Jar;)V", ks[0].String())

	res, err := Solve(context.Background(), cat, r)
	require.NoError(t, err)

	assert.Equal(t, ks, res.Unknown)
	assert.Len(t, res.Warnings, 1)
}

func TestPacked(t *testing.T) {
	_, r := analyzeSrc(t, `
method static f (JJ)V
	lload 2
	lload 0
	pop2
	pop2
	return
end`)

	ids := r.IDs

	assert.True(t, Packed(r.Value(ids[0]), set.Of(2)))
	assert.False(t, Packed(r.Value(ids[1]), set.Of(2)))
	assert.False(t, Packed(nil, set.Of(2)))
}

func TestMentionsLong(t *testing.T) {
	for desc, want := range map[string]bool{
		"(IJ)V":                 true,
		"()J":                   true,
		"(Ljava/lang/Jar;)V":    false,
		"([J)V":                 true,
		"(La/J;I)La/JJ;":        false,
		"(Ljava/lang/String;)I": false,
	} {
		assert.Equal(t, want, mentionsLong(desc), desc)
	}
}
