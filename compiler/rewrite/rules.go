package rewrite

import (
	"github.com/slowlang/unpack/compiler/catalog"
	"github.com/slowlang/unpack/compiler/ir"
)

// Rules returns pattern rules in priority order.
func Rules() []Rule {
	return []Rule{
		&Replace{
			RuleName: "unpack",
			Len:      2,
			Match: func(e *Env, win []ir.Insn) bool {
				c, ok := win[1].(ir.Call)

				return e.packedLoad(win[0]) && ok && e.Cat.UnpackAxis(key(c)) >= 0
			},
			Gen: func(e *Env, win []ir.Insn, _ ir.ID) ([]ir.Insn, error) {
				s := win[0].(ir.Var).Slot
				axis := e.Cat.UnpackAxis(key(win[1].(ir.Call)))

				return []ir.Insn{ir.Var{Op: ir.ILOAD, Slot: s + axis}}, nil
			},
		},
		&PackedUse{
			RuleName: "offset",
			Len:      3,
			Strict:   true,
			Match: func(e *Env, win []ir.Insn) bool {
				c, ok := win[2].(ir.Call)

				return e.packedLoad(win[0]) && refPush(win[1]) && ok &&
					!e.Cat.Offset.Method.IsZero() && key(c) == e.Cat.Offset.Method
			},
			Axis: func(e *Env, win []ir.Insn, axis int) []ir.Insn {
				return []ir.Insn{
					e.narrow(win[0], axis),
					win[1],
					accessor(e.Cat.Offset.Axes[axis]),
					ir.Plain{Op: ir.IADD},
				}
			},
		},
		&Replace{
			RuleName: "compare",
			Len:      4,
			Match: func(e *Env, win []ir.Insn) bool {
				c, ok := win[2].(ir.Plain)

				return ok && c.Op == ir.LCMP && e.operand(win[0]) && e.operand(win[1]) &&
					(e.packedLoad(win[0]) || e.packedLoad(win[1]))
			},
			Gen: compare,
		},
		&PackedUse{
			RuleName: "sentinel",
			Len:      1,
			Match: func(e *Env, win []ir.Insn) bool {
				return e.sentinel(win[0])
			},
			Axis: func(e *Env, win []ir.Insn, axis int) []ir.Insn {
				return []ir.Insn{e.narrow(win[0], axis)}
			},
		},
		&PackedUse{
			RuleName: "accessors",
			Len:      2,
			Match: func(e *Env, win []ir.Insn) bool {
				x, ok := win[0].(ir.Var)
				if !ok || x.Op != ir.ALOAD {
					return false
				}

				c, ok := win[1].(ir.Call)
				if !ok {
					return false
				}

				ent := e.Cat.Lookup(key(c))

				return ent != nil && !ent.Axes[0].IsZero()
			},
			Axis: func(e *Env, win []ir.Insn, axis int) []ir.Insn {
				ent := e.Cat.Lookup(key(win[1].(ir.Call)))

				return []ir.Insn{win[0], accessor(ent.Axes[axis])}
			},
		},
		&PackedUse{
			RuleName: "pack",
			Len:      4,
			Match: func(e *Env, win []ir.Insn) bool {
				c, ok := win[3].(ir.Call)
				if !ok || c.Op != ir.INVOKESTATIC {
					return false
				}

				ent := e.Cat.Lookup(key(c))

				return ent != nil && ent.Pack && intPush(win[0]) && intPush(win[1]) && intPush(win[2])
			},
			Axis: func(e *Env, win []ir.Insn, axis int) []ir.Insn {
				return []ir.Insn{win[axis]}
			},
		},
		&PackedUse{
			RuleName: "copy",
			Len:      1,
			Match: func(e *Env, win []ir.Insn) bool {
				return e.packedLoad(win[0])
			},
			Axis: func(e *Env, win []ir.Insn, axis int) []ir.Insn {
				return []ir.Insn{e.narrow(win[0], axis)}
			},
		},
	}
}

// compare splits an equality test of packed values into per axis int tests.
func compare(e *Env, win []ir.Insn, last ir.ID) ([]ir.Insn, error) {
	j, ok := win[3].(ir.Jump)
	if !ok || j.Op != ir.IFEQ && j.Op != ir.IFNE {
		return nil, ir.Inconsistent(last, "packed values compared by %v: only equality tests supported", win[3].Opcode())
	}

	var out []ir.Insn

	if j.Op == ir.IFNE {
		for axis := 0; axis < 3; axis++ {
			out = append(out,
				e.narrow(win[0], axis),
				e.narrow(win[1], axis),
				ir.Jump{Op: ir.IF_ICMPNE, Target: j.Target},
			)
		}

		return out, nil
	}

	skip := e.Code.InsertAfter(last, ir.Label{})[0]

	for axis := 0; axis < 2; axis++ {
		out = append(out,
			e.narrow(win[0], axis),
			e.narrow(win[1], axis),
			ir.Jump{Op: ir.IF_ICMPNE, Target: skip},
		)
	}

	out = append(out,
		e.narrow(win[0], 2),
		e.narrow(win[1], 2),
		ir.Jump{Op: ir.IF_ICMPEQ, Target: j.Target},
	)

	return out, nil
}

func (e *Env) packedLoad(x ir.Insn) bool {
	v, ok := x.(ir.Var)

	return ok && v.Op == ir.LLOAD && e.Map.ExpandedNew(v.Slot)
}

func (e *Env) sentinel(x ir.Insn) bool {
	c, ok := x.(ir.Ldc)
	if !ok {
		return false
	}

	v, ok := c.Value.(int64)

	return ok && v == e.Cat.Sentinel.Packed
}

func (e *Env) operand(x ir.Insn) bool {
	return e.packedLoad(x) || e.sentinel(x)
}

// narrow returns the axis part of a packed load or the sentinel.
func (e *Env) narrow(x ir.Insn, axis int) ir.Insn {
	if v, ok := x.(ir.Var); ok {
		return ir.Var{Op: ir.ILOAD, Slot: v.Slot + axis}
	}

	return ir.Ldc{Value: e.Cat.Sentinel.Narrow}
}

func refPush(x ir.Insn) bool {
	switch x := x.(type) {
	case ir.Var:
		return x.Op == ir.ALOAD
	case ir.Field:
		return x.Op == ir.GETSTATIC && x.Desc != "" && (x.Desc[0] == 'L' || x.Desc[0] == '[')
	case ir.Plain:
		return x.Op == ir.ACONST_NULL
	}

	return false
}

func intPush(x ir.Insn) bool {
	switch x := x.(type) {
	case ir.Var:
		return x.Op == ir.ILOAD
	case ir.Push:
		return x.Op == ir.BIPUSH || x.Op == ir.SIPUSH
	case ir.Plain:
		return x.Op >= ir.ICONST_M1 && x.Op <= ir.ICONST_5
	case ir.Ldc:
		_, ok := x.Value.(int32)
		return ok
	}

	return false
}

func key(c ir.Call) catalog.Key {
	return catalog.Key{Owner: c.Owner, Name: c.Name, Desc: c.Desc}
}

func accessor(k catalog.Key) ir.Insn {
	return ir.Call{Op: ir.INVOKEVIRTUAL, Owner: k.Owner, Name: k.Name, Desc: k.Desc}
}
