package analyze

import (
	"github.com/slowlang/unpack/compiler/df"
	"github.com/slowlang/unpack/compiler/ir"
	"github.com/slowlang/unpack/compiler/set"
	"github.com/slowlang/unpack/compiler/tp"
)

type (
	sig struct {
		in  []tp.Type // bottom first
		out tp.Type
	}

	state struct {
		id ir.ID
		f  *df.Frame

		used []*df.Value
	}
)

var plain = map[ir.Op]sig{}

func init() {
	I, J, F, D := tp.Type(tp.Int), tp.Type(tp.Long), tp.Type(tp.Float), tp.Type(tp.Double)

	for i, t := range []tp.Type{I, J, F, D} {
		for _, op := range []ir.Op{ir.IADD, ir.ISUB, ir.IMUL, ir.IDIV, ir.IREM} {
			plain[op+ir.Op(i)] = sig{in: []tp.Type{t, t}, out: t}
		}

		plain[ir.INEG+ir.Op(i)] = sig{in: []tp.Type{t}, out: t}
	}

	for _, op := range []ir.Op{ir.ISHL, ir.ISHR, ir.IUSHR, ir.IAND, ir.IOR, ir.IXOR} {
		plain[op] = sig{in: []tp.Type{I, I}, out: I}
	}

	for _, op := range []ir.Op{ir.LSHL, ir.LSHR, ir.LUSHR} {
		plain[op] = sig{in: []tp.Type{J, I}, out: J}
	}

	for _, op := range []ir.Op{ir.LAND, ir.LOR, ir.LXOR} {
		plain[op] = sig{in: []tp.Type{J, J}, out: J}
	}

	conv := []struct {
		op       ir.Op
		from, to tp.Type
	}{
		{ir.I2L, I, J}, {ir.I2F, I, F}, {ir.I2D, I, D},
		{ir.L2I, J, I}, {ir.L2F, J, F}, {ir.L2D, J, D},
		{ir.F2I, F, I}, {ir.F2L, F, J}, {ir.F2D, F, D},
		{ir.D2I, D, I}, {ir.D2L, D, J}, {ir.D2F, D, F},
		{ir.I2B, I, tp.Byte}, {ir.I2C, I, tp.Char}, {ir.I2S, I, tp.Short},
	}

	for _, c := range conv {
		plain[c.op] = sig{in: []tp.Type{c.from}, out: c.to}
	}

	plain[ir.LCMP] = sig{in: []tp.Type{J, J}, out: I}
	plain[ir.FCMPL] = sig{in: []tp.Type{F, F}, out: I}
	plain[ir.FCMPG] = sig{in: []tp.Type{F, F}, out: I}
	plain[ir.DCMPL] = sig{in: []tp.Type{D, D}, out: I}
	plain[ir.DCMPG] = sig{in: []tp.Type{D, D}, out: I}

	plain[ir.ARRAYLENGTH] = sig{in: []tp.Type{tp.Obj}, out: I}
	plain[ir.ATHROW] = sig{in: []tp.Type{tp.Throwable}}
	plain[ir.MONITORENTER] = sig{in: []tp.Type{tp.Obj}}
	plain[ir.MONITOREXIT] = sig{in: []tp.Type{tp.Obj}}

	plain[ir.IRETURN] = sig{in: []tp.Type{I}}
	plain[ir.LRETURN] = sig{in: []tp.Type{J}}
	plain[ir.FRETURN] = sig{in: []tp.Type{F}}
	plain[ir.DRETURN] = sig{in: []tp.Type{D}}
	plain[ir.ARETURN] = sig{in: []tp.Type{tp.Obj}}
	plain[ir.RETURN] = sig{}
	plain[ir.NOP] = sig{}

	consts := []struct {
		ops []ir.Op
		t   tp.Type
	}{
		{[]ir.Op{ir.ACONST_NULL}, tp.Null},
		{[]ir.Op{ir.ICONST_M1, ir.ICONST_0, ir.ICONST_1, ir.ICONST_2, ir.ICONST_3, ir.ICONST_4, ir.ICONST_5}, I},
		{[]ir.Op{ir.LCONST_0, ir.LCONST_1}, J},
		{[]ir.Op{ir.FCONST_0, ir.FCONST_1, ir.FCONST_2}, F},
		{[]ir.Op{ir.DCONST_0, ir.DCONST_1}, D},
	}

	for _, c := range consts {
		for _, op := range c.ops {
			plain[op] = sig{out: c.t}
		}
	}

	elems := []struct {
		load, store ir.Op
		t           tp.Type
	}{
		{ir.IALOAD, ir.IASTORE, I},
		{ir.LALOAD, ir.LASTORE, J},
		{ir.FALOAD, ir.FASTORE, F},
		{ir.DALOAD, ir.DASTORE, D},
		{ir.AALOAD, ir.AASTORE, tp.Obj},
		{ir.BALOAD, ir.BASTORE, I},
		{ir.CALOAD, ir.CASTORE, I},
		{ir.SALOAD, ir.SASTORE, I},
	}

	for _, e := range elems {
		plain[e.load] = sig{in: []tp.Type{tp.Obj, I}, out: e.t}
		plain[e.store] = sig{in: []tp.Type{tp.Obj, I, e.t}}
	}
}

// exec applies the instruction to a copy of the frame.
// It returns the resulting frame and the values the instruction consumed.
func exec(id ir.ID, x ir.Insn, in *df.Frame) (out *df.Frame, used []*df.Value, err error) {
	s := &state{id: id, f: in.Clone()}

	err = s.exec(x)
	if err != nil {
		return nil, nil, err
	}

	return s.f, s.used, nil
}

func (s *state) exec(x ir.Insn) error {
	switch x := x.(type) {
	case ir.Label:
		return nil
	case ir.Plain:
		return s.plain(x.Op)
	case ir.Push:
		if x.Op == ir.NEWARRAY {
			if _, err := s.pop(tp.Int); err != nil {
				return err
			}

			e, ok := newarrayElem(x.Value)
			if !ok {
				return ir.Malformed(s.id, "bad newarray type %d", x.Value)
			}

			s.push(tp.Array{Elem: e})

			return nil
		}

		s.push(tp.Int)

		return nil
	case ir.Ldc:
		t, ok := ir.ConstType(x.Value)
		if !ok {
			return ir.Malformed(s.id, "bad constant %T", x.Value)
		}

		s.push(t)

		return nil
	case ir.Var:
		return s.local(x)
	case ir.Iinc:
		v := s.f.Local(x.Slot)
		if v == nil || !tp.IsInt(v.Type) {
			return ir.Malformed(s.id, "iinc of non-int slot %d", x.Slot)
		}

		s.used = append(s.used, v)
		s.f.Locals[x.Slot] = df.New(tp.Int, set.Of(s.id), set.Of(x.Slot))

		return nil
	case ir.Jump:
		switch x.Op {
		case ir.GOTO:
			return nil
		case ir.JSR:
			return ir.Malformed(s.id, "subroutines are not supported")
		case ir.IF_ICMPEQ, ir.IF_ICMPNE, ir.IF_ICMPLT, ir.IF_ICMPGE, ir.IF_ICMPGT, ir.IF_ICMPLE:
			return s.consume(tp.Int, tp.Int)
		case ir.IF_ACMPEQ, ir.IF_ACMPNE:
			return s.consume(tp.Obj, tp.Obj)
		case ir.IFNULL, ir.IFNONNULL:
			return s.consume(tp.Obj)
		case ir.IFEQ, ir.IFNE, ir.IFLT, ir.IFGE, ir.IFGT, ir.IFLE:
			return s.consume(tp.Int)
		}
	case ir.Switch:
		return s.consume(tp.Int)
	case ir.Field:
		t, err := tp.Parse(x.Desc)
		if err != nil {
			return ir.Malformed(s.id, "field %v: %v", x.Key(), err)
		}

		switch x.Op {
		case ir.GETSTATIC:
			s.push(t)
			return nil
		case ir.PUTSTATIC:
			return s.consume(t)
		case ir.GETFIELD:
			if err := s.consume(tp.Obj); err != nil {
				return err
			}

			s.push(t)

			return nil
		case ir.PUTFIELD:
			return s.consume(tp.Obj, t)
		}
	case ir.Call:
		f, err := tp.ParseFunc(x.Desc)
		if err != nil {
			return ir.Malformed(s.id, "call %v: %v", x.Key(), err)
		}

		in := f.In
		if x.Op != ir.INVOKESTATIC && x.Op != ir.INVOKEDYNAMIC {
			in = append([]tp.Type{tp.Obj}, in...)
		}

		if err := s.consume(in...); err != nil {
			return err
		}

		if f.Out != tp.Void {
			s.push(f.Out)
		}

		return nil
	case ir.TypeInsn:
		switch x.Op {
		case ir.NEW:
			s.push(tp.Object(x.Type))
			return nil
		case ir.ANEWARRAY:
			if err := s.consume(tp.Int); err != nil {
				return err
			}

			s.push(tp.Array{Elem: tp.Ref(x.Type)})

			return nil
		case ir.CHECKCAST:
			if err := s.consume(tp.Obj); err != nil {
				return err
			}

			s.push(tp.Ref(x.Type))

			return nil
		case ir.INSTANCEOF:
			if err := s.consume(tp.Obj); err != nil {
				return err
			}

			s.push(tp.Int)

			return nil
		}
	case ir.MultiArray:
		t, err := tp.Parse(x.Desc)
		if err != nil {
			return ir.Malformed(s.id, "multianewarray: %v", err)
		}

		in := make([]tp.Type, x.Dims)
		for i := range in {
			in[i] = tp.Int
		}

		if err := s.consume(in...); err != nil {
			return err
		}

		s.push(t)

		return nil
	}

	return ir.Malformed(s.id, "unsupported instruction %v (%T)", x.Opcode(), x)
}

func (s *state) plain(op ir.Op) error {
	switch op {
	case ir.POP:
		_, err := s.popWords(1)
		return err
	case ir.POP2:
		_, err := s.popWords(2)
		return err
	case ir.DUP, ir.DUP_X1, ir.DUP_X2, ir.DUP2, ir.DUP2_X1, ir.DUP2_X2, ir.SWAP:
		return s.shuffle(op)
	}

	g, ok := plain[op]
	if !ok {
		return ir.Malformed(s.id, "unsupported instruction %v", op)
	}

	if err := s.consume(g.in...); err != nil {
		return err
	}

	if g.out != nil {
		s.push(g.out)
	}

	return nil
}

func (s *state) local(x ir.Var) error {
	t := ir.VarType(x.Op)

	switch {
	case ir.IsLoad(x.Op):
		v := s.f.Local(x.Slot)
		if v == nil {
			return ir.Malformed(s.id, "%v of unset slot %d", x.Op, x.Slot)
		}

		if v.Size() != t.Size() && v.Type != tp.Top {
			return ir.Malformed(s.id, "%v of slot %d holding %v", x.Op, x.Slot, v.Type.Desc())
		}

		if x.Op == ir.ALOAD || x.Op == ir.ILOAD {
			t = v.Type
		}

		s.f.Stack = append(s.f.Stack, df.New(t, set.Of(s.id), set.Of(x.Slot)))

		return nil
	case ir.IsStore(x.Op):
		v, err := s.pop(t)
		if err != nil {
			return err
		}

		s.used = append(s.used, v)

		s.setLocal(x.Slot, df.New(v.Type, v.Prod, set.Of(x.Slot)))

		return nil
	}

	return ir.Malformed(s.id, "unsupported instruction %v", x.Op)
}

func (s *state) setLocal(slot int, v *df.Value) {
	w := v.Size()

	for len(s.f.Locals) < slot+w {
		s.f.Locals = append(s.f.Locals, nil)
	}

	if p := s.f.Local(slot - 1); p != nil && p.Size() == 2 {
		s.f.Locals[slot-1] = nil
	}

	s.f.Locals[slot] = v

	if w == 2 {
		s.f.Locals[slot+1] = nil
	}
}

// shuffle implements dup and swap instructions. They move values without consuming them.
func (s *state) shuffle(op ir.Op) error {
	v1, err := s.popAny()
	if err != nil {
		return err
	}

	wide := func(v *df.Value) bool { return v.Size() == 2 }

	pushes := func(vs ...*df.Value) {
		s.f.Stack = append(s.f.Stack, vs...)
	}

	switch op {
	case ir.DUP:
		if wide(v1) {
			break
		}

		pushes(v1, v1)

		return nil
	case ir.SWAP, ir.DUP_X1:
		v2, err := s.popAny()
		if err != nil {
			return err
		}

		if wide(v1) || wide(v2) {
			break
		}

		if op == ir.SWAP {
			pushes(v1, v2)
		} else {
			pushes(v1, v2, v1)
		}

		return nil
	case ir.DUP_X2:
		if wide(v1) {
			break
		}

		v2, err := s.popAny()
		if err != nil {
			return err
		}

		if wide(v2) {
			pushes(v1, v2, v1)
			return nil
		}

		v3, err := s.popAny()
		if err != nil || wide(v3) {
			break
		}

		pushes(v1, v3, v2, v1)

		return nil
	case ir.DUP2:
		if wide(v1) {
			pushes(v1, v1)
			return nil
		}

		v2, err := s.popAny()
		if err != nil || wide(v2) {
			break
		}

		pushes(v2, v1, v2, v1)

		return nil
	case ir.DUP2_X1:
		if wide(v1) {
			v2, err := s.popAny()
			if err != nil || wide(v2) {
				break
			}

			pushes(v1, v2, v1)

			return nil
		}

		v2, err := s.popAny()
		if err != nil || wide(v2) {
			break
		}

		v3, err := s.popAny()
		if err != nil || wide(v3) {
			break
		}

		pushes(v2, v1, v3, v2, v1)

		return nil
	case ir.DUP2_X2:
		if wide(v1) {
			v2, err := s.popAny()
			if err != nil {
				break
			}

			if wide(v2) {
				pushes(v1, v2, v1)
				return nil
			}

			v3, err := s.popAny()
			if err != nil || wide(v3) {
				break
			}

			pushes(v1, v3, v2, v1)

			return nil
		}

		v2, err := s.popAny()
		if err != nil || wide(v2) {
			break
		}

		v3, err := s.popAny()
		if err != nil {
			break
		}

		if wide(v3) {
			pushes(v2, v1, v3, v2, v1)
			return nil
		}

		v4, err := s.popAny()
		if err != nil || wide(v4) {
			break
		}

		pushes(v2, v1, v4, v3, v2, v1)

		return nil
	}

	return ir.Malformed(s.id, "%v: bad operand stack", op)
}

// consume pops values of the given types, last type on top, and marks them used.
func (s *state) consume(ts ...tp.Type) error {
	vs := make([]*df.Value, len(ts))

	for i := len(ts) - 1; i >= 0; i-- {
		v, err := s.pop(ts[i])
		if err != nil {
			return err
		}

		vs[i] = v
	}

	s.used = append(s.used, vs...)

	return nil
}

func (s *state) pop(t tp.Type) (*df.Value, error) {
	v, err := s.popAny()
	if err != nil {
		return nil, err
	}

	if v.Size() != t.Size() {
		return nil, ir.Malformed(s.id, "expected %v on stack, got %v", t.Desc(), v.Type.Desc())
	}

	return v, nil
}

func (s *state) popAny() (*df.Value, error) {
	l := len(s.f.Stack)
	if l == 0 {
		return nil, ir.Malformed(s.id, "stack underflow")
	}

	v := s.f.Stack[l-1]
	s.f.Stack = s.f.Stack[:l-1]

	return v, nil
}

// popWords pops n slot words of values and marks them used.
func (s *state) popWords(n int) ([]*df.Value, error) {
	var vs []*df.Value

	for n > 0 {
		v, err := s.popAny()
		if err != nil {
			return nil, err
		}

		n -= v.Size()
		vs = append(vs, v)
	}

	if n < 0 {
		return nil, ir.Malformed(s.id, "pop splits a wide value")
	}

	s.used = append(s.used, vs...)

	return vs, nil
}

func (s *state) push(t tp.Type) {
	s.f.Stack = append(s.f.Stack, df.Produced(t, s.id))
}

func newarrayElem(code int32) (tp.Type, bool) {
	switch code {
	case 4:
		return tp.Boolean, true
	case 5:
		return tp.Char, true
	case 6:
		return tp.Float, true
	case 7:
		return tp.Double, true
	case 8:
		return tp.Byte, true
	case 9:
		return tp.Short, true
	case 10:
		return tp.Int, true
	case 11:
		return tp.Long, true
	}

	return nil, false
}
