package dump

import (
	"bytes"
	"fmt"
	"math"
	"strconv"

	"github.com/fxamacker/cbor/v2"
	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"

	"github.com/slowlang/unpack/compiler/ir"
	"github.com/slowlang/unpack/compiler/tp"
)

type (
	// Class is the wire form of ir.Class.
	Class struct {
		Name    string   `cbor:"name" yaml:"name"`
		Super   string   `cbor:"super,omitempty" yaml:"super,omitempty"`
		Methods []Method `cbor:"methods" yaml:"methods"`
	}

	Method struct {
		Name      string    `cbor:"name" yaml:"name"`
		Desc      string    `cbor:"desc" yaml:"desc"`
		Access    []string  `cbor:"access,omitempty" yaml:"access,omitempty,flow"`
		MaxStack  int       `cbor:"max_stack" yaml:"max_stack"`
		MaxLocals int       `cbor:"max_locals" yaml:"max_locals"`
		Code      []Insn    `cbor:"code" yaml:"code"`
		Locals    []Local   `cbor:"locals,omitempty" yaml:"locals,omitempty"`
		Handlers  []Handler `cbor:"handlers,omitempty" yaml:"handlers,omitempty"`
	}

	// Insn is a flattened instruction. Labels are numbered from 1
	// in the order they appear in the code.
	Insn struct {
		Op      string  `cbor:"op" yaml:"op"`
		Label   int     `cbor:"label,omitempty" yaml:"label,omitempty"`
		Slot    int     `cbor:"slot,omitempty" yaml:"slot,omitempty"`
		Int     int64   `cbor:"int,omitempty" yaml:"int,omitempty"`
		Const   *Const  `cbor:"const,omitempty" yaml:"const,omitempty"`
		Owner   string  `cbor:"owner,omitempty" yaml:"owner,omitempty"`
		Name    string  `cbor:"name,omitempty" yaml:"name,omitempty"`
		Desc    string  `cbor:"desc,omitempty" yaml:"desc,omitempty"`
		Itf     bool    `cbor:"itf,omitempty" yaml:"itf,omitempty"`
		Target  int     `cbor:"target,omitempty" yaml:"target,omitempty"`
		Targets []int   `cbor:"targets,omitempty" yaml:"targets,omitempty,flow"`
		Keys    []int32 `cbor:"keys,omitempty" yaml:"keys,omitempty,flow"`
	}

	// Const keeps the constant as text so no precision is lost in any format.
	Const struct {
		Kind  string `cbor:"kind" yaml:"kind"`
		Value string `cbor:"value" yaml:"value"`
	}

	Local struct {
		Name      string `cbor:"name" yaml:"name"`
		Desc      string `cbor:"desc" yaml:"desc"`
		Signature string `cbor:"signature,omitempty" yaml:"signature,omitempty"`
		Slot      int    `cbor:"slot" yaml:"slot"`
		Start     int    `cbor:"start" yaml:"start"`
		End       int    `cbor:"end" yaml:"end"`
	}

	Handler struct {
		Type    string `cbor:"type,omitempty" yaml:"type,omitempty"`
		Start   int    `cbor:"start" yaml:"start"`
		End     int    `cbor:"end" yaml:"end"`
		Handler int    `cbor:"handler" yaml:"handler"`
	}
)

var encMode cbor.EncMode

func init() {
	em, err := cbor.CanonicalEncOptions().EncMode()
	if err != nil {
		panic(fmt.Sprintf("dump: cbor enc mode: %v", err))
	}

	encMode = em
}

func EncodeCBOR(c *ir.Class) ([]byte, error) {
	w, err := FromClass(c)
	if err != nil {
		return nil, err
	}

	return encMode.Marshal(w)
}

func DecodeCBOR(data []byte) (*ir.Class, error) {
	var w Class

	err := cbor.Unmarshal(data, &w)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal cbor")
	}

	return w.Class()
}

func EncodeYAML(c *ir.Class) ([]byte, error) {
	w, err := FromClass(c)
	if err != nil {
		return nil, err
	}

	var b bytes.Buffer

	e := yaml.NewEncoder(&b)
	e.SetIndent(2)

	err = e.Encode(w)
	if err != nil {
		return nil, errors.Wrap(err, "marshal yaml")
	}

	err = e.Close()
	if err != nil {
		return nil, errors.Wrap(err, "marshal yaml")
	}

	return b.Bytes(), nil
}

func DecodeYAML(data []byte) (*ir.Class, error) {
	var w Class

	d := yaml.NewDecoder(bytes.NewReader(data))
	d.KnownFields(true)

	err := d.Decode(&w)
	if err != nil {
		return nil, errors.Wrap(err, "unmarshal yaml")
	}

	return w.Class()
}

func FromClass(c *ir.Class) (*Class, error) {
	w := &Class{Name: c.Name, Super: c.Super}

	for _, m := range c.Methods {
		wm, err := FromMethod(m)
		if err != nil {
			return nil, errors.Wrap(err, "method %v", m)
		}

		w.Methods = append(w.Methods, *wm)
	}

	return w, nil
}

func FromMethod(m *ir.Method) (*Method, error) {
	w := &Method{
		Name:      m.Name,
		Desc:      m.Desc,
		Access:    m.Access.Names(),
		MaxStack:  m.MaxStack,
		MaxLocals: m.MaxLocals,
	}

	labels := map[ir.ID]int{}

	for id := m.Code.First(); id != ir.Nil; id = m.Code.Next(id) {
		if _, ok := m.Code.Get(id).(ir.Label); ok {
			labels[id] = len(labels) + 1
		}
	}

	label := func(id ir.ID) (int, error) {
		n, ok := labels[id]
		if !ok {
			return 0, errors.New("reference to %d which is not a label", id)
		}

		return n, nil
	}

	for id := m.Code.First(); id != ir.Nil; id = m.Code.Next(id) {
		x, err := fromInsn(m.Code.Get(id), labels[id], label)
		if err != nil {
			return nil, errors.Wrap(err, "insn %d", id)
		}

		w.Code = append(w.Code, x)
	}

	var err error

	for _, l := range m.Locals {
		wl := Local{Name: l.Name, Desc: l.Desc, Signature: l.Signature, Slot: l.Slot}

		if wl.Start, err = label(l.Start); err != nil {
			return nil, errors.Wrap(err, "local %v", l.Name)
		}

		if wl.End, err = label(l.End); err != nil {
			return nil, errors.Wrap(err, "local %v", l.Name)
		}

		w.Locals = append(w.Locals, wl)
	}

	for i, h := range m.Handlers {
		wh := Handler{Type: h.Type}

		for _, p := range []struct {
			dst *int
			id  ir.ID
		}{{&wh.Start, h.Start}, {&wh.End, h.End}, {&wh.Handler, h.Handler}} {
			if *p.dst, err = label(p.id); err != nil {
				return nil, errors.Wrap(err, "handler %d", i)
			}
		}

		w.Handlers = append(w.Handlers, wh)
	}

	return w, nil
}

func fromInsn(x ir.Insn, num int, label func(ir.ID) (int, error)) (w Insn, err error) {
	w.Op = x.Opcode().String()

	switch x := x.(type) {
	case ir.Label:
		w.Label = num
	case ir.Plain:
	case ir.Push:
		w.Int = int64(x.Value)
	case ir.Ldc:
		w.Const, err = fromConst(x.Value)
	case ir.Var:
		w.Slot = x.Slot
	case ir.Iinc:
		w.Slot = x.Slot
		w.Int = int64(x.Delta)
	case ir.Jump:
		w.Target, err = label(x.Target)
	case ir.Switch:
		w.Keys = x.Keys

		if w.Target, err = label(x.Default); err != nil {
			return w, err
		}

		for _, t := range x.Targets {
			n, err := label(t)
			if err != nil {
				return w, err
			}

			w.Targets = append(w.Targets, n)
		}
	case ir.Field:
		w.Owner, w.Name, w.Desc = x.Owner, x.Name, x.Desc
	case ir.Call:
		w.Owner, w.Name, w.Desc, w.Itf = x.Owner, x.Name, x.Desc, x.Itf
	case ir.TypeInsn:
		w.Desc = x.Type
	case ir.MultiArray:
		w.Desc = x.Desc
		w.Int = int64(x.Dims)
	default:
		return w, errors.New("unsupported instruction %T", x)
	}

	return w, err
}

func fromConst(v any) (*Const, error) {
	switch v := v.(type) {
	case int32:
		return &Const{Kind: "int", Value: strconv.FormatInt(int64(v), 10)}, nil
	case int64:
		return &Const{Kind: "long", Value: strconv.FormatInt(v, 10)}, nil
	case float32:
		return &Const{Kind: "float", Value: strconv.FormatUint(uint64(math.Float32bits(v)), 16)}, nil
	case float64:
		return &Const{Kind: "double", Value: strconv.FormatUint(math.Float64bits(v), 16)}, nil
	case string:
		return &Const{Kind: "string", Value: v}, nil
	case tp.Object:
		return &Const{Kind: "class", Value: string(v)}, nil
	case tp.Array:
		return &Const{Kind: "class", Value: v.Desc()}, nil
	}

	return nil, errors.New("unsupported constant %T", v)
}

func (w *Class) Class() (*ir.Class, error) {
	c := &ir.Class{Name: w.Name, Super: w.Super}

	for i := range w.Methods {
		m, err := w.Methods[i].Method()
		if err != nil {
			return nil, errors.Wrap(err, "method %v%v", w.Methods[i].Name, w.Methods[i].Desc)
		}

		c.Methods = append(c.Methods, m)
	}

	return c, nil
}

func (w *Method) Method() (*ir.Method, error) {
	m := &ir.Method{
		Name:      w.Name,
		Desc:      w.Desc,
		MaxStack:  w.MaxStack,
		MaxLocals: w.MaxLocals,
		Code:      ir.NewList(),
	}

	if _, err := tp.ParseFunc(w.Desc); err != nil {
		return nil, errors.Wrap(err, "descriptor")
	}

	for _, n := range w.Access {
		a, ok := ir.ParseAccess(n)
		if !ok {
			return nil, errors.New("unknown access flag: %v", n)
		}

		m.Access |= a
	}

	labels := map[int]ir.ID{}
	ids := make([]ir.ID, len(w.Code))

	// labels may be referenced before they appear, so branches are set in the second pass
	for i, x := range w.Code {
		if x.Op != ir.LABEL.String() {
			ids[i] = m.Code.Append(ir.Plain{Op: ir.NOP})
			continue
		}

		if _, ok := labels[x.Label]; ok || x.Label == 0 {
			return nil, errors.New("code %d: bad or duplicate label %d", i, x.Label)
		}

		ids[i] = m.Code.Append(ir.Label{})
		labels[x.Label] = ids[i]
	}

	label := func(n int) (ir.ID, error) {
		id, ok := labels[n]
		if !ok {
			return ir.Nil, errors.New("undefined label %d", n)
		}

		return id, nil
	}

	for i, wx := range w.Code {
		if wx.Op == ir.LABEL.String() {
			continue
		}

		x, err := wx.insn(label)
		if err != nil {
			return nil, errors.Wrap(err, "code %d", i)
		}

		m.Code.Set(ids[i], x)
	}

	var err error

	for _, wl := range w.Locals {
		l := ir.LocalVar{Name: wl.Name, Desc: wl.Desc, Signature: wl.Signature, Slot: wl.Slot}

		if l.Start, err = label(wl.Start); err != nil {
			return nil, errors.Wrap(err, "local %v", wl.Name)
		}

		if l.End, err = label(wl.End); err != nil {
			return nil, errors.Wrap(err, "local %v", wl.Name)
		}

		m.Locals = append(m.Locals, l)
	}

	for i, wh := range w.Handlers {
		h := ir.Handler{Type: wh.Type}

		for _, p := range []struct {
			dst *ir.ID
			n   int
		}{{&h.Start, wh.Start}, {&h.End, wh.End}, {&h.Handler, wh.Handler}} {
			if *p.dst, err = label(p.n); err != nil {
				return nil, errors.Wrap(err, "handler %d", i)
			}
		}

		m.Handlers = append(m.Handlers, h)
	}

	return m, nil
}

func (w Insn) insn(label func(int) (ir.ID, error)) (ir.Insn, error) {
	op, ok := ir.ParseOp(w.Op)
	if !ok {
		return nil, errors.New("unknown instruction: %v", w.Op)
	}

	switch {
	case ir.IsLoad(op) || ir.IsStore(op) || op == ir.RET:
		return ir.Var{Op: op, Slot: w.Slot}, nil
	}

	switch op {
	case ir.BIPUSH, ir.SIPUSH, ir.NEWARRAY:
		return ir.Push{Op: op, Value: int32(w.Int)}, nil
	case ir.LDC:
		if w.Const == nil {
			return nil, errors.New("ldc: constant expected")
		}

		v, err := w.Const.value()
		if err != nil {
			return nil, errors.Wrap(err, "ldc")
		}

		return ir.Ldc{Value: v}, nil
	case ir.IINC:
		return ir.Iinc{Slot: w.Slot, Delta: int32(w.Int)}, nil
	case ir.GETSTATIC, ir.PUTSTATIC, ir.GETFIELD, ir.PUTFIELD:
		return ir.Field{Op: op, Owner: w.Owner, Name: w.Name, Desc: w.Desc}, nil
	case ir.INVOKEVIRTUAL, ir.INVOKESPECIAL, ir.INVOKESTATIC, ir.INVOKEINTERFACE, ir.INVOKEDYNAMIC:
		return ir.Call{Op: op, Owner: w.Owner, Name: w.Name, Desc: w.Desc, Itf: w.Itf}, nil
	case ir.NEW, ir.ANEWARRAY, ir.CHECKCAST, ir.INSTANCEOF:
		return ir.TypeInsn{Op: op, Type: w.Desc}, nil
	case ir.MULTIANEWARRAY:
		return ir.MultiArray{Desc: w.Desc, Dims: int(w.Int)}, nil
	case ir.TABLESWITCH, ir.LOOKUPSWITCH:
		x := ir.Switch{Op: op, Keys: w.Keys}

		var err error

		if x.Default, err = label(w.Target); err != nil {
			return nil, err
		}

		for _, n := range w.Targets {
			t, err := label(n)
			if err != nil {
				return nil, err
			}

			x.Targets = append(x.Targets, t)
		}

		return x, nil
	}

	if w.Target != 0 {
		t, err := label(w.Target)
		if err != nil {
			return nil, err
		}

		return ir.Jump{Op: op, Target: t}, nil
	}

	return ir.Plain{Op: op}, nil
}

func (c *Const) value() (any, error) {
	switch c.Kind {
	case "int":
		v, err := strconv.ParseInt(c.Value, 10, 32)
		return int32(v), err
	case "long":
		return strconv.ParseInt(c.Value, 10, 64)
	case "float":
		v, err := strconv.ParseUint(c.Value, 16, 32)
		return math.Float32frombits(uint32(v)), err
	case "double":
		v, err := strconv.ParseUint(c.Value, 16, 64)
		return math.Float64frombits(v), err
	case "string":
		return c.Value, nil
	case "class":
		return tp.Ref(c.Value), nil
	}

	return nil, errors.New("unknown constant kind: %q", c.Kind)
}
