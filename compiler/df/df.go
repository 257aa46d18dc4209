package df

import (
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/tlog/tlwire"

	"github.com/slowlang/unpack/compiler/ir"
	"github.com/slowlang/unpack/compiler/set"
	"github.com/slowlang/unpack/compiler/tp"
)

type (
	// Value is an abstract value: its type, the instructions that may
	// have produced it and the local slots it may have been loaded from.
	// Values are immutable once shared.
	Value struct {
		Type  tp.Type
		Prod  set.Bits[ir.ID]
		Slots set.Bits[int]
	}

	// Frame is the abstract state before an instruction.
	// Stack holds one entry per value, top last.
	// A wide local takes two slots, the second one is nil.
	Frame struct {
		Stack  []*Value
		Locals []*Value
	}
)

func New(t tp.Type, prod set.Bits[ir.ID], slots set.Bits[int]) *Value {
	return &Value{Type: t, Prod: prod, Slots: slots}
}

// Produced is a fresh value made by the instruction.
func Produced(t tp.Type, id ir.ID) *Value {
	return &Value{Type: t, Prod: set.Of(id)}
}

func (v *Value) Size() int {
	if v == nil || v.Type == nil {
		return 1
	}

	return v.Type.Size()
}

func (v *Value) Equal(w *Value) bool {
	if v == w {
		return true
	}

	if v == nil || w == nil {
		return false
	}

	return tp.Equal(v.Type, w.Type) && v.Prod.Equal(w.Prod) && v.Slots.Equal(w.Slots)
}

// Key is equal for Equal values.
func (v *Value) Key() string {
	if v == nil {
		return ""
	}

	var b strings.Builder

	if v.Type != nil {
		b.WriteString(v.Type.Desc())
	}

	b.WriteByte('/')
	b.Write(v.Prod.AppendKey(nil))
	b.WriteByte('/')
	b.Write(v.Slots.AppendKey(nil))

	return b.String()
}

// Merge joins two values. Unset values are bottom.
func Merge(x, y *Value) *Value {
	switch {
	case x == nil:
		return y
	case y == nil:
		return x
	case x.Equal(y):
		return x
	}

	m := &Value{
		Type:  tp.Merge(x.Type, y.Type),
		Prod:  set.Union(x.Prod, y.Prod),
		Slots: set.Union(x.Slots, y.Slots),
	}

	// x already covers y
	if m.Equal(x) {
		return x
	}

	return m
}

func (v *Value) String() string {
	if v == nil {
		return "<nil>"
	}

	return v.Type.Desc() + " prod" + v.Prod.String() + " slots" + v.Slots.String()
}

func (v *Value) TlogAppend(b []byte) []byte {
	var e tlwire.Encoder

	if v == nil {
		return e.AppendNil(b)
	}

	b = e.AppendMap(b, 3)

	b = e.AppendKey(b, "type")
	b = e.AppendString(b, v.Type.Desc())

	b = e.AppendKey(b, "prod")
	b = v.Prod.TlogAppend(b)

	b = e.AppendKey(b, "slots")
	b = v.Slots.TlogAppend(b)

	return b
}

func (f *Frame) Clone() *Frame {
	return &Frame{
		Stack:  append([]*Value(nil), f.Stack...),
		Locals: append([]*Value(nil), f.Locals...),
	}
}

// Words is the stack depth in slot words.
func (f *Frame) Words() (n int) {
	for _, v := range f.Stack {
		n += v.Size()
	}

	return n
}

// Top returns the i-th value from the top of the stack, 0 is the top.
func (f *Frame) Top(i int) *Value {
	if i >= len(f.Stack) {
		return nil
	}

	return f.Stack[len(f.Stack)-1-i]
}

func (f *Frame) Local(slot int) *Value {
	if slot < 0 || slot >= len(f.Locals) {
		return nil
	}

	return f.Locals[slot]
}

// Merge joins x into f and reports whether f changed.
func (f *Frame) Merge(x *Frame) (changed bool, err error) {
	if len(f.Stack) != len(x.Stack) {
		return false, errors.New("stack height mismatch: %d vs %d", len(f.Stack), len(x.Stack))
	}

	for i, v := range x.Stack {
		if v.Size() != f.Stack[i].Size() {
			return false, errors.New("stack value width mismatch at %d", i)
		}

		m := Merge(f.Stack[i], v)

		if m != f.Stack[i] {
			f.Stack[i] = m
			changed = true
		}
	}

	for len(f.Locals) < len(x.Locals) {
		f.Locals = append(f.Locals, nil)
	}

	for i, v := range x.Locals {
		m := Merge(f.Locals[i], v)

		if m != f.Locals[i] {
			f.Locals[i] = m
			changed = true
		}
	}

	return changed, nil
}
