package sig

import (
	"strings"

	"github.com/slowlang/unpack/compiler/ir"
	"github.com/slowlang/unpack/compiler/remap"
	"github.com/slowlang/unpack/compiler/tp"
)

// DefaultSuffix is appended to the name of a transformed method
// whose descriptor stays the same, so it doesn't clash with the original.
const DefaultSuffix = "3int"

var axes = [3]string{"_x", "_y", "_z"}

// Desc returns the method descriptor with expanded parameters
// replaced by three ints each.
func Desc(m *ir.Method, mp *remap.Map) (string, error) {
	f, err := m.Type()
	if err != nil {
		return "", ir.Malformed(ir.Nil, "method descriptor: %v", err)
	}

	slot := 0
	if !m.Static() {
		slot = 1
	}

	var idx []int

	for i, t := range f.In {
		if mp.Expanded(slot) {
			if t != tp.Long {
				return "", ir.Inconsistent(ir.Nil, "parameter %d in expanded slot %d is %v", i, slot, t.Desc())
			}

			idx = append(idx, i)
		}

		slot += t.Size()
	}

	nf, err := tp.Expand(f, idx)
	if err != nil {
		return "", ir.Inconsistent(ir.Nil, "%v", err)
	}

	return nf.Desc(), nil
}

// Apply rewrites the signature of a transformed method in place:
// descriptor, name, local variable table and limits.
func Apply(m *ir.Method, mp *remap.Map, suffix string) (err error) {
	desc, err := Desc(m, mp)
	if err != nil {
		return err
	}

	if desc == m.Desc && !strings.HasPrefix(m.Name, "<") {
		m.Name += suffix
	}

	m.Desc = desc

	m.Locals = Locals(m.Locals, mp)

	m.MaxLocals = MaxLocals(m, mp)

	m.MaxStack, err = ir.MaxStack(m)
	if err != nil {
		return err
	}

	return nil
}

// Locals maps the local variable table through the slot map.
// An expanded entry becomes three int entries.
func Locals(ls []ir.LocalVar, mp *remap.Map) []ir.LocalVar {
	r := make([]ir.LocalVar, 0, len(ls))

	for _, l := range ls {
		if !mp.Expanded(l.Slot) {
			l.Slot = mp.Map(l.Slot)
			r = append(r, l)

			continue
		}

		base := mp.Map(l.Slot)

		for i, sfx := range axes {
			r = append(r, ir.LocalVar{
				Name:  l.Name + sfx,
				Desc:  tp.Int.Desc(),
				Start: l.Start,
				End:   l.End,
				Slot:  base + i,
			})
		}
	}

	return r
}

// MaxLocals is the number of local slots the rewritten method needs.
func MaxLocals(m *ir.Method, mp *remap.Map) int {
	n := mp.Map(m.MaxLocals)

	f, err := m.Type()
	if err == nil {
		size := f.Size()
		if !m.Static() {
			size++
		}

		n = max(n, size)
	}

	for _, l := range m.Locals {
		w := 1
		if t, err := tp.Parse(l.Desc); err == nil {
			w = t.Size()
		}

		n = max(n, l.Slot+w)
	}

	for id := m.Code.First(); id != ir.Nil; id = m.Code.Next(id) {
		switch x := m.Code.Get(id).(type) {
		case ir.Var:
			w := 1
			if t := ir.VarType(x.Op); t != nil {
				w = t.Size()
			}

			n = max(n, x.Slot+w)
		case ir.Iinc:
			n = max(n, x.Slot+1)
		}
	}

	return n
}
