package remap

import (
	"github.com/slowlang/unpack/compiler/ir"
	"github.com/slowlang/unpack/compiler/set"
)

type (
	// Map maps original local slots to slots of the rewritten method.
	// Each expanded slot grows from a two-word long to three ints,
	// shifting every slot after it by Delta.
	Map struct {
		exp  set.Bits[int]
		base set.Bits[int]
	}
)

// Delta is how many slots an expansion adds.
const Delta = 3 - 2

func New(exp set.Bits[int]) *Map {
	m := &Map{exp: exp.Copy()}

	exp.Range(func(s int) bool {
		m.base.Set(m.Map(s))
		return true
	})

	return m
}

func (m *Map) Map(slot int) int {
	n := 0

	m.exp.Range(func(s int) bool {
		if s >= slot {
			return false
		}

		n++

		return true
	})

	return slot + n*Delta
}

// Expanded reports whether the original slot is expanded.
func (m *Map) Expanded(orig int) bool { return m.exp.IsSet(orig) }

// ExpandedNew reports whether the new slot is the first of an expanded triple.
func (m *Map) ExpandedNew(slot int) bool { return m.base.IsSet(slot) }

func (m *Map) Empty() bool { return m.exp.Empty() }

func (m *Map) Slots() set.Bits[int] { return m.exp }

// Apply rewrites slots of all local variable instructions in place.
func (m *Map) Apply(l *ir.List) (changed bool, err error) {
	for id := l.First(); id != ir.Nil; id = l.Next(id) {
		switch x := l.Get(id).(type) {
		case ir.Var:
			if m.exp.IsSet(x.Slot) && x.Op != ir.LLOAD && x.Op != ir.LSTORE {
				return changed, ir.Inconsistent(id, "%v of expanded slot %d", x.Op, x.Slot)
			}

			if m.exp.IsSet(x.Slot - 1) {
				return changed, ir.Inconsistent(id, "%v of slot %d overlapping expanded slot %d", x.Op, x.Slot, x.Slot-1)
			}

			n := m.Map(x.Slot)
			if n == x.Slot {
				continue
			}

			x.Slot = n
			l.Set(id, x)
			changed = true
		case ir.Iinc:
			if m.exp.IsSet(x.Slot) {
				return changed, ir.Inconsistent(id, "increment of expanded slot %d", x.Slot)
			}

			n := m.Map(x.Slot)
			if n == x.Slot {
				continue
			}

			x.Slot = n
			l.Set(id, x)
			changed = true
		}
	}

	return changed, nil
}
