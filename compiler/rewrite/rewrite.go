package rewrite

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/unpack/compiler/catalog"
	"github.com/slowlang/unpack/compiler/ir"
	"github.com/slowlang/unpack/compiler/remap"
)

type (
	// Env is what rules see: the code being rewritten and the read-only context.
	Env struct {
		Cat  *catalog.Catalog
		Map  *remap.Map
		Code *ir.List

		Stats map[string]int
	}

	Rule interface {
		Name() string

		// Apply tries to match the rule at ids[i] and rewrites the code if it does.
		Apply(e *Env, ids []ir.ID, i int) (bool, error)
	}

	// PackedUse is a window leaving one packed value on the stack.
	// If the value is stored to an expanded slot the window and the store
	// are replaced by three narrow load-operate-store sequences, one per axis.
	PackedUse struct {
		RuleName string
		Len      int

		// Strict rules fail on any other use of the packed value
		// instead of leaving the window as is.
		Strict bool

		Match func(e *Env, win []ir.Insn) bool
		Axis  func(e *Env, win []ir.Insn, axis int) []ir.Insn
	}

	// Replace is a window replaced as a whole.
	Replace struct {
		RuleName string
		Len      int

		Match func(e *Env, win []ir.Insn) bool

		// Gen returns the replacement. last is the last instruction of the window.
		Gen func(e *Env, win []ir.Insn, last ir.ID) ([]ir.Insn, error)
	}
)

// Apply runs a single left-to-right scan over the code.
// After a rewrite the scan restarts at the same position,
// it advances only when no rule matches.
func Apply(ctx context.Context, e *Env, rules []Rule) (n int, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "rewrite: patterns", "rules", len(rules))
	defer tr.Finish("err", &err)

	if e.Stats == nil {
		e.Stats = map[string]int{}
	}

	ids := e.Code.IDs()

	for i := 0; i < len(ids); {
		matched := false

		for _, r := range rules {
			ok, err := r.Apply(e, ids, i)
			if err != nil {
				return n, errors.Wrap(err, "%v", r.Name())
			}

			if !ok {
				continue
			}

			tr.V("rewrite").Printw("rule applied", "rule", r.Name(), "pos", i, "at", ids[i])

			e.Stats[r.Name()]++
			n++
			matched = true

			break
		}

		if !matched {
			i++
			continue
		}

		ids = e.Code.IDs()
	}

	return n, nil
}

func (r *PackedUse) Name() string { return r.RuleName }

func (r *PackedUse) Apply(e *Env, ids []ir.ID, i int) (bool, error) {
	win, ok := e.window(ids, i, r.Len)
	if !ok || !r.Match(e, win) {
		return false, nil
	}

	last := ids[i+r.Len-1]

	use, adjacent := e.consumer(ids, i+r.Len)

	var st ir.Var

	if use != ir.Nil {
		st, _ = e.Code.Get(use).(ir.Var)
	}

	if use == ir.Nil || !adjacent || st.Op != ir.LSTORE || !e.Map.ExpandedNew(st.Slot) {
		if !r.Strict {
			return false, nil
		}

		if use == ir.Nil {
			return false, ir.Inconsistent(last, "unsupported pattern usage: packed value crosses control flow")
		}

		return false, ir.Inconsistent(last, "unsupported pattern usage: packed value consumed by %v", e.Code.Get(use).Opcode())
	}

	var out []ir.Insn

	for axis := 0; axis < 3; axis++ {
		out = append(out, r.Axis(e, win, axis)...)
		out = append(out, ir.Var{Op: ir.ISTORE, Slot: st.Slot + axis})
	}

	err := e.replace(ids[i:i+r.Len+1], out)
	if err != nil {
		return false, err
	}

	return true, nil
}

func (r *Replace) Name() string { return r.RuleName }

func (r *Replace) Apply(e *Env, ids []ir.ID, i int) (bool, error) {
	win, ok := e.window(ids, i, r.Len)
	if !ok || !r.Match(e, win) {
		return false, nil
	}

	out, err := r.Gen(e, win, ids[i+r.Len-1])
	if err != nil {
		return false, err
	}

	err = e.replace(ids[i:i+r.Len], out)
	if err != nil {
		return false, err
	}

	return true, nil
}

func (e *Env) window(ids []ir.ID, i, n int) ([]ir.Insn, bool) {
	if i+n > len(ids) {
		return nil, false
	}

	win := make([]ir.Insn, n)

	for j := range win {
		win[j] = e.Code.Get(ids[i+j])
	}

	return win, true
}

// consumer walks forward from ids[j] tracking the stack depth above and
// including a packed value on top of the stack. It returns the instruction
// consuming the value and whether it's the very next one.
// Nil is returned if the value crosses a label or a branch.
func (e *Env) consumer(ids []ir.ID, j int) (use ir.ID, adjacent bool) {
	d := 2

	for k := j; k < len(ids); k++ {
		x := e.Code.Get(ids[k])

		if _, ok := x.(ir.Label); ok {
			return ir.Nil, false
		}

		pop, push, err := ir.Effect(x)
		if err != nil {
			return ir.Nil, false
		}

		if pop > d-2 {
			return ids[k], k == j
		}

		if !ir.Falls(x.Opcode()) || len(ir.Targets(x)) != 0 {
			return ir.Nil, false
		}

		d = d - pop + push
	}

	return ir.Nil, false
}

// replace inserts out before the first of old and removes old.
func (e *Env) replace(old []ir.ID, out []ir.Insn) error {
	e.Code.InsertBefore(old[0], out...)

	for _, id := range old {
		err := e.Code.Remove(id)
		if err != nil {
			return err
		}
	}

	return nil
}

// Leftovers fails if a packed access to an expanded slot survived rewriting.
func Leftovers(e *Env) error {
	for id := e.Code.First(); id != ir.Nil; id = e.Code.Next(id) {
		x, ok := e.Code.Get(id).(ir.Var)
		if !ok {
			continue
		}

		if (x.Op == ir.LLOAD || x.Op == ir.LSTORE) && e.Map.ExpandedNew(x.Slot) {
			return ir.Inconsistent(id, "%v of expanded slot %d left after rewriting", x.Op, x.Slot)
		}
	}

	return nil
}
