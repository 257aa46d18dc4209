package rewrite

import (
	"context"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/unpack/compiler/analyze"
	"github.com/slowlang/unpack/compiler/df"
	"github.com/slowlang/unpack/compiler/expand"
	"github.com/slowlang/unpack/compiler/ir"
	"github.com/slowlang/unpack/compiler/tp"
)

// all converts every axis of a packed value.
const all = -1

// Calls rewrites calls taking packed values.
// Frames come from the analysis of the code before any rewriting,
// only instructions still present in the code are considered.
func Calls(ctx context.Context, e *Env, r *analyze.Result, exp *expand.Result) (n int, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "rewrite: calls")
	defer tr.Finish("err", &err)

	for p, id := range r.IDs {
		f := r.In[p]
		if f == nil || !e.Code.Live(id) {
			continue
		}

		c, ok := e.Code.Get(id).(ir.Call)
		if !ok {
			continue
		}

		ok, err = e.call(r, exp, id, c, f)
		if err != nil {
			return n, err
		}

		if ok {
			tr.V("rewrite").Printw("call rewritten", "at", id, "call", c.Key(), "new", e.Code.Get(id))
			n++
		}
	}

	return n, nil
}

func (e *Env) call(r *analyze.Result, exp *expand.Result, id ir.ID, c ir.Call, f *df.Frame) (bool, error) {
	k := key(c)

	if axis := e.Cat.UnpackAxis(k); axis >= 0 {
		return e.unpack(r, exp, id, f.Top(0), axis)
	}

	ent := e.Cat.Lookup(k)
	if ent != nil && ent.ReturnsPacked {
		return false, nil
	}

	if ent != nil && ent.Static == analyze.HasReceiver(c.Op) {
		return false, ir.Inconsistent(id, "catalog says static=%v, called with %v", ent.Static, c.Op)
	}

	args, err := analyze.CallArgs(f, c)
	if err != nil {
		return false, ir.Malformed(id, "%v", err)
	}

	recv := 0
	if analyze.HasReceiver(c.Op) {
		recv = 1
	}

	known := map[int]bool{}

	if ent != nil {
		for _, pos := range ent.Positions() {
			known[pos] = true
		}
	}

	var conv []int

	for pos, v := range args {
		switch {
		case known[pos]:
		case expand.Packed(v, exp.Slots):
		default:
			continue
		}

		if pos < recv {
			return false, ir.Inconsistent(id, "packed receiver of %v", c.Key())
		}

		err = e.convertible(r, id, v)
		if err != nil {
			return false, ir.Inconsistent(id, "argument %d of %v: %v", pos-recv, c.Key(), err)
		}

		conv = append(conv, pos)
	}

	if len(conv) == 0 {
		return false, nil
	}

	ft, err := tp.ParseFunc(c.Desc)
	if err != nil {
		return false, ir.Malformed(id, "call %v: %v", c.Key(), err)
	}

	idx := make([]int, len(conv))
	for i, pos := range conv {
		idx[i] = pos - recv
	}

	nf, err := tp.Expand(ft, idx)
	if err != nil {
		return false, ir.Inconsistent(id, "call %v: %v", c.Key(), err)
	}

	c.Desc = nf.Desc()

	if ent != nil {
		if c.Desc != ent.NewDesc() {
			return false, ir.Inconsistent(id, "call %v: derived descriptor %v, catalog has %v", k, c.Desc, ent.NewDesc())
		}

		c.Owner, c.Name = ent.Rename.Owner, ent.Rename.Name
	}

	for _, pos := range conv {
		err = e.convertAll(args[pos], all)
		if err != nil {
			return false, err
		}
	}

	e.Code.Set(id, c)

	return true, nil
}

// unpack replaces an unpack call of a value loaded from an expanded slot
// by loading the single axis.
func (e *Env) unpack(r *analyze.Result, exp *expand.Result, id ir.ID, v *df.Value, axis int) (bool, error) {
	if !expand.Packed(v, exp.Slots) {
		return false, nil
	}

	err := e.convertible(r, id, v)
	if err != nil {
		return false, ir.Inconsistent(id, "unpack: %v", err)
	}

	err = e.convertAll(v, axis)
	if err != nil {
		return false, err
	}

	err = e.Code.Remove(id)
	if err != nil {
		return false, err
	}

	return true, nil
}

// convertible checks every producer of v can emit narrow values
// and v is consumed by the call only.
func (e *Env) convertible(r *analyze.Result, call ir.ID, v *df.Value) error {
	if v.Prod.Empty() {
		return errors.New("value has no producer")
	}

	var err error

	v.Prod.Range(func(p ir.ID) bool {
		if !e.Code.Live(p) {
			err = errors.New("producer %d was rewritten", p)
			return false
		}

		if cs := r.ConsumersOf(p); cs.Size() != 1 || !cs.IsSet(call) {
			err = errors.New("producer %d has other consumers: %v", p, cs)
			return false
		}

		if !e.emitter(e.Code.Get(p)) {
			err = errors.New("producer %d (%v) can't emit narrow values", p, e.Code.Get(p).Opcode())
			return false
		}

		return true
	})

	return err
}

func (e *Env) emitter(x ir.Insn) bool {
	if e.operand(x) {
		return true
	}

	c, ok := x.(ir.Call)
	if !ok {
		return false
	}

	ent := e.Cat.Lookup(key(c))

	return ent != nil && ent.Producer() && (ent.Pack == (c.Op == ir.INVOKESTATIC))
}

func (e *Env) convertAll(v *df.Value, axis int) (err error) {
	v.Prod.Range(func(p ir.ID) bool {
		err = e.convert(p, axis)
		return err == nil
	})

	return err
}

// convert makes the producer push the axis value or all three.
func (e *Env) convert(p ir.ID, axis int) error {
	x := e.Code.Get(p)

	if e.operand(x) {
		if axis != all {
			e.Code.Set(p, e.narrow(x, axis))
			return nil
		}

		e.Code.InsertBefore(p, e.narrow(x, 0), e.narrow(x, 1))
		e.Code.Set(p, e.narrow(x, 2))

		return nil
	}

	c := x.(ir.Call)
	ent := e.Cat.Lookup(key(c))

	if ent.Pack {
		// x y z are already on the stack
		var keep []ir.Insn

		switch axis {
		case 0:
			keep = []ir.Insn{ir.Plain{Op: ir.POP}, ir.Plain{Op: ir.POP}}
		case 1:
			keep = []ir.Insn{ir.Plain{Op: ir.POP}, ir.Plain{Op: ir.SWAP}, ir.Plain{Op: ir.POP}}
		case 2:
			keep = []ir.Insn{ir.Plain{Op: ir.SWAP}, ir.Plain{Op: ir.POP}, ir.Plain{Op: ir.SWAP}, ir.Plain{Op: ir.POP}}
		default:
			return e.Code.Remove(p)
		}

		e.Code.InsertBefore(p, keep[:len(keep)-1]...)
		e.Code.Set(p, keep[len(keep)-1])

		return nil
	}

	if axis != all {
		e.Code.Set(p, accessor(ent.Axes[axis]))
		return nil
	}

	// receiver is on the stack
	e.Code.InsertBefore(p,
		ir.Plain{Op: ir.DUP},
		accessor(ent.Axes[0]),
		ir.Plain{Op: ir.SWAP},
		ir.Plain{Op: ir.DUP},
		accessor(ent.Axes[1]),
		ir.Plain{Op: ir.SWAP},
	)

	e.Code.Set(p, accessor(ent.Axes[2]))

	return nil
}
