package analyze

import (
	"context"

	"nikand.dev/go/heap"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/unpack/compiler/df"
	"github.com/slowlang/unpack/compiler/ir"
	"github.com/slowlang/unpack/compiler/set"
	"github.com/slowlang/unpack/compiler/tp"
)

type (
	// Result holds the frames of a method at the fixed point
	// and the consumer index built from them.
	Result struct {
		Method *ir.Method

		IDs []ir.ID
		Pos []int // by ID, -1 for instructions not in IDs

		In  []*df.Frame // by position, nil if unreachable
		Out []*df.Frame

		byValue map[string]set.Bits[ir.ID]
		byProd  map[ir.ID]set.Bits[ir.ID]
	}

	analyzer struct {
		*Result

		owner string
		code  *ir.List

		queue heap.Heap[int]
		queued set.Bits[int]
	}
)

// Analyze interprets the method abstractly until frames reach a fixed point.
// owner is the internal name of the class declaring the method.
func Analyze(ctx context.Context, owner string, m *ir.Method) (r *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "analyze", "method", m.String())
	defer tr.Finish("err", &err)

	a := &analyzer{
		Result: &Result{
			Method:  m,
			IDs:     m.Code.IDs(),
			Pos:     m.Code.Index(),
			byValue: map[string]set.Bits[ir.ID]{},
			byProd:  map[ir.ID]set.Bits[ir.ID]{},
		},
		owner: owner,
		code:  m.Code,
		queue: heap.Heap[int]{Less: func(d []int, i, j int) bool { return d[i] < d[j] }},
	}

	a.In = make([]*df.Frame, len(a.IDs))
	a.Out = make([]*df.Frame, len(a.IDs))

	if len(a.IDs) == 0 {
		return a.Result, nil
	}

	f0, err := a.initial()
	if err != nil {
		return nil, err
	}

	err = a.merge(ir.Nil, 0, f0)
	if err != nil {
		return nil, err
	}

	steps := 0

	for a.queue.Len() != 0 {
		p := a.queue.Pop()
		a.queued.Clear(p)
		steps++

		err = a.step(p)
		if err != nil {
			return nil, err
		}
	}

	for p, in := range a.In {
		if in == nil {
			continue
		}

		id := a.IDs[p]

		out, used, err := exec(id, a.code.Get(id), in)
		if err != nil {
			return nil, err
		}

		a.Out[p] = out

		for _, v := range used {
			a.consume(v, id)
		}
	}

	tr.V("analyze").Printw("fixed point", "insns", len(a.IDs), "steps", steps, "values", len(a.byValue))

	if tr.If("dump_frames") {
		for p, id := range a.IDs {
			f := a.In[p]
			if f == nil {
				tr.Printw("frame", "pos", p, "id", id, "insn", tlog.NextAsType, a.code.Get(id), "unreachable", true)
				continue
			}

			tr.Printw("frame", "pos", p, "id", id, "insn", tlog.NextAsType, a.code.Get(id), "stack", f.Stack, "locals", f.Locals)
		}
	}

	return a.Result, nil
}

func (a *analyzer) initial() (*df.Frame, error) {
	params, err := a.Method.Params(a.owner)
	if err != nil {
		return nil, ir.Malformed(ir.Nil, "method descriptor: %v", err)
	}

	f := &df.Frame{Locals: make([]*df.Value, len(params))}

	for slot, t := range params {
		if t == tp.Top {
			continue
		}

		f.Locals[slot] = df.New(t, set.Bits[ir.ID]{}, set.Of(slot))
	}

	return f, nil
}

func (a *analyzer) step(p int) error {
	id := a.IDs[p]
	x := a.code.Get(id)
	in := a.In[p]

	out, _, err := exec(id, x, in)
	if err != nil {
		return err
	}

	for _, t := range ir.Targets(x) {
		err = a.merge(id, a.position(t), out)
		if err != nil {
			return err
		}
	}

	if ir.Falls(x.Opcode()) {
		if p+1 == len(a.IDs) {
			return ir.Malformed(id, "falls off the end of code")
		}

		err = a.merge(id, p+1, out)
		if err != nil {
			return err
		}
	}

	for _, h := range a.Method.Handlers {
		st, end := a.position(h.Start), a.position(h.End)
		if p < st || p >= end {
			continue
		}

		typ := tp.Throwable
		if h.Type != "" {
			typ = tp.Object(h.Type)
		}

		exc := df.Produced(typ, h.Handler)

		for _, f := range []*df.Frame{in, out} {
			hf := &df.Frame{
				Stack:  []*df.Value{exc},
				Locals: append([]*df.Value(nil), f.Locals...),
			}

			err = a.merge(id, a.position(h.Handler), hf)
			if err != nil {
				return err
			}
		}
	}

	return nil
}

func (a *analyzer) merge(from ir.ID, p int, f *df.Frame) error {
	if p < 0 {
		return ir.Malformed(from, "reference to a removed instruction")
	}

	if a.In[p] == nil {
		a.In[p] = f.Clone()
		a.enqueue(p)

		return nil
	}

	changed, err := a.In[p].Merge(f)
	if err != nil {
		return ir.Malformed(a.IDs[p], "merge from %d: %v", from, err)
	}

	if changed {
		a.enqueue(p)
	}

	return nil
}

func (a *analyzer) enqueue(p int) {
	if a.queued.IsSet(p) {
		return
	}

	a.queued.Set(p)
	a.queue.Push(p)
}

func (a *analyzer) consume(v *df.Value, by ir.ID) {
	k := v.Key()

	c := a.byValue[k]
	c.Set(by)
	a.byValue[k] = c

	v.Prod.Range(func(p ir.ID) bool {
		c := a.byProd[p]
		c.Set(by)
		a.byProd[p] = c

		return true
	})
}

// Frame returns the frame before the instruction or nil if it's unreachable.
func (r *Result) Frame(id ir.ID) *df.Frame {
	p := r.position(id)
	if p < 0 {
		return nil
	}

	return r.In[p]
}

// After returns the frame after the instruction executes.
func (r *Result) After(id ir.ID) *df.Frame {
	p := r.position(id)
	if p < 0 {
		return nil
	}

	return r.Out[p]
}

// Value returns the value pushed by the instruction, if it pushed exactly one.
func (r *Result) Value(id ir.ID) *df.Value {
	f := r.After(id)
	if f == nil {
		return nil
	}

	v := f.Top(0)
	if v == nil || !v.Prod.IsSet(id) || v.Prod.Size() != 1 {
		return nil
	}

	return v
}

// Consumers returns instructions consuming a value equal to v.
func (r *Result) Consumers(v *df.Value) set.Bits[ir.ID] {
	return r.byValue[v.Key()]
}

// ConsumersOf returns instructions consuming any value the producer may have made.
func (r *Result) ConsumersOf(prod ir.ID) set.Bits[ir.ID] {
	return r.byProd[prod]
}

func (r *Result) position(id ir.ID) int {
	if id < 0 || int(id) >= len(r.Pos) {
		return -1
	}

	return r.Pos[id]
}

// IsMalformed reports whether the error means broken input rather than unsupported code.
func IsMalformed(err error) bool {
	var m *ir.MalformedError

	return errors.As(err, &m)
}

// CallArgs returns the stack values a call consumes, receiver first.
func CallArgs(f *df.Frame, c ir.Call) ([]*df.Value, error) {
	ft, err := tp.ParseFunc(c.Desc)
	if err != nil {
		return nil, errors.Wrap(err, "call %v", c.Key())
	}

	n := len(ft.In)
	if HasReceiver(c.Op) {
		n++
	}

	if n > len(f.Stack) {
		return nil, errors.New("call %v: stack underflow", c.Key())
	}

	return f.Stack[len(f.Stack)-n:], nil
}

func HasReceiver(op ir.Op) bool {
	return op != ir.INVOKESTATIC && op != ir.INVOKEDYNAMIC
}
