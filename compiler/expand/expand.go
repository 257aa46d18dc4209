package expand

import (
	"context"
	"fmt"

	"tlog.app/go/tlog"

	"github.com/slowlang/unpack/compiler/analyze"
	"github.com/slowlang/unpack/compiler/catalog"
	"github.com/slowlang/unpack/compiler/df"
	"github.com/slowlang/unpack/compiler/ir"
	"github.com/slowlang/unpack/compiler/set"
)

type (
	// Result is the Expansion Set of a method: original local slots
	// holding packed values to be split into three narrow slots.
	Result struct {
		Slots set.Bits[int]

		Rounds   int
		Warnings []string

		// Unknown are calls absent from the catalog not touching longs.
		// They pass through unchanged.
		Unknown []catalog.Key
	}
)

// Solve seeds the Expansion Set from catalog calls and closes it
// over comparisons and copies of packed locals.
func Solve(ctx context.Context, cat *catalog.Catalog, r *analyze.Result) (res *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "expand", "method", r.Method.String())
	defer tr.Finish("err", &err)

	res = &Result{}

	res.Slots, res.Warnings, err = Seed(cat, r)
	if err != nil {
		return nil, err
	}

	seed := res.Slots.Copy()

	res.Slots, res.Rounds = Close(r, res.Slots)

	err = Check(r, res.Slots)
	if err != nil {
		return nil, err
	}

	for _, w := range res.Warnings {
		tr.Printw("warning", "method", r.Method.String(), "msg", w)
	}

	res.Unknown = Unknown(cat, r)

	if tr.If("expand") {
		for _, k := range res.Unknown {
			tr.Printw("unknown call", "method", r.Method.String(), "call", k.String())
		}
	}

	tr.V("expand").Printw("expansion set", "seed", seed, "slots", res.Slots, "rounds", res.Rounds)

	return res, nil
}

// Seed collects slots of packed arguments of catalog calls
// and slots packed results of catalog calls are stored to.
func Seed(cat *catalog.Catalog, r *analyze.Result) (exp set.Bits[int], warns []string, err error) {
	code := r.Method.Code

	for p, id := range r.IDs {
		f := r.In[p]
		if f == nil {
			continue
		}

		c, ok := code.Get(id).(ir.Call)
		if !ok {
			continue
		}

		k := catalog.Key{Owner: c.Owner, Name: c.Name, Desc: c.Desc}

		e := cat.Lookup(k)
		if e == nil {
			if cat.UnpackAxis(k) < 0 && k != cat.Offset.Method && mentionsLong(c.Desc) {
				warns = append(warns, fmt.Sprintf("insn %d: unknown call %v takes or returns long", id, k))
			}

			continue
		}

		args, err := analyze.CallArgs(f, c)
		if err != nil {
			return exp, warns, ir.Malformed(id, "%v", err)
		}

		for _, pos := range e.Positions() {
			if pos >= len(args) {
				return exp, warns, ir.Inconsistent(id, "catalog position %d out of %v arguments", pos, len(args))
			}

			exp.Merge(args[pos].Slots)
		}

		if !e.ReturnsPacked {
			continue
		}

		v := r.Value(id)
		if v == nil {
			continue
		}

		r.Consumers(v).Range(func(cid ir.ID) bool {
			if x, ok := code.Get(cid).(ir.Var); ok && x.Op == ir.LSTORE {
				exp.Set(x.Slot)
			}

			return true
		})
	}

	return exp, warns, nil
}

// Close grows exp until it's a fixed point: comparisons of an expanded
// local with another local and copies between locals expand both sides.
func Close(r *analyze.Result, exp set.Bits[int]) (_ set.Bits[int], rounds int) {
	exp = exp.Copy()
	code := r.Method.Code

	for changed := true; changed; rounds++ {
		changed = false

		for p, id := range r.IDs {
			if r.In[p] == nil {
				continue
			}

			x, ok := code.Get(id).(ir.Var)
			if !ok || !exp.IsSet(x.Slot) {
				continue
			}

			switch x.Op {
			case ir.LLOAD:
				v := r.Value(id)
				if v == nil {
					continue
				}

				r.Consumers(v).Range(func(cid ir.ID) bool {
					switch c := code.Get(cid).(type) {
					case ir.Plain:
						if c.Op != ir.LCMP {
							break
						}

						f := r.Frame(cid)

						other := f.Top(0)
						if other.Equal(v) {
							other = f.Top(1)
						}

						changed = exp.Merge(other.Slots) || changed
					case ir.Var:
						if c.Op == ir.LSTORE && !exp.IsSet(c.Slot) {
							exp.Set(c.Slot)
							changed = true
						}
					}

					return true
				})
			case ir.LSTORE:
				v := r.Frame(id).Top(0)

				changed = exp.Merge(v.Slots) || changed
			}
		}
	}

	return exp, rounds
}

// Check verifies expanded slots are only accessed as packed values.
func Check(r *analyze.Result, exp set.Bits[int]) error {
	code := r.Method.Code

	for _, id := range r.IDs {
		switch x := code.Get(id).(type) {
		case ir.Var:
			if exp.IsSet(x.Slot) && x.Op != ir.LLOAD && x.Op != ir.LSTORE {
				return ir.Inconsistent(id, "%v of expanded slot %d", x.Op, x.Slot)
			}

			if exp.IsSet(x.Slot - 1) {
				return ir.Inconsistent(id, "%v of slot %d overlapping expanded slot %d", x.Op, x.Slot, x.Slot-1)
			}

			if t := ir.VarType(x.Op); t != nil && t.Size() == 2 && exp.IsSet(x.Slot+1) {
				return ir.Inconsistent(id, "%v of slot %d overlapping expanded slot %d", x.Op, x.Slot, x.Slot+1)
			}
		case ir.Iinc:
			if exp.IsSet(x.Slot) {
				return ir.Inconsistent(id, "increment of expanded slot %d", x.Slot)
			}
		}
	}

	return nil
}

// Unknown lists reachable calls with no catalog entry whose descriptor
// has no long in it. Ones mentioning longs are reported by Seed as warnings.
func Unknown(cat *catalog.Catalog, r *analyze.Result) (ks []catalog.Key) {
	code := r.Method.Code

	for p, id := range r.IDs {
		if r.In[p] == nil {
			continue
		}

		c, ok := code.Get(id).(ir.Call)
		if !ok {
			continue
		}

		k := catalog.Key{Owner: c.Owner, Name: c.Name, Desc: c.Desc}

		if cat.Lookup(k) != nil || cat.UnpackAxis(k) >= 0 || k == cat.Offset.Method || mentionsLong(c.Desc) {
			continue
		}

		ks = append(ks, k)
	}

	return ks
}

// Packed reports whether the value may come from an expanded local.
func Packed(v *df.Value, exp set.Bits[int]) bool {
	return v != nil && v.Slots.Intersects(exp)
}

func mentionsLong(desc string) bool {
	for i := 0; i < len(desc); i++ {
		switch desc[i] {
		case 'J':
			return true
		case 'L':
			for i < len(desc) && desc[i] != ';' {
				i++
			}
		}
	}

	return false
}
