package format

import (
	"context"
	"strconv"
	"strings"

	"github.com/nikandfor/hacked/hfmt"
	"tlog.app/go/errors"

	"github.com/slowlang/unpack/compiler/ir"
	"github.com/slowlang/unpack/compiler/tp"
)

type (
	labels map[ir.ID]string
)

// Format appends the textual assembly of a class, a method or an instruction.
func Format(ctx context.Context, b []byte, x any) ([]byte, error) {
	switch x := x.(type) {
	case *ir.Class:
		return formatClass(ctx, b, x)
	case *ir.Method:
		return formatMethod(ctx, b, x, 0)
	case ir.Insn:
		return formatInsn(b, x, nil, 0)
	default:
		return nil, errors.New("unsupported type: %T", x)
	}
}

func formatClass(ctx context.Context, b []byte, c *ir.Class) (_ []byte, err error) {
	b = app(b, 0, "class %s", c.Name)

	if c.Super != "" && c.Super != "java/lang/Object" {
		b = app(b, 0, " %s", c.Super)
	}

	b = append(b, '\n')

	for _, m := range c.Methods {
		b = append(b, '\n')

		b, err = formatMethod(ctx, b, m, 0)
		if err != nil {
			return nil, errors.Wrap(err, "method %v", m)
		}
	}

	return b, nil
}

func formatMethod(ctx context.Context, b []byte, m *ir.Method, d int) (_ []byte, err error) {
	b = app(b, d, "method")

	for _, a := range m.Access.Names() {
		b = app(b, 0, " %s", a)
	}

	b = app(b, 0, " %s %s\n", m.Name, m.Desc)

	if m.MaxStack != 0 || m.MaxLocals != 0 {
		b = app(b, d+1, "maxs %d %d\n", m.MaxStack, m.MaxLocals)
	}

	ls := labels{}

	for id := m.Code.First(); id != ir.Nil; id = m.Code.Next(id) {
		if _, ok := m.Code.Get(id).(ir.Label); ok {
			ls[id] = "L" + strconv.Itoa(len(ls))
		}
	}

	for id := m.Code.First(); id != ir.Nil; id = m.Code.Next(id) {
		x := m.Code.Get(id)

		if _, ok := x.(ir.Label); ok {
			b = app(b, d, "%s:\n", ls[id])
			continue
		}

		b = app(b, d+1, "")

		b, err = formatInsn(b, x, ls, id)
		if err != nil {
			return nil, err
		}

		b = append(b, '\n')
	}

	for _, l := range m.Locals {
		b = app(b, d+1, "local %s %s %d ", l.Name, l.Desc, l.Slot)

		b, err = ls.append(b, l.Start, l.End)
		if err != nil {
			return nil, errors.Wrap(err, "local %v", l.Name)
		}

		if l.Signature != "" {
			b = app(b, 0, " %s", l.Signature)
		}

		b = append(b, '\n')
	}

	for _, h := range m.Handlers {
		t := h.Type
		if t == "" {
			t = "any"
		}

		b = app(b, d+1, "catch %s ", t)

		b, err = ls.append(b, h.Start, h.End, h.Handler)
		if err != nil {
			return nil, errors.Wrap(err, "handler")
		}

		b = append(b, '\n')
	}

	b = app(b, d, "end\n")

	return b, nil
}

func formatInsn(b []byte, x ir.Insn, ls labels, id ir.ID) (_ []byte, err error) {
	b = append(b, x.Opcode().String()...)

	switch x := x.(type) {
	case ir.Plain:
	case ir.Var:
		b = app(b, 0, " %d", x.Slot)
	case ir.Iinc:
		b = app(b, 0, " %d %d", x.Slot, x.Delta)
	case ir.Push:
		if x.Op == ir.NEWARRAY {
			b = app(b, 0, " %s", ir.ArrayTypes[x.Value])
		} else {
			b = app(b, 0, " %d", x.Value)
		}
	case ir.Ldc:
		b = append(b, ' ')
		b, err = constant(b, x.Value)
	case ir.Jump:
		b = append(b, ' ')
		b, err = ls.append(b, x.Target)
	case ir.Switch:
		b, err = formatSwitch(b, x, ls)
	case ir.Field:
		b = app(b, 0, " %s#%s %s", x.Owner, x.Name, x.Desc)
	case ir.Call:
		if x.Itf && x.Op != ir.INVOKEINTERFACE {
			b = append(b, " itf"...)
		}

		if x.Owner == "" {
			b = app(b, 0, " %s %s", x.Name, x.Desc)
		} else {
			b = app(b, 0, " %s#%s %s", x.Owner, x.Name, x.Desc)
		}
	case ir.TypeInsn:
		b = app(b, 0, " %s", x.Type)
	case ir.MultiArray:
		b = app(b, 0, " %s %d", x.Desc, x.Dims)
	default:
		return nil, errors.New("unsupported instruction: %T", x)
	}

	if err != nil {
		return nil, errors.Wrap(err, "insn %d", id)
	}

	return b, nil
}

func formatSwitch(b []byte, x ir.Switch, ls labels) (_ []byte, err error) {
	if x.Op == ir.TABLESWITCH {
		min := int32(0)
		if len(x.Keys) != 0 {
			min = x.Keys[0]
		}

		b = app(b, 0, " %d ", min)

		return ls.append(b, append([]ir.ID{x.Default}, x.Targets...)...)
	}

	b = append(b, ' ')

	b, err = ls.append(b, x.Default)
	if err != nil {
		return nil, err
	}

	for i, t := range x.Targets {
		b = app(b, 0, " %d:", x.Keys[i])

		b, err = ls.append(b, t)
		if err != nil {
			return nil, err
		}
	}

	return b, nil
}

func constant(b []byte, v any) ([]byte, error) {
	switch v := v.(type) {
	case int32:
		return strconv.AppendInt(b, int64(v), 10), nil
	case int64:
		b = strconv.AppendInt(b, v, 10)
		return append(b, 'L'), nil
	case float32:
		b = strconv.AppendFloat(b, float64(v), 'g', -1, 32)
		return append(b, 'F'), nil
	case float64:
		b = strconv.AppendFloat(b, v, 'g', -1, 64)
		return append(b, 'D'), nil
	case string:
		return strconv.AppendQuote(b, v), nil
	case tp.Object:
		return app(b, 0, "class %s", string(v)), nil
	case tp.Type:
		return app(b, 0, "class %s", v.Desc()), nil
	}

	return nil, errors.New("unsupported constant: %T", v)
}

func (ls labels) append(b []byte, ids ...ir.ID) ([]byte, error) {
	for i, id := range ids {
		if i != 0 {
			b = append(b, ' ')
		}

		n, ok := ls[id]
		if !ok {
			return nil, errors.New("reference to non-label %d", id)
		}

		b = append(b, n...)
	}

	return b, nil
}

// Method formats a method for logs and error messages.
func Method(m *ir.Method) string {
	b, err := formatMethod(context.Background(), nil, m, 0)
	if err != nil {
		return "<" + err.Error() + ">"
	}

	return strings.TrimSuffix(string(b), "\n")
}

func app(b []byte, d int, f string, args ...any) []byte {
	const tabs = "\t\t\t\t\t\t\t\t\t\t\t\t\t\t\t"
	b = append(b, tabs[:d]...)
	b = hfmt.Appendf(b, f, args...)
	return b
}
