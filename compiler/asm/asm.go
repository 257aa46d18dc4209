package asm

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"

	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/unpack/compiler/ir"
	"github.com/slowlang/unpack/compiler/tp"
)

type (
	parser struct {
		b    []byte
		i    int
		line int

		c *ir.Class
		m *ir.Method

		labels map[string]ir.ID
		fixups []fixup
	}

	fixup struct {
		line int
		fix  func(get func(string) (ir.ID, error)) error
	}

	SyntaxError struct {
		Line   int
		Reason string
	}
)

func ParseFile(ctx context.Context, name string) (*ir.Class, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	return Parse(ctx, data)
}

// Parse reads a class in the textual assembly syntax.
func Parse(ctx context.Context, text []byte) (c *ir.Class, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "asm: parse", "size", len(text))
	defer tr.Finish("err", &err)

	p := &parser{b: text}

	for p.i < len(p.b) {
		p.line++

		toks, err := p.lineTokens()
		if err != nil {
			return nil, err
		}

		if len(toks) == 0 {
			continue
		}

		err = p.directive(toks)
		if err != nil {
			return nil, err
		}
	}

	if p.m != nil {
		return nil, p.errorf("method %v: end expected", p.m.Name)
	}

	if p.c == nil {
		return nil, p.errorf("class expected")
	}

	tr.V("asm").Printw("parsed", "class", p.c.Name, "methods", len(p.c.Methods))

	return p.c, nil
}

// MustParse is Parse for tests and embedded sources.
func MustParse(text string) *ir.Class {
	c, err := Parse(context.Background(), []byte(text))
	if err != nil {
		panic(err)
	}

	return c
}

func (p *parser) directive(toks []string) (err error) {
	switch {
	case toks[0] == "class":
		if p.c != nil {
			return p.errorf("second class")
		}

		if len(toks) < 2 || len(toks) > 3 {
			return p.errorf("class NAME [SUPER] expected")
		}

		p.c = &ir.Class{Name: toks[1], Super: "java/lang/Object"}

		if len(toks) == 3 {
			p.c.Super = toks[2]
		}

		return nil
	case p.c == nil:
		return p.errorf("class expected")
	case toks[0] == "method":
		if p.m != nil {
			return p.errorf("nested method")
		}

		if len(toks) < 3 {
			return p.errorf("method [FLAGS] NAME DESC expected")
		}

		m := &ir.Method{
			Name: toks[len(toks)-2],
			Desc: toks[len(toks)-1],
			Code: ir.NewList(),
		}

		if _, err := tp.ParseFunc(m.Desc); err != nil {
			return p.errorf("method descriptor: %v", err)
		}

		for _, f := range toks[1 : len(toks)-2] {
			a, ok := ir.ParseAccess(f)
			if !ok {
				return p.errorf("unknown access flag: %v", f)
			}

			m.Access |= a
		}

		p.m = m
		p.labels = map[string]ir.ID{}
		p.fixups = p.fixups[:0]

		return nil
	case p.m == nil:
		return p.errorf("method expected, got %q", toks[0])
	case toks[0] == "end":
		return p.endMethod()
	case toks[0] == "maxs":
		if len(toks) != 3 {
			return p.errorf("maxs STACK LOCALS expected")
		}

		p.m.MaxStack, err = p.int(toks[1])
		if err != nil {
			return err
		}

		p.m.MaxLocals, err = p.int(toks[2])

		return err
	case toks[0] == "local":
		return p.local(toks)
	case toks[0] == "catch":
		return p.catch(toks)
	case len(toks) == 1 && strings.HasSuffix(toks[0], ":"):
		name := strings.TrimSuffix(toks[0], ":")

		if _, ok := p.labels[name]; ok {
			return p.errorf("label redefined: %v", name)
		}

		p.labels[name] = p.m.Code.Append(ir.Label{})

		return nil
	}

	x, err := p.insn(toks)
	if err != nil {
		return err
	}

	if x != nil {
		p.m.Code.Append(x)
	}

	return nil
}

func (p *parser) endMethod() error {
	get := func(name string) (ir.ID, error) {
		id, ok := p.labels[name]
		if !ok {
			return ir.Nil, errors.New("undefined label: %v", name)
		}

		return id, nil
	}

	for _, f := range p.fixups {
		err := f.fix(get)
		if err != nil {
			return &SyntaxError{Line: f.line, Reason: err.Error()}
		}
	}

	p.c.Methods = append(p.c.Methods, p.m)
	p.m = nil

	return nil
}

func (p *parser) later(f func(get func(string) (ir.ID, error)) error) {
	p.fixups = append(p.fixups, fixup{line: p.line, fix: f})
}

func (p *parser) local(toks []string) error {
	if len(toks) != 6 && len(toks) != 7 {
		return p.errorf("local NAME DESC SLOT START END [SIGNATURE] expected")
	}

	slot, err := p.int(toks[3])
	if err != nil {
		return err
	}

	if _, err := tp.Parse(toks[2]); err != nil {
		return p.errorf("local type: %v", err)
	}

	idx := len(p.m.Locals)
	p.m.Locals = append(p.m.Locals, ir.LocalVar{Name: toks[1], Desc: toks[2], Slot: slot})

	if len(toks) == 7 {
		p.m.Locals[idx].Signature = toks[6]
	}

	st, end := toks[4], toks[5]
	m := p.m

	p.later(func(get func(string) (ir.ID, error)) (err error) {
		l := &m.Locals[idx]

		if l.Start, err = get(st); err != nil {
			return err
		}

		l.End, err = get(end)

		return err
	})

	return nil
}

func (p *parser) catch(toks []string) error {
	if len(toks) != 5 {
		return p.errorf("catch TYPE START END HANDLER expected")
	}

	idx := len(p.m.Handlers)
	p.m.Handlers = append(p.m.Handlers, ir.Handler{})

	if toks[1] != "any" {
		p.m.Handlers[idx].Type = toks[1]
	}

	names := toks[2:]
	m := p.m

	p.later(func(get func(string) (ir.ID, error)) (err error) {
		h := &m.Handlers[idx]

		for i, dst := range []*ir.ID{&h.Start, &h.End, &h.Handler} {
			if *dst, err = get(names[i]); err != nil {
				return err
			}
		}

		return nil
	})

	return nil
}

// insn parses an instruction. Branches are appended by the parser itself
// and returned as nil to be fixed up at the method end.
func (p *parser) insn(toks []string) (ir.Insn, error) {
	op, ok := ir.ParseOp(toks[0])
	if !ok || op == ir.LABEL {
		return nil, p.errorf("unknown instruction: %v", toks[0])
	}

	args := toks[1:]

	want := func(n int, usage string) error {
		if len(args) != n {
			return p.errorf("%v %v expected", op, usage)
		}

		return nil
	}

	switch {
	case ir.IsLoad(op) || ir.IsStore(op) || op == ir.RET:
		if err := want(1, "SLOT"); err != nil {
			return nil, err
		}

		slot, err := p.int(args[0])
		if err != nil {
			return nil, err
		}

		return ir.Var{Op: op, Slot: slot}, nil
	}

	switch op {
	case ir.IINC:
		if err := want(2, "SLOT DELTA"); err != nil {
			return nil, err
		}

		slot, err := p.int(args[0])
		if err != nil {
			return nil, err
		}

		d, err := p.int(args[1])
		if err != nil {
			return nil, err
		}

		return ir.Iinc{Slot: slot, Delta: int32(d)}, nil
	case ir.BIPUSH, ir.SIPUSH:
		if err := want(1, "VALUE"); err != nil {
			return nil, err
		}

		v, err := p.int(args[0])
		if err != nil {
			return nil, err
		}

		return ir.Push{Op: op, Value: int32(v)}, nil
	case ir.NEWARRAY:
		if err := want(1, "TYPE"); err != nil {
			return nil, err
		}

		c, ok := ir.ParseArrayType(args[0])
		if !ok {
			return nil, p.errorf("bad array type: %v", args[0])
		}

		return ir.Push{Op: op, Value: c}, nil
	case ir.LDC:
		return p.ldc(args)
	case ir.IFEQ, ir.IFNE, ir.IFLT, ir.IFGE, ir.IFGT, ir.IFLE,
		ir.IF_ICMPEQ, ir.IF_ICMPNE, ir.IF_ICMPLT, ir.IF_ICMPGE, ir.IF_ICMPGT, ir.IF_ICMPLE,
		ir.IF_ACMPEQ, ir.IF_ACMPNE, ir.GOTO, ir.JSR, ir.IFNULL, ir.IFNONNULL:
		if err := want(1, "LABEL"); err != nil {
			return nil, err
		}

		p.jump(op, args[0])

		return nil, nil
	case ir.TABLESWITCH, ir.LOOKUPSWITCH:
		return nil, p.switchInsn(op, args)
	case ir.GETSTATIC, ir.PUTSTATIC, ir.GETFIELD, ir.PUTFIELD:
		if err := want(2, "OWNER#NAME DESC"); err != nil {
			return nil, err
		}

		owner, name, err := p.member(args[0])
		if err != nil {
			return nil, err
		}

		if _, err := tp.Parse(args[1]); err != nil {
			return nil, p.errorf("field type: %v", err)
		}

		return ir.Field{Op: op, Owner: owner, Name: name, Desc: args[1]}, nil
	case ir.INVOKEVIRTUAL, ir.INVOKESPECIAL, ir.INVOKESTATIC, ir.INVOKEINTERFACE, ir.INVOKEDYNAMIC:
		itf := false
		if len(args) == 3 && args[0] == "itf" {
			itf = true
			args = args[1:]
		}

		if err := want(2, "[itf] OWNER#NAME DESC"); err != nil {
			return nil, err
		}

		var owner, name string
		var err error

		if op == ir.INVOKEDYNAMIC && !strings.Contains(args[0], "#") {
			name = args[0]
		} else if owner, name, err = p.member(args[0]); err != nil {
			return nil, err
		}

		if _, err := tp.ParseFunc(args[1]); err != nil {
			return nil, p.errorf("method type: %v", err)
		}

		return ir.Call{Op: op, Owner: owner, Name: name, Desc: args[1], Itf: itf || op == ir.INVOKEINTERFACE}, nil
	case ir.NEW, ir.ANEWARRAY, ir.CHECKCAST, ir.INSTANCEOF:
		if err := want(1, "TYPE"); err != nil {
			return nil, err
		}

		return ir.TypeInsn{Op: op, Type: args[0]}, nil
	case ir.MULTIANEWARRAY:
		if err := want(2, "DESC DIMS"); err != nil {
			return nil, err
		}

		d, err := p.int(args[1])
		if err != nil {
			return nil, err
		}

		return ir.MultiArray{Desc: args[0], Dims: d}, nil
	}

	if _, _, err := ir.Effect(ir.Plain{Op: op}); err != nil {
		return nil, p.errorf("%v", err)
	}

	if err := want(0, ""); err != nil {
		return nil, err
	}

	return ir.Plain{Op: op}, nil
}

func (p *parser) jump(op ir.Op, label string) {
	id := p.m.Code.Append(ir.Jump{Op: op, Target: ir.Nil})
	l := p.m.Code

	p.later(func(get func(string) (ir.ID, error)) error {
		t, err := get(label)
		if err != nil {
			return err
		}

		l.Set(id, ir.Jump{Op: op, Target: t})

		return nil
	})
}

func (p *parser) switchInsn(op ir.Op, args []string) error {
	x := ir.Switch{Op: op}

	var dflt string
	var names []string

	if op == ir.TABLESWITCH {
		if len(args) < 2 {
			return p.errorf("tableswitch MIN DEFAULT LABELS... expected")
		}

		min, err := p.int(args[0])
		if err != nil {
			return err
		}

		dflt, names = args[1], args[2:]

		for i := range names {
			x.Keys = append(x.Keys, int32(min+i))
		}
	} else {
		if len(args) < 1 {
			return p.errorf("lookupswitch DEFAULT KEY:LABEL... expected")
		}

		dflt = args[0]

		for _, a := range args[1:] {
			k, l, ok := strings.Cut(a, ":")
			if !ok {
				return p.errorf("KEY:LABEL expected, got %q", a)
			}

			v, err := p.int(k)
			if err != nil {
				return err
			}

			x.Keys = append(x.Keys, int32(v))
			names = append(names, l)
		}
	}

	x.Default = ir.Nil
	id := p.m.Code.Append(x)
	l := p.m.Code

	p.later(func(get func(string) (ir.ID, error)) (err error) {
		x.Default, err = get(dflt)
		if err != nil {
			return err
		}

		x.Targets = make([]ir.ID, len(names))

		for i, n := range names {
			x.Targets[i], err = get(n)
			if err != nil {
				return err
			}
		}

		l.Set(id, x)

		return nil
	})

	return nil
}

func (p *parser) ldc(args []string) (ir.Insn, error) {
	if len(args) == 2 && args[0] == "class" {
		return ir.Ldc{Value: tp.Ref(args[1])}, nil
	}

	if len(args) != 1 {
		return nil, p.errorf("ldc VALUE expected")
	}

	a := args[0]

	if strings.HasPrefix(a, `"`) {
		s, err := strconv.Unquote(a)
		if err != nil {
			return nil, p.errorf("bad string %v: %v", a, err)
		}

		return ir.Ldc{Value: s}, nil
	}

	num, suff := a, byte(0)

	if l := len(a); l > 1 {
		switch c := a[l-1]; c {
		case 'L', 'l', 'F', 'f', 'D', 'd':
			num, suff = a[:l-1], c|0x20
		}
	}

	switch suff {
	case 'l':
		v, err := strconv.ParseInt(num, 0, 64)
		if err != nil {
			return nil, p.errorf("bad long: %v", a)
		}

		return ir.Ldc{Value: v}, nil
	case 'f':
		v, err := strconv.ParseFloat(num, 32)
		if err != nil {
			return nil, p.errorf("bad float: %v", a)
		}

		return ir.Ldc{Value: float32(v)}, nil
	case 'd':
		v, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return nil, p.errorf("bad double: %v", a)
		}

		return ir.Ldc{Value: v}, nil
	}

	if strings.ContainsAny(num, ".eE") && !strings.HasPrefix(num, "0x") {
		v, err := strconv.ParseFloat(num, 64)
		if err != nil {
			return nil, p.errorf("bad double: %v", a)
		}

		return ir.Ldc{Value: v}, nil
	}

	v, err := strconv.ParseInt(num, 0, 32)
	if err != nil {
		return nil, p.errorf("bad int: %v", a)
	}

	return ir.Ldc{Value: int32(v)}, nil
}

func (p *parser) member(s string) (owner, name string, err error) {
	owner, name, ok := strings.Cut(s, "#")
	if !ok || owner == "" || name == "" {
		return "", "", p.errorf("OWNER#NAME expected, got %q", s)
	}

	return owner, name, nil
}

func (p *parser) int(s string) (int, error) {
	v, err := strconv.ParseInt(s, 0, 32)
	if err != nil {
		return 0, p.errorf("bad integer: %q", s)
	}

	return int(v), nil
}

// lineTokens splits the next line into words.
// Quoted strings are single words. Comments are words starting with ; or //.
func (p *parser) lineTokens() (toks []string, err error) {
	b := p.b
	i := p.i

	defer func() {
		p.i = skipLine(b, i)
		if p.i < len(b) {
			p.i++
		}
	}()

	for {
		i = skipSpaces(b, i)

		if i == len(b) || b[i] == '\n' || b[i] == ';' || b[i] == '/' && i+1 < len(b) && b[i+1] == '/' {
			return toks, nil
		}

		st := i

		if b[i] == '"' {
			i++

			for i < len(b) && b[i] != '"' && b[i] != '\n' {
				if b[i] == '\\' {
					i++
				}

				i++
			}

			if i >= len(b) || b[i] != '"' {
				return nil, p.errorf("unterminated string")
			}

			i++
		} else {
			i = skipWord(b, i)
		}

		toks = append(toks, string(b[st:i]))
	}
}

func (p *parser) errorf(format string, args ...any) error {
	return &SyntaxError{Line: p.line, Reason: fmt.Sprintf(format, args...)}
}

func (e *SyntaxError) Error() string {
	return fmt.Sprintf("line %d: %s", e.Line, e.Reason)
}

func skipSpaces(b []byte, i int) int {
	for i < len(b) && (b[i] == ' ' || b[i] == '\t' || b[i] == '\r') {
		i++
	}

	return i
}

func skipWord(b []byte, i int) int {
	for i < len(b) {
		switch b[i] {
		case ' ', '\t', '\r', '\n':
			return i
		}

		i++
	}

	return i
}

func skipLine(b []byte, i int) int {
	for i < len(b) && b[i] != '\n' {
		i++
	}

	return i
}
