package ir

import (
	"tlog.app/go/errors"

	"github.com/slowlang/unpack/compiler/tp"
)

type (
	Access uint16

	Class struct {
		Name    string
		Super   string
		Methods []*Method
	}

	Method struct {
		Name   string
		Desc   string
		Access Access

		Code *List

		Locals   []LocalVar
		Handlers []Handler

		MaxStack  int
		MaxLocals int
	}

	// LocalVar is a local variable table entry, live in [Start, End).
	LocalVar struct {
		Name      string
		Desc      string
		Signature string

		Start ID
		End   ID

		Slot int
	}

	// Handler covers [Start, End). Empty Type catches everything.
	Handler struct {
		Start   ID
		End     ID
		Handler ID

		Type string
	}
)

const (
	AccPublic       Access = 0x0001
	AccPrivate      Access = 0x0002
	AccProtected    Access = 0x0004
	AccStatic       Access = 0x0008
	AccFinal        Access = 0x0010
	AccSynchronized Access = 0x0020
	AccBridge       Access = 0x0040
	AccVarargs      Access = 0x0080
	AccNative       Access = 0x0100
	AccAbstract     Access = 0x0400
	AccStrict       Access = 0x0800
	AccSynthetic    Access = 0x1000
)

var accNames = []struct {
	a Access
	n string
}{
	{AccPublic, "public"},
	{AccPrivate, "private"},
	{AccProtected, "protected"},
	{AccStatic, "static"},
	{AccFinal, "final"},
	{AccSynchronized, "synchronized"},
	{AccBridge, "bridge"},
	{AccVarargs, "varargs"},
	{AccNative, "native"},
	{AccAbstract, "abstract"},
	{AccStrict, "strict"},
	{AccSynthetic, "synthetic"},
}

func (a Access) Names() (r []string) {
	for _, x := range accNames {
		if a&x.a != 0 {
			r = append(r, x.n)
		}
	}

	return r
}

func ParseAccess(n string) (Access, bool) {
	for _, x := range accNames {
		if x.n == n {
			return x.a, true
		}
	}

	return 0, false
}

func (m *Method) Static() bool { return m.Access&AccStatic != 0 }

func (m *Method) String() string { return m.Name + m.Desc }

func (m *Method) Type() (tp.Func, error) {
	return tp.ParseFunc(m.Desc)
}

// Params returns the types of the initial local slots:
// receiver first unless static, then arguments.
// Second halves of wide arguments are tp.Top.
func (m *Method) Params(owner string) ([]tp.Type, error) {
	f, err := m.Type()
	if err != nil {
		return nil, errors.Wrap(err, "method type")
	}

	var r []tp.Type

	if !m.Static() {
		r = append(r, tp.Object(owner))
	}

	for _, t := range f.In {
		r = append(r, t)

		if t.Size() == 2 {
			r = append(r, tp.Top)
		}
	}

	return r, nil
}

func (m *Method) Clone() *Method {
	r := *m

	if m.Code != nil {
		r.Code = m.Code.Clone()
	}

	r.Locals = append([]LocalVar(nil), m.Locals...)
	r.Handlers = append([]Handler(nil), m.Handlers...)

	return &r
}

func (c *Class) Method(name, desc string) *Method {
	for _, m := range c.Methods {
		if m.Name == name && m.Desc == desc {
			return m
		}
	}

	return nil
}
