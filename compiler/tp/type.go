package tp

import (
	"strings"

	"tlog.app/go/errors"
)

type (
	Type interface {
		Size() int
		Desc() string
	}

	Prim byte

	// Object is a class type by internal name, like java/lang/String.
	Object string

	Array struct {
		Elem Type
	}

	Func struct {
		In  []Type
		Out Type
	}

	special string
)

const (
	Void    Prim = 'V'
	Boolean Prim = 'Z'
	Byte    Prim = 'B'
	Char    Prim = 'C'
	Short   Prim = 'S'
	Int     Prim = 'I'
	Long    Prim = 'J'
	Float   Prim = 'F'
	Double  Prim = 'D'
)

var (
	// Top is the value of an unusable slot: the second half of a wide value
	// or a merge of incompatible types.
	Top  Type = special("top")
	Null Type = special("null")

	Obj       = Object("java/lang/Object")
	String    = Object("java/lang/String")
	Class     = Object("java/lang/Class")
	Throwable = Object("java/lang/Throwable")
)

func (x Prim) Size() int {
	switch x {
	case Long, Double:
		return 2
	case Void:
		return 0
	default:
		return 1
	}
}

func (x Prim) Desc() string   { return string(rune(x)) }
func (x Prim) String() string { return x.Desc() }

func (x Object) Size() int      { return 1 }
func (x Object) Desc() string   { return "L" + string(x) + ";" }
func (x Object) String() string { return string(x) }

func (x Array) Size() int      { return 1 }
func (x Array) Desc() string   { return "[" + x.Elem.Desc() }
func (x Array) String() string { return x.Desc() }

func (x special) Size() int      { return 1 }
func (x special) Desc() string   { return string(x) }
func (x special) String() string { return string(x) }

// Size of a method type is the number of slots its arguments take.
func (x Func) Size() (s int) {
	for _, a := range x.In {
		s += a.Size()
	}

	return s
}

func (x Func) Desc() string {
	var b strings.Builder

	b.WriteByte('(')

	for _, a := range x.In {
		b.WriteString(a.Desc())
	}

	b.WriteByte(')')

	if x.Out == nil {
		b.WriteString(Void.Desc())
	} else {
		b.WriteString(x.Out.Desc())
	}

	return b.String()
}

func (x Func) String() string { return x.Desc() }

// Type of a class reference as used by class literals and type instructions.
// Internal names of arrays are their descriptors.
func Ref(internal string) Type {
	if strings.HasPrefix(internal, "[") {
		t, err := Parse(internal)
		if err == nil {
			return t
		}
	}

	return Object(internal)
}

func Parse(desc string) (Type, error) {
	t, i, err := parse(desc, 0)
	if err != nil {
		return nil, err
	}

	if i != len(desc) {
		return nil, errors.New("trailing data in descriptor %q at %d", desc, i)
	}

	return t, nil
}

func ParseFunc(desc string) (f Func, err error) {
	if !strings.HasPrefix(desc, "(") {
		return f, errors.New("method descriptor expected: %q", desc)
	}

	i := 1

	for i < len(desc) && desc[i] != ')' {
		var t Type

		t, i, err = parse(desc, i)
		if err != nil {
			return f, err
		}

		if t == Void {
			return f, errors.New("void argument in %q", desc)
		}

		f.In = append(f.In, t)
	}

	if i == len(desc) {
		return f, errors.New("unterminated arguments in %q", desc)
	}

	f.Out, i, err = parse(desc, i+1)
	if err != nil {
		return f, err
	}

	if i != len(desc) {
		return f, errors.New("trailing data in descriptor %q at %d", desc, i)
	}

	return f, nil
}

// NumArgs counts the arguments of a method descriptor.
func NumArgs(desc string) (int, error) {
	f, err := ParseFunc(desc)
	if err != nil {
		return 0, err
	}

	return len(f.In), nil
}

func parse(desc string, st int) (t Type, i int, err error) {
	if st >= len(desc) {
		return nil, st, errors.New("unexpected end of descriptor %q", desc)
	}

	switch c := desc[st]; c {
	case 'V', 'Z', 'B', 'C', 'S', 'I', 'J', 'F', 'D':
		return Prim(c), st + 1, nil
	case 'L':
		end := strings.IndexByte(desc[st:], ';')
		if end <= 1 {
			return nil, st, errors.New("bad object type in %q at %d", desc, st)
		}

		return Object(desc[st+1 : st+end]), st + end + 1, nil
	case '[':
		el, i, err := parse(desc, st+1)
		if err != nil {
			return nil, i, err
		}

		if el == Void {
			return nil, i, errors.New("void array element in %q", desc)
		}

		return Array{Elem: el}, i, nil
	default:
		return nil, st, errors.New("unexpected %q in descriptor %q at %d", c, desc, st)
	}
}

func Equal(x, y Type) bool {
	if x == nil || y == nil {
		return x == y
	}

	return x.Desc() == y.Desc()
}

// IsInt reports whether values of the type live on the stack as int.
func IsInt(t Type) bool {
	switch t {
	case Boolean, Byte, Char, Short, Int:
		return true
	}

	return false
}

func IsRef(t Type) bool {
	switch t.(type) {
	case Object, Array:
		return true
	}

	return t == Null
}

// Merge joins two types meeting at a control flow merge.
func Merge(x, y Type) Type {
	switch {
	case Equal(x, y):
		return x
	case IsInt(x) && IsInt(y):
		return Int
	case x == Null && IsRef(y):
		return y
	case y == Null && IsRef(x):
		return x
	case IsRef(x) && IsRef(y):
		return Obj
	default:
		return Top
	}
}

// Expand replaces the arguments at the given indices with three ints each.
// Every expanded argument must be a long.
func Expand(f Func, args []int) (Func, error) {
	r := Func{Out: f.Out, In: make([]Type, 0, len(f.In)+2*len(args))}

	exp := make(map[int]bool, len(args))

	for _, a := range args {
		if a < 0 || a >= len(f.In) {
			return Func{}, errors.New("argument %d out of range %v", a, f.Desc())
		}

		if f.In[a] != Long {
			return Func{}, errors.New("argument %d of %v is %v, not long", a, f.Desc(), f.In[a].Desc())
		}

		exp[a] = true
	}

	for i, t := range f.In {
		if exp[i] {
			r.In = append(r.In, Int, Int, Int)
		} else {
			r.In = append(r.In, t)
		}
	}

	return r, nil
}
