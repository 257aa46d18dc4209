package set

import (
	"math/bits"
	"strconv"

	"tlog.app/go/tlog/tlwire"
)

type (
	Key interface {
		~int | ~int64
	}

	// Bits is a set of small non-negative keys.
	// Copies share storage: use Copy or Union before mutating a shared set.
	Bits[K Key] struct {
		b []uint64
	}
)

func Of[K Key](k ...K) (s Bits[K]) {
	for _, k := range k {
		s.Set(k)
	}

	return s
}

// Union returns a new set, never aliasing x or y.
func Union[K Key](x, y Bits[K]) Bits[K] {
	if len(x.b) < len(y.b) {
		x, y = y, x
	}

	r := x.Copy()

	for i, w := range y.b {
		r.b[i] |= w
	}

	return r
}

func (s Bits[K]) Copy() Bits[K] {
	if s.b == nil {
		return Bits[K]{}
	}

	return Bits[K]{b: append([]uint64(nil), s.b...)}
}

func (s *Bits[K]) Set(k K) {
	i, j := ij(k)

	s.grow(i)

	s.b[i] |= 1 << j
}

func (s Bits[K]) IsSet(k K) bool {
	if k < 0 {
		return false
	}

	i, j := ij(k)

	if i >= len(s.b) {
		return false
	}

	return s.b[i]&(1<<j) != 0
}

func (s *Bits[K]) Clear(k K) {
	i, j := ij(k)

	if i >= len(s.b) {
		return
	}

	s.b[i] &^= 1 << j
}

// Merge adds all keys of x and reports whether s changed.
func (s *Bits[K]) Merge(x Bits[K]) (changed bool) {
	for i, w := range x.b {
		if w == 0 {
			continue
		}

		s.grow(i)

		if s.b[i]|w != s.b[i] {
			s.b[i] |= w
			changed = true
		}
	}

	return changed
}

func (s Bits[K]) Intersects(x Bits[K]) bool {
	n := min(len(s.b), len(x.b))

	for i := 0; i < n; i++ {
		if s.b[i]&x.b[i] != 0 {
			return true
		}
	}

	return false
}

func (s Bits[K]) Equal(x Bits[K]) bool {
	n := max(len(s.b), len(x.b))

	for i := 0; i < n; i++ {
		var a, b uint64

		if i < len(s.b) {
			a = s.b[i]
		}

		if i < len(x.b) {
			b = x.b[i]
		}

		if a != b {
			return false
		}
	}

	return true
}

func (s Bits[K]) Size() (r int) {
	for _, c := range s.b {
		r += bits.OnesCount64(c)
	}

	return r
}

func (s Bits[K]) Empty() bool {
	for _, c := range s.b {
		if c != 0 {
			return false
		}
	}

	return true
}

func (s Bits[K]) Range(f func(k K) bool) {
	for i, x := range s.b {
		for x != 0 {
			j := bits.TrailingZeros64(x)
			x &^= 1 << j

			if !f(K(i*64 + j)) {
				return
			}
		}
	}
}

// Slice returns the keys in ascending order.
func (s Bits[K]) Slice() (r []K) {
	s.Range(func(k K) bool {
		r = append(r, k)
		return true
	})

	return r
}

// First returns the smallest key or -1.
func (s Bits[K]) First() K {
	for i, x := range s.b {
		if x != 0 {
			return K(i*64 + bits.TrailingZeros64(x))
		}
	}

	return -1
}

// AppendKey appends a canonical encoding of the set usable as a map key part.
func (s Bits[K]) AppendKey(b []byte) []byte {
	l := len(s.b)

	for l > 0 && s.b[l-1] == 0 {
		l--
	}

	for i, x := range s.b[:l] {
		if i != 0 {
			b = append(b, '.')
		}

		b = strconv.AppendUint(b, x, 16)
	}

	return b
}

func (s Bits[K]) String() string {
	b := []byte{'{'}

	s.Range(func(k K) bool {
		if len(b) > 1 {
			b = append(b, ' ')
		}

		b = strconv.AppendInt(b, int64(k), 10)

		return true
	})

	b = append(b, '}')

	return string(b)
}

func (s Bits[K]) TlogAppend(b []byte) []byte {
	var e tlwire.LowEncoder

	b = e.AppendTag(b, tlwire.Array, -1)

	s.Range(func(k K) bool {
		b = e.AppendInt(b, int(k))

		return true
	})

	b = e.AppendBreak(b)

	return b
}

func ij[K Key](k K) (i int, j int) {
	p := int(k)

	return p / 64, p % 64
}

func (s *Bits[K]) grow(i int) {
	for i >= len(s.b) {
		s.b = append(s.b, 0)
	}
}
