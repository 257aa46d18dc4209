package ir

import (
	"tlog.app/go/errors"
)

type (
	// List is an instruction sequence with stable IDs.
	// Inserting and removing never invalidates IDs of other instructions,
	// so branch targets, handler ranges and analysis results keyed by ID
	// stay meaningful across mutation.
	List struct {
		n []node

		first, last ID

		live int
	}

	node struct {
		x    Insn
		prev ID
		next ID
		dead bool
	}
)

func NewList(xs ...Insn) *List {
	l := &List{first: Nil, last: Nil}

	for _, x := range xs {
		l.Append(x)
	}

	return l
}

func (l *List) Append(x Insn) ID {
	if l.last == Nil {
		id := l.alloc(x)
		l.first, l.last = id, id

		return id
	}

	return l.InsertAfter(l.last, x)[0]
}

// InsertBefore inserts xs in order before at and returns their IDs.
// at == Nil means the end of the list.
func (l *List) InsertBefore(at ID, xs ...Insn) []ID {
	if at == Nil {
		if l.last == Nil {
			ids := make([]ID, len(xs))

			for i, x := range xs {
				ids[i] = l.Append(x)
			}

			return ids
		}

		return l.InsertAfter(l.last, xs...)
	}

	ids := make([]ID, len(xs))
	prev := l.n[at].prev

	for i, x := range xs {
		id := l.alloc(x)
		ids[i] = id

		l.link(prev, id, at)
		prev = id
	}

	return ids
}

// InsertAfter inserts xs in order after at and returns their IDs.
func (l *List) InsertAfter(at ID, xs ...Insn) []ID {
	ids := make([]ID, len(xs))

	for i, x := range xs {
		id := l.alloc(x)
		ids[i] = id

		l.link(at, id, l.n[at].next)
		at = id
	}

	return ids
}

// Remove unlinks the instruction. Labels can't be removed: something may refer to them.
func (l *List) Remove(id ID) error {
	if !l.Live(id) {
		return errors.New("remove dead instruction %d", id)
	}

	if _, ok := l.n[id].x.(Label); ok {
		return errors.New("remove label %d", id)
	}

	n := &l.n[id]

	if n.prev != Nil {
		l.n[n.prev].next = n.next
	} else {
		l.first = n.next
	}

	if n.next != Nil {
		l.n[n.next].prev = n.prev
	} else {
		l.last = n.prev
	}

	n.dead = true
	n.prev, n.next = Nil, Nil
	l.live--

	return nil
}

func (l *List) Get(id ID) Insn { return l.n[id].x }

func (l *List) Set(id ID, x Insn) { l.n[id].x = x }

func (l *List) Live(id ID) bool {
	return id >= 0 && int(id) < len(l.n) && !l.n[id].dead
}

func (l *List) First() ID { return l.first }
func (l *List) Last() ID  { return l.last }

func (l *List) Next(id ID) ID { return l.n[id].next }
func (l *List) Prev(id ID) ID { return l.n[id].prev }

// Len is the number of live instructions.
func (l *List) Len() int { return l.live }

// Cap is the number of IDs ever allocated. Every ID is less than Cap.
func (l *List) Cap() int { return len(l.n) }

// IDs returns live instruction IDs in order.
func (l *List) IDs() []ID {
	ids := make([]ID, 0, l.live)

	for id := l.first; id != Nil; id = l.n[id].next {
		ids = append(ids, id)
	}

	return ids
}

// Index maps live IDs to their positions.
func (l *List) Index() []int {
	pos := make([]int, len(l.n))

	for i := range pos {
		pos[i] = -1
	}

	i := 0

	for id := l.first; id != Nil; id = l.n[id].next {
		pos[id] = i
		i++
	}

	return pos
}

// Clone copies the list keeping IDs.
func (l *List) Clone() *List {
	r := *l
	r.n = append([]node(nil), l.n...)

	return &r
}

func (l *List) alloc(x Insn) ID {
	id := ID(len(l.n))
	l.n = append(l.n, node{x: x, prev: Nil, next: Nil})
	l.live++

	return id
}

func (l *List) link(prev, id, next ID) {
	l.n[id].prev = prev
	l.n[id].next = next

	if prev != Nil {
		l.n[prev].next = id
	} else {
		l.first = id
	}

	if next != Nil {
		l.n[next].prev = id
	} else {
		l.last = id
	}
}
