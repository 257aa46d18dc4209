package ir

import (
	"nikand.dev/go/heap"
	"tlog.app/go/errors"
)

type (
	depthJob struct {
		pos   int
		depth int
	}
)

// MaxStack computes the maximum operand stack depth in slot words.
// Stack depths must agree at every merge point.
func MaxStack(m *Method) (max int, err error) {
	l := m.Code
	ids := l.IDs()
	pos := l.Index()

	depth := make([]int, len(ids))
	for i := range depth {
		depth[i] = -1
	}

	jobs := heap.Heap[depthJob]{Less: func(d []depthJob, i, j int) bool { return d[i].pos < d[j].pos }}

	push := func(at ID, p, d int) error {
		if p < 0 || p >= len(ids) {
			return Malformed(at, "branch target out of code")
		}

		switch {
		case depth[p] == -1:
			depth[p] = d
			jobs.Push(depthJob{pos: p, depth: d})
		case depth[p] != d:
			return Malformed(ids[p], "stack depth mismatch: %d vs %d", depth[p], d)
		}

		return nil
	}

	target := func(id ID) int {
		if !l.Live(id) {
			return -1
		}

		return pos[id]
	}

	if len(ids) != 0 {
		if err = push(Nil, 0, 0); err != nil {
			return 0, err
		}
	}

	for _, h := range m.Handlers {
		if err = push(h.Handler, target(h.Handler), 1); err != nil {
			return 0, err
		}
	}

	max = min(len(m.Handlers), 1)

	for jobs.Len() != 0 {
		j := jobs.Pop()
		id := ids[j.pos]
		x := l.Get(id)

		pop, psh, err := Effect(x)
		if err != nil {
			return 0, errors.Wrap(err, "insn %d", id)
		}

		if pop > j.depth {
			return 0, Malformed(id, "stack underflow: need %d, have %d", pop, j.depth)
		}

		d := j.depth - pop + psh
		if d > max {
			max = d
		}

		for _, t := range Targets(x) {
			if err = push(id, target(t), d); err != nil {
				return 0, err
			}
		}

		if !Falls(x.Opcode()) {
			continue
		}

		if j.pos+1 == len(ids) {
			return 0, Malformed(id, "falls off the end of code")
		}

		if err = push(id, j.pos+1, d); err != nil {
			return 0, err
		}
	}

	return max, nil
}
