package compiler

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/unpack/compiler/analyze"
	"github.com/slowlang/unpack/compiler/asm"
	"github.com/slowlang/unpack/compiler/catalog"
	"github.com/slowlang/unpack/compiler/dump"
	"github.com/slowlang/unpack/compiler/expand"
	"github.com/slowlang/unpack/compiler/format"
	"github.com/slowlang/unpack/compiler/ir"
	"github.com/slowlang/unpack/compiler/remap"
	"github.com/slowlang/unpack/compiler/rewrite"
	"github.com/slowlang/unpack/compiler/sig"
)

type (
	Transformer struct {
		Catalog *catalog.Catalog

		// Suffix is appended to names of transformed methods keeping their descriptor.
		Suffix string

		// Jobs is the number of methods transformed in parallel. 0 means GOMAXPROCS.
		Jobs int
	}

	// Result of a single method transformation.
	// Method is nil if the method needed no changes.
	Result struct {
		Method *ir.Method

		Expanded []int
		Rules    map[string]int
		Calls    int
		Warnings []string
	}

	// MethodError is a failure isolated to one method.
	// Pos is the instruction position in the original code or -1.
	MethodError struct {
		Method string
		Pos    int
		Err    error
	}

	Report struct {
		Run     string         `yaml:"run"`
		Class   string         `yaml:"class"`
		Methods []MethodReport `yaml:"methods"`
	}

	MethodReport struct {
		Method   string         `yaml:"method"`
		Status   string         `yaml:"status"`
		New      string         `yaml:"new,omitempty"`
		Expanded []int          `yaml:"expanded,omitempty,flow"`
		Rules    map[string]int `yaml:"rules,omitempty"`
		Calls    int            `yaml:"calls,omitempty"`
		Warnings []string       `yaml:"warnings,omitempty"`
		Error    string         `yaml:"error,omitempty"`
	}
)

const (
	StatusUnchanged   = "unchanged"
	StatusTransformed = "transformed"
	StatusFailed      = "failed"
)

func New(cat *catalog.Catalog) *Transformer {
	return &Transformer{
		Catalog: cat,
		Suffix:  sig.DefaultSuffix,
	}
}

// Method transforms a copy of the method. The original is never modified.
// owner is the internal name of the declaring class.
func (t *Transformer) Method(ctx context.Context, owner string, m *ir.Method) (res *Result, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "transform method", "method", m.String())
	defer tr.Finish("err", &err)

	defer func() {
		if err != nil {
			err = newMethodError(m, err)
		}
	}()

	r, err := analyze.Analyze(ctx, owner, m)
	if err != nil {
		return nil, errors.Wrap(err, "analyze")
	}

	exp, err := expand.Solve(ctx, t.Catalog, r)
	if err != nil {
		return nil, errors.Wrap(err, "expansion set")
	}

	res = &Result{
		Expanded: exp.Slots.Slice(),
		Warnings: exp.Warnings,
	}

	mp := remap.New(exp.Slots)
	out := m.Clone()

	_, err = mp.Apply(out.Code)
	if err != nil {
		return nil, errors.Wrap(err, "remap slots")
	}

	e := &rewrite.Env{
		Cat:  t.Catalog,
		Map:  mp,
		Code: out.Code,
	}

	n, err := rewrite.Apply(ctx, e, rewrite.Rules())
	if err != nil {
		return nil, errors.Wrap(err, "rewrite patterns")
	}

	res.Calls, err = rewrite.Calls(ctx, e, r, exp)
	if err != nil {
		return nil, errors.Wrap(err, "rewrite calls")
	}

	err = rewrite.Leftovers(e)
	if err != nil {
		return nil, err
	}

	res.Rules = e.Stats

	if mp.Empty() && n == 0 && res.Calls == 0 {
		return res, nil
	}

	suffix := t.Suffix
	if suffix == "" {
		suffix = sig.DefaultSuffix
	}

	err = sig.Apply(out, mp, suffix)
	if err != nil {
		return nil, errors.Wrap(err, "signature")
	}

	res.Method = out

	tr.V("transform").Printw("method transformed", "new", out.String(), "expanded", exp.Slots, "rules", n, "calls", res.Calls)

	if tr.If("dump_code") {
		tr.Printw("transformed code", "code", format.Method(out))
	}

	return res, nil
}

// Class transforms all methods of the class in parallel.
// The returned class has a transformed copy appended for every changed method.
// A method failing to transform is reported and left as is.
// Malformed input aborts the whole run.
func (t *Transformer) Class(ctx context.Context, c *ir.Class) (_ *ir.Class, rep *Report, err error) {
	tr, ctx := tlog.SpawnFromContextAndWrap(ctx, "transform class", "class", c.Name, "methods", len(c.Methods))
	defer tr.Finish("err", &err)

	type result struct {
		res *Result
		err error
	}

	rs := make([]result, len(c.Methods))

	g, gctx := errgroup.WithContext(ctx)

	jobs := t.Jobs
	if jobs <= 0 {
		jobs = runtime.GOMAXPROCS(0)
	}

	g.SetLimit(jobs)

	for i, m := range c.Methods {
		if m.Code == nil || m.Code.Len() == 0 {
			continue
		}

		i, m := i, m

		g.Go(func() error {
			res, err := t.Method(gctx, c.Name, m)
			if analyze.IsMalformed(err) {
				return err
			}

			rs[i] = result{res: res, err: err}

			return nil
		})
	}

	err = g.Wait()
	if err != nil {
		return nil, nil, errors.Wrap(err, "class %v", c.Name)
	}

	out := &ir.Class{
		Name:    c.Name,
		Super:   c.Super,
		Methods: append([]*ir.Method(nil), c.Methods...),
	}

	rep = &Report{
		Run:   uuid.New().String(),
		Class: c.Name,
	}

	if id, ok := RunID(ctx); ok {
		rep.Run = id
	}

	seen := map[string]bool{}

	for _, m := range c.Methods {
		seen[m.String()] = true
	}

	for i, m := range c.Methods {
		mr := MethodReport{
			Method: m.String(),
			Status: StatusUnchanged,
		}

		res, err := rs[i].res, rs[i].err

		if err == nil && res != nil && res.Method != nil && seen[res.Method.String()] {
			err = newMethodError(m, errors.New("transformed method %v already exists", res.Method))
		}

		if res != nil {
			mr.Expanded = res.Expanded
			mr.Rules = res.Rules
			mr.Calls = res.Calls
			mr.Warnings = res.Warnings
		}

		switch {
		case err != nil:
			mr.Status = StatusFailed
			mr.Error = err.Error()

			tr.Printw("method failed", "method", m.String(), "err", err)
		case res != nil && res.Method != nil:
			mr.Status = StatusTransformed
			mr.New = res.Method.String()

			seen[mr.New] = true
			out.Methods = append(out.Methods, res.Method)
		}

		rep.Methods = append(rep.Methods, mr)
	}

	return out, rep, nil
}

// Failed returns the number of methods failed to transform.
func (r *Report) Failed() (n int) {
	for _, m := range r.Methods {
		if m.Status == StatusFailed {
			n++
		}
	}

	return n
}

func newMethodError(m *ir.Method, err error) error {
	var me *MethodError
	if errors.As(err, &me) {
		return err
	}

	pos := -1
	at := ir.Nil

	var ce *ir.ConsistencyError
	var mf *ir.MalformedError

	switch {
	case errors.As(err, &ce):
		at = ce.At
	case errors.As(err, &mf):
		at = mf.At
	}

	if at != ir.Nil && m.Code != nil {
		if idx := m.Code.Index(); int(at) < len(idx) {
			pos = idx[at]
		}
	}

	return &MethodError{
		Method: m.String(),
		Pos:    pos,
		Err:    err,
	}
}

func (e *MethodError) Error() string {
	if e.Pos < 0 {
		return e.Method + ": " + e.Err.Error()
	}

	return fmt.Sprintf("%v at %d: %v", e.Method, e.Pos, e.Err)
}

func (e *MethodError) Unwrap() error { return e.Err }

type runIDKey struct{}

// ContextWithRunID makes Class use the id in its report instead of a fresh one.
func ContextWithRunID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, runIDKey{}, id)
}

func RunID(ctx context.Context) (string, bool) {
	id, ok := ctx.Value(runIDKey{}).(string)

	return id, ok
}

// ReadFile reads a class choosing the format by the extension:
// .yaml and .yml model dumps, .cbor binary dumps, anything else is assembly text.
func ReadFile(ctx context.Context, name string) (*ir.Class, error) {
	tr := tlog.SpanFromContext(ctx)

	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml", ".cbor":
	default:
		return asm.ParseFile(ctx, name)
	}

	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read file")
	}

	tr.Printw("read file", "size", len(data), "name", name)

	if strings.EqualFold(filepath.Ext(name), ".cbor") {
		return dump.DecodeCBOR(data)
	}

	return dump.DecodeYAML(data)
}

// Encode encodes the class in the format chosen by the file name extension
// the same way ReadFile decodes it.
func Encode(ctx context.Context, name string, c *ir.Class) ([]byte, error) {
	switch strings.ToLower(filepath.Ext(name)) {
	case ".yaml", ".yml":
		return dump.EncodeYAML(c)
	case ".cbor":
		return dump.EncodeCBOR(c)
	}

	return format.Format(ctx, nil, c)
}
