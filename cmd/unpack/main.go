package main

import (
	"context"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/mattn/go-isatty"
	"gopkg.in/yaml.v3"
	"nikand.dev/go/cli"
	"tlog.app/go/errors"
	"tlog.app/go/tlog"

	"github.com/slowlang/unpack/compiler"
	"github.com/slowlang/unpack/compiler/catalog"
	"github.com/slowlang/unpack/compiler/format"
	"github.com/slowlang/unpack/compiler/sig"
)

func main() {
	catalogFlag := cli.NewFlag("catalog", "", "method catalog file (.toml, .yaml), built-in if empty")

	transformCmd := &cli.Command{
		Name:        "transform",
		Description: "expand packed positions into three ints",
		Action:      transformAct,
		Args:        cli.Args{},
		Flags: []*cli.Flag{
			catalogFlag,
			cli.NewFlag("out,o", "", "output file, the format is chosen by the extension; stdout if empty"),
			cli.NewFlag("jobs,j", 0, "methods transformed in parallel, 0 for all cpus"),
			cli.NewFlag("suffix", sig.DefaultSuffix, "name suffix for methods keeping their descriptor"),
			cli.NewFlag("report", "", "report file, stderr if empty"),
		},
	}

	dumpCmd := &cli.Command{
		Name:        "dump",
		Description: "print class files as assembly text",
		Action:      dumpAct,
		Args:        cli.Args{},
	}

	catalogCmd := &cli.Command{
		Name:        "catalog",
		Description: "print the effective method catalog",
		Action:      catalogAct,
		Flags: []*cli.Flag{
			catalogFlag,
		},
	}

	app := &cli.Command{
		Name:        "unpack",
		Description: "unpack rewrites methods passing packed block positions to use three ints",
		Before:      before,
		Flags: []*cli.Flag{
			cli.NewFlag("verbosity,v", "", "logger verbosity topics"),
			cli.HelpFlag,
		},
		Commands: []*cli.Command{
			transformCmd,
			dumpCmd,
			catalogCmd,
		},
	}

	cli.RunAndExit(app, os.Args, os.Environ())
}

func before(c *cli.Command) error {
	tlog.SetVerbosity(c.String("verbosity"))

	return nil
}

func transformAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	run := uuid.New().String()
	ctx = compiler.ContextWithRunID(ctx, run)

	tr := tlog.Start("transform", "run", run, "files", len(c.Args))
	defer tr.Finish("err", &err)

	ctx = tlog.ContextWithSpan(ctx, tr)

	cat, err := loadCatalog(c.String("catalog"))
	if err != nil {
		return err
	}

	t := compiler.New(cat)
	t.Jobs = c.Int("jobs")
	t.Suffix = c.String("suffix")

	if out := c.String("out"); out != "" && len(c.Args) != 1 {
		return errors.New("--out needs exactly one input file, got %d", len(c.Args))
	}

	var reports []*compiler.Report

	for _, a := range c.Args {
		cl, err := compiler.ReadFile(ctx, a)
		if err != nil {
			return errors.Wrap(err, "read %v", a)
		}

		res, rep, err := t.Class(ctx, cl)
		if err != nil {
			return errors.Wrap(err, "transform %v", a)
		}

		reports = append(reports, rep)

		out := c.String("out")

		data, err := compiler.Encode(ctx, out, res)
		if err != nil {
			return errors.Wrap(err, "encode %v", a)
		}

		if out == "" {
			_, err = os.Stdout.Write(data)
		} else {
			err = os.WriteFile(out, data, 0o644)
		}

		if err != nil {
			return errors.Wrap(err, "write")
		}
	}

	err = writeReports(c.String("report"), reports)
	if err != nil {
		return errors.Wrap(err, "report")
	}

	failed := 0
	for _, r := range reports {
		failed += r.Failed()
	}

	if failed != 0 {
		tr.Printw("some methods were not transformed", "failed", failed)
	}

	return nil
}

func dumpAct(c *cli.Command) (err error) {
	ctx := context.Background()
	ctx = tlog.ContextWithSpan(ctx, tlog.Root())

	for _, a := range c.Args {
		cl, err := compiler.ReadFile(ctx, a)
		if err != nil {
			return errors.Wrap(err, "read %v", a)
		}

		b, err := format.Format(ctx, nil, cl)
		if err != nil {
			return errors.Wrap(err, "format %v", a)
		}

		fmt.Printf("%s", b)
	}

	return nil
}

func catalogAct(c *cli.Command) (err error) {
	cat, err := loadCatalog(c.String("catalog"))
	if err != nil {
		return err
	}

	fmt.Printf("unpacking:\n")

	for i, k := range cat.Unpack {
		fmt.Printf("  %c %v\n", 'x'+rune(i), k)
	}

	if !cat.Offset.Method.IsZero() {
		fmt.Printf("offset: %v\n", cat.Offset.Method)

		for _, k := range cat.Offset.Axes {
			fmt.Printf("  %v\n", k)
		}
	}

	fmt.Printf("sentinel: %d -> %d\n", cat.Sentinel.Packed, cat.Sentinel.Narrow)
	fmt.Printf("methods:\n")

	for _, e := range cat.Entries() {
		fmt.Printf("  %v\n", e.Key)

		switch {
		case e.Pack:
			fmt.Printf("    pack\n")
		case !e.Axes[0].IsZero():
			fmt.Printf("    axes %v %v %v\n", e.Axes[0].Name, e.Axes[1].Name, e.Axes[2].Name)
		}

		if len(e.PackedArgs) != 0 {
			fmt.Printf("    packed args %v -> %v\n", e.PackedArgs, e.Rename)
		}
	}

	return nil
}

func loadCatalog(name string) (*catalog.Catalog, error) {
	if name == "" {
		return catalog.Default()
	}

	return catalog.Load(name)
}

func writeReports(name string, reports []*compiler.Report) (err error) {
	var w io.Writer = os.Stderr

	if name != "" {
		f, ferr := os.Create(name)
		if ferr != nil {
			return ferr
		}

		defer func() {
			e := f.Close()
			if err == nil {
				err = e
			}
		}()

		w = f
	}

	if f, ok := w.(*os.File); ok && isatty.IsTerminal(f.Fd()) {
		for _, r := range reports {
			printReport(w, r)
		}

		return nil
	}

	e := yaml.NewEncoder(w)
	e.SetIndent(2)

	for _, r := range reports {
		err = e.Encode(r)
		if err != nil {
			return err
		}
	}

	return e.Close()
}

func printReport(w io.Writer, r *compiler.Report) {
	fmt.Fprintf(w, "class %v  run %v\n", r.Class, r.Run)

	for _, m := range r.Methods {
		switch m.Status {
		case compiler.StatusTransformed:
			fmt.Fprintf(w, "  %-11v %v -> %v  slots %v\n", m.Status, m.Method, m.New, m.Expanded)
		case compiler.StatusFailed:
			fmt.Fprintf(w, "  %-11v %v: %v\n", m.Status, m.Method, m.Error)
		default:
			fmt.Fprintf(w, "  %-11v %v\n", m.Status, m.Method)
		}

		for _, x := range m.Warnings {
			fmt.Fprintf(w, "    warning: %v\n", x)
		}
	}
}
