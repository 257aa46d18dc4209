package catalog

import (
	"bytes"
	_ "embed"
	"os"
	"path/filepath"
	"sort"
	"strings"

	"github.com/BurntSushi/toml"
	"gopkg.in/yaml.v3"
	"tlog.app/go/errors"

	"github.com/slowlang/unpack/compiler/tp"
)

type (
	// Key identifies a method: owner#name desc.
	Key struct {
		Owner string
		Name  string
		Desc  string
	}

	Entry struct {
		Key Key

		ReturnsPacked bool
		PackedArgs    []int // argument indices, receiver not counted
		Static        bool

		// Rename is the replacement identity. Its Desc is derived from Key.Desc by expanding PackedArgs.
		Rename Key

		// Axes are accessors on the receiver producing the three narrow values of a packed result.
		Axes [3]Key
		// Pack means a static (III)J call packing its three arguments.
		Pack bool
	}

	// Offset describes the packed offset-by-direction call.
	Offset struct {
		Method Key
		Axes   [3]Key
	}

	Sentinel struct {
		Packed int64
		Narrow int32
	}

	// Catalog is constructed once and then only read, possibly from many goroutines.
	Catalog struct {
		methods map[Key]*Entry

		Unpack   [3]Key
		Offset   Offset
		Sentinel Sentinel
	}

	file struct {
		Unpacking []string             `toml:"unpacking" yaml:"unpacking"`
		Offset    *fileOffset          `toml:"offset" yaml:"offset"`
		Sentinel  *fileSentinel        `toml:"sentinel" yaml:"sentinel"`
		Methods   map[string]fileEntry `toml:"methods" yaml:"methods"`
	}

	fileOffset struct {
		Method string   `toml:"method" yaml:"method"`
		Axes   []string `toml:"axes" yaml:"axes"`
	}

	fileSentinel struct {
		Packed int64 `toml:"packed" yaml:"packed"`
		Narrow int32 `toml:"narrow" yaml:"narrow"`
	}

	fileEntry struct {
		ReturnsPacked bool     `toml:"returns_packed" yaml:"returns_packed"`
		PackedArgs    []int    `toml:"packed_args" yaml:"packed_args"`
		Static        bool     `toml:"static" yaml:"static"`
		Rename        string   `toml:"rename" yaml:"rename"`
		Axes          []string `toml:"axes" yaml:"axes"`
		Pack          bool     `toml:"pack" yaml:"pack"`
	}
)

//go:embed default.toml
var defaultTOML []byte

// Default is the built-in block position catalog.
func Default() (*Catalog, error) {
	c, err := DecodeTOML(defaultTOML)
	if err != nil {
		return nil, errors.Wrap(err, "default catalog")
	}

	return c, nil
}

// Load reads a catalog file. The format is chosen by the extension:
// .toml, or .yaml, .yml and .json.
func Load(name string) (*Catalog, error) {
	data, err := os.ReadFile(name)
	if err != nil {
		return nil, errors.Wrap(err, "read catalog")
	}

	var c *Catalog

	switch ext := strings.ToLower(filepath.Ext(name)); ext {
	case ".toml":
		c, err = DecodeTOML(data)
	case ".yaml", ".yml", ".json":
		c, err = DecodeYAML(data)
	default:
		return nil, errors.New("unsupported catalog format: %q", ext)
	}

	if err != nil {
		return nil, errors.Wrap(err, "%v", name)
	}

	return c, nil
}

func DecodeTOML(data []byte) (*Catalog, error) {
	var f file

	md, err := toml.Decode(string(data), &f)
	if err != nil {
		return nil, errors.Wrap(err, "decode toml")
	}

	if u := md.Undecoded(); len(u) != 0 {
		return nil, errors.New("unknown keys: %v", u)
	}

	return f.build()
}

func DecodeYAML(data []byte) (*Catalog, error) {
	var f file

	d := yaml.NewDecoder(bytes.NewReader(data))
	d.KnownFields(true)

	err := d.Decode(&f)
	if err != nil {
		return nil, errors.Wrap(err, "decode yaml")
	}

	return f.build()
}

func ParseKey(s string) (k Key, err error) {
	om, desc, ok := strings.Cut(s, " ")
	if !ok {
		return k, errors.New("bad method key %q: owner#name desc expected", s)
	}

	k.Owner, k.Name, ok = strings.Cut(om, "#")
	if !ok || k.Owner == "" || k.Name == "" {
		return k, errors.New("bad method key %q: owner#name desc expected", s)
	}

	k.Desc = desc

	if _, err = tp.ParseFunc(desc); err != nil {
		return k, errors.Wrap(err, "method key %q", s)
	}

	return k, nil
}

func (k Key) String() string { return k.Owner + "#" + k.Name + " " + k.Desc }

func (k Key) IsZero() bool { return k == Key{} }

func (f *file) build() (c *Catalog, err error) {
	c = &Catalog{
		methods: make(map[Key]*Entry, len(f.Methods)),
		Sentinel: Sentinel{
			Packed: 1<<63 - 1,
			Narrow: 1<<31 - 1,
		},
	}

	if len(f.Unpacking) != 3 {
		return nil, errors.New("unpacking: exactly 3 methods expected, got %d", len(f.Unpacking))
	}

	for i, s := range f.Unpacking {
		c.Unpack[i], err = accessor(s, "(J)I")
		if err != nil {
			return nil, errors.Wrap(err, "unpacking %d", i)
		}
	}

	if f.Offset != nil {
		c.Offset.Method, err = ParseKey(f.Offset.Method)
		if err != nil {
			return nil, errors.Wrap(err, "offset")
		}

		ft, _ := tp.ParseFunc(c.Offset.Method.Desc)
		if len(ft.In) != 2 || ft.In[0] != tp.Long || !tp.IsRef(ft.In[1]) || ft.Out != tp.Long {
			return nil, errors.New("offset: (JL...;)J method expected, got %v", c.Offset.Method.Desc)
		}

		if len(f.Offset.Axes) != 3 {
			return nil, errors.New("offset: exactly 3 axes expected")
		}

		for i, s := range f.Offset.Axes {
			c.Offset.Axes[i], err = accessor(s, "()I")
			if err != nil {
				return nil, errors.Wrap(err, "offset axis %d", i)
			}
		}
	}

	if f.Sentinel != nil {
		c.Sentinel = Sentinel{Packed: f.Sentinel.Packed, Narrow: f.Sentinel.Narrow}
	}

	for s, fe := range f.Methods {
		e, err := fe.build(s)
		if err != nil {
			return nil, errors.Wrap(err, "method %q", s)
		}

		c.methods[e.Key] = e
	}

	return c, nil
}

func (fe fileEntry) build(s string) (e *Entry, err error) {
	e = &Entry{
		ReturnsPacked: fe.ReturnsPacked,
		PackedArgs:    append([]int(nil), fe.PackedArgs...),
		Static:        fe.Static,
		Pack:          fe.Pack,
	}

	e.Key, err = ParseKey(s)
	if err != nil {
		return nil, err
	}

	sort.Ints(e.PackedArgs)

	f, _ := tp.ParseFunc(e.Key.Desc)

	nf, err := tp.Expand(f, e.PackedArgs)
	if err != nil {
		return nil, errors.Wrap(err, "packed_args")
	}

	if e.ReturnsPacked && f.Out != tp.Long {
		return nil, errors.New("returns_packed: method returns %v", f.Out.Desc())
	}

	e.Rename = Key{Owner: e.Key.Owner, Name: e.Key.Name, Desc: nf.Desc()}

	if fe.Rename != "" {
		o, n, ok := strings.Cut(fe.Rename, "#")
		if ok {
			e.Rename.Owner, e.Rename.Name = o, n
		} else {
			e.Rename.Name = fe.Rename
		}

		if e.Rename.Owner == "" || e.Rename.Name == "" {
			return nil, errors.New("bad rename: %q", fe.Rename)
		}
	}

	switch {
	case len(fe.Axes) != 0 && fe.Pack:
		return nil, errors.New("axes and pack are exclusive")
	case len(fe.Axes) != 0:
		if !e.ReturnsPacked || e.Static || len(f.In) != 0 {
			return nil, errors.New("axes: instance ()J method returning packed value expected")
		}

		if len(fe.Axes) != 3 {
			return nil, errors.New("axes: exactly 3 accessors expected")
		}

		for i, s := range fe.Axes {
			e.Axes[i], err = accessor(s, "()I")
			if err != nil {
				return nil, errors.Wrap(err, "axis %d", i)
			}
		}
	case fe.Pack:
		if !e.ReturnsPacked || !e.Static || e.Key.Desc != "(III)J" {
			return nil, errors.New("pack: static (III)J method returning packed value expected")
		}
	}

	return e, nil
}

func accessor(s, desc string) (Key, error) {
	k, err := ParseKey(s)
	if err != nil {
		return k, err
	}

	if k.Desc != desc {
		return k, errors.New("%v: %v descriptor expected", k, desc)
	}

	return k, nil
}

// Lookup returns the entry for the method or nil if it's unknown.
func (c *Catalog) Lookup(k Key) *Entry {
	return c.methods[k]
}

// UnpackAxis returns the axis the method unpacks or -1.
func (c *Catalog) UnpackAxis(k Key) int {
	for i, u := range c.Unpack {
		if u == k {
			return i
		}
	}

	return -1
}

// Entries returns all entries sorted by key.
func (c *Catalog) Entries() []*Entry {
	r := make([]*Entry, 0, len(c.methods))

	for _, e := range c.methods {
		r = append(r, e)
	}

	sort.Slice(r, func(i, j int) bool { return r[i].Key.String() < r[j].Key.String() })

	return r
}

func (c *Catalog) Len() int { return len(c.methods) }

// Positions returns stack positions of packed arguments, counting the receiver for instance methods.
func (e *Entry) Positions() []int {
	off := 1
	if e.Static {
		off = 0
	}

	r := make([]int, len(e.PackedArgs))

	for i, a := range e.PackedArgs {
		r[i] = a + off
	}

	return r
}

// NewDesc is the descriptor of the method with packed arguments expanded.
func (e *Entry) NewDesc() string { return e.Rename.Desc }

// Producer reports whether a packed result can be rebuilt from narrow values.
func (e *Entry) Producer() bool {
	return e.Pack || !e.Axes[0].IsZero()
}
