package vein

import (
	"context"
	"fmt"
	"path"
	"strings"

	"github.com/hashicorp/go-multierror"
)

// discoveredFile is one data file found under the dataset root.
type discoveredFile struct {
	path   string // full store path
	dir    string // directory relative to the root
	format FileFormat
	schema *Schema // physical schema, set by Inspect
}

// Discovery finds the files of a dataset, infers its schema, and builds the
// source tree. Inspect may be called any number of times; Finish builds a
// fresh tree on each call.
type Discovery struct {
	store        Store
	root         string
	cfg          *openConfig
	files        []*discoveredFile
	inspected    bool
	partitioning Partitioning
}

// NewDiscovery lists the data files under root. Files whose format is not
// recognised, and paths with an ignored prefix in any segment, are skipped.
func NewDiscovery(ctx context.Context, store Store, root string, opts ...Option) (*Discovery, error) {
	cfg := defaultOpenConfig()
	for _, opt := range opts {
		if err := opt.applyOpen(cfg); err != nil {
			return nil, err
		}
	}
	root = strings.Trim(root, "/")

	paths, err := store.List(ctx, root)
	if err != nil {
		return nil, fmt.Errorf("vein: list %q: %w", root, err)
	}
	d := &Discovery{store: store, root: root, cfg: cfg}
	for _, p := range paths {
		rel := p
		if root != "" {
			if !strings.HasPrefix(p, root+"/") {
				continue
			}
			rel = strings.TrimPrefix(p, root+"/")
		}
		if d.ignored(rel) {
			continue
		}
		format := formatFor(cfg.formats, p)
		if format == nil {
			continue
		}
		dir := path.Dir(rel)
		if dir == "." {
			dir = ""
		}
		d.files = append(d.files, &discoveredFile{path: p, dir: dir, format: format})
	}
	if len(d.files) == 0 {
		return nil, fmt.Errorf("vein: no data files under %q: %w", root, ErrNotFound)
	}
	cfg.logger.Debug("discovered files", "root", root, "listed", len(paths), "files", len(d.files))
	return d, nil
}

func (d *Discovery) ignored(rel string) bool {
	for _, seg := range strings.Split(rel, "/") {
		for _, prefix := range d.cfg.ignorePrefixes {
			if prefix != "" && strings.HasPrefix(seg, prefix) {
				return true
			}
		}
	}
	return false
}

// Files returns the discovered file paths in discovery order.
func (d *Discovery) Files() []string {
	out := make([]string, len(d.files))
	for i, f := range d.files {
		out[i] = f.path
	}
	return out
}

// Partitioning returns the partition scheme resolved by the last Finish, or nil.
func (d *Discovery) Partitioning() Partitioning { return d.partitioning }

func (d *Discovery) dirs() []string {
	out := make([]string, 0, len(d.files))
	for _, f := range d.files {
		out = append(out, f.dir)
	}
	return out
}

// Inspect returns the dataset schema: the physical schemas of all files,
// unified, followed by the partition fields. A partition field replaces a
// physical field of the same name.
func (d *Discovery) Inspect(ctx context.Context) (*Schema, error) {
	var partition *Schema
	switch {
	case d.cfg.partitioning != nil:
		partition = d.cfg.partitioning.Schema()
	default:
		if d.cfg.factory == nil {
			d.cfg.factory = HivePartitioningFactory()
		}
		var err error
		if partition, err = d.cfg.factory.Inspect(d.dirs()); err != nil {
			return nil, fmt.Errorf("vein: infer partitioning: %w", err)
		}
	}

	schemas := make([]*Schema, 0, len(d.files))
	for _, f := range d.files {
		s, err := f.format.Inspect(ctx, FileSource{Store: d.store, Path: f.path})
		if err != nil {
			return nil, fmt.Errorf("vein: inspect %s: %w", f.path, err)
		}
		f.schema = s
		physical, err := withoutFields(s, partition)
		if err != nil {
			return nil, err
		}
		schemas = append(schemas, physical)
	}
	d.inspected = true

	unified, err := UnifySchemas(schemas...)
	if err != nil {
		return nil, fmt.Errorf("vein: inspect: %w", err)
	}
	schema, err := withPartitionFields(unified, partition)
	if err != nil {
		return nil, err
	}
	d.cfg.logger.Debug("inspected schema", "root", d.root, "schema", schema.String())
	return schema, nil
}

// withoutFields drops from s every field named in drop.
func withoutFields(s, drop *Schema) (*Schema, error) {
	if drop == nil || drop.NumFields() == 0 {
		return s, nil
	}
	var fields []Field
	for _, f := range s.fields {
		if !drop.HasField(f.Name) {
			fields = append(fields, f)
		}
	}
	return NewSchema(fields...)
}

// Finish builds the source tree for schema. A nil schema runs Inspect first.
// Every partition value that fails to parse, and every physical field whose
// type cannot be cast to the schema's, is reported in one aggregated error.
func (d *Discovery) Finish(ctx context.Context, schema *Schema) (DataSource, error) {
	if schema == nil {
		var err error
		if schema, err = d.Inspect(ctx); err != nil {
			return nil, err
		}
	}

	var errs *multierror.Error
	p, err := d.resolvePartitioning(schema)
	if err != nil {
		return nil, err
	}
	d.partitioning = p

	for _, f := range d.files {
		if f.schema == nil {
			continue
		}
		for _, pf := range f.schema.fields {
			if p.Schema().HasField(pf.Name) {
				continue
			}
			sf, ok := schema.FieldByName(pf.Name)
			if ok && !castable(pf.Type, sf.Type) {
				errs = multierror.Append(errs, fmt.Errorf("%s: %w", f.path,
					newFieldError(ErrSchemaConflict, pf.Name, fmt.Sprintf("physical %s vs declared %s", pf.Type, sf.Type))))
			}
		}
	}

	root := &dirNode{children: make(map[string]*dirNode)}
	for _, f := range d.files {
		node := root
		for depth, seg := range splitSegments(f.dir) {
			child, ok := node.children[seg]
			if !ok {
				expr, err := p.ParseSegment(depth, seg)
				if err != nil {
					errs = multierror.Append(errs, fmt.Errorf("%s: %w", path.Join(d.root, f.dir), err))
				}
				child = &dirNode{
					partition:  expr,
					cumulative: conjoin(node.cumulative, expr),
					children:   make(map[string]*dirNode),
				}
				node.children[seg] = child
				node.order = append(node.order, child)
			}
			node = child
		}
		src := FileSource{Store: d.store, Path: f.path}
		node.files = append(node.files, NewFileFragment(src, f.format, node.cumulative))
	}
	if err := errs.ErrorOrNil(); err != nil {
		return nil, err
	}
	d.cfg.logger.Debug("built source tree", "root", d.root, "partitioning", p.Name(), "fragments", len(d.files))
	return root.build(), nil
}

func (d *Discovery) resolvePartitioning(schema *Schema) (Partitioning, error) {
	if p := d.cfg.partitioning; p != nil {
		for _, pf := range p.Schema().fields {
			if sf, ok := schema.FieldByName(pf.Name); ok && sf.Type != pf.Type {
				return nil, newFieldError(ErrSchemaConflict, pf.Name,
					fmt.Sprintf("partition %s vs declared %s", pf.Type, sf.Type))
			}
		}
		return p, nil
	}
	factory := d.cfg.factory
	if factory == nil {
		factory = HivePartitioningFactory()
	}
	p, err := factory.Finish(schema)
	if err != nil {
		return nil, fmt.Errorf("vein: partitioning: %w", err)
	}
	return p, nil
}

// dirNode is one directory of the dataset during tree construction.
type dirNode struct {
	partition  Expression
	cumulative Expression
	children   map[string]*dirNode
	order      []*dirNode
	files      []Fragment
	source     DataSource
}

// build converts the directory tree into sources bottom-up without recursion.
// A directory's own files precede its subdirectories.
func (n *dirNode) build() DataSource {
	var preorder []*dirNode
	stack := []*dirNode{n}
	for len(stack) > 0 {
		cur := stack[len(stack)-1]
		stack = stack[:len(stack)-1]
		preorder = append(preorder, cur)
		for i := len(cur.order) - 1; i >= 0; i-- {
			stack = append(stack, cur.order[i])
		}
	}
	for i := len(preorder) - 1; i >= 0; i-- {
		cur := preorder[i]
		if len(cur.order) == 0 {
			cur.source = NewSimpleSource(cur.partition, cur.files...)
			continue
		}
		kids := make([]DataSource, 0, len(cur.order)+1)
		if len(cur.files) > 0 {
			kids = append(kids, NewSimpleSource(nil, cur.files...))
		}
		for _, c := range cur.order {
			kids = append(kids, c.source)
		}
		cur.source = NewTreeSource(cur.partition, kids...)
	}
	return n.source
}

func conjoin(a, b Expression) Expression {
	switch {
	case a == nil:
		return b
	case b == nil:
		return a
	}
	return And(a, b)
}

// castable reports whether physical values of type from convert to type to.
func castable(from, to DataType) bool {
	switch {
	case from == to, from == Null:
		return true
	case from.IsNumeric() && to.IsNumeric():
		return true
	case (from == String || from == Binary) && (to == String || to == Binary):
		return true
	case from.IsSigned() && to == Timestamp:
		return true
	}
	return false
}

// -----------------------------------------------------------------------------
// Open
// -----------------------------------------------------------------------------

// Open discovers the dataset under root and returns it ready to scan.
//
// Without WithSchema the schema is inspected from file metadata. Without
// WithPartitioning or WithPartitioningFactory, hive partitioning is inferred.
func Open(ctx context.Context, store Store, root string, opts ...Option) (*Dataset, error) {
	d, err := NewDiscovery(ctx, store, root, opts...)
	if err != nil {
		return nil, err
	}
	schema := d.cfg.schema
	if schema == nil {
		if schema, err = d.Inspect(ctx); err != nil {
			return nil, err
		}
	}
	src, err := d.Finish(ctx, schema)
	if err != nil {
		return nil, err
	}
	return &Dataset{schema: schema, sources: []DataSource{src}, cfg: d.cfg.datasetConfig}, nil
}
