package vein

import (
	"errors"
	"io"
)

// DataSource is a collection of fragments sharing a partition expression.
//
// The set of source kinds is closed: SimpleSource and TreeSource.
type DataSource interface {
	// GetFragments yields the fragments that may hold rows matching
	// opts.Filter(). A source whose partition expression contradicts the
	// filter yields nothing and its children are never visited.
	GetFragments(opts *ScanOptions) FragmentIterator

	// PartitionExpression returns the predicate true for every row of the
	// source, or nil.
	PartitionExpression() Expression

	// TypeName identifies the source kind.
	TypeName() string

	fragments(opts *ScanOptions) FragmentIterator
}

// FragmentIterator yields fragments lazily. Next returns io.EOF when exhausted.
type FragmentIterator interface {
	Next() (Fragment, error)
}

// CollectFragments drains a fragment iterator.
func CollectFragments(it FragmentIterator) ([]Fragment, error) {
	var out []Fragment
	for {
		f, err := it.Next()
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		if err != nil {
			return nil, err
		}
		out = append(out, f)
	}
}

type emptyFragmentIterator struct{}

func (emptyFragmentIterator) Next() (Fragment, error) { return nil, io.EOF }

// assumePartitionExpression simplifies the filter in opts under partition and
// records the partition for the fragments below. It reports false when no row
// under the partition can match.
func assumePartitionExpression(partition Expression, opts *ScanOptions) (*ScanOptions, bool) {
	if partition == nil {
		return opts, true
	}
	simplified := opts.filter.Simplify(partition)
	if !IsSatisfiable(simplified) {
		return nil, false
	}
	o := opts
	if simplified != opts.filter {
		o = opts.WithFilter(simplified)
	}
	return o.withPartition(partition), true
}

func getFragments(src DataSource, opts *ScanOptions) FragmentIterator {
	o, ok := assumePartitionExpression(src.PartitionExpression(), opts)
	if !ok {
		opts.log().Debug("pruned source",
			"type", src.TypeName(),
			"partition", src.PartitionExpression().String(),
			"filter", opts.filter.String(),
		)
		return emptyFragmentIterator{}
	}
	return src.fragments(o)
}

// -----------------------------------------------------------------------------
// SimpleSource
// -----------------------------------------------------------------------------

// SimpleSource wraps an explicit list of fragments.
type SimpleSource struct {
	partition Expression
	frags     []Fragment
}

// NewSimpleSource builds a source over fragments. partition may be nil.
func NewSimpleSource(partition Expression, fragments ...Fragment) *SimpleSource {
	return &SimpleSource{partition: partition, frags: append([]Fragment(nil), fragments...)}
}

func (s *SimpleSource) GetFragments(opts *ScanOptions) FragmentIterator { return getFragments(s, opts) }

func (s *SimpleSource) PartitionExpression() Expression { return s.partition }

func (s *SimpleSource) TypeName() string { return "simple" }

func (s *SimpleSource) fragments(opts *ScanOptions) FragmentIterator {
	return &simpleFragmentIterator{frags: s.frags, opts: opts}
}

// simpleFragmentIterator binds each fragment to options simplified under its
// own partition expression, skipping fragments that cannot match.
type simpleFragmentIterator struct {
	frags []Fragment
	opts  *ScanOptions
	pos   int
}

func (it *simpleFragmentIterator) Next() (Fragment, error) {
	for it.pos < len(it.frags) {
		f := it.frags[it.pos]
		it.pos++
		o, ok := assumePartitionExpression(f.PartitionExpression(), it.opts)
		if !ok {
			it.opts.log().Debug("pruned fragment", "partition", f.PartitionExpression().String())
			continue
		}
		return f.bind(o), nil
	}
	return nil, io.EOF
}

// -----------------------------------------------------------------------------
// TreeSource
// -----------------------------------------------------------------------------

// TreeSource is a source whose children are sources, forming a tree that
// usually mirrors a directory hierarchy.
type TreeSource struct {
	partition Expression
	children  []DataSource
}

// NewTreeSource builds a source over children. partition may be nil.
func NewTreeSource(partition Expression, children ...DataSource) *TreeSource {
	return &TreeSource{partition: partition, children: append([]DataSource(nil), children...)}
}

// Children returns the child sources in order.
func (s *TreeSource) Children() []DataSource { return append([]DataSource(nil), s.children...) }

func (s *TreeSource) GetFragments(opts *ScanOptions) FragmentIterator { return getFragments(s, opts) }

func (s *TreeSource) PartitionExpression() Expression { return s.partition }

func (s *TreeSource) TypeName() string { return "tree" }

func (s *TreeSource) fragments(opts *ScanOptions) FragmentIterator {
	return &treeFragmentIterator{stack: []*treeFrame{{children: s.children, opts: opts}}}
}

type treeFrame struct {
	children []DataSource
	opts     *ScanOptions
	next     int
}

// treeFragmentIterator walks the tree depth-first with an explicit stack so
// arbitrarily deep trees do not grow the goroutine stack.
type treeFragmentIterator struct {
	stack   []*treeFrame
	current FragmentIterator
}

func (it *treeFragmentIterator) Next() (Fragment, error) {
	for {
		if it.current != nil {
			f, err := it.current.Next()
			if err == nil {
				return f, nil
			}
			if !errors.Is(err, io.EOF) {
				return nil, err
			}
			it.current = nil
		}
		if len(it.stack) == 0 {
			return nil, io.EOF
		}
		top := it.stack[len(it.stack)-1]
		if top.next >= len(top.children) {
			it.stack = it.stack[:len(it.stack)-1]
			continue
		}
		child := top.children[top.next]
		top.next++

		o, ok := assumePartitionExpression(child.PartitionExpression(), top.opts)
		if !ok {
			top.opts.log().Debug("pruned source",
				"type", child.TypeName(),
				"partition", child.PartitionExpression().String(),
			)
			continue
		}
		if t, isTree := child.(*TreeSource); isTree {
			it.stack = append(it.stack, &treeFrame{children: t.children, opts: o})
			continue
		}
		it.current = child.fragments(o)
	}
}
