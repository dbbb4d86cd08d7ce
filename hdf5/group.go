package hdf5

import (
	"fmt"
	"path"

	"github.com/robert-malhotra/go-imaris/internal/btree"
	"github.com/robert-malhotra/go-imaris/internal/heap"
	"github.com/robert-malhotra/go-imaris/internal/message"
	"github.com/robert-malhotra/go-imaris/internal/object"
)

// Object is a group or a dataset.
type Object interface {
	Name() string
	Path() string
	Attrs() []string
	Attr(name string) *Attribute
}

// Group is a container of named objects.
type Group struct {
	file   *File
	path   string
	header *object.Header
	// node is set for groups of a file being written.
	node *node
}

// member is one resolved entry of a group.
type member struct {
	name     string
	addr     uint64
	target   string
	external bool
}

// Name returns the last path component.
func (g *Group) Name() string {
	if g.path == "/" {
		return "/"
	}
	return path.Base(g.path)
}

// Path returns the absolute path.
func (g *Group) Path() string { return g.path }

// Members lists member names in storage order.
func (g *Group) Members() ([]string, error) {
	if g.node != nil {
		return g.node.names(), nil
	}
	ms, err := g.members()
	if err != nil {
		return nil, err
	}
	names := make([]string, len(ms))
	for i, m := range ms {
		names[i] = m.name
	}
	return names, nil
}

func (g *Group) members() ([]member, error) {
	if g.file.isClosed() {
		return nil, ErrClosed
	}
	if links := g.header.Links(); len(links) > 0 {
		out := make([]member, 0, len(links))
		for _, l := range links {
			switch l.LinkType {
			case message.LinkHard:
				out = append(out, member{name: l.Name, addr: l.Address})
			case message.LinkSoft:
				out = append(out, member{name: l.Name, target: l.Target})
			default:
				out = append(out, member{name: l.Name, external: true})
			}
		}
		return out, nil
	}

	st, err := g.header.SymbolTable()
	if err != nil {
		return nil, err
	}
	if st != nil {
		names, err := heap.ReadLocal(g.file.reader, st.LocalHeapAddress)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", g.path, err)
		}
		entries, err := btree.ReadGroup(g.file.reader, st.BTreeAddress, names)
		if err != nil {
			return nil, fmt.Errorf("group %s: %w", g.path, err)
		}
		out := make([]member, len(entries))
		for i, e := range entries {
			out[i] = member{name: e.Name, addr: e.Address, target: e.Target}
		}
		return out, nil
	}

	info, err := g.header.LinkInfo()
	if err != nil {
		return nil, err
	}
	if info != nil && info.Dense() {
		return nil, fmt.Errorf("%w: dense link storage in group %s", ErrUnsupported, g.path)
	}
	return nil, nil
}

// Open returns the group or dataset at a path relative to g. Absolute
// paths are resolved from the root.
func (g *Group) Open(p string) (Object, error) {
	if g.node != nil {
		return nil, fmt.Errorf("%w: reading a file being written", ErrUnsupported)
	}
	start := g
	if len(p) > 0 && p[0] == '/' {
		start = g.file.root
	}
	return start.walk(SplitPath(p), make(map[string]bool))
}

func (g *Group) walk(parts []string, visited map[string]bool) (Object, error) {
	var cur Object = g
	for _, name := range parts {
		grp, ok := cur.(*Group)
		if !ok {
			return nil, fmt.Errorf("%w: %s", ErrNotGroup, cur.Path())
		}
		next, err := grp.child(name, visited)
		if err != nil {
			return nil, err
		}
		cur = next
	}
	return cur, nil
}

func (g *Group) child(name string, visited map[string]bool) (Object, error) {
	ms, err := g.members()
	if err != nil {
		return nil, err
	}
	full := path.Join(g.path, name)
	for _, m := range ms {
		if m.name != name {
			continue
		}
		switch {
		case m.external:
			return nil, fmt.Errorf("%w: external link %s", ErrUnsupported, full)
		case m.target != "":
			if visited[m.target] || len(visited) >= MaxLinkDepth {
				return nil, fmt.Errorf("%w: %s", ErrLinkDepth, full)
			}
			visited[m.target] = true
			start := g
			if m.target[0] == '/' {
				start = g.file.root
			}
			return start.walk(SplitPath(m.target), visited)
		}
		obj, err := g.file.openAt(m.addr, full)
		if err != nil {
			return nil, fmt.Errorf("opening %s: %w", full, err)
		}
		return obj, nil
	}
	return nil, fmt.Errorf("%w: %s", ErrNotFound, full)
}

// OpenGroup opens a subgroup.
func (g *Group) OpenGroup(p string) (*Group, error) {
	obj, err := g.Open(p)
	if err != nil {
		return nil, err
	}
	grp, ok := obj.(*Group)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotGroup, obj.Path())
	}
	return grp, nil
}

// OpenDataset opens a dataset.
func (g *Group) OpenDataset(p string) (*Dataset, error) {
	obj, err := g.Open(p)
	if err != nil {
		return nil, err
	}
	ds, ok := obj.(*Dataset)
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotDataset, obj.Path())
	}
	return ds, nil
}

// Attrs lists attribute names.
func (g *Group) Attrs() []string {
	if g.node != nil {
		return attrNames(g.node.attrs)
	}
	return attrNames(g.header.Attributes())
}

// Attr returns the named attribute, or nil.
func (g *Group) Attr(name string) *Attribute {
	if g.node != nil {
		return findAttr(g.node.attrs, name)
	}
	return findAttr(g.header.Attributes(), name)
}
