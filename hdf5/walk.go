package hdf5

import (
	"errors"
	"path"
)

// SkipGroup can be returned by a WalkFunc to skip a group's members.
var SkipGroup = errors.New("skip this group")

// WalkFunc is called for every object. obj is nil when err is set.
type WalkFunc func(path string, obj Object, err error) error

// Walk visits g and everything below it in storage order.
func Walk(g *Group, fn WalkFunc) error {
	err := walk(g, fn)
	if errors.Is(err, SkipGroup) {
		return nil
	}
	return err
}

func walk(g *Group, fn WalkFunc) error {
	if err := fn(g.Path(), g, nil); err != nil {
		return err
	}
	names, err := g.Members()
	if err != nil {
		return fn(g.Path(), nil, err)
	}
	for _, name := range names {
		p := path.Join(g.Path(), name)
		obj, err := g.Open(name)
		if err != nil {
			if err := fn(p, nil, err); err != nil && !errors.Is(err, SkipGroup) {
				return err
			}
			continue
		}
		switch o := obj.(type) {
		case *Group:
			if err := walk(o, fn); err != nil && !errors.Is(err, SkipGroup) {
				return err
			}
		default:
			if err := fn(p, obj, nil); err != nil && !errors.Is(err, SkipGroup) {
				return err
			}
		}
	}
	return nil
}
