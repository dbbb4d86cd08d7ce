package volume

import "fmt"

// Range selects along one axis: everything, a single index or a half-open
// span. Single indices keep their axis with size one.
type Range struct {
	Start, Stop int
	all         bool
}

// All selects the whole axis.
func All() Range { return Range{all: true} }

// At selects index i.
func At(i int) Range { return Range{Start: i, Stop: i + 1} }

// Span selects [start, stop).
func Span(start, stop int) Range { return Range{Start: start, Stop: stop} }

// IsAll reports whether r selects the whole axis.
func (r Range) IsAll() bool { return r.all }

func (r Range) String() string {
	switch {
	case r.all:
		return ":"
	case r.Stop == r.Start+1:
		return fmt.Sprint(r.Start)
	}
	return fmt.Sprintf("%d:%d", r.Start, r.Stop)
}

// Resolve returns the start and length of r on an axis of size n.
func (r Range) Resolve(n int) (start, count int, ok bool) {
	if r.all {
		return 0, n, true
	}
	if r.Start < 0 || r.Stop < r.Start || r.Stop > n {
		return 0, 0, false
	}
	return r.Start, r.Stop - r.Start, true
}

// Selection holds one Range per axis.
type Selection []Range

// Full selects everything on rank axes.
func Full(rank int) Selection {
	s := make(Selection, rank)
	for i := range s {
		s[i] = All()
	}
	return s
}

// Sel builds a canonical selection; missing trailing axes select all.
func Sel(r ...Range) Selection {
	s := Full(Rank)
	copy(s, r)
	return s
}

// Box converts a start and count into a selection.
func Box(start, count []int) Selection {
	s := make(Selection, len(start))
	for i := range start {
		s[i] = Span(start[i], start[i]+count[i])
	}
	return s
}

// Resolve checks s against shape and returns per-axis start and count.
func (s Selection) Resolve(op string, shape []int) (start, count []int, err error) {
	if len(s) != len(shape) {
		return nil, nil, Errorf(ErrShape, op, "selection has %d axes, volume has %d", len(s), len(shape)).WithShape(shape)
	}
	start = make([]int, len(s))
	count = make([]int, len(s))
	for d, r := range s {
		var ok bool
		start[d], count[d], ok = r.Resolve(shape[d])
		if !ok {
			return nil, nil, Errorf(ErrIndex, op, "axis %d selection %s out of range", d, r).
				WithShape(shape).WithIndex([]int{r.Start, r.Stop})
		}
	}
	return start, count, nil
}

// Permute returns the selection in source order for a view whose axis i is
// source axis perm[i].
func (s Selection) Permute(perm []int) Selection {
	out := make(Selection, len(s))
	for i, p := range perm {
		out[p] = s[i]
	}
	return out
}

func (s Selection) String() string {
	return fmt.Sprint([]Range(s))
}
