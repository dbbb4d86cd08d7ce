package ims

import (
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/robert-malhotra/go-imaris/hdf5"
)

// timeLayout is how Imaris records acquisition times. Fractional seconds
// are accepted when parsing.
const timeLayout = "2006-01-02 15:04:05"

// attrText returns an attribute as text. Imaris stores most values as
// character arrays; numeric attributes written by other tools are
// formatted.
func attrText(obj hdf5.Object, name string) (string, bool) {
	a := obj.Attr(name)
	if a == nil {
		return "", false
	}
	if a.IsText() {
		s, err := a.Text()
		if err != nil {
			return "", false
		}
		s = strings.TrimSpace(s)
		return s, s != ""
	}
	v, err := a.Float64s()
	if err != nil || len(v) == 0 {
		return "", false
	}
	return strconv.FormatFloat(v[0], 'g', -1, 64), true
}

// attrFloat parses the leading number of an attribute, so "488 nm" reads
// as 488.
func attrFloat(obj hdf5.Object, name string) (float64, bool) {
	s, ok := attrText(obj, name)
	if !ok {
		return 0, false
	}
	if f := strings.Fields(s); len(f) > 0 {
		s = f[0]
	}
	v, err := strconv.ParseFloat(s, 64)
	return v, err == nil
}

func attrInt(obj hdf5.Object, name string) (int, bool) {
	v, ok := attrFloat(obj, name)
	if !ok || v < 0 || v != float64(int(v)) {
		return 0, false
	}
	return int(v), true
}

// attrColor parses a "r g b" colour.
func attrColor(obj hdf5.Object, name string) []float64 {
	s, ok := attrText(obj, name)
	if !ok {
		return nil
	}
	f := strings.Fields(s)
	if len(f) != 3 {
		return nil
	}
	out := make([]float64, 3)
	for i, p := range f {
		v, err := strconv.ParseFloat(p, 64)
		if err != nil {
			return nil
		}
		out[i] = v
	}
	return out
}

func attrTime(obj hdf5.Object, names ...string) time.Time {
	for _, n := range names {
		s, ok := attrText(obj, n)
		if !ok {
			continue
		}
		if t, err := time.Parse(timeLayout, s); err == nil {
			return t
		}
	}
	return time.Time{}
}

// numbered returns the members of g named prefix followed by a number,
// ordered by that number.
func numbered(g *hdf5.Group, prefix string) ([]string, error) {
	names, err := g.Members()
	if err != nil {
		return nil, err
	}
	type entry struct {
		name string
		n    int
	}
	var found []entry
	for _, name := range names {
		rest, ok := strings.CutPrefix(name, prefix)
		if !ok {
			continue
		}
		n, err := strconv.Atoi(strings.TrimSpace(rest))
		if err != nil || n < 0 {
			continue
		}
		found = append(found, entry{name, n})
	}
	sort.SliceStable(found, func(i, j int) bool { return found[i].n < found[j].n })
	out := make([]string, len(found))
	for i, e := range found {
		out[i] = e.name
	}
	return out, nil
}
