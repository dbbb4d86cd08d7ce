package volume

import "strings"

// Normalize reorders a rank 2 to 5 array into canonical TZCYX order,
// inserting size-one axes for the ones dims does not name. dims lists the
// axes of a, one letter each from "TZCYX" in any case. An empty dims
// guesses the order from the rank: YX, ZYX (YXC for three or four trailing
// colour samples), ZCYX and TZCYX.
//
// Normalizing a canonical array with dims "TZCYX" returns it unchanged.
func Normalize(a *Array, dims string) (*Array, error) {
	rank := len(a.Shape)
	if rank < 2 || rank > Rank {
		return nil, Errorf(ErrShape, "normalize", "rank %d not in 2..5", rank).WithShape(a.Shape)
	}
	if dims == "" {
		dims = GuessAxes(a.Shape)
	}
	dims = strings.ToUpper(dims)
	if len(dims) != rank {
		return nil, Errorf(ErrShape, "normalize", "axis order %q does not match rank %d", dims, rank).WithShape(a.Shape)
	}

	pos := [Rank]int{-1, -1, -1, -1, -1}
	for i, ch := range dims {
		axis := strings.IndexRune(Axes, ch)
		if axis < 0 {
			return nil, Errorf(ErrShape, "normalize", "unknown axis %q in %q", ch, dims).WithShape(a.Shape)
		}
		if pos[axis] >= 0 {
			return nil, Errorf(ErrShape, "normalize", "repeated axis %q in %q", ch, dims).WithShape(a.Shape)
		}
		pos[axis] = i
	}

	var perm []int
	shape := make([]int, Rank)
	for axis, p := range pos {
		shape[axis] = 1
		if p >= 0 {
			perm = append(perm, p)
			shape[axis] = a.Shape[p]
		}
	}

	out := a
	if !isIdentity(perm) {
		var err error
		if out, err = a.Transpose(perm...); err != nil {
			return nil, err
		}
	}
	return out.Reshape(shape...)
}

// GuessAxes returns the default axis order for an array of the given shape.
func GuessAxes(shape []int) string {
	switch len(shape) {
	case 2:
		return "YX"
	case 3:
		if IsRGB(shape) {
			return "YXC"
		}
		return "ZYX"
	case 4:
		return "ZCYX"
	case 5:
		return Axes
	}
	return ""
}

// IsRGB reports whether shape looks like a colour image: rank three with
// three or four trailing samples on a larger plane.
func IsRGB(shape []int) bool {
	return len(shape) == 3 && (shape[2] == 3 || shape[2] == 4) && shape[0] > 4 && shape[1] > 4
}

func isIdentity(perm []int) bool {
	for i, p := range perm {
		if i != p {
			return false
		}
	}
	return true
}

// AxisPermutation returns the permutation presenting canonical axes in
// order, a rearrangement of "TZCYX": axis i of the view is canonical axis
// perm[i].
func AxisPermutation(order string) ([]int, error) {
	order = strings.ToUpper(order)
	if len(order) != Rank {
		return nil, Errorf(ErrShape, "axis order", "%q does not name %d axes", order, Rank)
	}
	perm := make([]int, Rank)
	for i, ch := range order {
		perm[i] = strings.IndexRune(Axes, ch)
	}
	if err := checkPermutation("axis order", perm, Rank); err != nil {
		return nil, err
	}
	return perm, nil
}
