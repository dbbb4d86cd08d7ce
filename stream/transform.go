package stream

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"

	"github.com/robert-malhotra/go-imaris/volume"
)

// Interpolation is the resampling order.
type Interpolation int

const (
	Nearest Interpolation = 0
	Linear  Interpolation = 1
	Cubic   Interpolation = 3
)

// ParseInterpolation accepts an order (0, 1, 3) or its name.
func ParseInterpolation(s string) (Interpolation, error) {
	switch s {
	case "0", "nearest":
		return Nearest, nil
	case "1", "linear":
		return Linear, nil
	case "3", "cubic":
		return Cubic, nil
	}
	return 0, fmt.Errorf("unknown interpolation %q", s)
}

func (i Interpolation) String() string {
	switch i {
	case Nearest:
		return "nearest"
	case Linear:
		return "linear"
	case Cubic:
		return "cubic"
	}
	return fmt.Sprintf("order %d", int(i))
}

// Rigid rotates a plane by Angle degrees about its centre, then shifts it
// by TX and TY pixels. Output pixels that map outside the input are zero.
type Rigid struct {
	Angle  float64
	TX, TY float64
	Order  Interpolation
}

// RotateTranslate returns a Func baking a rotation and translation into
// every plane.
func RotateTranslate(angle, tx, ty float64, order Interpolation) Func {
	return Rigid{Angle: angle, TX: tx, TY: ty, Order: order}.Apply
}

// inverse returns the matrix and offset mapping output (y, x) to input
// coordinates for a plane of ny by nx pixels.
func (r Rigid) inverse(ny, nx int) (*mat.Dense, *mat.VecDense) {
	theta := -r.Angle * math.Pi / 180
	sin, cos := math.Sincos(theta)
	m := mat.NewDense(2, 2, []float64{
		cos, sin,
		-sin, cos,
	})
	cy, cx := float64(ny)/2, float64(nx)/2
	var shifted mat.VecDense
	shifted.MulVec(m, mat.NewVecDense(2, []float64{cy + r.TY, cx + r.TX}))
	off := mat.NewVecDense(2, []float64{cy, cx})
	off.SubVec(off, &shifted)
	return m, off
}

// Apply resamples a (Y, X) plane. The output keeps the input shape and
// dtype.
func (r Rigid) Apply(plane *volume.Array) (*volume.Array, error) {
	if len(plane.Shape) != 2 {
		return nil, volume.Errorf(volume.ErrShape, "rigid transform", "want a 2-D plane").WithShape(plane.Shape)
	}
	for _, v := range []float64{r.Angle, r.TX, r.TY} {
		if math.IsNaN(v) || math.IsInf(v, 0) {
			return nil, fmt.Errorf("rigid transform: non-finite parameter in %+v", r)
		}
	}
	sample, err := r.sampler()
	if err != nil {
		return nil, err
	}
	ny, nx := plane.Shape[0], plane.Shape[1]
	m, off := r.inverse(ny, nx)
	m00, m01, m10, m11 := m.At(0, 0), m.At(0, 1), m.At(1, 0), m.At(1, 1)
	oy, ox := off.AtVec(0), off.AtVec(1)

	src := grid{v: plane.Float64s(), ny: ny, nx: nx}
	out := make([]float64, ny*nx)
	for y := 0; y < ny; y++ {
		fy := float64(y)
		for x := 0; x < nx; x++ {
			fx := float64(x)
			iy := m00*fy + m01*fx + oy
			ix := m10*fy + m11*fx + ox
			out[y*nx+x] = sample(src, iy, ix)
		}
	}
	return volume.FromFloat64s(plane.DType, plane.Shape, out)
}

// grid is a plane of float64 samples.
type grid struct {
	v      []float64
	ny, nx int
}

// at returns the sample at (y, x), clamped to the plane edge.
func (g grid) at(y, x int) float64 {
	y = min(max(y, 0), g.ny-1)
	x = min(max(x, 0), g.nx-1)
	return g.v[y*g.nx+x]
}

// coordinates within this distance of the plane edge count as inside
const edgeTolerance = 1e-6

func (g grid) inside(y, x float64) bool {
	return y >= -edgeTolerance && y <= float64(g.ny-1)+edgeTolerance &&
		x >= -edgeTolerance && x <= float64(g.nx-1)+edgeTolerance
}

type sampler func(g grid, y, x float64) float64

func (r Rigid) sampler() (sampler, error) {
	switch r.Order {
	case Nearest:
		return nearest, nil
	case Linear:
		return linear, nil
	case Cubic:
		return cubic, nil
	}
	return nil, fmt.Errorf("rigid transform: unsupported %s interpolation", r.Order)
}

func nearest(g grid, y, x float64) float64 {
	if !g.inside(y, x) {
		return 0
	}
	return g.at(int(math.Round(y)), int(math.Round(x)))
}

func linear(g grid, y, x float64) float64 {
	if !g.inside(y, x) {
		return 0
	}
	y0, x0 := math.Floor(y), math.Floor(x)
	wy, wx := y-y0, x-x0
	iy, ix := int(y0), int(x0)
	top := g.at(iy, ix)*(1-wx) + g.at(iy, ix+1)*wx
	bottom := g.at(iy+1, ix)*(1-wx) + g.at(iy+1, ix+1)*wx
	return top*(1-wy) + bottom*wy
}

// keys is the cubic convolution kernel with a = -0.5.
func keys(t float64) float64 {
	t = math.Abs(t)
	switch {
	case t <= 1:
		return 1.5*t*t*t - 2.5*t*t + 1
	case t < 2:
		return -0.5*t*t*t + 2.5*t*t - 4*t + 2
	}
	return 0
}

func cubic(g grid, y, x float64) float64 {
	if !g.inside(y, x) {
		return 0
	}
	y0, x0 := math.Floor(y), math.Floor(x)
	iy, ix := int(y0), int(x0)
	var sum float64
	for j := -1; j <= 2; j++ {
		wy := keys(y - y0 - float64(j))
		if wy == 0 {
			continue
		}
		var row float64
		for i := -1; i <= 2; i++ {
			if wx := keys(x - x0 - float64(i)); wx != 0 {
				row += wx * g.at(iy+j, ix+i)
			}
		}
		sum += wy * row
	}
	return sum
}
