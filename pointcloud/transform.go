package pointcloud

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
)

// rigidityTolerance bounds how far the rotation block's determinant may
// deviate from 1 before a matrix is rejected as non-rigid.
const rigidityTolerance = 0.01

// Transform is a rigid affine transform (rotation + translation), stored as a
// 4x4 row-major matrix: m00,m01,m02,m03, m10,... Immutable once constructed.
type Transform struct {
	m [16]float64
}

// Identity returns the identity transform.
func Identity() Transform {
	return Transform{m: [16]float64{
		1, 0, 0, 0,
		0, 1, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}}
}

// NewTransform builds a Transform from a row-major 4x4 matrix, rejecting
// matrices that are not proper rigid transforms (rotation block with
// determinant ~1, last row [0 0 0 1]).
func NewTransform(m [16]float64) (Transform, error) {
	r := mat.NewDense(3, 3, []float64{
		m[0], m[1], m[2],
		m[4], m[5], m[6],
		m[8], m[9], m[10],
	})
	det := mat.Det(r)
	if math.IsNaN(det) || math.Abs(det-1.0) > rigidityTolerance {
		return Transform{}, fmt.Errorf("rotation block determinant %.4f is not a proper rotation", det)
	}
	if m[12] != 0 || m[13] != 0 || m[14] != 0 || math.Abs(m[15]-1.0) > 1e-3 {
		return Transform{}, fmt.Errorf("last row must be [0 0 0 1]")
	}
	return Transform{m: m}, nil
}

// TransformFromParts assembles a Transform from a 3x3 rotation and a
// 3-element translation.
func TransformFromParts(rotation *mat.Dense, translation []float64) (Transform, error) {
	if r, c := rotation.Dims(); r != 3 || c != 3 {
		return Transform{}, fmt.Errorf("rotation must be 3x3, got %dx%d", r, c)
	}
	if len(translation) != 3 {
		return Transform{}, fmt.Errorf("translation must have 3 elements, got %d", len(translation))
	}
	var m [16]float64
	for i := 0; i < 3; i++ {
		for j := 0; j < 3; j++ {
			m[i*4+j] = rotation.At(i, j)
		}
		m[i*4+3] = translation[i]
	}
	m[15] = 1
	return NewTransform(m)
}

// Translation returns a pure-translation transform.
func Translation(x, y, z float64) Transform {
	t := Identity()
	t.m[3], t.m[7], t.m[11] = x, y, z
	return t
}

// RotationZ returns a rotation of the given angle (radians) about the Z axis.
func RotationZ(rad float64) Transform {
	c, s := math.Cos(rad), math.Sin(rad)
	return Transform{m: [16]float64{
		c, -s, 0, 0,
		s, c, 0, 0,
		0, 0, 1, 0,
		0, 0, 0, 1,
	}}
}

// Matrix returns the row-major 4x4 matrix.
func (t Transform) Matrix() [16]float64 { return t.m }

// IsIdentity reports whether t is exactly the identity transform.
func (t Transform) IsIdentity() bool { return t == Identity() }

// ApplyPoint transforms a single point, preserving its label.
func (t Transform) ApplyPoint(p Point) Point {
	m := &t.m
	return Point{
		X:     m[0]*p.X + m[1]*p.Y + m[2]*p.Z + m[3],
		Y:     m[4]*p.X + m[5]*p.Y + m[6]*p.Z + m[7],
		Z:     m[8]*p.X + m[9]*p.Y + m[10]*p.Z + m[11],
		Label: p.Label,
	}
}

// Apply returns a transformed copy of the cloud.
func (t Transform) Apply(c Cloud) Cloud {
	out := make(Cloud, len(c))
	for i, p := range c {
		out[i] = t.ApplyPoint(p)
	}
	return out
}

// ApplyInPlace transforms the cloud in place. Only safe on exclusively-owned
// payloads.
func (t Transform) ApplyInPlace(c Cloud) {
	for i := range c {
		c[i] = t.ApplyPoint(c[i])
	}
}

// Compose returns the transform equivalent to applying other first and then
// t (matrix product t * other).
func (t Transform) Compose(other Transform) Transform {
	a := mat.NewDense(4, 4, t.m[:])
	b := mat.NewDense(4, 4, other.m[:])
	var prod mat.Dense
	prod.Mul(a, b)
	var out Transform
	copy(out.m[:], prod.RawMatrix().Data)
	return out
}
