package pointcloud

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gonum.org/v1/gonum/mat"
)

func TestNewTransformValidation(t *testing.T) {
	t.Parallel()

	t.Run("identity is rigid", func(t *testing.T) {
		t.Parallel()
		tf, err := NewTransform(Identity().Matrix())
		require.NoError(t, err)
		assert.True(t, tf.IsIdentity())
	})

	t.Run("scale is rejected", func(t *testing.T) {
		t.Parallel()
		m := Identity().Matrix()
		m[0] = 2.0 // scales X, determinant 2
		_, err := NewTransform(m)
		assert.Error(t, err)
	})

	t.Run("reflection is rejected", func(t *testing.T) {
		t.Parallel()
		m := Identity().Matrix()
		m[0] = -1.0 // determinant -1
		_, err := NewTransform(m)
		assert.Error(t, err)
	})

	t.Run("bad last row is rejected", func(t *testing.T) {
		t.Parallel()
		m := Identity().Matrix()
		m[12] = 0.5
		_, err := NewTransform(m)
		assert.Error(t, err)
	})
}

func TestTransformFromParts(t *testing.T) {
	t.Parallel()

	r := mat.NewDense(3, 3, []float64{
		0, -1, 0,
		1, 0, 0,
		0, 0, 1,
	})
	tf, err := TransformFromParts(r, []float64{1, 2, 3})
	require.NoError(t, err)

	p := tf.ApplyPoint(Point{X: 1, Y: 0, Z: 0, Label: 9})
	assert.InDelta(t, 1.0, p.X, 1e-9)
	assert.InDelta(t, 3.0, p.Y, 1e-9)
	assert.InDelta(t, 3.0, p.Z, 1e-9)
	assert.Equal(t, uint32(9), p.Label)

	_, err = TransformFromParts(mat.NewDense(2, 2, []float64{1, 0, 0, 1}), []float64{1, 2, 3})
	assert.Error(t, err)
	_, err = TransformFromParts(r, []float64{1, 2})
	assert.Error(t, err)
}

func TestTranslationApply(t *testing.T) {
	t.Parallel()

	tf := Translation(10, -5, 2)
	c := Cloud{{X: 1, Y: 1, Z: 1, Label: 4}}

	out := tf.Apply(c)
	assert.Equal(t, Cloud{{X: 11, Y: -4, Z: 3, Label: 4}}, out)
	// Apply must not mutate the input.
	assert.Equal(t, Cloud{{X: 1, Y: 1, Z: 1, Label: 4}}, c)

	tf.ApplyInPlace(c)
	assert.Equal(t, Cloud{{X: 11, Y: -4, Z: 3, Label: 4}}, c)
}

func TestRotationZ(t *testing.T) {
	t.Parallel()

	tf := RotationZ(math.Pi / 2)
	p := tf.ApplyPoint(Point{X: 1, Y: 0, Z: 5})
	assert.InDelta(t, 0.0, p.X, 1e-9)
	assert.InDelta(t, 1.0, p.Y, 1e-9)
	assert.InDelta(t, 5.0, p.Z, 1e-9)

	// A rotation passes rigidity validation.
	_, err := NewTransform(tf.Matrix())
	assert.NoError(t, err)
}

func TestCompose(t *testing.T) {
	t.Parallel()

	rot := RotationZ(math.Pi / 2)
	trans := Translation(1, 0, 0)

	// Compose applies the argument first: rotate, then translate.
	combined := trans.Compose(rot)
	p := combined.ApplyPoint(Point{X: 1, Y: 0, Z: 0})
	assert.InDelta(t, 1.0, p.X, 1e-9)
	assert.InDelta(t, 1.0, p.Y, 1e-9)
}
