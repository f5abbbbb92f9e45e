package registration

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/carlostojal/pcl-aggregator-core/pointcloud"
)

// gridCloud builds a deterministic 3D grid of points, spaced widely enough
// that nearest-neighbour matching is unambiguous for small offsets.
func gridCloud() pointcloud.Cloud {
	var c pointcloud.Cloud
	for i := 0; i < 5; i++ {
		for j := 0; j < 5; j++ {
			for k := 0; k < 2; k++ {
				c = append(c, pointcloud.Point{
					X: float64(i) * 0.5,
					Y: float64(j) * 0.5,
					Z: float64(k) * 0.5,
				})
			}
		}
	}
	return c
}

func TestAlignRecoversTranslation(t *testing.T) {
	t.Parallel()

	target := gridCloud()
	offset := pointcloud.Translation(-0.08, 0.05, -0.03)
	source := offset.Apply(target)

	res := Align(source, target, DefaultConfig())
	require.True(t, res.Converged)
	assert.Less(t, res.Error, 0.01)

	// The recovered transform maps the source back onto the target.
	aligned := res.Transform.Apply(source)
	for i := range aligned {
		assert.InDelta(t, target[i].X, aligned[i].X, 0.02)
		assert.InDelta(t, target[i].Y, aligned[i].Y, 0.02)
		assert.InDelta(t, target[i].Z, aligned[i].Z, 0.02)
	}
}

func TestAlignRecoversSmallRotation(t *testing.T) {
	t.Parallel()

	target := gridCloud()
	rot := pointcloud.RotationZ(0.05) // ~3 degrees
	source := rot.Apply(target)

	res := Align(source, target, DefaultConfig())
	require.True(t, res.Converged)
	assert.Less(t, res.Error, 0.02)
}

func TestAlignIdenticalClouds(t *testing.T) {
	t.Parallel()

	c := gridCloud()
	res := Align(c, c, DefaultConfig())
	assert.True(t, res.Converged)
	assert.InDelta(t, 0.0, res.Error, 1e-9)
}

func TestAlignDisjointClouds(t *testing.T) {
	t.Parallel()

	target := gridCloud()
	// Far outside the correspondence bound: nothing matches.
	source := pointcloud.Translation(100, 100, 100).Apply(target)

	res := Align(source, target, DefaultConfig())
	assert.False(t, res.Converged)
	assert.True(t, res.Transform.IsIdentity())
	assert.Equal(t, math.MaxFloat64, res.Error)
}

func TestAlignTooFewPoints(t *testing.T) {
	t.Parallel()

	res := Align(pointcloud.Cloud{{X: 1}}, gridCloud(), DefaultConfig())
	assert.False(t, res.Converged)
	assert.True(t, res.Transform.IsIdentity())
	assert.Equal(t, 0, res.Iterations)
}

func TestAlignRespectsIterationCap(t *testing.T) {
	t.Parallel()

	target := gridCloud()
	source := pointcloud.Translation(-0.08, 0.05, 0).Apply(target)

	cfg := DefaultConfig()
	cfg.MaxIterations = 1
	res := Align(source, target, cfg)
	assert.LessOrEqual(t, res.Iterations, 1)
}

func TestConfigWithDefaults(t *testing.T) {
	t.Parallel()

	cfg := Config{}.WithDefaults()
	assert.Equal(t, DefaultMaxCorrespondenceDistance, cfg.MaxCorrespondenceDistance)
	assert.Equal(t, DefaultMaxIterations, cfg.MaxIterations)
	assert.Equal(t, DefaultConvergenceThreshold, cfg.ConvergenceThreshold)
	assert.Equal(t, DefaultMinCorrespondences, cfg.MinCorrespondences)

	// Explicit values survive.
	custom := Config{MaxIterations: 50}.WithDefaults()
	assert.Equal(t, 50, custom.MaxIterations)
}

func TestConfigValidate(t *testing.T) {
	t.Parallel()

	assert.NoError(t, Config{}.Validate())
	assert.NoError(t, DefaultConfig().Validate())

	assert.Error(t, Config{MaxCorrespondenceDistance: -1}.Validate())
	assert.Error(t, Config{MaxIterations: -1}.Validate())
	assert.Error(t, Config{ConvergenceThreshold: -1e-3}.Validate())
	assert.Error(t, Config{MinCorrespondences: -1}.Validate())
}
