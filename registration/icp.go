package registration

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/spatial/kdtree"

	"github.com/carlostojal/pcl-aggregator-core/pointcloud"
)

// Defaults for Config fields left at zero.
const (
	DefaultMaxCorrespondenceDistance = 1.0 // meters
	DefaultMaxIterations             = 10
	DefaultConvergenceThreshold      = 1e-3 // meters of mean-error improvement
	DefaultMinCorrespondences        = 3
)

// divergenceFactor stops iteration when the mean error grows by more than
// this factor between iterations.
const divergenceFactor = 1.1

// Config holds ICP tuning parameters. Distances are in the same units as the
// input clouds (meters).
type Config struct {
	// MaxCorrespondenceDistance bounds the nearest-neighbour search: source
	// points farther than this from any target point are not matched.
	MaxCorrespondenceDistance float64
	// MaxIterations caps the number of refinement iterations.
	MaxIterations int
	// ConvergenceThreshold stops iteration once the mean correspondence
	// error improves by less than this amount.
	ConvergenceThreshold float64
	// MinCorrespondences is the minimum number of matched pairs required to
	// estimate a rigid transform.
	MinCorrespondences int
}

// Validate reports tuning values that would silently disable or destabilise
// alignment. Zero fields are fine; they take package defaults.
func (c Config) Validate() error {
	if c.MaxCorrespondenceDistance < 0 {
		return fmt.Errorf("icp config: max correspondence distance must not be negative, got %v", c.MaxCorrespondenceDistance)
	}
	if c.MaxIterations < 0 {
		return fmt.Errorf("icp config: max iterations must not be negative, got %d", c.MaxIterations)
	}
	if c.ConvergenceThreshold < 0 {
		return fmt.Errorf("icp config: convergence threshold must not be negative, got %v", c.ConvergenceThreshold)
	}
	if c.MinCorrespondences < 0 {
		return fmt.Errorf("icp config: min correspondences must not be negative, got %d", c.MinCorrespondences)
	}
	return nil
}

// WithDefaults returns a copy of the config with zero fields replaced by
// package defaults.
func (c Config) WithDefaults() Config {
	if c.MaxCorrespondenceDistance == 0 {
		c.MaxCorrespondenceDistance = DefaultMaxCorrespondenceDistance
	}
	if c.MaxIterations == 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.ConvergenceThreshold == 0 {
		c.ConvergenceThreshold = DefaultConvergenceThreshold
	}
	if c.MinCorrespondences == 0 {
		c.MinCorrespondences = DefaultMinCorrespondences
	}
	return c
}

// DefaultConfig returns the package default ICP configuration.
func DefaultConfig() Config {
	return Config{}.WithDefaults()
}

// Result reports the outcome of an alignment.
type Result struct {
	// Transform maps the source cloud onto the target. Identity when
	// alignment could not be estimated.
	Transform pointcloud.Transform
	// Error is the final mean correspondence distance (meters).
	// math.MaxFloat64 when no correspondences were found.
	Error float64
	// Iterations is the number of refinement iterations performed.
	Iterations int
	// Converged reports whether the error improvement dropped below the
	// configured threshold before the iteration cap.
	Converged bool
}

// Align estimates the rigid transform that maps source onto target.
//
// Each iteration matches every source point to its nearest target point
// within the correspondence bound, estimates the rigid correction from the
// matched pairs, and composes it onto the running estimate. Degenerate
// inputs (too few points or matches, unstable estimates) end the loop with
// Converged == false and the best transform so far; they are never an error.
func Align(source, target pointcloud.Cloud, cfg Config) Result {
	cfg = cfg.WithDefaults()

	result := Result{
		Transform: pointcloud.Identity(),
		Error:     math.MaxFloat64,
	}
	if len(source) < cfg.MinCorrespondences || len(target) < cfg.MinCorrespondences {
		return result
	}

	tree := kdtree.New(cloudToKDPoints(target), false)
	maxDistSq := cfg.MaxCorrespondenceDistance * cfg.MaxCorrespondenceDistance

	current := pointcloud.Identity()
	prevErr := meanCorrespondenceError(current.Apply(source), tree, maxDistSq)
	if prevErr < math.MaxFloat64 {
		result.Error = prevErr
	}

	for iter := 0; iter < cfg.MaxIterations; iter++ {
		result.Iterations = iter + 1

		transformed := current.Apply(source)
		src, tgt := findCorrespondences(transformed, tree, maxDistSq)
		if len(src) < cfg.MinCorrespondences {
			break
		}

		incremental, ok := rigidFromPairs(src, tgt)
		if !ok {
			break
		}
		next := incremental.Compose(current)

		err := meanCorrespondenceError(next.Apply(source), tree, maxDistSq)
		if math.IsNaN(err) || math.IsInf(err, 0) {
			break
		}

		improvement := prevErr - err
		if improvement >= 0 && improvement < cfg.ConvergenceThreshold {
			result.Converged = true
			result.Transform = next
			result.Error = err
			break
		}
		if err > prevErr*divergenceFactor {
			// Getting worse: keep the previous estimate.
			break
		}

		prevErr = err
		current = next
		result.Transform = next
		result.Error = err
	}

	return result
}

// findCorrespondences pairs each source point with its nearest target point
// within the squared distance bound.
func findCorrespondences(source pointcloud.Cloud, tree *kdtree.Tree, maxDistSq float64) (src, tgt []pointcloud.Point) {
	for _, p := range source {
		nearest, distSq := tree.Nearest(kdtree.Point{p.X, p.Y, p.Z})
		if nearest == nil || distSq > maxDistSq {
			continue
		}
		q := nearest.(kdtree.Point)
		src = append(src, p)
		tgt = append(tgt, pointcloud.Point{X: q[0], Y: q[1], Z: q[2]})
	}
	return src, tgt
}

// meanCorrespondenceError returns the mean nearest-neighbour distance of the
// matched source points, or MaxFloat64 when nothing matches.
func meanCorrespondenceError(source pointcloud.Cloud, tree *kdtree.Tree, maxDistSq float64) float64 {
	var sum float64
	var n int
	for _, p := range source {
		nearest, distSq := tree.Nearest(kdtree.Point{p.X, p.Y, p.Z})
		if nearest == nil || distSq > maxDistSq {
			continue
		}
		sum += math.Sqrt(distSq)
		n++
	}
	if n == 0 {
		return math.MaxFloat64
	}
	return sum / float64(n)
}

// rigidFromPairs estimates the rigid transform mapping the src points onto
// the tgt points using the SVD of the cross-covariance (Kabsch). Returns
// ok == false when the estimate is unstable.
func rigidFromPairs(src, tgt []pointcloud.Point) (pointcloud.Transform, bool) {
	n := float64(len(src))

	var scx, scy, scz, tcx, tcy, tcz float64
	for i := range src {
		scx += src[i].X
		scy += src[i].Y
		scz += src[i].Z
		tcx += tgt[i].X
		tcy += tgt[i].Y
		tcz += tgt[i].Z
	}
	scx, scy, scz = scx/n, scy/n, scz/n
	tcx, tcy, tcz = tcx/n, tcy/n, tcz/n

	// Cross-covariance of the centered pairs.
	h := mat.NewDense(3, 3, nil)
	for i := range src {
		sx, sy, sz := src[i].X-scx, src[i].Y-scy, src[i].Z-scz
		tx, ty, tz := tgt[i].X-tcx, tgt[i].Y-tcy, tgt[i].Z-tcz
		h.Set(0, 0, h.At(0, 0)+sx*tx)
		h.Set(0, 1, h.At(0, 1)+sx*ty)
		h.Set(0, 2, h.At(0, 2)+sx*tz)
		h.Set(1, 0, h.At(1, 0)+sy*tx)
		h.Set(1, 1, h.At(1, 1)+sy*ty)
		h.Set(1, 2, h.At(1, 2)+sy*tz)
		h.Set(2, 0, h.At(2, 0)+sz*tx)
		h.Set(2, 1, h.At(2, 1)+sz*ty)
		h.Set(2, 2, h.At(2, 2)+sz*tz)
	}

	var svd mat.SVD
	if !svd.Factorize(h, mat.SVDFull) {
		return pointcloud.Identity(), false
	}
	var u, v mat.Dense
	svd.UTo(&u)
	svd.VTo(&v)

	var r mat.Dense
	r.Mul(&v, u.T())

	// A negative determinant means a reflection: flip the axis of least
	// variance and recompute.
	if mat.Det(&r) < 0 {
		for i := 0; i < 3; i++ {
			v.Set(i, 2, -v.At(i, 2))
		}
		r.Mul(&v, u.T())
	}

	translation := []float64{
		tcx - (r.At(0, 0)*scx + r.At(0, 1)*scy + r.At(0, 2)*scz),
		tcy - (r.At(1, 0)*scx + r.At(1, 1)*scy + r.At(1, 2)*scz),
		tcz - (r.At(2, 0)*scx + r.At(2, 1)*scy + r.At(2, 2)*scz),
	}

	tf, err := pointcloud.TransformFromParts(&r, translation)
	if err != nil {
		return pointcloud.Identity(), false
	}
	return tf, true
}

// cloudToKDPoints converts a cloud into the kd-tree's point representation.
func cloudToKDPoints(c pointcloud.Cloud) kdtree.Points {
	pts := make(kdtree.Points, len(c))
	for i, p := range c {
		pts[i] = kdtree.Point{p.X, p.Y, p.Z}
	}
	return pts
}
