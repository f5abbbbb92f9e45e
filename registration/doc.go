// Package registration implements iterative closest point (ICP) alignment of
// labeled point clouds. Alignment is best-effort refinement: Align never
// fails, it reports non-convergence and leaves the caller free to keep the
// unrefined pose.
package registration
