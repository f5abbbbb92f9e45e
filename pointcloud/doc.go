// Package pointcloud provides the geometric leaf types of the aggregator:
// labeled 3D points, cloud payloads, timestamped fragments and rigid
// sensor-to-reference transforms.
//
// Clouds are treated as immutable payloads by convention: operations return
// new slices rather than mutating in place, except for the explicit
// *InPlace variants used on exclusively-owned data.
package pointcloud
