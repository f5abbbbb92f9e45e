package pointcloud

// Point is a single labeled return in Cartesian coordinates (meters).
// Label is opaque to this package; the stream layer stamps every point with
// the label of its owning fragment so downstream consumers can remove points
// by label when a fragment is evicted.
type Point struct {
	X, Y, Z float64
	Label   uint32
}

// Cloud is a point payload. The zero value is an empty cloud.
type Cloud []Point

// Len returns the number of points in the cloud.
func (c Cloud) Len() int { return len(c) }

// Clone returns a deep copy of the cloud.
func (c Cloud) Clone() Cloud {
	if c == nil {
		return nil
	}
	out := make(Cloud, len(c))
	copy(out, c)
	return out
}

// Labels returns the distinct point labels present in the cloud, in first
// occurrence order.
func (c Cloud) Labels() []uint32 {
	seen := make(map[uint32]struct{}, 4)
	var labels []uint32
	for _, p := range c {
		if _, ok := seen[p.Label]; ok {
			continue
		}
		seen[p.Label] = struct{}{}
		labels = append(labels, p.Label)
	}
	return labels
}

// SetLabel stamps every point in the cloud with the given label.
func (c Cloud) SetLabel(label uint32) {
	for i := range c {
		c[i].Label = label
	}
}

// Merge returns the concatenation of c and other. Points are unioned as-is:
// no label-level deduplication takes place.
func (c Cloud) Merge(other Cloud) Cloud {
	if len(other) == 0 {
		return c
	}
	out := make(Cloud, 0, len(c)+len(other))
	out = append(out, c...)
	out = append(out, other...)
	return out
}
