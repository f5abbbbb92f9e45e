// Package stream implements the per-sensor stream manager: it ingests
// timestamped point-cloud fragments, applies the sensor-to-reference
// transform, refines alignment with best-effort ICP, folds fragments into a
// running merged cloud, and evicts whole fragments once they outlive the
// configured max age.
//
// A Manager coordinates three independently guarded regions: the sensor
// transform, the fragment set (live fragments plus the pre-transform FIFO
// queue), and the merged cloud. Operations touching more than one region
// acquire them in that fixed order.
package stream
