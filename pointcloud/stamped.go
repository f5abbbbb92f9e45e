package pointcloud

import (
	"bytes"
	"encoding/binary"
	"time"

	"github.com/google/uuid"
)

// StampedCloud is one ingested fragment: a cloud payload plus a unique
// identity and the capture timestamp assigned at ingestion. The identity and
// timestamp never change after construction; the payload is replaced (never
// edited) by transform application and ICP refinement.
type StampedCloud struct {
	ID        uuid.UUID
	Timestamp time.Time
	Points    Cloud
}

// NewStampedCloud wraps a raw payload with a fresh identity and the given
// capture timestamp, and stamps every point with the fragment's label.
func NewStampedCloud(points Cloud, ts time.Time) *StampedCloud {
	sc := &StampedCloud{
		ID:        uuid.New(),
		Timestamp: ts,
		Points:    points,
	}
	sc.Points.SetLabel(sc.Label())
	return sc
}

// Label derives the fragment's compact point label from its identity.
// All points owned by the fragment carry this label.
func (sc *StampedCloud) Label() uint32 {
	return binary.BigEndian.Uint32(sc.ID[:4])
}

// Before reports whether sc orders strictly before other: timestamp
// ascending, with identity bytes as the tie-break so that fragments sharing a
// timestamp still have a deterministic total order.
func (sc *StampedCloud) Before(other *StampedCloud) bool {
	if !sc.Timestamp.Equal(other.Timestamp) {
		return sc.Timestamp.Before(other.Timestamp)
	}
	return bytes.Compare(sc.ID[:], other.ID[:]) < 0
}

// Deadline returns the instant at which the fragment expires for the given
// max age.
func (sc *StampedCloud) Deadline(maxAge time.Duration) time.Time {
	return sc.Timestamp.Add(maxAge)
}
