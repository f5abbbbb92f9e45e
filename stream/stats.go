package stream

import "sync"

// Stats tracks per-stream counters with thread-safe operations.
type Stats struct {
	mu            sync.Mutex
	ingested      int64
	queued        int64
	merged        int64
	evicted       int64
	icpConverged  int64
	icpFellBack   int64
	evictedPoints int64
}

// Snapshot is a point-in-time copy of a stream's counters.
type Snapshot struct {
	// Ingested counts fragments handed to AddCloud.
	Ingested int64
	// Queued counts fragments that arrived before the transform was set.
	Queued int64
	// Merged counts fragments folded into the merged cloud.
	Merged int64
	// Evicted counts fragments removed by the aging watcher.
	Evicted int64
	// ICPConverged counts fragments whose ICP refinement converged.
	ICPConverged int64
	// ICPFellBack counts fragments merged with the transform-only pose.
	ICPFellBack int64
	// EvictedPoints counts individual points removed by eviction.
	EvictedPoints int64
}

func (s *Stats) addIngested() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ingested++
}

func (s *Stats) addQueued() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queued++
}

func (s *Stats) addMerged(icpAttempted, icpConverged bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.merged++
	if !icpAttempted {
		return
	}
	if icpConverged {
		s.icpConverged++
	} else {
		s.icpFellBack++
	}
}

func (s *Stats) addEvicted(points int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.evicted++
	s.evictedPoints += int64(points)
}

// Get returns a copy of the current counters.
func (s *Stats) Get() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Snapshot{
		Ingested:      s.ingested,
		Queued:        s.queued,
		Merged:        s.merged,
		Evicted:       s.evicted,
		ICPConverged:  s.icpConverged,
		ICPFellBack:   s.icpFellBack,
		EvictedPoints: s.evictedPoints,
	}
}
