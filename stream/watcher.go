package stream

import (
	"time"

	"github.com/carlostojal/pcl-aggregator-core/pointcloud"
)

// watch is the aging watcher loop. Because fragments are kept sorted by
// timestamp and every deadline is timestamp + maxAge, the head of the
// fragment set always carries the next deadline; one timer re-armed per
// cycle replaces a timer per fragment. The loop exits only when the manager
// is closed.
func (m *Manager) watch() {
	defer close(m.doneCh)

	timer := m.clock.NewTimer(m.cfg.MaxAge)
	defer timer.Stop()

	for {
		deadline := m.nextDeadline()
		if !m.clock.Now().Before(deadline) {
			// Head already expired; no need to arm a timer.
			m.evictExpired()
			continue
		}

		if !timer.Stop() {
			select {
			case <-timer.C():
			default:
			}
		}
		// Re-arm against the absolute deadline: if the clock moves past it
		// between the check above and here, the timer fires immediately
		// instead of pushing the expiry out by a stale duration.
		timer.ResetAt(deadline)

		select {
		case <-m.stopCh:
			return
		case <-m.wakeCh:
			// A fragment with a possibly earlier deadline arrived;
			// re-evaluate.
		case <-timer.C():
			m.evictExpired()
		}
	}
}

// nextDeadline returns the head fragment's expiry time, or a full maxAge
// re-check interval from now when the set is empty.
func (m *Manager) nextDeadline() time.Time {
	m.setMu.Lock()
	defer m.setMu.Unlock()
	if len(m.clouds) == 0 {
		return m.clock.Now().Add(m.cfg.MaxAge)
	}
	return m.clouds[0].Deadline(m.cfg.MaxAge)
}

// evictExpired removes every fragment whose deadline has passed, rebuilds
// the merged cloud from the survivors, and fires the aging callback once per
// evicted point label. Fragments already removed by a concurrent teardown
// are simply not found, which makes re-entry a no-op.
func (m *Manager) evictExpired() {
	now := m.clock.Now()

	var expired []*pointcloud.StampedCloud
	m.setMu.Lock()
	n := 0
	for n < len(m.clouds) && !m.clouds[n].Deadline(m.cfg.MaxAge).After(now) {
		n++
	}
	if n > 0 {
		expired = append(expired, m.clouds[:n]...)
		m.clouds = append([]*pointcloud.StampedCloud(nil), m.clouds[n:]...)

		m.mergedMu.Lock()
		m.merged = mergeAll(m.clouds)
		m.mergedMu.Unlock()
	}
	m.setMu.Unlock()

	if len(expired) == 0 {
		return
	}

	cb := m.PointAgingCallback()
	for _, sc := range expired {
		m.stats.addEvicted(sc.Points.Len())
		if cb == nil {
			continue
		}
		for _, label := range sc.Points.Labels() {
			cb(label)
		}
	}
	m.logger.Printf("stream %s: evicted %d fragment(s) older than %v", m.cfg.Topic, len(expired), m.cfg.MaxAge)
}

// mergeAll concatenates the fragments' points in timestamp order.
func mergeAll(clouds []*pointcloud.StampedCloud) pointcloud.Cloud {
	var total int
	for _, sc := range clouds {
		total += sc.Points.Len()
	}
	if total == 0 {
		return nil
	}
	merged := make(pointcloud.Cloud, 0, total)
	for _, sc := range clouds {
		merged = append(merged, sc.Points...)
	}
	return merged
}
