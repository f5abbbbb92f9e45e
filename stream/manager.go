package stream

import (
	"errors"
	"log"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/carlostojal/pcl-aggregator-core/internal/timeutil"
	"github.com/carlostojal/pcl-aggregator-core/pointcloud"
	"github.com/carlostojal/pcl-aggregator-core/registration"
)

// ErrClosed is returned by Close on an already-closed Manager.
var ErrClosed = errors.New("stream: manager already closed")

// PointAgingCallback is notified with a point label whenever the fragment
// owning that label is evicted for age. An outer aggregator uses it to drop
// the same label from composite structures it maintains across streams.
type PointAgingCallback func(label uint32)

// Manager aggregates the fragments of a single sensor stream into one
// bounded merged cloud.
//
// Locking discipline: transformMu, then setMu (fragment set + pre-transform
// queue), then mergedMu. Never acquire in any other order.
type Manager struct {
	cfg    Config
	logger *log.Logger
	clock  timeutil.Clock

	transformMu     sync.RWMutex
	sensorTransform pointcloud.Transform
	transformSet    bool

	setMu   sync.Mutex
	clouds  []*pointcloud.StampedCloud // sorted by (timestamp, ID)
	pending []*pointcloud.StampedCloud // FIFO, awaiting the transform

	mergedMu sync.RWMutex
	merged   pointcloud.Cloud

	callbackMu  sync.RWMutex
	agingNotify PointAgingCallback

	workers  *errgroup.Group
	inFlight sync.WaitGroup

	lifeMu sync.RWMutex
	closed bool
	stopCh chan struct{}
	doneCh chan struct{}
	wakeCh chan struct{}

	stats Stats
}

// New creates a Manager and starts its aging watcher.
func New(cfg Config) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.withDefaults()

	m := &Manager{
		cfg:    cfg,
		logger: cfg.Logger,
		clock:  cfg.Clock,
		stopCh: make(chan struct{}),
		doneCh: make(chan struct{}),
		wakeCh: make(chan struct{}, 1),
	}
	m.workers = &errgroup.Group{}
	m.workers.SetLimit(cfg.Workers)

	go m.watch()
	return m, nil
}

// Topic returns the stream identifier.
func (m *Manager) Topic() string { return m.cfg.Topic }

// MaxAge returns the configured eviction threshold.
func (m *Manager) MaxAge() time.Duration { return m.cfg.MaxAge }

// SetPointAgingCallback registers the sink notified on eviction. Replaces
// any previously registered callback.
func (m *Manager) SetPointAgingCallback(cb PointAgingCallback) {
	m.callbackMu.Lock()
	defer m.callbackMu.Unlock()
	m.agingNotify = cb
}

// PointAgingCallback returns the registered aging callback, or nil.
func (m *Manager) PointAgingCallback() PointAgingCallback {
	m.callbackMu.RLock()
	defer m.callbackMu.RUnlock()
	return m.agingNotify
}

// Stats returns a snapshot of the stream's counters.
func (m *Manager) Stats() Snapshot { return m.stats.Get() }

// AddCloud ingests one raw fragment. The manager takes ownership of the
// point slice. The fragment is stamped with the current clock time and a
// fresh identity; if the sensor transform is not yet set it is queued,
// otherwise it is handed to the worker pool for transform, ICP refinement
// and merge. AddCloud may block briefly when the pool is saturated.
func (m *Manager) AddCloud(points pointcloud.Cloud) {
	m.lifeMu.RLock()
	defer m.lifeMu.RUnlock()
	if m.closed {
		m.logger.Printf("stream %s: dropping fragment ingested after close", m.cfg.Topic)
		return
	}

	sc := pointcloud.NewStampedCloud(points, m.clock.Now())
	m.stats.addIngested()

	// Hold the transform lock across the enqueue: SetSensorTransform cannot
	// store the transform and drain the queue between the check and the
	// append, so a fragment is never stranded in pending.
	m.transformMu.RLock()
	if !m.transformSet {
		m.setMu.Lock()
		m.pending = append(m.pending, sc)
		m.setMu.Unlock()
		m.transformMu.RUnlock()
		m.stats.addQueued()
		return
	}
	tf := m.sensorTransform
	m.transformMu.RUnlock()

	m.inFlight.Add(1)
	m.workers.Go(func() error {
		defer m.inFlight.Done()
		m.processCloud(sc, tf)
		return nil
	})
}

// SetSensorTransform stores the sensor-to-reference transform and drains any
// fragments queued while it was unset, in arrival order. Fragments already
// merged are never re-processed.
func (m *Manager) SetSensorTransform(tf pointcloud.Transform) {
	m.lifeMu.RLock()
	defer m.lifeMu.RUnlock()
	if m.closed {
		m.logger.Printf("stream %s: ignoring transform set after close", m.cfg.Topic)
		return
	}

	m.transformMu.Lock()
	m.sensorTransform = tf
	m.transformSet = true
	m.transformMu.Unlock()

	m.setMu.Lock()
	queued := m.pending
	m.pending = nil
	m.setMu.Unlock()

	for _, sc := range queued {
		m.processCloud(sc, tf)
	}
}

// Cloud returns the current merged cloud. The merged cloud is replaced
// wholesale on every mutation, so the returned slice is a stable
// point-in-time snapshot; callers must not modify it.
func (m *Manager) Cloud() pointcloud.Cloud {
	m.mergedMu.RLock()
	defer m.mergedMu.RUnlock()
	return m.merged
}

// Flush blocks until every unit of work submitted before the call has
// completed. Intended for tests and orderly drains.
func (m *Manager) Flush() {
	m.inFlight.Wait()
}

// Close stops the aging watcher, joins it, and waits for in-flight workers.
// Returns ErrClosed if the manager was already closed.
func (m *Manager) Close() error {
	m.lifeMu.Lock()
	if m.closed {
		m.lifeMu.Unlock()
		return ErrClosed
	}
	m.closed = true
	m.lifeMu.Unlock()

	close(m.stopCh)
	<-m.doneCh
	// Workers never return errors; failures degrade to transform-only
	// merges inside processCloud.
	_ = m.workers.Wait()
	return nil
}

// processCloud runs the transform → ICP → merge pipeline for one fragment.
// The worker owns the fragment outright until it is inserted into the set.
func (m *Manager) processCloud(sc *pointcloud.StampedCloud, tf pointcloud.Transform) {
	tf.ApplyInPlace(sc.Points)

	attempted := false
	converged := false
	target := m.Cloud()
	if len(target) > 0 && len(sc.Points) > 0 {
		attempted = true
		res := registration.Align(sc.Points, target, m.cfg.ICP)
		if res.Converged {
			sc.Points = res.Transform.Apply(sc.Points)
			converged = true
		} else {
			m.logger.Printf("stream %s: ICP did not converge for fragment %s after %d iterations, keeping transform-only pose",
				m.cfg.Topic, sc.ID, res.Iterations)
		}
	}

	m.setMu.Lock()
	m.insertLocked(sc)
	m.mergedMu.Lock()
	m.merged = m.merged.Merge(sc.Points)
	m.mergedMu.Unlock()
	m.setMu.Unlock()

	m.stats.addMerged(attempted, converged)
	m.wake()
}

// insertLocked places the fragment at its timestamp-ordered position.
// Caller holds setMu.
func (m *Manager) insertLocked(sc *pointcloud.StampedCloud) {
	i := sort.Search(len(m.clouds), func(i int) bool {
		return sc.Before(m.clouds[i])
	})
	m.clouds = append(m.clouds, nil)
	copy(m.clouds[i+1:], m.clouds[i:])
	m.clouds[i] = sc
}

// wake nudges the watcher to re-evaluate the next eviction deadline.
func (m *Manager) wake() {
	select {
	case m.wakeCh <- struct{}{}:
	default:
	}
}
