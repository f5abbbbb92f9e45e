package stream

import (
	"fmt"
	"log"
	"time"

	"github.com/carlostojal/pcl-aggregator-core/internal/timeutil"
	"github.com/carlostojal/pcl-aggregator-core/registration"
)

// DefaultWorkers is the default size of the transform-and-merge worker pool.
const DefaultWorkers = 4

// Config contains configuration for a stream Manager.
type Config struct {
	// Topic identifies the sensor stream (opaque, required).
	Topic string
	// MaxAge is how long an ingested fragment lives before eviction
	// (required, > 0).
	MaxAge time.Duration
	// ICP holds the alignment tuning; zero fields take registration
	// defaults.
	ICP registration.Config
	// Workers bounds the number of concurrent transform+ICP+merge units of
	// work (default: DefaultWorkers).
	Workers int
	// Logger is optional; if nil, uses log.Default().
	Logger *log.Logger
	// Clock is optional; if nil, uses the wall clock. Tests inject a mock.
	Clock timeutil.Clock
}

// Validate reports configuration errors that would leave the manager with an
// unusable eviction policy or identity.
func (c Config) Validate() error {
	if c.Topic == "" {
		return fmt.Errorf("stream config: topic is required")
	}
	if c.MaxAge <= 0 {
		return fmt.Errorf("stream config: max age must be positive, got %v", c.MaxAge)
	}
	if c.Workers < 0 {
		return fmt.Errorf("stream config: workers must not be negative, got %d", c.Workers)
	}
	if err := c.ICP.Validate(); err != nil {
		return fmt.Errorf("stream config: %w", err)
	}
	return nil
}

// withDefaults fills optional fields.
func (c Config) withDefaults() Config {
	if c.Workers == 0 {
		c.Workers = DefaultWorkers
	}
	if c.Logger == nil {
		c.Logger = log.Default()
	}
	if c.Clock == nil {
		c.Clock = timeutil.RealClock{}
	}
	c.ICP = c.ICP.WithDefaults()
	return c
}
