package options

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

var _ IOptions = (*SyncOptions)(nil)

// SyncOptions configures the fleet status synchronization loop and the
// remote command dispatcher.
type SyncOptions struct {
	// DiffInterval is how often snapshots are compared and non-empty
	// diffs published to roaming partners.
	DiffInterval time.Duration `json:"diff-interval" mapstructure:"diff-interval"`

	// CommandTimeout bounds a remote command when the caller supplies no
	// deadline of its own.
	CommandTimeout time.Duration `json:"command-timeout" mapstructure:"command-timeout"`

	// ReplayRetention is how long completed command results are kept for
	// correlation-id replay.
	ReplayRetention time.Duration `json:"replay-retention" mapstructure:"replay-retention"`

	// ExpirySweepInterval is how often expired reservations are released.
	ExpirySweepInterval time.Duration `json:"expiry-sweep-interval" mapstructure:"expiry-sweep-interval"`

	// NotifyQueueSize is the bounded per-subscriber notification queue
	// capacity; the oldest entries are dropped on overflow.
	NotifyQueueSize int `json:"notify-queue-size" mapstructure:"notify-queue-size"`
}

// NewSyncOptions creates a SyncOptions object with default parameters.
func NewSyncOptions() *SyncOptions {
	return &SyncOptions{
		DiffInterval:        30 * time.Second,
		CommandTimeout:      10 * time.Second,
		ReplayRetention:     10 * time.Minute,
		ExpirySweepInterval: 15 * time.Second,
		NotifyQueueSize:     256,
	}
}

// Validate is used to parse and validate the parameters entered by the user at
// the command line when the program starts.
func (o *SyncOptions) Validate() []error {
	if o == nil {
		return nil
	}

	errors := []error{}

	if o.DiffInterval <= 0 {
		errors = append(errors, fmt.Errorf("sync.diff-interval must be positive, got %v", o.DiffInterval))
	}
	if o.CommandTimeout <= 0 {
		errors = append(errors, fmt.Errorf("sync.command-timeout must be positive, got %v", o.CommandTimeout))
	}
	if o.NotifyQueueSize <= 0 {
		errors = append(errors, fmt.Errorf("sync.notify-queue-size must be positive, got %d", o.NotifyQueueSize))
	}

	return errors
}

// AddFlags adds flags for SyncOptions to the specified FlagSet.
func (o *SyncOptions) AddFlags(fs *pflag.FlagSet, prefixes ...string) {
	fs.DurationVar(&o.DiffInterval, "sync.diff-interval", o.DiffInterval, "Interval between fleet status diff publications.")
	fs.DurationVar(&o.CommandTimeout, "sync.command-timeout", o.CommandTimeout, "Default deadline for remote commands.")
	fs.DurationVar(&o.ReplayRetention, "sync.replay-retention", o.ReplayRetention, "Retention window for correlation-id command replay.")
	fs.DurationVar(&o.ExpirySweepInterval, "sync.expiry-sweep-interval", o.ExpirySweepInterval, "Interval between expired reservation sweeps.")
	fs.IntVar(&o.NotifyQueueSize, "sync.notify-queue-size", o.NotifyQueueSize, "Bounded per-subscriber notification queue capacity.")
}
