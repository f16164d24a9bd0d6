package delivery

import (
	"time"

	"github.com/angelmondragon/webhook-relay/pkg/config"
)

const (
	DefaultMaxAttempts         = 10
	DefaultBatchScheduleOffset = 3 * time.Minute
	DefaultBatchSize           = 1000
	DefaultMaxMailboxDrain     = 300
	DefaultSequentialSlice     = 100
	DefaultMaxDeliveryAge      = 72 * time.Hour
	DefaultStaleDiscardBatch   = 10000
	DefaultWorkerThreads       = 4
)

// Settings are the scheduling and retry limits shared by the scheduler and drainers.
type Settings struct {
	MaxAttempts         int
	BatchScheduleOffset time.Duration
	BatchSize           int
	MaxMailboxDrain     int
	SequentialSlice     int
	MaxDeliveryAge      time.Duration
	StaleDiscardBatch   int
	WorkerThreads       int
}

func DefaultSettings() Settings {
	return Settings{
		MaxAttempts:         DefaultMaxAttempts,
		BatchScheduleOffset: DefaultBatchScheduleOffset,
		BatchSize:           DefaultBatchSize,
		MaxMailboxDrain:     DefaultMaxMailboxDrain,
		SequentialSlice:     DefaultSequentialSlice,
		MaxDeliveryAge:      DefaultMaxDeliveryAge,
		StaleDiscardBatch:   DefaultStaleDiscardBatch,
		WorkerThreads:       DefaultWorkerThreads,
	}
}

func SettingsFromConfig(cfg config.DeliveryConfig) Settings {
	return Settings{
		MaxAttempts:         cfg.MaxAttempts,
		BatchScheduleOffset: cfg.BatchScheduleOffset,
		BatchSize:           cfg.BatchSize,
		MaxMailboxDrain:     cfg.MaxMailboxDrain,
		SequentialSlice:     cfg.SequentialSlice,
		MaxDeliveryAge:      cfg.MaxDeliveryAge,
		StaleDiscardBatch:   cfg.StaleDiscardBatch,
		WorkerThreads:       cfg.WorkerThreads,
	}.withDefaults()
}

// ParallelThreshold is the leased window size at which a mailbox is considered
// behind and drained in parallel.
func (s Settings) ParallelThreshold() int {
	return s.MaxMailboxDrain / 5
}

func (s Settings) withDefaults() Settings {
	def := DefaultSettings()
	if s.MaxAttempts <= 0 {
		s.MaxAttempts = def.MaxAttempts
	}
	if s.BatchScheduleOffset <= 0 {
		s.BatchScheduleOffset = def.BatchScheduleOffset
	}
	if s.BatchSize <= 0 {
		s.BatchSize = def.BatchSize
	}
	if s.MaxMailboxDrain <= 0 {
		s.MaxMailboxDrain = def.MaxMailboxDrain
	}
	if s.SequentialSlice <= 0 {
		s.SequentialSlice = def.SequentialSlice
	}
	if s.MaxDeliveryAge <= 0 {
		s.MaxDeliveryAge = def.MaxDeliveryAge
	}
	if s.StaleDiscardBatch <= 0 {
		s.StaleDiscardBatch = def.StaleDiscardBatch
	}
	if s.WorkerThreads <= 0 {
		s.WorkerThreads = def.WorkerThreads
	}
	return s
}
