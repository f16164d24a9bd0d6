// Package relay assembles the delivery engine from configuration so every
// binary drains mailboxes the same way.
package relay

import (
	"context"
	"errors"
	"fmt"

	"gorm.io/gorm"

	"github.com/angelmondragon/webhook-relay/internal/delivery"
	"github.com/angelmondragon/webhook-relay/internal/mailbox"
	"github.com/angelmondragon/webhook-relay/internal/silo"
	"github.com/angelmondragon/webhook-relay/internal/thirdparty"
	"github.com/angelmondragon/webhook-relay/pkg/config"
	"github.com/angelmondragon/webhook-relay/pkg/logger"
	"github.com/angelmondragon/webhook-relay/pkg/metrics"
)

type EngineParams struct {
	Config  *config.Config
	Logger  *logger.Logger
	DB      *gorm.DB
	Metrics *metrics.DeliveryMetrics
}

// Engine is the wired delivery pipeline: mailbox storage, the destination
// client and both drainers behind one task runner.
type Engine struct {
	Settings   delivery.Settings
	Priorities *delivery.PriorityTable
	Store      *mailbox.Store
	Client     *delivery.Client
	Sequential *delivery.SequentialDrainer
	Parallel   *delivery.ParallelDrainer
	Runner     *delivery.TaskRunner
}

func NewEngine(params EngineParams) (*Engine, error) {
	if params.Config == nil {
		return nil, errors.New("config required")
	}
	if params.Logger == nil {
		return nil, errors.New("logger required")
	}
	if params.DB == nil {
		return nil, errors.New("database required")
	}
	cfg := params.Config
	settings := delivery.SettingsFromConfig(cfg.Delivery)

	store := mailbox.NewStore(params.DB, mailbox.Backoff{
		Interval: cfg.Delivery.BackoffInterval,
		Rate:     cfg.Delivery.BackoffRate,
		Max:      cfg.Delivery.MaxBackoff,
	})

	regions, err := silo.NewRegistry(cfg.Regions.Addresses)
	if err != nil {
		return nil, fmt.Errorf("region registry: %w", err)
	}
	regionClient, err := silo.NewClient(cfg.Regions)
	if err != nil {
		return nil, fmt.Errorf("region client: %w", err)
	}

	clientParams := delivery.ClientParams{
		Logger:           params.Logger,
		Metrics:          params.Metrics,
		Regions:          regions,
		RegionClient:     regionClient,
		ThirdPartyConfig: cfg.ThirdParty,
	}
	if cfg.ThirdParty.Configured() {
		forwarder, err := thirdparty.NewClient(cfg.ThirdParty)
		if err != nil {
			return nil, fmt.Errorf("third party client: %w", err)
		}
		clientParams.ThirdParty = forwarder
	}
	client, err := delivery.NewClient(clientParams)
	if err != nil {
		return nil, fmt.Errorf("delivery client: %w", err)
	}

	drainerParams := delivery.DrainerParams{
		Logger:    params.Logger,
		Metrics:   params.Metrics,
		Store:     store,
		Deliverer: client,
		Settings:  settings,
	}
	sequential, err := delivery.NewSequentialDrainer(drainerParams)
	if err != nil {
		return nil, fmt.Errorf("sequential drainer: %w", err)
	}
	parallel, err := delivery.NewParallelDrainer(delivery.ParallelDrainerParams{DrainerParams: drainerParams})
	if err != nil {
		return nil, fmt.Errorf("parallel drainer: %w", err)
	}
	runner, err := delivery.NewTaskRunner(sequential, parallel)
	if err != nil {
		return nil, fmt.Errorf("task runner: %w", err)
	}

	params.Logger.Info(params.Logger.WithFields(context.Background(), map[string]any{
		"regions":     regions.Names(),
		"third_party": clientParams.ThirdParty != nil,
	}), "delivery engine ready")

	return &Engine{
		Settings:   settings,
		Priorities: delivery.NewPriorityTable(cfg.Delivery.ProviderPriorities, cfg.Delivery.DefaultPriority),
		Store:      store,
		Client:     client,
		Sequential: sequential,
		Parallel:   parallel,
		Runner:     runner,
	}, nil
}

// NewScheduler builds a scheduler over the engine store that hands drains to dispatcher.
func (e *Engine) NewScheduler(logg *logger.Logger, deliveryMetrics *metrics.DeliveryMetrics, dispatcher delivery.Dispatcher) (*delivery.Scheduler, error) {
	return delivery.NewScheduler(delivery.SchedulerParams{
		Logger:     logg,
		Metrics:    deliveryMetrics,
		Store:      e.Store,
		Dispatcher: dispatcher,
		Priorities: e.Priorities,
		Settings:   e.Settings,
	})
}
