package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"golang.org/x/sync/errgroup"

	"github.com/angelmondragon/webhook-relay/api"
	"github.com/angelmondragon/webhook-relay/pkg/logger"
)

type consumer interface {
	Run(ctx context.Context) error
}

type pinger interface {
	Ping(ctx context.Context) error
}

type ServiceParams struct {
	Logger       *logger.Logger
	Consumer     consumer
	Dependencies map[string]pinger
	HTTPAddr     string
	HTTPHandler  http.Handler
}

// Service runs the drain consumer next to the health and metrics server.
type Service struct {
	logg     *logger.Logger
	consumer consumer
	deps     map[string]pinger
	addr     string
	handler  http.Handler
}

func NewService(params ServiceParams) (*Service, error) {
	if params.Logger == nil {
		return nil, errors.New("logger is required")
	}
	if params.Consumer == nil {
		return nil, errors.New("drain consumer is required")
	}
	return &Service{
		logg:     params.Logger,
		consumer: params.Consumer,
		deps:     params.Dependencies,
		addr:     params.HTTPAddr,
		handler:  params.HTTPHandler,
	}, nil
}

func (s *Service) ensureReadiness(ctx context.Context) error {
	for name, dep := range s.deps {
		if dep == nil {
			continue
		}
		if err := dep.Ping(ctx); err != nil {
			s.logg.Error(ctx, fmt.Sprintf("%s ping failed", name), err)
			return fmt.Errorf("%s ping failed: %w", name, err)
		}
	}
	s.logg.Info(ctx, "all worker dependencies are ready")
	return nil
}

// Run blocks until ctx is canceled or either the consumer or the server fails.
func (s *Service) Run(ctx context.Context) error {
	if ctx == nil {
		ctx = context.Background()
	}
	if err := s.ensureReadiness(ctx); err != nil {
		return err
	}

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		err := s.consumer.Run(groupCtx)
		if err == nil && groupCtx.Err() == nil {
			return errors.New("drain consumer stopped")
		}
		return err
	})
	if s.handler != nil && s.addr != "" {
		group.Go(func() error { return api.Serve(groupCtx, s.logg, s.addr, s.handler) })
	}
	err := group.Wait()
	if err != nil && !errors.Is(err, context.Canceled) {
		s.logg.Error(ctx, "delivery worker stopped unexpectedly", err)
		return err
	}
	s.logg.Info(ctx, "delivery worker context canceled")
	return ctx.Err()
}
