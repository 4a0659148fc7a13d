package sweeper

import (
	"context"
	"time"

	"github.com/craftlane/craftlane/internal/config"
	escrowdomain "github.com/craftlane/craftlane/internal/escrow/domain"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Params struct {
	fx.In

	Log       *zap.Logger
	Cfg       config.Config
	EscrowSvc escrowdomain.Service
}

// Sweeper periodically settles escrow holds whose dispute window has passed.
type Sweeper struct {
	log       *zap.Logger
	cfg       config.SweepConfig
	escrowSvc escrowdomain.Service
}

func New(p Params) *Sweeper {
	return &Sweeper{
		log:       p.Log.Named("sweeper").With(zap.String("component", "sweeper")),
		cfg:       p.Cfg.Sweep,
		escrowSvc: p.EscrowSvc,
	}
}

// RunOnce performs a single sweep pass.
func (s *Sweeper) RunOnce(ctx context.Context) (int, error) {
	return s.escrowSvc.ExpireOverdueHolds(ctx, s.cfg.BatchSize)
}

// RunForever loops until the context is cancelled.
func (s *Sweeper) RunForever(ctx context.Context) {
	interval := s.cfg.Interval
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		if processed, err := s.RunOnce(ctx); err != nil {
			s.log.Warn("expiry sweep run failed", zap.Error(err))
		} else if processed > 0 {
			s.log.Info("expiry sweep run finished", zap.Int("processed", processed))
		}

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

func run(lc fx.Lifecycle, s *Sweeper) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			ctx, cancel := context.WithCancel(context.Background())

			go s.RunForever(ctx)

			lc.Append(fx.Hook{
				OnStop: func(context.Context) error {
					cancel()
					return nil
				},
			})

			return nil
		},
	})
}

var Module = fx.Module("sweeper",
	fx.Provide(New),
	fx.Invoke(run),
)
