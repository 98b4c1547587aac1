package main

import (
	"context"

	"go.uber.org/zap"

	"github.com/celerix-dev/carbon-ledger/internal/exchange"
	"github.com/celerix-dev/carbon-ledger/internal/records"
	"github.com/celerix-dev/carbon-ledger/internal/scoring"
	"github.com/celerix-dev/carbon-ledger/internal/storage"
	"github.com/celerix-dev/carbon-ledger/pkg/sdk"
)

// app holds the components every command that touches records needs.
type app struct {
	Store    sdk.DocumentStore
	Ledger   *records.Ledger
	Exchange *exchange.Exchange
}

func initApp(ctx context.Context) (*app, error) {
	store, err := storage.Open(ctx, cfg.Store)
	if err != nil {
		return nil, err
	}
	ledger := records.NewLedger(store, nil)

	runner := &scoring.Runner{
		Command:        cfg.Scorer.Command,
		Args:           cfg.Scorer.Args,
		Dir:            cfg.Scorer.Dir,
		Timeout:        cfg.Scorer.Timeout,
		MaxOutputBytes: cfg.Scorer.MaxOutputBytes,
		Logger:         zap.L().Named("scorer"),
	}
	x := exchange.New(ledger.Emissions, ledger.Recommendations, runner,
		exchange.WithPolicy(exchange.Policy(cfg.Exchange.Concurrency)),
		exchange.WithLogger(zap.L().Named("exchange")),
	)

	return &app{Store: store, Ledger: ledger, Exchange: x}, nil
}

func (a *app) Close() error {
	return a.Store.Close()
}
