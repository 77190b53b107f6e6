package pipeline

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/FranksOps/mapscrape/internal/config"
	"github.com/FranksOps/mapscrape/internal/storage/csvbackend"
	"github.com/FranksOps/mapscrape/internal/storage/elastic"
	"github.com/FranksOps/mapscrape/internal/storage/jsonbackend"
	"github.com/FranksOps/mapscrape/internal/storage/postgres"
	"github.com/FranksOps/mapscrape/internal/storage/sqlite"
)

// OpenSinks opens every sink enabled in cfg. If one fails to open, the ones
// already opened are closed and the error is returned.
func OpenSinks(ctx context.Context, cfg config.SinksConfig, logger *slog.Logger) ([]Sink, error) {
	if logger == nil {
		logger = slog.Default()
	}

	var sinks []Sink
	open := func(name string, fn func() (Sink, error)) error {
		s, err := fn()
		if err != nil {
			return fmt.Errorf("open %s sink: %w", name, err)
		}
		s.Name = name
		sinks = append(sinks, s)
		logger.Debug("sink opened", "sink", name)
		return nil
	}

	var err error
	if cfg.NDJSON != "" {
		err = open("ndjson", func() (Sink, error) {
			b, err := jsonbackend.New(cfg.NDJSON)
			return Sink{Backend: b}, err
		})
	}
	if err == nil && cfg.CSV != "" {
		err = open("csv", func() (Sink, error) {
			b, err := csvbackend.New(cfg.CSV)
			return Sink{Backend: b}, err
		})
	}
	if err == nil && cfg.SQLite != "" {
		err = open("sqlite", func() (Sink, error) {
			b, err := sqlite.New(cfg.SQLite)
			return Sink{Backend: b}, err
		})
	}
	if err == nil && cfg.Postgres != "" {
		err = open("postgres", func() (Sink, error) {
			b, err := postgres.New(ctx, cfg.Postgres)
			return Sink{Backend: b}, err
		})
	}
	if err == nil && len(cfg.Elastic.Addresses) > 0 {
		err = open("elastic", func() (Sink, error) {
			b, err := elastic.New(ctx, elastic.Config{
				Addresses: cfg.Elastic.Addresses,
				Username:  cfg.Elastic.Username,
				Password:  cfg.Elastic.Password,
				Index:     cfg.Elastic.Index,
				Logger:    logger,
			})
			return Sink{Backend: b}, err
		})
	}

	if err != nil {
		return nil, errors.Join(err, CloseSinks(sinks))
	}
	return sinks, nil
}

// CloseSinks closes every sink and joins their errors.
func CloseSinks(sinks []Sink) error {
	var errs []error
	for _, s := range sinks {
		if err := s.Backend.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s sink: %w", s.Name, err))
		}
	}
	return errors.Join(errs...)
}
