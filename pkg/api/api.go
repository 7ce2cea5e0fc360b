// Package api serves the read-only dashboard API: run summaries, per-run
// breakdowns, metric trends, the flat snapshot and raw reports.
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ethpandaops/pageaudit/pkg/aggregate"
	"github.com/ethpandaops/pageaudit/pkg/audit"
	"github.com/ethpandaops/pageaudit/pkg/config"
	"github.com/ethpandaops/pageaudit/pkg/telemetry"
	"github.com/sirupsen/logrus"
)

const shutdownTimeout = 10 * time.Second

// RecordQuerier lists metric records in storage order.
type RecordQuerier interface {
	QueryMetricRecords(ctx context.Context, limit int) ([]audit.Record, error)
}

// ReportReader loads raw reports for the detail view.
type ReportReader interface {
	ReadRawReport(ctx context.Context, runID audit.RunID, filename string) ([]byte, error)
}

// Sources are the data behind the API. Reports and Metrics may be nil.
type Sources struct {
	Records       RecordQuerier
	Reports       ReportReader
	Metrics       *telemetry.Metrics
	SnapshotLimit int
}

// Server exposes the API HTTP server lifecycle.
type Server interface {
	Start(ctx context.Context) error
	Stop() error
	// Addr returns the bound listen address once started.
	Addr() string
}

// Compile-time interface check.
var _ Server = (*server)(nil)

type server struct {
	log        logrus.FieldLogger
	cfg        *config.APIConfig
	src        Sources
	bands      aggregate.Bands
	httpServer *http.Server
	addr       string
	wg         sync.WaitGroup
	done       chan struct{}
	stopOnce   sync.Once
}

// NewServer creates a new API server.
func NewServer(log logrus.FieldLogger, cfg *config.APIConfig, src Sources) Server {
	return newServer(log, cfg, src)
}

func newServer(log logrus.FieldLogger, cfg *config.APIConfig, src Sources) *server {
	return &server{
		log:  log.WithField("component", "api"),
		cfg:  cfg,
		src:  src,
		done: make(chan struct{}),
	}
}

// prepare resolves settings that can fail before the router is built.
func (s *server) prepare() error {
	if s.src.Records == nil {
		return errors.New("no record source configured")
	}

	bands, err := aggregate.BandsByName(s.cfg.SeverityBands)
	if err != nil {
		return err
	}

	s.bands = bands

	return nil
}

// Start binds the listener and serves in the background.
func (s *server) Start(_ context.Context) error {
	if err := s.prepare(); err != nil {
		return fmt.Errorf("preparing api: %w", err)
	}

	s.httpServer = &http.Server{
		Addr:              s.cfg.Listen,
		Handler:           s.buildRouter(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	// Bind synchronously so port conflicts fail the command.
	ln, err := net.Listen("tcp", s.cfg.Listen)
	if err != nil {
		return fmt.Errorf("listening on %s: %w", s.cfg.Listen, err)
	}

	s.addr = ln.Addr().String()

	s.wg.Add(1)

	go func() {
		defer s.wg.Done()

		s.log.WithField("listen", s.addr).
			WithField("bands", s.bands.Name).
			Info("API server starting")

		if err := s.httpServer.Serve(ln); err != nil &&
			!errors.Is(err, http.ErrServerClosed) {
			s.log.WithError(err).Error("HTTP server error")
		}
	}()

	return nil
}

func (s *server) Addr() string {
	return s.addr
}

// Stop gracefully shuts down the HTTP server.
func (s *server) Stop() error {
	s.stopOnce.Do(func() {
		close(s.done)

		if s.httpServer != nil {
			ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
			defer cancel()

			if err := s.httpServer.Shutdown(ctx); err != nil {
				s.log.WithError(err).Warn("HTTP server shutdown error")
			}
		}

		s.wg.Wait()

		s.log.Info("API server stopped")
	})

	return nil
}
