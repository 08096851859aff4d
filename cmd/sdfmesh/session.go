package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"math/rand/v2"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/tsawler/go-sdf/config"
	"github.com/tsawler/go-sdf/dataset"
	"github.com/tsawler/go-sdf/distributed"
	"github.com/tsawler/go-sdf/distributed/redis"
	"github.com/tsawler/go-sdf/field"
	"github.com/tsawler/go-sdf/logging"
	"github.com/tsawler/go-sdf/optimizer"
	"github.com/tsawler/go-sdf/scalars"
	"github.com/tsawler/go-sdf/sdfnet"
	"github.com/tsawler/go-sdf/training"
)

// ScalarsFile is the SQLite database of recorded scalars inside the workspace
const ScalarsFile = "scalars.db"

// session owns everything a command needs to drive one trainer
type session struct {
	cfg     *config.Config
	logger  *slog.Logger
	reducer distributed.Reducer
	history *scalars.Memory
	sink    scalars.Sink
	trainer *training.Trainer
	network *sdfnet.Network

	trainSet *dataset.SDFDataset
	train    training.Loader
	valid    training.Loader

	server  *http.Server
	addr    string // address the metrics server listens on
	closers []io.Closer
}

// sessionOptions holds the parts a command may override
type sessionOptions struct {
	progress io.Writer
	output   io.Writer // log output, defaults to stderr
}

// openSession wires logging, the reducer, scalar sinks, datasets, the model
// and the trainer described by cfg. The returned session must be closed.
func openSession(cfg *config.Config, opts sessionOptions) (s *session, err error) {
	s = &session{cfg: cfg}
	defer func() {
		if err != nil {
			s.Close()
		}
	}()

	logOpts := logging.Options{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Rank:   cfg.Distributed.Rank,
		Output: opts.output,
	}
	if cfg.Log.File {
		logOpts.File = logging.FileName(cfg.Trainer.Workspace, cfg.Trainer.Name)
	}
	logger, logCloser, err := logging.New(logOpts)
	if err != nil {
		return s, err
	}
	s.logger = logger
	s.closers = append(s.closers, logCloser)

	if err := s.openReducer(); err != nil {
		return s, err
	}
	if err := os.MkdirAll(cfg.Trainer.Workspace, 0755); err != nil {
		return s, fmt.Errorf("failed to create workspace: %w", err)
	}

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	s.history = scalars.NewMemory()
	sinks := scalars.Multi{s.history}
	if distributed.IsMain(s.reducer) && cfg.Metrics.SQLite {
		sqlite, err := scalars.OpenSQLite(filepath.Join(cfg.Trainer.Workspace, ScalarsFile), cfg.Trainer.Name)
		if err != nil {
			return s, err
		}
		s.logger.Info("recording scalars", "path", filepath.Join(cfg.Trainer.Workspace, ScalarsFile), "run_id", sqlite.RunID())
		sinks = append(sinks, sqlite)
	}
	if cfg.Metrics.Prometheus || cfg.Metrics.Addr != "" {
		prom, err := scalars.NewPrometheusSink(registry, cfg.Trainer.Name)
		if err != nil {
			return s, fmt.Errorf("failed to register metrics: %w", err)
		}
		sinks = append(sinks, prom)
	}
	s.sink = sinks
	s.closers = append(s.closers, sinks)

	if err := s.openData(); err != nil {
		return s, err
	}

	s.network, err = sdfnet.New(cfg.Model, rand.New(rand.NewPCG(cfg.Seed, 0)))
	if err != nil {
		return s, err
	}
	opt, err := optimizer.New(cfg.Optimizer, s.network.Parameters())
	if err != nil {
		return s, err
	}
	policy, err := training.NewLRScheduler(cfg.Scheduler)
	if err != nil {
		return s, err
	}

	s.trainer, err = training.New(cfg.Trainer, s.network,
		training.WithOptimizer(opt),
		training.WithScheduler(policy),
		training.WithReducer(s.reducer),
		training.WithLogger(s.logger),
		training.WithSink(s.sink),
		training.WithProgress(opts.progress),
		training.WithBounds(field.CubeBounds(cfg.Bound)),
	)
	if err != nil {
		return s, err
	}

	if cfg.Metrics.Addr != "" {
		if err := s.serve(registry); err != nil {
			return s, err
		}
	}
	return s, nil
}

func (s *session) openReducer() error {
	d := s.cfg.Distributed
	switch d.Backend {
	case "redis":
		r, err := redis.New(d.RedisAddr, d.RedisPassword, d.RedisDB, d.Run, d.Rank, d.WorldSize)
		if err != nil {
			return fmt.Errorf("failed to connect reducer: %w", err)
		}
		s.logger.Info("joined distributed run", "run", d.Run, "rank", d.Rank, "world_size", d.WorldSize)
		s.reducer = r
		s.closers = append(s.closers, r)
	default:
		s.reducer = distributed.Local{}
	}
	return nil
}

func (s *session) openData() error {
	cfg := s.cfg
	train, valid, err := dataset.FromConfig(cfg.Data, cfg.Seed)
	if err != nil {
		return err
	}
	s.trainSet = train

	rank, world := s.reducer.Rank(), s.reducer.WorldSize()
	s.train, err = training.NewDataLoader(train, cfg.Data.BatchSize, true,
		training.WithShard(rank, world), training.WithSeed(int64(cfg.Seed)))
	if err != nil {
		return err
	}
	if valid != nil {
		s.valid, err = training.NewDataLoader(valid, 1, false, training.WithShard(rank, world))
		if err != nil {
			return err
		}
	}
	return nil
}

// serve exposes /metrics, /healthz, /status and /plots until the session is closed
func (s *session) serve(registry *prometheus.Registry) error {
	ln, err := net.Listen("tcp", s.cfg.Metrics.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", s.cfg.Metrics.Addr, err)
	}
	handler := scalars.NewHandler(registry, s.statusReport,
		scalars.WithPlots(s.cfg.Trainer.Name, s.history.Records))
	s.server = &http.Server{
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}
	s.addr = ln.Addr().String()
	s.logger.Info("serving metrics", "addr", s.addr)
	go func() {
		if err := s.server.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("metrics server stopped", "error", err)
		}
	}()
	return nil
}

func (s *session) statusReport() any {
	return map[string]any{
		"name":    s.cfg.Trainer.Name,
		"rank":    s.reducer.Rank(),
		"world":   s.reducer.WorldSize(),
		"scalars": scalars.Latest(s.history.Records()),
	}
}

// Close stops the metrics server and releases sinks, the reducer and the log file
func (s *session) Close() error {
	var errs []error
	if s.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		if err := s.server.Shutdown(ctx); err != nil {
			errs = append(errs, err)
		}
		cancel()
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		if err := s.closers[i].Close(); err != nil {
			errs = append(errs, err)
		}
	}
	s.closers = nil
	return errors.Join(errs...)
}
