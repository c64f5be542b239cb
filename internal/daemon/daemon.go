// Copyright 2025 Tom Barlow
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package daemon assembles the relayd process: store, tool registry,
// executor, scheduler, feed poller, webhook intake, discovery RPC, and
// the HTTP listener that fronts them.
package daemon

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/tombee/relay/internal/config"
	"github.com/tombee/relay/internal/executor"
	"github.com/tombee/relay/internal/integrations"
	"github.com/tombee/relay/internal/lifecycle"
	"github.com/tombee/relay/internal/log"
	"github.com/tombee/relay/internal/metrics"
	"github.com/tombee/relay/internal/rpc"
	"github.com/tombee/relay/internal/rss"
	"github.com/tombee/relay/internal/scheduler"
	"github.com/tombee/relay/internal/store"
	"github.com/tombee/relay/internal/tracing"
	"github.com/tombee/relay/internal/triggers"
	"github.com/tombee/relay/internal/webhook"
	"github.com/tombee/relay/pkg/errors"
	"github.com/tombee/relay/pkg/tools"
)

// Daemon is the assembled process.
type Daemon struct {
	cfg     *config.Config
	version string
	logger  *slog.Logger

	store     *store.Store
	registry  *tools.Registry
	executor  *executor.Executor
	runner    *executor.Runner
	scheduler *scheduler.Scheduler
	poller    *rss.Poller
	intake    *webhook.Intake
	rpc       *rpc.Server

	pidFile       *lifecycle.PIDFile
	traceShutdown func(context.Context) error
}

// New wires the daemon from configuration. Nothing is listening or
// ticking until Run.
func New(cfg *config.Config, version string, logger *slog.Logger) (*Daemon, error) {
	if logger == nil {
		logger = log.New(&log.Config{Level: cfg.Log.Level, Format: log.Format(cfg.Log.Format)})
	}

	st, err := store.Open(store.Config{Path: cfg.Store.Path, WAL: true}, logger)
	if err != nil {
		return nil, errors.Wrap(err, "opening store")
	}

	registry := tools.NewRegistry(logger)
	if err := registry.LoadEmbedded(); err != nil {
		st.Close()
		return nil, err
	}

	feeds, err := rss.NewClient(cfg.RSS.UserAgent)
	if err != nil {
		st.Close()
		return nil, err
	}
	if err := registry.Link(integrations.Handlers(integrations.Deps{Feeds: feeds})); err != nil {
		st.Close()
		return nil, err
	}

	exec := executor.New(st, registry, logger)
	runner := executor.NewRunner(exec, cfg.Runner.MaxParallel, logger)

	poller := rss.NewPoller(st, feeds, func(ctx context.Context, automation *store.Automation, input map[string]any) {
		if _, err := runner.Submit(ctx, automation, string(triggers.TypeRSS), input, executor.User{ID: automation.UserID}); err != nil {
			logger.Warn("rss dispatch rejected",
				slog.String(log.AutomationIDKey, automation.ID),
				log.Error(err))
		}
	}, cfg.RSS.SeenCap, logger)

	d := &Daemon{
		cfg:      cfg,
		version:  version,
		logger:   log.WithComponent(logger, "daemon"),
		store:    st,
		registry: registry,
		executor: exec,
		runner:   runner,
		poller:   poller,
	}

	d.scheduler = scheduler.New(st, d.fireTrigger, logger)
	d.intake = webhook.NewIntake(st, runner, webhook.Config{
		Secret:        cfg.Webhook.Secret,
		RatePerMinute: cfg.Webhook.RatePerMinute,
	}, logger)
	d.rpc = rpc.NewServer(rpc.Config{Name: cfg.RPC.Name, Version: version}, st, exec, registry, logger)

	if cfg.Daemon.PIDFile != "" {
		d.pidFile = lifecycle.NewPIDFile(cfg.Daemon.PIDFile)
	}

	return d, nil
}

// fireTrigger is the scheduler's dispatch: rss triggers poll the feed,
// schedule triggers submit an execution directly.
func (d *Daemon) fireTrigger(ctx context.Context, automation *store.Automation) {
	if automation.Trigger == nil {
		return
	}

	if automation.Trigger.Type == triggers.TypeRSS {
		if err := d.poller.Poll(ctx, automation); err != nil {
			d.logger.Warn("feed poll failed",
				slog.String(log.AutomationIDKey, automation.ID),
				log.Error(err))
		}
		return
	}

	triggerType := string(automation.Trigger.Type)
	input := map[string]any{"triggerType": triggerType}
	if _, err := d.runner.Submit(ctx, automation, triggerType, input, executor.User{ID: automation.UserID}); err != nil {
		d.logger.Warn("scheduled dispatch rejected",
			slog.String(log.AutomationIDKey, automation.ID),
			log.Error(err))
	}
}

// Run starts the daemon and blocks until ctx is cancelled, then shuts
// down gracefully: stop intake, stop schedules, drain executions, close
// the store.
func (d *Daemon) Run(ctx context.Context) error {
	listener, err := d.listen()
	if err != nil {
		return err
	}

	if d.pidFile != nil {
		if err := d.pidFile.Acquire(); err != nil {
			listener.Close()
			return err
		}
		defer d.pidFile.Release()
	}

	shutdownTracing, err := tracing.Setup(d.cfg.Tracing.Enabled, d.version)
	if err != nil {
		listener.Close()
		return err
	}
	d.traceShutdown = shutdownTracing

	if err := d.scheduler.LoadActive(ctx); err != nil {
		listener.Close()
		return err
	}
	d.scheduler.Start(ctx)

	server := &http.Server{Handler: d.routes()}
	serveErr := make(chan error, 1)
	go func() {
		serveErr <- server.Serve(listener)
	}()

	d.logger.Info("daemon started",
		slog.String("addr", listener.Addr().String()),
		slog.String("version", d.version),
		slog.Int("tools", d.rpc.ToolCount()),
		slog.Int("schedules", d.scheduler.JobCount()))

	select {
	case err := <-serveErr:
		d.shutdown(context.Background(), server)
		return errors.Wrap(err, "http server")
	case <-ctx.Done():
		d.shutdown(context.Background(), server)
		return nil
	}
}

// shutdown runs the ordered stop sequence. Each stage gets a share of the
// configured grace period.
func (d *Daemon) shutdown(ctx context.Context, server *http.Server) {
	grace := d.cfg.Daemon.ShutdownGrace
	d.logger.Info("shutting down", slog.Duration("grace", grace))

	// New work stops first: no deliveries, no ticks, no submissions.
	d.runner.StartDraining()
	d.scheduler.Stop()

	shutdownCtx, cancel := context.WithTimeout(ctx, grace)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		d.logger.Warn("listener shutdown incomplete", log.Error(err))
	}

	if err := d.runner.WaitForDrain(shutdownCtx, grace); err != nil {
		d.logger.Warn("executions still in flight at shutdown", log.Error(err))
	}

	if d.traceShutdown != nil {
		if err := d.traceShutdown(shutdownCtx); err != nil {
			d.logger.Warn("trace exporter shutdown failed", log.Error(err))
		}
	}

	if err := d.store.Close(); err != nil {
		d.logger.Warn("store close failed", log.Error(err))
	}
	d.logger.Info("shutdown complete")
}

// routes builds the daemon mux: webhook intake, discovery RPC, metrics,
// and health.
func (d *Daemon) routes() http.Handler {
	mux := http.NewServeMux()
	d.intake.Register(mux)
	mux.Handle(d.cfg.RPC.Path, d.rpc.Handler())
	mux.Handle("GET /metrics", metrics.Handler())
	mux.HandleFunc("GET /health", d.handleHealth)
	return mux
}
