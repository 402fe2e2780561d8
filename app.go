package main

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"devoid_client/client"
	"devoid_client/core"
	"devoid_client/db"
	"devoid_client/imagegen"
	"devoid_client/logging"
	"devoid_client/messages"
	"devoid_client/metrics"
	"devoid_client/shutdown"
)

const recentGenerations = 20

// app wires the generator client to the console reporter, the journal,
// the result downloader and the metrics listener.
type app struct {
	cfg    *core.Config
	logger *zap.Logger
	batch  []batchRequest
	out    io.Writer

	// clientOpts are appended after the defaults; tests use them to swap
	// the dialer.
	clientOpts []client.Option
	// handleSignals installs SIGINT/SIGTERM handling. Off under the
	// service manager, which delivers Stop instead.
	handleSignals bool
	forceExit     func(int)
}

// run blocks until parent is cancelled, a signal arrives or the service
// rejects the credentials, and returns the process exit code.
func (a *app) run(parent context.Context) int {
	mgrOpts := []shutdown.ManagerOption{}
	if a.forceExit != nil {
		mgrOpts = append(mgrOpts, shutdown.WithForceExit(a.forceExit))
	}
	mgr := shutdown.NewManager(a.logger.Named("shutdown"), mgrOpts...)
	mgr.Register("logger", shutdown.StageLogger, func(context.Context) error {
		return logging.Sync(a.logger)
	})
	if a.handleSignals {
		mgr.Start()
	}
	stopParent := context.AfterFunc(parent, func() {
		mgr.Trigger("stopped", core.ExitCodeSuccess)
	})
	defer stopParent()

	code := a.serve(mgr)
	if err := mgr.Shutdown(); err != nil && code == core.ExitCodeSuccess {
		code = core.ExitCodeError
	}
	return code
}

func (a *app) serve(mgr *shutdown.Manager) int {
	ctx := mgr.Context()

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector(), collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	store := metrics.NewStore(metrics.DefaultStoreConfig())
	recorder := metrics.Multi(metrics.NewPrometheus(reg), store)

	var journal *db.Journal
	connected := make(chan struct{})
	var connectedOnce sync.Once

	opts := []client.Option{
		client.WithLogger(a.logger),
		client.WithRecorder(recorder),
		client.WithFatalHandler(func(err error) {
			a.logger.Error("Service rejected the credentials", zap.Error(err))
			mgr.Trigger("credentials rejected", core.ExitCodeAuthRejected)
		}),
		client.WithOnConnected(func(sessionID string) {
			if journal != nil {
				journal.RecordConnected(sessionID)
			}
			connectedOnce.Do(func() { close(connected) })
		}),
	}
	c := client.New(client.ConfigFromCore(a.cfg), append(opts, a.clientOpts...)...)
	mgr.Register("client", shutdown.StageClient, c.Stop)

	rep := newReporter(a.out)
	c.OnQueued(rep.Queued)
	c.OnGenerating(rep.Generating)
	c.OnDone(rep.Done)
	c.OnError(rep.Error)
	c.OnConnectionError(rep.ConnectionLost)

	if a.cfg.JournalPath != "" {
		j, err := db.OpenJournal(ctx, a.cfg.JournalPath,
			db.WithJournalLogger(a.logger.Named("journal")),
			db.WithSessionFunc(c.SessionID),
			db.WithRetention(a.cfg.JournalRetention),
		)
		if err != nil {
			a.logger.Error("Failed to open journal", zap.String("path", a.cfg.JournalPath), zap.Error(err))
			return core.ExitCodeError
		}
		journal = j
		journal.Attach(c.Bus())
		mgr.Register("journal", shutdown.StageJournal, func(ctx context.Context) error {
			if err := journal.Flush(ctx); err == nil {
				a.logEstimates(ctx, journal.Repository())
			}
			return journal.Close(ctx)
		})
	}

	if a.cfg.DownloadResults {
		dl, err := imagegen.New(imagegen.DownloaderConfig{
			Dir:    a.cfg.DownloadsDir,
			Logger: a.logger.Named("downloads"),
		})
		if err != nil {
			a.logger.Error("Failed to prepare downloads directory", zap.String("dir", a.cfg.DownloadsDir), zap.Error(err))
			return core.ExitCodeError
		}
		c.OnDone(func(ctx context.Context, resp *messages.Response) error {
			return mgr.Track(ctx, "download", func(ctx context.Context) error {
				return dl.HandleDone(ctx, resp)
			})
		})
		mgr.Register("downloads", shutdown.StageDownloads, dl.RemovePartial)
	}

	if a.cfg.MetricsAddr != "" {
		srv, err := a.startMetrics(reg, store)
		if err != nil {
			a.logger.Error("Failed to start metrics listener", zap.String("addr", a.cfg.MetricsAddr), zap.Error(err))
			return core.ExitCodeError
		}
		mgr.Register("metrics", shutdown.StageMetrics, srv.Shutdown)
	}

	if err := c.Start(ctx); err != nil {
		a.logger.Error("Failed to start client", zap.Error(err))
		return core.ExitCodeError
	}
	a.logger.Info("Client started",
		zap.String("endpoint", a.cfg.Endpoint),
		zap.String("service", a.cfg.Service),
		zap.Int("batch", len(a.batch)),
	)

	if len(a.batch) > 0 {
		go func() {
			select {
			case <-connected:
			case <-ctx.Done():
				return
			}
			_ = mgr.Track(ctx, "batch", func(ctx context.Context) error {
				out := submitBatch(ctx, c, a.batch, a.cfg.DefaultQueueSize)
				fields := []zap.Field{
					zap.Int("accepted", out.Accepted),
					zap.Int("queue_full", out.Full),
					zap.Int("failed", out.Failed),
				}
				if out.LastErr != nil {
					fields = append(fields, zap.NamedError("last_error", out.LastErr))
				}
				a.logger.Info("Submitted request batch", fields...)
				return nil
			})
		}()
	}

	<-ctx.Done()
	return mgr.ExitCode()
}

func (a *app) startMetrics(reg *prometheus.Registry, store *metrics.Store) (*http.Server, error) {
	ln, err := net.Listen("tcp", a.cfg.MetricsAddr)
	if err != nil {
		return nil, err
	}

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{Registry: reg}))
	mux.HandleFunc("GET /stats", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(statsResponse{
			Summary: store.Summary(),
			Recent:  store.Recent(recentGenerations),
		})
	})

	srv := &http.Server{
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.Serve(ln); err != nil && !errors.Is(err, http.ErrServerClosed) {
			a.logger.Error("Metrics listener stopped", zap.Error(err))
		}
	}()
	a.logger.Info("Metrics listening", zap.String("addr", ln.Addr().String()))
	return srv, nil
}

type statsResponse struct {
	Summary metrics.Summary            `json:"summary"`
	Recent  []metrics.GenerationRecord `json:"recent"`
}

// logEstimates compares the service's queue-time estimates with what this
// run observed.
func (a *app) logEstimates(ctx context.Context, repo *db.Repository) {
	reports, err := repo.EstimateReports(ctx, 0)
	if err != nil {
		a.logger.Warn("Failed to read estimate reports", zap.Error(err))
		return
	}
	if len(reports) == 0 {
		return
	}
	var total float64
	for _, r := range reports {
		e := r.Error()
		if e < 0 {
			e = -e
		}
		total += e
	}
	a.logger.Info("Estimate accuracy",
		zap.Int("generations", len(reports)),
		zap.Float64("mean_abs_error_seconds", total/float64(len(reports))),
	)
}
