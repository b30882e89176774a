package runtime

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/loqalabs/loqa-dictate/internal/bus"
	"github.com/loqalabs/loqa-dictate/internal/config"
	"github.com/loqalabs/loqa-dictate/internal/engine"
	"github.com/loqalabs/loqa-dictate/internal/inject"
	"github.com/loqalabs/loqa-dictate/internal/journal"
	"github.com/loqalabs/loqa-dictate/internal/natsserver"
	"github.com/loqalabs/loqa-dictate/internal/session"
	"github.com/loqalabs/loqa-dictate/internal/stt"
)

// Runtime wires the dictation daemon: telemetry, optional bus, journal,
// recognizer, injector, sync engine, session controller, and the control API.
type Runtime struct {
	cfg         config.Config
	logger      *slog.Logger
	httpServer  *http.Server
	tracerClose func(context.Context) error
	ready       atomic.Bool
	wg          sync.WaitGroup

	controller *session.Controller
	journal    *journal.Journal
}

func New(cfg config.Config, logger *slog.Logger) *Runtime {
	return &Runtime{
		cfg:    cfg,
		logger: logger,
	}
}

func (r *Runtime) Start(ctx context.Context) error {
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	shutdownTelemetry, metricsHandler, err := setupTelemetry(r.cfg, r.logger)
	if err != nil {
		return fmt.Errorf("failed to setup telemetry: %w", err)
	}
	r.tracerClose = shutdownTelemetry

	var embedded *natsserver.EmbeddedServer
	var busClient *bus.Client
	if r.cfg.Bus.Enabled {
		embedded, err = natsserver.Start(r.cfg.Bus, r.logger)
		if err != nil {
			return fmt.Errorf("failed to start embedded bus: %w", err)
		}
		busClient, err = bus.Connect(r.cfg.Bus, r.logger)
		if err != nil {
			embedded.Shutdown()
			return fmt.Errorf("failed to connect to bus: %w", err)
		}
	}
	defer func() {
		busClient.Close()
		embedded.Shutdown()
	}()

	jrnl, err := journal.Open(ctx, r.cfg.Journal, r.logger)
	if err != nil {
		return fmt.Errorf("failed to open session journal: %w", err)
	}
	r.journal = jrnl
	defer jrnl.Close()

	injector, err := r.buildInjector()
	if err != nil {
		return err
	}
	gate := inject.NewGate(injector, time.Duration(r.cfg.Injector.InjectTimeoutMS)*time.Millisecond, r.logger)

	var eng *engine.Engine
	recognizer, err := r.buildRecognizer(busClient, func() string {
		if eng == nil {
			return ""
		}
		return eng.SessionID()
	})
	if err != nil {
		return err
	}

	eng = engine.New(r.cfg.Sync, recognizer, gate, busClient, r.logger)
	r.controller = session.NewController(r.cfg.Sync, recognizer, eng, busClient, jrnl, r.logger)

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", r.handleHealth)
	mux.HandleFunc("/readyz", r.handleReady)
	if metricsHandler != nil {
		mux.Handle("/metrics", metricsHandler)
	}
	r.registerSessionAPI(mux)

	addr := fmt.Sprintf("%s:%d", r.cfg.HTTP.Bind, r.cfg.HTTP.Port)
	r.httpServer = &http.Server{
		Addr:              addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		if err := r.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.logger.Error("http server failed", slog.String("error", err.Error()))
		}
	}()

	r.ready.Store(true)
	r.logger.Info("runtime started",
		slog.String("addr", addr),
		slog.String("recognizer", r.cfg.Recognizer.Mode),
		slog.String("injector", r.cfg.Injector.Mode))

	<-ctx.Done()
	r.logger.Info("runtime stopping")

	shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancelShutdown()

	r.controller.Close(shutdownCtx)

	if err := r.httpServer.Shutdown(shutdownCtx); err != nil {
		r.logger.Error("http shutdown error", slog.String("error", err.Error()))
	}
	r.wg.Wait()

	if r.tracerClose != nil {
		if err := r.tracerClose(shutdownCtx); err != nil {
			r.logger.Error("telemetry shutdown error", slog.String("error", err.Error()))
		}
	}

	return nil
}

func (r *Runtime) buildInjector() (inject.Injector, error) {
	switch r.cfg.Injector.Mode {
	case "exec":
		injector, err := inject.NewExecInjector(r.cfg.Injector)
		if err != nil {
			return nil, fmt.Errorf("failed to build injector: %w", err)
		}
		return injector, nil
	default:
		return inject.NewMockInjector(r.logger), nil
	}
}

func (r *Runtime) buildRecognizer(busClient *bus.Client, sessionID func() string) (stt.Recognizer, error) {
	switch r.cfg.Recognizer.Mode {
	case "exec":
		recognizer, err := stt.NewExecRecognizer(r.cfg.Recognizer)
		if err != nil {
			return nil, fmt.Errorf("failed to build recognizer: %w", err)
		}
		return recognizer, nil
	case "bus":
		return stt.NewBusRecognizer(busClient, r.cfg.Recognizer, sessionID), nil
	default:
		return stt.NewMockRecognizer(), nil
	}
}

func (r *Runtime) handleHealth(w http.ResponseWriter, _ *http.Request) {
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}

func (r *Runtime) handleReady(w http.ResponseWriter, _ *http.Request) {
	if r.ready.Load() {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
		return
	}
	w.WriteHeader(http.StatusServiceUnavailable)
	_, _ = w.Write([]byte("not ready"))
}
