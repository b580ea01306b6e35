package server

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/jonboulle/clockwork"

	"github.com/ashika-verma/highschool-presentation/internal/broadcast"
	"github.com/ashika-verma/highschool-presentation/internal/router"
	"github.com/ashika-verma/highschool-presentation/internal/server/middleware"
	"github.com/ashika-verma/highschool-presentation/internal/session"
	"github.com/ashika-verma/highschool-presentation/internal/sink"
	"github.com/ashika-verma/highschool-presentation/pkg/config"
	"github.com/ashika-verma/highschool-presentation/pkg/state"
	"github.com/ashika-verma/highschool-presentation/pkg/state/statemanager"
	"github.com/ashika-verma/highschool-presentation/pkg/transport"
)

type App struct {
	logger       *slog.Logger
	registry     state.Registry
	store        *session.Store
	actionRouter *router.ActionRouter
	wg           sync.WaitGroup
	http         *http.Server
	config       *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) *App {
	registry := statemanager.NewInMemoryRegistry(logger, cfg.Server.FacilitatorSecret)
	store := session.NewStore(cfg.Session.HistoryCap)
	caster := broadcast.New(logger, registry)

	var colorSink sink.Sink = sink.Noop{}
	if cfg.Sink.BulbAddress != "" {
		colorSink = sink.NewWizBulb(rootCtx, logger, cfg.Sink.BulbAddress)
	}

	actionRouter := router.New(
		logger,
		registry,
		store,
		caster,
		colorSink,
		clockwork.NewRealClock(),
		router.Limits{
			ColorWindow:    cfg.Limits.ColorWindow,
			TextWindow:     cfg.Limits.TextWindow,
			QuestionWindow: cfg.Limits.QuestionWindow,
		},
		cfg.Session.WelcomeHistoryCap,
	)

	app := &App{
		logger:       logger,
		registry:     registry,
		store:        store,
		actionRouter: actionRouter,
		config:       cfg,
		ctx:          rootCtx,
	}

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewConnectionLimiter(logger, registry.CountByIP, cfg.Server.ConnectionLimit.MaxPerIP),
		),
	)
	mux.HandleFunc("/healthz", app.healthHandler)
	mux.HandleFunc("/stats", app.statsHandler)

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

func (a *App) Run() error {
	go func() {
		a.logger.Info("Server starting", slog.String("addr", a.http.Addr))
		if err := a.http.ListenAndServe(); err != http.ErrServerClosed {
			a.logger.Error("HTTP server failed", slog.Any("error", err))
		}
	}()

	<-a.ctx.Done()
	return a.Shutdown()
}

func (a *App) upgradeHandler(w http.ResponseWriter, r *http.Request) {
	reqMeta, _ := middleware.ReqMetadataFrom(r.Context())
	connLogger := a.logger.With(slog.String("remoteAddr", reqMeta.IP))

	wsConn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig{ReadTimeout: a.config.Transport.ReadTimeout},
		a.actionRouter.HandleMessage,
		a.actionRouter.HandleDisconnect,
		a.logger,
	)
	if _, err := a.registry.Register(conn, reqMeta.IP); err != nil {
		connLogger.Error("Failed to register connection", slog.Any("error", err))
		conn.Close(err)
		return
	}

	conn.Run()
	// the welcome snapshot goes out before any broadcast can reach this
	// connection, so a reconnecting client always reconciles from it
	a.actionRouter.HandleConnect(conn.ID())

	connLogger.Info("Connection fully established", slog.String("connID", conn.ID().String()))
	<-conn.Done()
}

func (a *App) healthHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (a *App) statsHandler(w http.ResponseWriter, _ *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{
		"connections":  len(a.registry.Connections()),
		"participants": a.registry.ParticipantCount(),
	})
}

// graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, conn := range a.registry.Connections() {
		conn.Transport.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
