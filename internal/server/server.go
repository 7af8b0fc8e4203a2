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
	"github.com/google/uuid"
	"github.com/ysntopbas/KozVer-backend/internal/router"
	"github.com/ysntopbas/KozVer-backend/internal/server/middleware"
	"github.com/ysntopbas/KozVer-backend/internal/session"
	"github.com/ysntopbas/KozVer-backend/pkg/config"
	"github.com/ysntopbas/KozVer-backend/pkg/state"
	"github.com/ysntopbas/KozVer-backend/pkg/state/statemanager"
	"github.com/ysntopbas/KozVer-backend/pkg/transport"
)

// App is the transport gateway: it owns the HTTP server, upgrades
// WebSocket connections and hands structured events to the session layer.
type App struct {
	logger       *slog.Logger
	stateManager state.Manager
	controller   *session.Controller
	eventRouter  *router.EventRouter
	wg           sync.WaitGroup
	http         *http.Server
	config       *config.Config

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) *App {
	stateManager := statemanager.NewInMemoryManager(logger)
	controller := session.NewController(logger, stateManager, cfg.Liveness, cfg.Server.DefaultRoom)
	eventRouter := router.NewEventRouter(logger, controller)

	app := &App{
		logger:       logger,
		stateManager: stateManager,
		controller:   controller,
		eventRouter:  eventRouter,
		config:       cfg,
		ctx:          rootCtx,
	}

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	// Cycler closes the oldest connection from an IP that is over its limit.
	connCycler := func(ip string) {
		oldest, found := stateManager.FindOldestIPConnection(ip)
		if found {
			logger.Info("Cycling connection: closing oldest", "ip", ip, "connID", oldest.ID)
			oldest.Transport.Close(errors.New("connection cycled by new connection"))
		}
	}

	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewConnectionLimiter(
				logger,
				stateManager.GetIPConnectionCount,
				connCycler,
				app.config.Server.ConnectionLimit,
			),
			middleware.NewAuthMiddleware(logger, app.config.Server.Auth),
		),
	)
	mux.HandleFunc("/health", app.healthHandler)
	mux.HandleFunc("/stats", app.statsHandler)

	app.http = &http.Server{Addr: app.config.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
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
		OriginPatterns:     a.config.Server.AllowedOrigins,
		InsecureSkipVerify: len(a.config.Server.AllowedOrigins) == 0,
	})
	if err != nil {
		a.logger.Error("Failed to accept websocket connection", slog.Any("error", err))
		return
	}

	conn := transport.NewConnection(
		r.Context(),
		&a.wg,
		wsConn,
		transport.ConnectionConfig(a.config.Transport),
		a.logger,
	)
	// register new connection; it stays in the Connected state until the
	// client announces a username via join-room
	if _, err := a.stateManager.RegisterConnection(conn, reqMeta.IP); err != nil {
		connLogger.Error("Failed to register connection state", slog.Any("error", err))
		conn.Close(err)
		return
	}
	conn.SetOnMessageHandler(a.eventRouter.HandleMessage)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		connLogger.Info("Running disconnect cleanup", slog.String("connID", id.String()))
		a.controller.HandleDisconnect(id)
	})

	connLogger.Info("Connection fully established", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

func (a *App) healthHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]string{"status": "ok"})
}

func (a *App) statsHandler(w http.ResponseWriter, r *http.Request) {
	connections, rooms, registered := a.stateManager.Stats()
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(map[string]int{
		"connections": connections,
		"rooms":       rooms,
		"registered":  registered,
	})
}

// Shutdown runs the graceful shutdown sequence.
func (a *App) Shutdown() error {
	a.logger.Info("Shutting down server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := a.http.Shutdown(shutdownCtx); err != nil {
		return err
	}

	// close all active WebSocket connections.
	a.logger.Info("Closing all active connections...")
	for _, conn := range a.stateManager.AllConnections() {
		conn.Transport.Close(errors.New("graceful shutdown"))
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
