package server

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"net/http"
	"sync"
	"time"

	"github.com/ProjectGrinder/network-moment/internal/chat"
	"github.com/ProjectGrinder/network-moment/internal/dispatch"
	"github.com/ProjectGrinder/network-moment/internal/server/middleware"
	"github.com/ProjectGrinder/network-moment/pkg/config"
	"github.com/ProjectGrinder/network-moment/pkg/metrics"
	"github.com/ProjectGrinder/network-moment/pkg/transport"
	"github.com/coder/websocket"
	"github.com/google/uuid"
)

var errShutdown = errors.New("graceful shutdown")

type App struct {
	logger     *slog.Logger
	dispatcher *dispatch.Dispatcher
	wg         sync.WaitGroup
	http       *http.Server
	config     *config.Config

	// Transport-level bookkeeping, outside the dispatch loop: live
	// connections for shutdown, per-IP counts for the limiter.
	mu      sync.Mutex
	conns   map[uuid.UUID]*transport.Connection
	ipCount map[string]int

	ctx context.Context
}

func NewApp(logger *slog.Logger, rootCtx context.Context, cfg *config.Config) *App {
	registry := chat.NewRegistry(logger)
	directory := chat.NewDirectory(logger)
	focus := chat.NewFocusTracker()
	bcast := dispatch.NewBroadcaster(logger)
	dispatcher := dispatch.New(logger, registry, directory, focus, bcast)

	app := &App{
		logger:     logger,
		dispatcher: dispatcher,
		config:     cfg,
		conns:      make(map[uuid.UUID]*transport.Connection),
		ipCount:    make(map[string]int),
		ctx:        rootCtx,
	}

	mux := http.NewServeMux()
	upgradeHandler := http.HandlerFunc(app.upgradeHandler)
	mux.Handle("/ws",
		middleware.Chain(upgradeHandler,
			middleware.RequestMetadataMiddleware(),
			middleware.NewRequestLogger(app.logger),
			middleware.NewConnectionLimiter(logger, app.connCountForIP, cfg.Server.ConnectionLimit.MaxPerIP),
			middleware.NewAuthMiddleware(logger, cfg.Server.Auth.JWTSecret),
		),
	)
	mux.Handle("/metrics", metrics.Handler())

	app.http = &http.Server{Addr: cfg.Server.Address, Handler: mux, BaseContext: func(l net.Listener) context.Context {
		return app.ctx
	}}

	return app
}

func (a *App) Run() error {
	go a.dispatcher.Run(a.ctx)
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
	connLogger := a.logger.With(
		slog.String("remoteAddr", reqMeta.IP),
		slog.String("subject", reqMeta.Subject),
	)

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
		transport.ConnectionConfig(a.config.Transport),
		a.dispatcher.HandleMessage,
		nil,
		a.logger,
	)
	a.track(conn, reqMeta.IP)
	conn.SetOnCloseHandler(func(id uuid.UUID, err error) {
		a.untrack(id, reqMeta.IP)
		// Closes initiated by the dispatch loop (or by shutdown, once the
		// loop has stopped) already ran their cleanup; feeding them back
		// through Disconnect would re-enter the intake channel.
		if errors.Is(err, dispatch.ErrEvicted) || errors.Is(err, errShutdown) {
			return
		}
		connLogger.Info("Connection closed, running eviction", slog.String("connID", id.String()))
		a.dispatcher.Disconnect(id, err)
	})
	a.dispatcher.Attach(conn)

	connLogger.Info("Connection fully established", slog.String("connID", conn.ID().String()))
	conn.Run()
	<-conn.Done()
}

func (a *App) track(conn *transport.Connection, ip string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.conns[conn.ID()] = conn
	a.ipCount[ip]++
}

func (a *App) untrack(connID uuid.UUID, ip string) {
	a.mu.Lock()
	defer a.mu.Unlock()
	delete(a.conns, connID)
	if a.ipCount[ip]--; a.ipCount[ip] <= 0 {
		delete(a.ipCount, ip)
	}
}

func (a *App) connCountForIP(ip string) int {
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.ipCount[ip]
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
	a.mu.Lock()
	open := make([]*transport.Connection, 0, len(a.conns))
	for _, conn := range a.conns {
		open = append(open, conn)
	}
	a.mu.Unlock()
	for _, conn := range open {
		conn.Close(errShutdown)
	}

	// wait for all connection goroutines to finish their cleanup.
	a.wg.Wait()
	a.logger.Info("Server shut down gracefully.")
	return nil
}
