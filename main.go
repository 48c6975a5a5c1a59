package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/mdp/qrterminal/v3"
	"github.com/notifyhub/server/api"
	"github.com/notifyhub/server/config"
	"github.com/notifyhub/server/dispatch"
	"github.com/notifyhub/server/logger"
	"github.com/notifyhub/server/middleware"
	"github.com/notifyhub/server/notification"
	"github.com/notifyhub/server/watch"
	"github.com/notifyhub/server/ws"
	"golang.org/x/term"
)

const shutdownTimeout = 5 * time.Second

func newHandler(counter *api.CounterHandler, hub *ws.Hub) http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})

	mux.HandleFunc("POST /home/increment", counter.HandleIncrement)
	mux.HandleFunc("GET /home/counter", counter.HandleGet)

	// Subscribers connect here and receive every broadcast notification.
	mux.Handle("GET /notifications", hub)

	return middleware.RequestLogger(mux)
}

// server wires the publisher side: local publishes on registry are forwarded
// to every connected subscriber through hub.
type server struct {
	registry *dispatch.Registry
	hub      *ws.Hub
	handler  http.Handler
}

func newServer(cfg config.Config) *server {
	codec := notification.NewCodec()
	registry := dispatch.NewRegistry(slog.Default())
	hub := ws.NewHub(cfg.DevMode)

	registry.Register(dispatch.NewPublisher(codec, hub), codec.Known()...)

	// Notifications sent by subscribers are published locally and relayed.
	hub.OnMessage(dispatch.NewListener(codec, registry, slog.With("source", "subscriber")).OnMessage)

	return &server{
		registry: registry,
		hub:      hub,
		handler:  newHandler(api.NewCounterHandler(registry), hub),
	}
}

func serve(ctx context.Context, cfg config.Config) error {
	s := newServer(cfg)
	defer s.hub.Close()

	if cfg.WatchDir != "" {
		fw := watch.NewFileWatcher(cfg.WatchDir, s.registry)
		if err := fw.Start(); err != nil {
			return fmt.Errorf("watch %s: %w", cfg.WatchDir, err)
		}
		defer fw.Stop()
	}

	httpServer := &http.Server{Addr: ":" + cfg.Port, Handler: s.handler}

	errCh := make(chan error, 1)
	go func() {
		errCh <- httpServer.ListenAndServe()
	}()

	slog.Info("server starting", "port", cfg.Port, "watchDir", cfg.WatchDir, "devMode", cfg.DevMode)
	if cfg.ShowQR && term.IsTerminal(int(os.Stdout.Fd())) {
		url := fmt.Sprintf("ws://localhost:%s/notifications", cfg.Port)
		fmt.Println("Subscribe at", url)
		qrterminal.GenerateHalfBlock(url, qrterminal.L, os.Stdout)
	}

	select {
	case err := <-errCh:
		if !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-ctx.Done():
	}

	slog.Info("server shutting down")
	s.hub.Close()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return httpServer.Shutdown(shutdownCtx)
}

// notificationLogger is the listen-mode handler for every known variant.
type notificationLogger struct {
	log *slog.Logger
}

func (l *notificationLogger) counterChanged(ctx context.Context, n notification.CounterChanged) error {
	l.log.Info(n.String(), "value", n.Value)
	return nil
}

func (l *notificationLogger) fileChanged(ctx context.Context, n notification.FileChanged) error {
	l.log.Info("file changed", "path", n.Path, "op", n.Op)
	return nil
}

// listen subscribes to a hub and logs every notification it understands.
func listen(ctx context.Context, cfg config.Config) error {
	codec := notification.NewCodec()
	registry := dispatch.NewRegistry(slog.Default())

	nl := &notificationLogger{log: slog.Default()}
	dispatch.Subscribe(registry, nl, nl.counterChanged)
	dispatch.Subscribe(registry, nl, nl.fileChanged)
	defer registry.Unregister(nl)

	listener := dispatch.NewListener(codec, registry, slog.With("endpoint", cfg.Endpoint))

	conn, err := ws.Dial(ctx, cfg.Endpoint, ws.WithMessageHandler(listener.OnMessage))
	if err != nil {
		return err
	}
	defer conn.Close()

	listener.Run(ctx, conn)
	return nil
}

func main() {
	mode := "serve"
	if len(os.Args) > 1 {
		mode = os.Args[1]
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger.Init(cfg.Logger())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	switch mode {
	case "serve":
		err = serve(ctx, cfg)
	case "listen":
		err = listen(ctx, cfg)
	default:
		fmt.Fprintf(os.Stderr, "usage: %s [serve|listen]\n", os.Args[0])
		os.Exit(2)
	}

	if err != nil {
		slog.Error("exiting", "mode", mode, "error", err)
		os.Exit(1)
	}
}
