package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"github.com/jobhub/messaging/internal/app"
	"github.com/jobhub/messaging/internal/config"
	"github.com/jobhub/messaging/internal/handler"
	"github.com/jobhub/messaging/internal/logger"
	"github.com/jobhub/messaging/internal/middleware"
	"github.com/jobhub/messaging/internal/model"
)

const apiRatePerMinute = 600

func main() {
	logger.SetPrefix("messaging")
	logger.Info("starting messaging client")
	cfg := config.Load()
	logger.SetLevel(cfg.LogLevel)

	startCtx, startCancel := context.WithTimeout(context.Background(), 60*time.Second)
	session, err := app.Build(startCtx, cfg)
	startCancel()
	if err != nil {
		logger.Errorf("session: %v", err)
		os.Exit(1)
	}

	ui := handler.NewWSHandler(cfg.CORSAllowedOrigins)
	session.OnStatus(ui.PublishStatus)

	sessionCtx, sessionCancel := context.WithCancel(context.Background())
	if err := session.Start(sessionCtx); err != nil {
		logger.Errorf("session start: %v", err)
		sessionCancel()
		session.Stop()
		os.Exit(1)
	}
	// стор уже запущен: Subscribe выполняется на его горутине
	unsubscribe := session.Store().Subscribe(ui.PublishChange)

	r := chi.NewRouter()
	// LocalOnly до RealIP: заголовки X-Real-Ip/X-Forwarded-For не должны влиять на проверку
	r.Use(middleware.LocalOnly)
	r.Use(chimw.RealIP)
	r.Use(middleware.RecoverJSON)
	// Не сжимать WebSocket: иначе ResponseWriter не реализует http.Hijacker и upgrade даёт 500.
	r.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, req *http.Request) {
			if strings.EqualFold(req.Header.Get("Upgrade"), "websocket") {
				next.ServeHTTP(w, req)
				return
			}
			chimw.Compress(5)(next).ServeHTTP(w, req)
		})
	})
	r.Use(middleware.RequestLog)
	r.Use(middleware.WithUser(cfg.UserID))
	r.Use(middleware.RateLimit(apiRatePerMinute))
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins: strings.Split(cfg.CORSAllowedOrigins, ","),
		AllowedMethods: []string{"GET", "POST", "OPTIONS"},
		AllowedHeaders: []string{"Accept", "Content-Type"},
		MaxAge:         300,
	}))

	handler.Mount(r, handler.Deps{
		Store:     session.Store(),
		Self:      model.StaticIdentity(cfg.UserID),
		Status:    session,
		Simulated: cfg.MockWebSocket,
		UI:        ui,
	})

	webDist := "./web/dist"
	if info, err := os.Stat(webDist); err == nil && info.IsDir() {
		r.Get("/*", spaHandler(webDist))
	}

	srv := &http.Server{
		Addr:         cfg.ServerAddr,
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	var srvWg sync.WaitGroup
	errCh := make(chan error, 1)
	srvWg.Add(1)
	go func() {
		defer srvWg.Done()
		logger.Infof("server listening on %s", cfg.ServerAddr)
		errCh <- srv.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	exitCode := 0
	select {
	case <-quit:
		logger.Info("shutdown signal received")
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Errorf("server error: %v", err)
			exitCode = 1
		}
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Errorf("server shutdown: %v", err)
	}
	logger.Info("server stopped accepting connections")
	unsubscribe()
	sessionCancel()
	session.Stop()
	logger.Info("session stopped")
	srvWg.Wait()
	logger.Info("server goroutine exited")
	if exitCode != 0 {
		os.Exit(exitCode)
	}
}

func spaHandler(dir string) http.HandlerFunc {
	fs := http.Dir(dir)
	fileServer := http.FileServer(fs)
	return func(w http.ResponseWriter, r *http.Request) {
		path := strings.TrimPrefix(filepath.Clean(r.URL.Path), "/")
		if path == "" {
			path = "index.html"
		}
		if f, err := fs.Open(path); err != nil {
			http.ServeFile(w, r, filepath.Join(dir, "index.html"))
		} else {
			f.Close()
			fileServer.ServeHTTP(w, r)
		}
	}
}
