// Filebox Server
//
// Features:
// - Folder tree under a single upload root with a mirrored preview tree
// - Image thumbnails and text excerpts
// - JSON code block notes
// - Pluggable file processors (stats, highlight, markdown)
// - SSE change notifications
// - Prometheus metrics & structured logging (zap)
package main

import (
	"context"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"

	"github.com/fruitsalade/filebox/internal/api"
	"github.com/fruitsalade/filebox/internal/config"
	"github.com/fruitsalade/filebox/internal/events"
	"github.com/fruitsalade/filebox/internal/logging"
	"github.com/fruitsalade/filebox/internal/metrics"
	"github.com/fruitsalade/filebox/internal/notes"
	"github.com/fruitsalade/filebox/internal/preview"
	"github.com/fruitsalade/filebox/internal/process"
	"github.com/fruitsalade/filebox/internal/storage"
	"github.com/fruitsalade/filebox/webapp"
)

func main() {
	// A missing .env is fine
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		// Can't use structured logging yet
		panic("configuration error: " + err.Error())
	}

	if err := logging.Init(logging.Config{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
	}); err != nil {
		panic("logging init error: " + err.Error())
	}
	defer logging.Sync()

	logging.Info("Filebox Server starting...",
		zap.String("listen", cfg.ListenAddr),
		zap.String("metrics", cfg.MetricsAddr),
		zap.String("uploads", cfg.UploadDir),
		zap.String("previews", cfg.PreviewDir))

	broadcaster := events.NewBroadcaster()

	previewer := preview.New(preview.Options{
		MaxDim:    cfg.PreviewMaxDim,
		Quality:   cfg.PreviewQuality,
		TextBytes: cfg.PreviewTextBytes,
		WrapWidth: cfg.PreviewWrapWidth,
	})

	files, err := storage.New(storage.Options{
		UploadDir:  cfg.UploadDir,
		PreviewDir: cfg.PreviewDir,
		Previewer:  previewer,
		Events:     broadcaster,
	})
	if err != nil {
		logging.Fatal("storage init failed", zap.Error(err))
	}

	noteStore := notes.New(cfg.NotesFile, broadcaster)
	logging.Info("code block store ready", zap.String("file", noteStore.Path()))

	var assets fs.FS = webapp.Assets
	if cfg.WebappDir != "" {
		assets = os.DirFS(cfg.WebappDir)
		logging.Info("serving webapp from disk", zap.String("dir", cfg.WebappDir))
	}

	srv := api.NewServer(api.Deps{
		Files:         files,
		Notes:         noteStore,
		Processors:    process.Default(),
		Broadcaster:   broadcaster,
		Webapp:        assets,
		MaxUploadSize: cfg.MaxUploadSize,
		CORSOrigins:   splitOrigins(cfg.CORSOrigins),
	})

	var metricsServer *http.Server
	if cfg.MetricsAddr != "" {
		metricsServer = &http.Server{
			Addr:              cfg.MetricsAddr,
			Handler:           metrics.Handler(),
			ReadHeaderTimeout: 10 * time.Second,
		}
		go func() {
			logging.Info("metrics server listening", zap.String("addr", cfg.MetricsAddr))
			if err := metricsServer.ListenAndServe(); err != http.ErrServerClosed {
				logging.Error("metrics server error", zap.Error(err))
			}
		}()
	}

	// No write timeout: /events/ streams indefinitely.
	httpServer := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           srv.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	// SIGHUP re-reads the configuration and applies its log level.
	go func() {
		hupCh := make(chan os.Signal, 1)
		signal.Notify(hupCh, syscall.SIGHUP)
		for range hupCh {
			_ = godotenv.Overload()
			next, err := config.Load()
			if err != nil {
				logging.Warn("config reload failed, keeping current level", zap.Error(err))
				continue
			}
			logging.SetLevel(next.LogLevel)
			logging.Info("log level reloaded", zap.String("level", next.LogLevel))
		}
	}()

	// Graceful shutdown
	go func() {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
		<-sigCh
		logging.Info("shutting down...")

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		// Open SSE streams never finish on their own; Close cuts them.
		if err := httpServer.Shutdown(ctx); err != nil {
			httpServer.Close()
		}
		if metricsServer != nil {
			metricsServer.Close()
		}
	}()

	logging.Info("server listening (HTTP)", zap.String("addr", cfg.ListenAddr))
	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		logging.Fatal("server error", zap.Error(err))
	}
}

func splitOrigins(s string) []string {
	var origins []string
	for _, o := range strings.Split(s, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}
