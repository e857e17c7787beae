package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/tunivo/studio/internal/settings"
	"github.com/tunivo/studio/pkg/logger"
	"github.com/tunivo/studio/pkg/studio"
	"github.com/tunivo/studio/pkg/studio/export"
	"github.com/tunivo/studio/pkg/studio/provider"
	"github.com/tunivo/studio/pkg/studio/storage"
	"github.com/tunivo/studio/pkg/utils"
)

func main() {
	log := logger.GetLogger().Named("server")

	cfg, err := settings.Load()
	if err != nil {
		log.Fatalf("Failed to load settings: %v", err)
	}

	port := flag.Int("port", cfg.Port, "HTTP server port")
	dbPath := flag.String("db", cfg.DBPath, "Path to SQLite database")
	tempDir := flag.String("temp", cfg.TempDir, "Scratch directory for clips and export passes")
	outputDir := flag.String("output", cfg.OutputDir, "Directory for finished exports")
	audioDir := flag.String("audio", cfg.AudioDir, "Directory job soundtracks are read from")
	origins := flag.String("origins", cfg.AllowedOrigin, "Comma-separated list of allowed CORS origins (use * for all)")
	flag.Parse()

	for _, dir := range []string{*outputDir, *audioDir} {
		if err := utils.MakeDir(dir); err != nil {
			log.Fatalf("Failed to create %s: %v", dir, err)
		}
	}

	db, err := storage.NewDBClientWithPath(*dbPath)
	if err != nil {
		log.Fatalf("Failed to open database: %v", err)
	}

	var studioOpts []studio.Option
	if _, err := exec.LookPath("ffmpeg"); err == nil {
		// With ffmpeg available the mock provider writes real placeholder
		// clips, so finished jobs can be exported.
		studioOpts = append(studioOpts, studio.WithProvider(provider.NewMockProvider(
			[]provider.MockOption{
				provider.WithOutputDir(filepath.Join(*tempDir, "tunivo-clips")),
				provider.WithRenderer(export.LocalExecutor{}),
			},
			provider.WithFanoutLogger(log.Named("provider")),
		)))
	} else {
		log.Warnf("ffmpeg not found, jobs with audio will fail to export")
	}

	server := NewServer(db, &ServerConfig{
		Port:           *port,
		AllowedOrigins: splitOrigins(*origins),
		HMACSecret:     cfg.HMACSecret,
		RateLimit:      cfg.RateLimit,
		Retention:      cfg.Retention,
		TempDir:        *tempDir,
		OutputDir:      *outputDir,
		AudioDir:       *audioDir,
		Plans:          cfg.Plans,
		StudioOptions:  studioOpts,
	})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := server.Start(ctx); err != nil {
		log.Errorf("Server failed: %v", err)
	}
	if err := server.Close(); err != nil {
		log.Errorf("Failed to close server: %v", err)
	}
}

func splitOrigins(raw string) []string {
	if strings.TrimSpace(raw) == "*" {
		return []string{"*"}
	}
	var origins []string
	for _, o := range strings.Split(raw, ",") {
		if o = strings.TrimSpace(o); o != "" {
			origins = append(origins, o)
		}
	}
	return origins
}

// Start serves HTTP and runs the retention janitor until ctx is done.
func (s *Server) Start(ctx context.Context) error {
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", s.config.Port),
		Handler:           s.setupRoutes(),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go s.runJanitor(ctx, s.config.JanitorInterval)

	s.log.Infof("Tunivo Studio server starting on %s", srv.Addr)
	s.log.Infof("   CORS Origins: %v", s.config.AllowedOrigins)
	s.log.Infof("   Rate limit: %d jobs/minute, retention %v", s.config.RateLimit, s.config.Retention)
	s.log.Infof("   Exports: %s, soundtracks: %s", s.config.OutputDir, s.config.AudioDir)

	errc := make(chan error, 1)
	go func() { errc <- srv.ListenAndServe() }()

	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}

	s.log.Infof("Shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}
