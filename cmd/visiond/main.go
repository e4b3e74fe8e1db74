package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os/signal"
	"sync"
	"syscall"
	"time"

	_ "modernc.org/sqlite"

	"github.com/agv-data/vision/internal/api"
	"github.com/agv-data/vision/internal/audit"
	"github.com/agv-data/vision/internal/camera"
	"github.com/agv-data/vision/internal/config"
	"github.com/agv-data/vision/internal/db"
	"github.com/agv-data/vision/internal/detect"
	"github.com/agv-data/vision/internal/framestore"
)

var (
	devMode    = flag.Bool("dev", false, "Run in dev mode (mock camera and detector, no hardware needed)")
	listen     = flag.String("listen", ":8000", "Listen address")
	dbPath     = flag.String("db", "", "Database path (overrides DATABASE_PATH; \"none\" disables persistence)")
	migrateCmd = flag.String("migrate", "", "Run a migration command and exit: up, down, version, or force=<n>")
)

func main() {
	flag.Parse()

	if *listen == "" {
		log.Fatal("Listen address is required")
	}

	cfg := config.Load()
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}
	if cfg.DatabasePath == "none" {
		cfg.DatabasePath = ""
	}

	var store *db.DB
	if cfg.DatabasePath != "" {
		var err error
		store, err = db.NewDB(cfg.DatabasePath)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		defer store.Close()
	}

	if *migrateCmd != "" {
		if store == nil {
			log.Fatal("migration requires a database path")
		}
		runMigration(store, cfg.MigrationsDir, *migrateCmd)
		return
	}

	frames, err := framestore.NewStore(cfg.FrameDir)
	if err != nil {
		log.Fatalf("Failed to create frame store: %v", err)
	}

	var cam camera.Camera
	var det detect.Detector
	if *devMode {
		cam = camera.NewMockCamera(cfg.FrameWidth, cfg.FrameHeight)
		det = detect.NewMockDetector()
		log.Print("running in dev mode with mock camera and detector")
	} else {
		cam = camera.NewWebcam(cfg.CameraID, cfg.FrameWidth, cfg.FrameHeight)
		dnn, err := detect.NewDNNDetector(cfg.ModelPath, cfg.ModelConfigPath)
		if err != nil {
			log.Fatalf("Failed to load detection model: %v", err)
		}
		defer dnn.Close()
		det = dnn
	}

	sink := audit.NewSink(store, cfg.AuditQueueSize)
	sink.Start()

	hub := api.NewHub()
	frames.OnPublish(hub.BroadcastFrame)

	svc := detect.NewService(det, frames)
	server := api.NewServer(svc, sink, frames, store, hub, cfg.DefaultThreshold)

	var wg sync.WaitGroup
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// capture routine: poll the camera at a fixed cadence and publish frames
	wg.Add(1)
	go func() {
		defer wg.Done()
		loop := camera.NewLoop(cam, frames, sink, cfg.CaptureInterval)
		if err := loop.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("capture loop terminated: %v", err)
		}
		log.Print("capture routine terminated")
	}()

	// websocket fan-out routine
	wg.Add(1)
	go func() {
		defer wg.Done()
		hub.Run(ctx)
		log.Print("frame hub terminated")
	}()

	// HTTP server goroutine
	wg.Add(1)
	go func() {
		defer wg.Done()

		mux := server.ServeMux()
		if store != nil {
			store.AttachAdminRoutes(mux)
		}

		httpServer := &http.Server{
			Addr:    *listen,
			Handler: api.LoggingMiddleware(mux),
		}

		go func() {
			log.Printf("listening on %s", *listen)
			if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Fatalf("failed to start server: %v", err)
			}
		}()

		<-ctx.Done()
		log.Println("shutting down HTTP server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()

		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			log.Printf("HTTP server shutdown error: %v", err)
			if err := httpServer.Close(); err != nil {
				log.Printf("HTTP server force close error: %v", err)
			}
		}

		log.Printf("HTTP server routine stopped")
	}()

	wg.Wait()

	// stop the sink last so shutdown events queued by the capture loop are
	// flushed before the database closes
	sink.Stop()
	log.Printf("Graceful shutdown complete")
}

func runMigration(store *db.DB, dir, cmd string) {
	switch {
	case cmd == "up":
		if err := store.MigrateUp(dir); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		log.Print("migrations applied")
	case cmd == "down":
		if err := store.MigrateDown(dir); err != nil {
			log.Fatalf("migration failed: %v", err)
		}
		log.Print("rolled back one migration")
	case cmd == "version":
		version, dirty, err := store.MigrateVersion(dir)
		if err != nil {
			log.Fatalf("failed to read migration version: %v", err)
		}
		log.Printf("schema version %d (dirty=%v)", version, dirty)
	case len(cmd) > 6 && cmd[:6] == "force=":
		var version int
		if _, err := fmt.Sscanf(cmd, "force=%d", &version); err != nil {
			log.Fatalf("invalid force version %q", cmd)
		}
		if err := store.MigrateForce(dir, version); err != nil {
			log.Fatalf("force migration failed: %v", err)
		}
		log.Printf("schema version forced to %d", version)
	default:
		log.Fatalf("unknown migration command %q (want up, down, version, or force=<n>)", cmd)
	}
}
