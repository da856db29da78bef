// vdms-server is the process entrypoint: load configuration, construct
// every collaborator bottom-up, wire the command handlers, and run the
// session server and background scheduler until a shutdown signal
// arrives. Grounded on the teacher's cmd/worker/main.go
// runStandaloneMode (construct components in dependency order, launch
// the long-running pieces in goroutines, block on a signal/error
// select, shut down gracefully).
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/intellabs/vdms-go/internal/asyncop"
	"github.com/intellabs/vdms-go/internal/config"
	"github.com/intellabs/vdms-go/internal/descriptor"
	"github.com/intellabs/vdms-go/internal/descriptor/denseset"
	"github.com/intellabs/vdms-go/internal/descriptor/flatset"
	"github.com/intellabs/vdms-go/internal/descriptor/ivfset"
	"github.com/intellabs/vdms-go/internal/descriptor/lshset"
	"github.com/intellabs/vdms-go/internal/descriptor/sparseset"
	"github.com/intellabs/vdms-go/internal/graphengine"
	"github.com/intellabs/vdms-go/internal/handler"
	"github.com/intellabs/vdms-go/internal/metrics"
	"github.com/intellabs/vdms-go/internal/scheduler"
	"github.com/intellabs/vdms-go/internal/server"
	"github.com/intellabs/vdms-go/internal/storage"
	"github.com/intellabs/vdms-go/internal/video"
)

func main() {
	cfgPath := flag.String("cfg", "config-vdms.json", "path to the VDMS configuration file")
	restorePath := flag.String("restore", "", "restore persisted state from a backup tarball before starting")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatalf("vdms-server: loading config: %v", err)
	}

	if *restorePath != "" {
		if err := restoreBackup(cfg, *restorePath); err != nil {
			log.Fatalf("vdms-server: restoring %s: %v", *restorePath, err)
		}
		log.Printf("✓ restored persisted state from %s", *restorePath)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	paths := storage.NewPathManager(storage.Roots{
		BlobPath:        cfg.BlobPath,
		ImagesPath:      cfg.ImagesPath,
		VideosPath:      cfg.VideosPath,
		DescriptorsPath: cfg.DescriptorsPath,
		TmpPath:         cfg.TmpPath,
		BackupPath:      cfg.BackupPath,
	}).WithMirror(mirrorForStorageType(cfg.StorageType))

	graph, err := graphengine.NewEngine(cfg.PostgresURL, "vdms")
	if err != nil {
		log.Fatalf("vdms-server: initializing graph engine: %v", err)
	}
	defer graph.Close()
	log.Println("✓ graph engine initialized (PostgreSQL + Apache AGE)")

	storageManager, err := storage.NewManager(cfg.PostgresURL, paths)
	if err != nil {
		log.Fatalf("vdms-server: initializing storage manager: %v", err)
	}
	defer storageManager.Close()
	log.Println("✓ storage manager initialized")

	descriptors := descriptor.NewManager()
	descriptors.RegisterEngine(descriptor.EngineFlat, flatset.Open, flatset.Create)
	descriptors.RegisterEngine(descriptor.EngineIVF, ivfset.Open, ivfset.Create)
	descriptors.RegisterEngine(descriptor.EngineDense, denseset.Open, denseset.Create)
	descriptors.RegisterEngine(descriptor.EngineSparse, sparseset.Open, sparseset.Create)
	descriptors.RegisterEngine(descriptor.EngineLSH, lshset.Open, lshset.Create)
	defer descriptors.CloseAll()
	log.Println("✓ descriptor engines registered (Flat, IVF, Dense, Sparse, LSH)")

	deps := &handler.Deps{
		Descriptors: descriptors,
		Paths:       paths,
		NewVideoRunner: func() video.Runner {
			runner, err := video.NewFFmpegRunner()
			if err != nil {
				log.Fatalf("vdms-server: initializing ffmpeg runner: %v", err)
			}
			return runner
		},
	}
	handler.Wire(deps)
	log.Println("✓ command handlers wired")

	redisOpt, err := redis.ParseURL(cfg.RedisURL)
	if err != nil {
		log.Fatalf("vdms-server: parsing redis url: %v", err)
	}
	redisClient := redis.NewClient(redisOpt)
	defer redisClient.Close()

	dispatch := server.NewDispatcher(graphStoreAdapter{engine: graph})
	srv, err := server.New(server.Config{
		Addr:        fmt.Sprintf(":%d", cfg.Port),
		MaxWorkers:  cfg.MaxSimultaneousClients,
		Dispatch:    dispatch,
		AsyncGraph:  asyncGraphStoreAdapter{engine: graph},
		RedisClient: redisClient,
	})
	if err != nil {
		log.Fatalf("vdms-server: initializing session server: %v", err)
	}

	sched, err := scheduler.New(scheduler.Config{
		RedisURL:              cfg.RedisURL,
		AutodeleteInterval:    time.Duration(cfg.AutodeleteIntervalS) * time.Second,
		AutoreplicateInterval: autoreplicateDuration(cfg),
		BackupPath:            cfg.BackupPath,
		Expirer:               graph,
		Snapshots:             storageManager,
		Backup: func(ctx context.Context, destDir string) error {
			return storage.SnapshotTarball(ctx, []string{
				cfg.BlobPath, cfg.ImagesPath, cfg.VideosPath, cfg.DescriptorsPath,
			}, filepath.Join(destDir, "snapshot.tar.gz"))
		},
	})
	if err != nil {
		log.Fatalf("vdms-server: initializing scheduler: %v", err)
	}

	errCh := make(chan error, 3)

	go func() {
		if err := metrics.Serve(ctx, cfg.MetricsAddr); err != nil {
			errCh <- fmt.Errorf("metrics server: %w", err)
		}
	}()
	go func() {
		if err := srv.Start(ctx); err != nil {
			errCh <- fmt.Errorf("session server: %w", err)
		}
	}()
	go func() {
		if err := sched.Start(); err != nil {
			errCh <- fmt.Errorf("scheduler: %w", err)
		}
	}()

	log.Printf("✓ VDMS server ready")
	log.Printf("  - listening on :%d (max %d simultaneous clients)", cfg.Port, cfg.MaxSimultaneousClients)
	log.Printf("  - metrics on %s/metrics", cfg.MetricsAddr)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM, syscall.SIGQUIT)

	select {
	case sig := <-sigCh:
		log.Printf("vdms-server: received %s, shutting down gracefully...", sig)
		cancel()
		sched.Stop()
	case err := <-errCh:
		log.Printf("vdms-server: component failure: %v", err)
		cancel()
		sched.Stop()
	}

	log.Println("vdms-server: stopped")
}

// graphStoreAdapter narrows graphengine.Engine.Begin's concrete *Session
// return to the server.GraphSession interface, letting the session
// server open one shared transaction/cache per envelope (spec.md 4.C)
// without importing internal/graphengine itself.
type graphStoreAdapter struct {
	engine *graphengine.Engine
}

func (g graphStoreAdapter) Begin(ctx context.Context, readOnly bool) (server.GraphSession, error) {
	return g.engine.Begin(ctx, readOnly)
}

// asyncGraphStoreAdapter is graphStoreAdapter's counterpart for
// asyncop.GraphStore: the session-owned async dispatcher (spec.md §9)
// opens its own short-lived graph session through this, independent of
// whatever envelope session queued the op it's completing.
type asyncGraphStoreAdapter struct {
	engine *graphengine.Engine
}

func (g asyncGraphStoreAdapter) Begin(ctx context.Context, readOnly bool) (asyncop.GraphSession, error) {
	return g.engine.Begin(ctx, readOnly)
}

// mirrorForStorageType selects the storage.Mirror implementation named
// by config.Config.StorageType. storage_type=aws is a documented
// Non-goal (spec.md §1): the original's AWS SDK replication path is not
// implemented, so it resolves to the same no-op as "local" - the
// interface boundary exists so a real mirror can be dropped in later
// without touching the write path.
func mirrorForStorageType(t config.StorageType) storage.Mirror {
	switch t {
	case config.StorageAWS:
		log.Println("storage_type=aws requested; AWS mirroring is a documented Non-goal, using a no-op mirror")
		return storage.NoopMirror{}
	default:
		return storage.NoopMirror{}
	}
}

// autoreplicateDuration converts config.Config's unit-qualified
// autoreplicate_interval into a time.Duration, or zero (meaning "off",
// spec.md 6) when the config disables it.
func autoreplicateDuration(cfg *config.Config) time.Duration {
	if cfg.AutoreplicateInterval <= 0 {
		return 0
	}
	switch cfg.Unit {
	case config.UnitMinutes:
		return time.Duration(cfg.AutoreplicateInterval) * time.Minute
	case config.UnitHours:
		return time.Duration(cfg.AutoreplicateInterval) * time.Hour
	default:
		return time.Duration(cfg.AutoreplicateInterval) * time.Second
	}
}

// restoreBackup extracts a backup tarball over the configured storage
// roots before any component that depends on their contents starts up.
// SnapshotTarball names each entry relative to its root's parent
// directory, so restoring must target that same parent - DBRootPath,
// the common ancestor of blob/image/video/descriptor paths in the
// default layout - rather than each root individually.
func restoreBackup(cfg *config.Config, archivePath string) error {
	return storage.RestoreTarball(archivePath, cfg.DBRootPath)
}
