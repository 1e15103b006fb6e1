package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"scmap/internal/cmdclient"
	"scmap/internal/cmdreceiver"
	"scmap/internal/config"
	"scmap/internal/cronjob"
	"scmap/internal/log"
	"scmap/internal/mapstore"
	"scmap/internal/objstore"
	"scmap/internal/parsequeue"
	"scmap/internal/pgsql"
	"scmap/internal/reparse"
	"scmap/internal/worker"
)

const (
	startupTimeout  = 10 * time.Second
	shutdownTimeout = 30 * time.Second
	healthTimeout   = 2 * time.Second
)

func usage() {
	fmt.Fprintf(os.Stderr, `usage: mapstore [command] [flags]

commands:
  serve                              run the map service (default)
  store -user N [-visibility V] FILE parse and store a map file
  regenerate HASH                    re-render images for stored content
  reparse-sweep [-limit N]           reparse stale maps now
  purge -yes                         delete every map record
`)
}

func main() {
	args := os.Args[1:]
	cmd := "serve"
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		cmd, args = args[0], args[1:]
	}

	var err error
	switch cmd {
	case "serve":
		err = serve()
	case "store", "regenerate", "reparse-sweep", "purge":
		err = runClientCommand(cmd, args)
	case "help":
		usage()
		return
	default:
		usage()
		os.Exit(2)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "mapstore %s: %v\n", cmd, err)
		os.Exit(1)
	}
}

func serve() error {
	log.SetupLogger(log.LevelInfo)
	logger := log.Component("main")
	logger.Info("--- Starting map store ---")

	logger.Info("[step] Loading configuration")
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	log.SetupLogger(cfg.LogLevel)
	logger = log.Component("main")
	logger.Info("[ok] Configuration loaded")
	if cfg.AdminKey == "" {
		logger.Warn("[config] admin_key is empty, command endpoint is open")
	}

	logger.Info("[step] Initializing PostgreSQL connector")
	connector := pgsql.NewConnector(cfg.DBURL)
	startCtx, startCancel := context.WithTimeout(context.Background(), startupTimeout)
	defer startCancel()
	if err := connector.Connect(startCtx); err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer connector.Close()
	logger.Info("[ok] Database connected")

	logger.Info("[step] Applying migrations")
	if err := pgsql.Migrate(connector.DB()); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	logger.Info("[ok] Schema up to date")
	db := pgsql.NewDB(connector)

	logger.Info("[step] Initializing object storage")
	store, err := objstore.New(cfg.Storage.ObjstoreConfig())
	if err != nil {
		return fmt.Errorf("object storage: %w", err)
	}
	logger.Infof("[ok] Object storage ready (driver=%s)", cfg.Storage.Driver)

	logger.Info("[step] Initializing map workers")
	workerPath := resolveWorkerPath(cfg.WorkerPath)
	w, err := worker.NewWorkerI(worker.Options{
		Command: workerPath,
		Env:     []string{"LOG_LEVEL=" + cfg.LogLevel},
		Timeout: cfg.WorkerTimeout,
		Now:     time.Now,
	})
	if err != nil {
		return fmt.Errorf("worker: %w", err)
	}
	queue, err := parsequeue.NewQueueI(cfg.MaxConcurrentMapParses)
	if err != nil {
		return fmt.Errorf("parse queue: %w", err)
	}
	logger.Infof("[ok] Workers ready (path=%s parses=%d timeout=%s rendering=%v)",
		workerPath, cfg.MaxConcurrentMapParses, cfg.WorkerTimeout, cfg.BWDataPath != "")

	maps := mapstore.NewServiceI(db, store, parsequeue.NewQueuedWorker(queue, w),
		reparse.NewCoordinator(reparse.NewInFlight()),
		mapstore.Options{
			DataPath:     cfg.BWDataPath,
			SignedURLTTL: cfg.Storage.SignedURLTTL,
		})

	runCtx, runCancel := context.WithCancel(context.Background())
	defer runCancel()
	cronjob.NewScheduler(maps, cronjob.Options{
		Interval: cfg.ReparseSweepInterval,
		Batch:    cfg.ReparseSweepBatch,
	}).Start(runCtx)

	logger.Info("[step] Starting HTTP server")
	mux := http.NewServeMux()
	cmdreceiver.NewHandlerI(cmdreceiver.NewServiceI(maps), cfg.AdminKey).Register(mux)
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", healthHandler(connector, store))
	httpServer := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}
	serveErr := make(chan error, 1)
	go func() {
		logger.Infof("[ok] HTTP listening on %s", cfg.HTTPAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serveErr <- err
		}
	}()

	logger.Info("--- Map store is running ---")

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-stop:
	case err := <-serveErr:
		return fmt.Errorf("http server: %w", err)
	}

	logger.Info("--- Stopping map store ---")
	runCancel()
	logger.Info("[step] Shutting down HTTP server")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warnf("http shutdown warning: %v", err)
	} else {
		logger.Info("[ok] HTTP server stopped")
	}

	logger.Info("[step] Closing database connector")
	if err := connector.Close(); err != nil {
		logger.Warnf("database close warning: %v", err)
	} else {
		logger.Info("[ok] Database connector closed")
	}
	logger.Info("--- Shutdown complete ---")
	return nil
}

func healthHandler(db pgsql.SQLConnector, store *objstore.BreakerStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), healthTimeout)
		defer cancel()
		status := http.StatusOK
		dbState := "ok"
		if err := db.PingContext(ctx); err != nil {
			status, dbState = http.StatusServiceUnavailable, err.Error()
		}
		storeState := store.State()
		if storeState == "open" {
			status = http.StatusServiceUnavailable
		}
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		w.WriteHeader(status)
		fmt.Fprintf(w, "database: %s\nstorage breaker: %s\n", dbState, storeState)
	}
}

// resolveWorkerPath prefers PATH, then the directory of this executable.
func resolveWorkerPath(p string) string {
	if filepath.IsAbs(p) {
		return p
	}
	if found, err := exec.LookPath(p); err == nil {
		return found
	}
	if self, err := os.Executable(); err == nil {
		candidate := filepath.Join(filepath.Dir(self), filepath.Base(p))
		if _, err := os.Stat(candidate); err == nil {
			return candidate
		}
	}
	return p
}

func runClientCommand(cmd string, args []string) error {
	fs := flag.NewFlagSet(cmd, flag.ExitOnError)
	addr := fs.String("addr", "", "service address (default: http_addr from config)")
	userID := fs.Int64("user", 0, "uploader id")
	visibility := fs.String("visibility", "PUBLIC", "OFFICIAL, PUBLIC or PRIVATE")
	limit := fs.Int("limit", 100, "maps per sweep")
	yes := fs.Bool("yes", false, "confirm purge")
	timeout := fs.Duration("timeout", 10*time.Minute, "request timeout")
	if err := fs.Parse(args); err != nil {
		return err
	}

	log.SetupLogger(log.LevelWarn)
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	target := *addr
	if target == "" {
		target = cfg.HTTPAddr
	}
	conn, err := cmdclient.NewConnectorWithAuth(target, *timeout, cmdclient.DefaultAuthHeader, cfg.AdminKey)
	if err != nil {
		return err
	}
	client := cmdclient.NewServiceC(conn)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	switch cmd {
	case "store":
		if fs.NArg() != 1 {
			return fmt.Errorf("expected one map file")
		}
		path, err := filepath.Abs(fs.Arg(0))
		if err != nil {
			return err
		}
		views, err := client.StoreMap(ctx, path, *userID, *visibility)
		if err != nil {
			return err
		}
		for _, v := range views {
			fmt.Printf("%s\t%s\t%s\n", v.ID, v.Hash, v.Name)
		}
	case "regenerate":
		if fs.NArg() != 1 {
			return fmt.Errorf("expected one content hash")
		}
		if err := client.RegenerateImages(ctx, fs.Arg(0)); err != nil {
			return err
		}
		fmt.Println("images regenerated")
	case "reparse-sweep":
		msg, err := client.ReparseSweep(ctx, *limit)
		if err != nil {
			return err
		}
		fmt.Println(msg)
	case "purge":
		if !*yes {
			return fmt.Errorf("refusing to purge without -yes")
		}
		if err := client.Purge(ctx); err != nil {
			return err
		}
		fmt.Println("all maps deleted")
	}
	return nil
}
