package main

import (
	"context"
	"errors"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/leapmail/mx/config"
	"github.com/leapmail/mx/db"
	"github.com/leapmail/mx/logger"
	"github.com/leapmail/mx/pkg/aliascache"
	"github.com/leapmail/mx/resolver"
	"github.com/leapmail/mx/server/tcpmap"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	// Initialize with application defaults
	cfg := config.NewDefaultConfig()

	// --- Define Command-Line Flags ---
	// These flags will override values from the config file if set.
	configPath := flag.String("config", "config.toml", "Path to TOML configuration file")

	fLogOutput := flag.String("logoutput", cfg.Logging.Output, "Log output: 'stderr', 'stdout', 'syslog' or a file path (overrides config)")
	fLogLevel := flag.String("loglevel", cfg.Logging.Level, "Log level: debug, info, warn, error (overrides config)")

	// Database flags
	fDbHost := flag.String("dbhost", cfg.Database.Host, "Database host (overrides config)")
	fDbPort := flag.String("dbport", cfg.Database.Port, "Database port (overrides config)")
	fDbUser := flag.String("dbuser", cfg.Database.User, "Database user (overrides config)")
	fDbPassword := flag.String("dbpassword", cfg.Database.Password, "Database password (overrides config)")
	fDbName := flag.String("dbname", cfg.Database.Name, "Database name (overrides config)")
	fDbTLS := flag.Bool("dbtls", cfg.Database.TLSMode, "Enable TLS for database connection (overrides config)")
	fDbLogQueries := flag.Bool("dblogqueries", cfg.Database.LogQueries, "Log all database queries (overrides config)")

	// TCP map listener flags
	fTCPMapAddr := flag.String("addr", cfg.Servers.TCPMap.Addr, "TCP map listener address (overrides config)")
	fIdleTimeout := flag.String("idletimeout", cfg.Servers.TCPMap.IdleTimeout, "Connection idle timeout (overrides config)")
	fMode := flag.String("mode", cfg.Servers.TCPMap.Mode, "Lookup mode: 'alias' or 'identifier' (overrides config)")

	// Resolver flags
	fVirtualTransport := flag.String("virtualtransport", cfg.Resolver.VirtualTransport, "Domain suffix for derived identifiers (overrides config)")
	fUseVirtualTransport := flag.Bool("usevirtualtransport", cfg.Resolver.UseVirtualTransport, "Append the virtual transport domain to derived identifiers (overrides config)")

	// Metrics flags
	fMetrics := flag.Bool("metrics", cfg.Metrics.Start, "Serve Prometheus metrics (overrides config)")
	fMetricsAddr := flag.String("metricsaddr", cfg.Metrics.Addr, "Prometheus metrics address (overrides config)")

	flag.Parse()

	// --- Load Configuration from TOML File ---
	if err := cfg.LoadFromFile(*configPath); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			if isFlagSet("config") { // User explicitly set -config
				log.Fatalf("Error: Specified configuration file '%s' not found: %v", *configPath, err)
			} else {
				log.Printf("WARNING: Default configuration file '%s' not found. Using application defaults and command-line flags.", *configPath)
			}
		} else {
			log.Fatalf("%v", err)
		}
	} else {
		log.Printf("Loaded configuration from %s", *configPath)
	}

	// --- Apply Command-Line Flag Overrides ---
	if isFlagSet("logoutput") {
		cfg.Logging.Output = *fLogOutput
	}
	if isFlagSet("loglevel") {
		cfg.Logging.Level = *fLogLevel
	}
	if isFlagSet("dbhost") {
		cfg.Database.Host = *fDbHost
	}
	if isFlagSet("dbport") {
		cfg.Database.Port = *fDbPort
	}
	if isFlagSet("dbuser") {
		cfg.Database.User = *fDbUser
	}
	if isFlagSet("dbpassword") {
		cfg.Database.Password = *fDbPassword
	}
	if isFlagSet("dbname") {
		cfg.Database.Name = *fDbName
	}
	if isFlagSet("dbtls") {
		cfg.Database.TLSMode = *fDbTLS
	}
	if isFlagSet("dblogqueries") {
		cfg.Database.LogQueries = *fDbLogQueries
	}
	if isFlagSet("addr") {
		cfg.Servers.TCPMap.Addr = *fTCPMapAddr
	}
	if isFlagSet("idletimeout") {
		cfg.Servers.TCPMap.IdleTimeout = *fIdleTimeout
	}
	if isFlagSet("mode") {
		cfg.Servers.TCPMap.Mode = *fMode
	}
	if isFlagSet("virtualtransport") {
		cfg.Resolver.VirtualTransport = *fVirtualTransport
	}
	if isFlagSet("usevirtualtransport") {
		cfg.Resolver.UseVirtualTransport = *fUseVirtualTransport
	}
	if isFlagSet("metrics") {
		cfg.Metrics.Start = *fMetrics
	}
	if isFlagSet("metricsaddr") {
		cfg.Metrics.Addr = *fMetricsAddr
	}

	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	// --- Initialize Logging ---
	logFile, err := logger.Initialize(cfg.Logging)
	if err != nil {
		log.Fatalf("Failed to initialize logging: %v", err)
	}
	if logFile != nil {
		defer logFile.Close()
	}

	if !cfg.Servers.TCPMap.Start {
		logger.Fatal("No servers enabled. Enable the TCP map server with servers.tcpmap.start.")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Handle SIGINT and SIGTERM for graceful shutdown
	signalChan := make(chan os.Signal, 1)
	signal.Notify(signalChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-signalChan
		logger.Info("Received signal, shutting down", "signal", sig.String())
		cancel()
	}()

	// --- Alias cache ---
	var cache *aliascache.Cache
	if cfg.Cache.Enabled {
		positiveTTL, err := cfg.Cache.GetPositiveTTL()
		if err != nil {
			logger.Fatal("Invalid cache positive_ttl", "error", err)
		}
		negativeTTL, err := cfg.Cache.GetNegativeTTL()
		if err != nil {
			logger.Fatal("Invalid cache negative_ttl", "error", err)
		}
		cache = aliascache.New(positiveTTL, negativeTTL, cfg.Cache.MaxSize)
		defer cache.Stop()
	}

	// --- Resolver with its shared backend connection ---
	backend := db.NewAliasBackend(&cfg.Database)
	rsv := resolver.New(backend, resolver.Options{
		VirtualTransport:    cfg.Resolver.VirtualTransport,
		UseVirtualTransport: cfg.Resolver.UseVirtualTransport,
		Overrides:           cfg.Aliases,
		Cache:               cache,
	})
	defer rsv.Close()

	// Connect in the background: the listener answers RETRY until the
	// backend comes up, and the MTA retries per the protocol.
	go connectBackend(ctx, rsv, backend)

	hostname, _ := os.Hostname()
	errChan := make(chan error, 1)

	// --- Prometheus metrics endpoint ---
	if cfg.Metrics.Start {
		go startMetricsServer(ctx, cfg.Metrics, errChan)
	}

	// --- TCP map server ---
	idleTimeout, err := cfg.Servers.TCPMap.GetIdleTimeout()
	if err != nil {
		logger.Fatal("Invalid idle_timeout", "error", err)
	}
	s, err := tcpmap.New(ctx, "resolver", hostname, cfg.Servers.TCPMap.Addr, rsv, tcpmap.TCPMapServerOptions{
		IdleTimeout:   idleTimeout,
		MaxLineLength: cfg.Servers.TCPMap.GetMaxLineLength(),
		Mode:          cfg.Servers.TCPMap.Mode,
	})
	if err != nil {
		logger.Fatal("Failed to create TCP map server", "error", err)
	}

	go func() {
		<-ctx.Done()
		logger.Info("Shutting down TCP map server")
		s.Close()
	}()

	go s.Start(errChan)

	select {
	case <-ctx.Done():
		logger.Info("Shutting down mx")
	case err := <-errChan:
		logger.Fatal("Server error", "error", err)
	}
}

// connectBackend keeps attempting the initial backend connection until
// it succeeds or the process shuts down. Connect is idempotent, so a
// stray extra attempt is harmless.
func connectBackend(ctx context.Context, rsv *resolver.Resolver, backend *db.AliasBackend) {
	const retryInterval = 30 * time.Second

	for {
		err := rsv.Connect(ctx)
		if err == nil {
			if database, dbErr := backend.Database(); dbErr == nil {
				database.StartPoolMetrics(ctx)
			}
			return
		}
		logger.Warn("Backend connect failed, retrying", "error", err, "retry_in", retryInterval)

		select {
		case <-ctx.Done():
			return
		case <-time.After(retryInterval):
		}
	}
}

func startMetricsServer(ctx context.Context, cfg config.MetricsConfig, errChan chan error) {
	path := cfg.Path
	if path == "" {
		path = "/metrics"
	}

	mux := http.NewServeMux()
	mux.Handle(path, promhttp.Handler())

	srv := &http.Server{Addr: cfg.Addr, Handler: mux}

	go func() {
		<-ctx.Done()
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer shutdownCancel()
		srv.Shutdown(shutdownCtx)
	}()

	logger.Info("Metrics listening", "addr", cfg.Addr, "path", path)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		errChan <- err
	}
}

// Helper function to check if a flag was explicitly set on the command line
func isFlagSet(name string) bool {
	isSet := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			isSet = true
		}
	})
	return isSet
}
