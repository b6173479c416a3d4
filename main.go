package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/antibyte/webterm/pkg/configuration"
	"github.com/antibyte/webterm/pkg/logger"
	"github.com/antibyte/webterm/pkg/metrics"
	"github.com/antibyte/webterm/pkg/shell"
	"github.com/antibyte/webterm/pkg/store"
	"github.com/antibyte/webterm/pkg/terminal"
	tlsmanager "github.com/antibyte/webterm/pkg/tls"
	"github.com/antibyte/webterm/pkg/virtualfs"
)

func main() {
	configPath := os.Getenv("WEBTERM_CONFIG")
	if configPath == "" {
		configPath = "settings.cfg"
	}
	if err := configuration.Initialize(configPath); err != nil {
		fmt.Printf("Error initializing configuration: %v\n", err)
		os.Exit(1)
	}
	if err := logger.Initialize(); err != nil {
		fmt.Printf("Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Close()
	logger.Info(logger.AreaConfig, "System started - configuration loaded from %s", configPath)

	backend, err := openBackend()
	if err != nil {
		logger.Fatal(logger.AreaStorage, "Store initialization failed: %v", err)
	}
	defer backend.Close()

	registry := virtualfs.NewRegistry(backend, virtualfs.LimitsFromConfig())
	handler := terminal.NewTerminalHandler(registry, shell.OptionsFromConfig(), nil)

	mux := http.NewServeMux()
	handler.Routes(mux)
	mux.Handle(configuration.GetString("Server", "metrics_path", "/metrics"), metrics.Default().Handler())
	staticDir := configuration.GetString("Server", "static_dir", "./static")
	mux.Handle("/", http.FileServer(http.Dir(staticDir)))

	tlsManager, err := tlsmanager.NewTLSManager(tlsmanager.ConfigFromSettings())
	if err != nil {
		logger.Fatal(logger.AreaSecurity, "TLS manager initialization failed: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	servers := buildServers(mux, tlsManager)
	errorChan := make(chan error, len(servers))
	for _, srv := range servers {
		go func(srv *http.Server) {
			var err error
			if srv.TLSConfig != nil {
				logger.Info(logger.AreaGeneral, "Starting HTTPS server on %s", srv.Addr)
				err = srv.ListenAndServeTLS("", "")
			} else {
				logger.Info(logger.AreaGeneral, "Starting HTTP server on %s", srv.Addr)
				err = srv.ListenAndServe()
			}
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				errorChan <- fmt.Errorf("server on %s: %w", srv.Addr, err)
			}
		}(srv)
	}

	select {
	case err := <-errorChan:
		logger.Error(logger.AreaGeneral, "Server failed: %v", err)
	case <-ctx.Done():
		logger.Info(logger.AreaGeneral, "Shutdown signal received")
	}

	grace := configuration.GetDuration("Server", "shutdown_grace", 10*time.Second)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()
	handler.Shutdown()
	for _, srv := range servers {
		if err := srv.Shutdown(shutdownCtx); err != nil {
			logger.Warn(logger.AreaGeneral, "Shutdown of %s: %v", srv.Addr, err)
		}
	}
	logger.Info(logger.AreaGeneral, "Server stopped")
}

// openBackend selects the store from [Storage] driver.
func openBackend() (store.Backend, error) {
	switch driver := configuration.GetString("Storage", "driver", "sqlite"); driver {
	case "memory":
		logger.Warn(logger.AreaStorage, "Using in-memory store, files are lost on restart")
		return store.NewMemory(), nil
	case "sqlite":
		path := configuration.GetString("Storage", "database_path", "webterm.db")
		db, err := store.OpenSQLite(path)
		if err != nil {
			return nil, err
		}
		profiles, err := db.Profiles()
		if err != nil {
			db.Close()
			return nil, err
		}
		logger.Info(logger.AreaStorage, "SQLite store opened at %s with %d profiles", path, len(profiles))
		return db, nil
	default:
		return nil, fmt.Errorf("unknown storage driver %q", driver)
	}
}

// buildServers returns the plain listener and, with TLS, the HTTPS
// listener. In TLS mode the plain listener only redirects or answers
// ACME challenges.
func buildServers(mux http.Handler, tm *tlsmanager.TLSManager) []*http.Server {
	host := configuration.GetString("Server", "host", "0.0.0.0")
	httpAddr := net.JoinHostPort(host, configuration.GetString("Server", "port", "8080"))

	if !tm.IsEnabled() {
		return []*http.Server{newServer(httpAddr, mux)}
	}
	servers := []*http.Server{}
	httpsSrv := newServer(net.JoinHostPort(host, tm.GetHTTPSPort()), mux)
	httpsSrv.TLSConfig = tm.GetTLSConfig()
	servers = append(servers, httpsSrv)
	if tm.NeedsHTTPServer() {
		servers = append(servers, newServer(httpAddr, tm.HTTPHandler(mux)))
	} else {
		servers = append(servers, newServer(httpAddr, mux))
	}
	return servers
}

func newServer(addr string, h http.Handler) *http.Server {
	return &http.Server{
		Addr:              addr,
		Handler:           h,
		ReadHeaderTimeout: 10 * time.Second,
	}
}
