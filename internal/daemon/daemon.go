// Package daemon wires the broker's process: load config, open the store,
// construct the RPC server, and serve it alongside a loopback-only metrics
// listener until the context is canceled.
//
// Grounded on internal/daemon/daemon.go's Service/Run/Serve shape in the
// teacher (multi-listener http.Server fan-in over one error channel,
// timeout-bounded graceful shutdown).
package daemon

import (
	"context"
	"errors"
	"log"
	"net"
	"net/http"
	"time"

	"github.com/zonemaster/broker/internal/config"
	"github.com/zonemaster/broker/internal/dnsutil"
	"github.com/zonemaster/broker/internal/rpc"
	"github.com/zonemaster/broker/internal/store"
	"github.com/zonemaster/broker/internal/translate"
)

const (
	shutdownTimeout   = 5 * time.Second
	dnsLookupTimeout  = 5 * time.Second
	adminRateQPS      = 1.0
	adminRateBurst    = 5
)

// Service owns the broker's RPC listener and optional metrics listener.
type Service struct {
	cfg             config.Config
	store           *store.Store
	rpcListener     net.Listener
	metricsListener net.Listener
	rpcServer       *http.Server
	metricsServer   *http.Server
	metrics         *Metrics
}

// Run loads the store, builds the RPC server, and serves until ctx is
// canceled or a listener fails.
func Run(ctx context.Context, cfg config.Config) error {
	if err := cfg.Validate(); err != nil {
		return err
	}
	st, err := store.Open(store.Engine(cfg.DBEngine), cfg.DBDSN)
	if err != nil {
		return err
	}
	svc, err := NewService(cfg, st)
	if err != nil {
		_ = st.Close()
		return err
	}
	log.Printf("zmbrokerd: opened %s store", cfg.DBEngine)
	return svc.Serve(ctx)
}

// NewService constructs a Service with bound listeners.
func NewService(cfg config.Config, st *store.Store) (*Service, error) {
	rpcListener, err := net.Listen("tcp", cfg.RPCListen)
	if err != nil {
		return nil, err
	}

	metrics := NewMetrics()
	server := &rpc.Server{
		Store:       st,
		Lookup:      dnsutil.NewLookup(dnsLookupTimeout),
		Catalog:     translate.NewCatalog(),
		Config:      cfg,
		Logger:      log.Default(),
		Observer:    metrics,
		RateLimiter: NewIPRateLimiter(adminRateQPS, adminRateBurst),
	}

	rpcServer := &http.Server{
		Handler:           server.Mux(),
		ReadHeaderTimeout: 5 * time.Second,
		IdleTimeout:       2 * time.Minute,
	}

	svc := &Service{
		cfg:         cfg,
		store:       st,
		rpcListener: rpcListener,
		rpcServer:   rpcServer,
		metrics:     metrics,
	}

	if cfg.MetricsListen != "" {
		metricsListener, err := net.Listen("tcp", cfg.MetricsListen)
		if err != nil {
			_ = rpcListener.Close()
			return nil, err
		}
		metricsMux := http.NewServeMux()
		metricsMux.Handle("/metrics", metrics.Handler())
		svc.metricsListener = metricsListener
		svc.metricsServer = &http.Server{
			Handler:           metricsMux,
			ReadHeaderTimeout: 5 * time.Second,
			IdleTimeout:       2 * time.Minute,
		}
	}

	return svc, nil
}

// Serve blocks until shutdown or a listener error occurs.
func (s *Service) Serve(ctx context.Context) error {
	log.Printf("zmbrokerd: listening on rpc=%s", s.cfg.RPCListen)

	listeners := 1
	errCh := make(chan error, 2)
	go func() { errCh <- s.rpcServer.Serve(s.rpcListener) }()
	if s.metricsServer != nil {
		listeners = 2
		log.Printf("zmbrokerd: listening on metrics=%s", s.cfg.MetricsListen)
		go func() { errCh <- s.metricsServer.Serve(s.metricsListener) }()
	}

	remaining := listeners
	var serveErr error

	select {
	case <-ctx.Done():
		// graceful shutdown
	case err := <-errCh:
		remaining--
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr = err
		}
	}

	s.shutdown()
	for i := 0; i < remaining; i++ {
		err := <-errCh
		if err != nil && !errors.Is(err, http.ErrServerClosed) && serveErr == nil {
			serveErr = err
		}
	}
	return serveErr
}

func (s *Service) shutdown() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = s.rpcServer.Shutdown(ctx)
	if s.metricsServer != nil {
		_ = s.metricsServer.Shutdown(ctx)
	}
	if s.store != nil {
		_ = s.store.Close()
	}
}
