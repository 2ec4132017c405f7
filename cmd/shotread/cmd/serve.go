package cmd

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/spf13/cobra"

	"github.com/psantana5/shotread/pkg/api"
	"github.com/psantana5/shotread/pkg/auth"
	"github.com/psantana5/shotread/pkg/logging"
	"github.com/psantana5/shotread/pkg/metrics"
	"github.com/psantana5/shotread/pkg/ratelimit"
	"github.com/psantana5/shotread/pkg/shutdown"
	tlsutil "github.com/psantana5/shotread/pkg/tls"
	"github.com/psantana5/shotread/pkg/tracing"
)

// Version is stamped at build time
var Version = "dev"

var serveAddr string

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the session over a local HTTP control API",
	Long: `Runs one practice session behind a JSON API so another front end can
drive it. Prometheus metrics are exposed on /metrics.

Example:
  shotread serve --addr 127.0.0.1:8090
  curl -X POST localhost:8090/session/start -d '{"level":"advanced"}'
  curl -X POST localhost:8090/session/answer -d '{"answer":"Cut"}'`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
	serveCmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default from config)")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if serveAddr != "" {
		cfg.Server.Addr = serveAddr
	}
	logger, err := newLogger(cfg, "serve")
	if err != nil {
		return err
	}
	defer logger.Close()

	sm := shutdown.New(10*time.Second, logger)

	tracer, err := tracing.InitTracer(tracing.Config{
		ServiceName:    "shotread",
		ServiceVersion: Version,
		OTLPEndpoint:   cfg.Tracing.Endpoint,
		Enabled:        cfg.Tracing.Enabled,
	}, logger)
	if err != nil {
		return err
	}
	sm.Register("tracing", tracer.Shutdown)

	a, err := newApp(cfg, logger)
	if err != nil {
		sm.Shutdown()
		return err
	}
	sm.Register("player", shutdown.CloseResource(a))

	opts := api.RouterOptions{
		Gatherer: a.registry,
		Metrics:  metrics.NewHTTPMetrics(a.registry),
		Limiter:  ratelimit.NewLimiter(cfg.Server.RateLimit, cfg.Server.RateBurst),
		Tracer:   tracer,
	}
	if cfg.Server.APIKeyHash != "" {
		if opts.Auth, err = auth.NewAPIKeyChecker(cfg.Server.APIKeyHash); err != nil {
			sm.Shutdown()
			return err
		}
	}
	handler := api.NewHandler(a.session, a.manager, tracer, logger)
	srv := api.NewServer(cfg.Server.Addr, api.NewRouter(handler, opts))
	if cfg.Server.TLSCert != "" {
		if srv.TLSConfig, err = tlsutil.LoadServerTLSConfig(cfg.Server.TLSCert, cfg.Server.TLSKey); err != nil {
			sm.Shutdown()
			return err
		}
	}
	sm.Register("http", shutdown.StopHTTPServer(srv))

	go sweepLimiter(sm.Done(), opts.Limiter, logger)
	go func() {
		logger.Info("Control API listening", logging.Fields{
			"addr":   cfg.Server.Addr,
			"driver": cfg.Player.Driver,
			"tls":    srv.TLSConfig != nil,
			"auth":   opts.Auth != nil,
		})
		var err error
		if srv.TLSConfig != nil {
			err = srv.ListenAndServeTLS("", "")
		} else {
			err = srv.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("HTTP server failed", logging.Fields{"error": err})
			sm.Trigger()
		}
	}()

	sm.Wait(context.Background())
	return sm.Shutdown()
}

// sweepLimiter drops idle per-client buckets until done closes
func sweepLimiter(done <-chan struct{}, limiter *ratelimit.Limiter, logger *logging.Logger) {
	ticker := time.NewTicker(time.Minute)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			if n := limiter.Cleanup(10 * time.Minute); n > 0 {
				logger.Debug("Rate limiter swept", logging.Fields{"removed": n, "remaining": limiter.Len()})
			}
		}
	}
}
