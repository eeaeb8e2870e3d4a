// Command netcore runs the netcore server instance: it accepts TCP
// connections and UDP datagrams under the configured framing/routing
// modes, runs the three-way handshake that binds a client's TCP and UDP
// endpoints under one client id, and serves a Prometheus metrics
// endpoint alongside the data-plane listeners.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/michael-pryor/MikeNet-sub001/internal/config"
	"github.com/michael-pryor/MikeNet-sub001/internal/instance"
	"github.com/michael-pryor/MikeNet-sub001/internal/logging"
	"github.com/michael-pryor/MikeNet-sub001/internal/metrics"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

// cliFlags holds parsed command-line flag values.
type cliFlags struct {
	configPath string
	host       string
	port       int
	maxClients int
	jsonLogs   bool
	debug      bool
}

func parseFlags() cliFlags {
	var f cliFlags
	flag.StringVar(&f.configPath, "config", "", "Path to YAML config file")
	flag.StringVar(&f.host, "host", "", "Override bind host")
	flag.IntVar(&f.port, "port", 0, "Override bind port")
	flag.IntVar(&f.maxClients, "max-clients", 1024, "Maximum concurrently connected clients")
	flag.BoolVar(&f.jsonLogs, "json-logs", false, "Force JSON structured logging")
	flag.BoolVar(&f.debug, "debug", false, "Enable debug logging")
	flag.Parse()
	return f
}

func applyCLIOverrides(cfg *config.ServerConfig, f cliFlags) {
	if f.host != "" {
		cfg.Host = f.host
	}
	if f.port != 0 {
		cfg.Port = f.port
	}
	if f.jsonLogs {
		cfg.Logging.Structured = true
		cfg.Logging.StructuredFormat = "json"
	}
	if f.debug {
		cfg.Logging.Level = "DEBUG"
	}
}

func run() error {
	flags := parseFlags()

	cfg, err := config.Load(flags.configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}
	applyCLIOverrides(cfg, flags)

	logger := logging.Configure(logging.Config{
		Level:            cfg.Logging.Level,
		Structured:       cfg.Logging.Structured,
		StructuredFormat: cfg.Logging.StructuredFormat,
		IncludePID:       cfg.Logging.IncludePID,
		ExtraFields:      cfg.Logging.ExtraFields,
		ServiceName:      "netcore",
	})
	logger.Info("netcore starting",
		"host", cfg.Host,
		"port", cfg.Port,
		"mode_tcp", cfg.Profile.ModeTCP,
		"mode_udp", cfg.Profile.ModeUDP,
		"udp_enabled", cfg.Profile.UDPEnabled,
		"reusable_tcp", cfg.Profile.ReusableTCP,
		"reusable_udp", cfg.Profile.ReusableUDP,
	)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	var reg *metrics.Registry
	if cfg.Metrics.Enabled {
		reg = metrics.NewRegistry("netcore")
		metricsAddr := net.JoinHostPort(cfg.Metrics.Host, strconv.Itoa(cfg.Metrics.Port))
		mux := http.NewServeMux()
		mux.Handle("/metrics", reg.Handler())
		metricsSrv := &http.Server{Addr: metricsAddr, Handler: mux}

		go func() {
			serveErr := metricsSrv.ListenAndServe()
			if serveErr == nil || errors.Is(serveErr, http.ErrServerClosed) {
				return
			}
			logger.Error("metrics server error", "err", serveErr)
		}()
		logger.Info("metrics listening", "addr", metricsAddr)

		go func() {
			<-ctx.Done()
			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer shutdownCancel()
			_ = metricsSrv.Shutdown(shutdownCtx)
		}()
	}

	srv := instance.NewServer(cfg.Profile, uint32(flags.maxClients), logger)
	if reg != nil {
		srv.SetMetrics(reg)
	}

	go logJoinLeaveEvents(ctx, srv, logger)
	if reg != nil {
		go sampleMetrics(ctx, srv, reg)
	}

	tcpAddr := net.JoinHostPort(cfg.Host, strconv.Itoa(cfg.Port))
	err = srv.Run(ctx, tcpAddr, tcpAddr)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	_ = srv.Close(shutdownCtx)
	shutdownCancel()
	logger.Info("netcore stopped")

	if err != nil && ctx.Err() == nil {
		return fmt.Errorf("server exited with error: %w", err)
	}
	return nil
}

// logJoinLeaveEvents drains the server's join/leave event queues and
// logs each one, until ctx is cancelled. This also keeps the queues
// from growing unbounded when nothing else polls them.
func logJoinLeaveEvents(ctx context.Context, srv *instance.Server, logger interface {
	Info(msg string, args ...any)
}) {
	ticker := time.NewTicker(50 * time.Millisecond)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			for {
				ev, ok := srv.PullJoined()
				if !ok {
					break
				}
				logger.Info("client joined", "client_id", ev.ClientID)
			}
			for {
				ev, ok := srv.PullLeft()
				if !ok {
					break
				}
				logger.Info("client left", "client_id", ev.ClientID)
			}
		}
	}
}

// sampleMetrics periodically pushes the instance-level gauges that have
// no natural increment-on-event hook into the Prometheus registry.
// Counters (packets sent/received/dropped, handshake outcomes) are
// instead wired directly into internal/instance via SetMetrics, since
// those need to fire exactly once per event, not on a sampling tick.
func sampleMetrics(ctx context.Context, srv *instance.Server, reg *metrics.Registry) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			reg.ConnectedClients.Set(float64(len(srv.ConnectedClientIDs())))
			reg.CompletionQueueLen.Set(float64(srv.QueueLen()))
		}
	}
}
