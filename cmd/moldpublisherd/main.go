package main

import (
	"context"
	"flag"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"moldudp64/internal/logutil"
	"moldudp64/pkg/config"
	"moldudp64/pkg/metrics"
	"moldudp64/pkg/registry"
	"moldudp64/pkg/tracing"
)

func main() {
	configPath := flag.String("config", "config.yaml", "path to YAML stream configuration")
	metricsAddr := flag.String("metrics-addr", "", "address to serve Prometheus metrics on (empty disables)")
	enableTracing := flag.Bool("tracing", false, "export spans to stdout via OpenTelemetry")
	flag.Parse()

	logger := log.New(os.Stderr, "", log.LstdFlags)

	cfg, err := config.Load(*configPath)
	if err != nil {
		logger.Fatalf("load config %s: %v", *configPath, err)
	}

	shutdownTracing, err := tracing.Setup(*enableTracing)
	if err != nil {
		logger.Fatalf("tracing setup: %v", err)
	}
	metrics.Register()

	ctx, cancel := signalContext()
	defer cancel()

	if *metricsAddr != "" {
		go serveMetrics(logger, *metricsAddr)
	}

	reg := registry.New(logger)
	for _, sc := range cfg.Streams {
		if err := reg.CreateStream(sc); err != nil {
			logger.Fatalf("create stream %s: %v", sc.Name, err)
		}
		logutil.Infof(logger, "stream %s: publisher on %s:%d, recovery on port %d",
			sc.Name, sc.MulticastGroup, sc.MulticastPort, sc.RecoveryPort)
	}

	logutil.Infof(logger, "moldpublisherd running with %d stream(s); press Ctrl+C to exit", len(cfg.Streams))
	<-ctx.Done()

	logutil.Infof(logger, "shutting down")
	if err := reg.CloseAll(); err != nil {
		logger.Printf("shutdown: %v", err)
	}
	if err := shutdownTracing(context.Background()); err != nil {
		logger.Printf("tracing shutdown: %v", err)
	}
}

func serveMetrics(logger *log.Logger, addr string) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	if err := http.ListenAndServe(addr, mux); err != nil {
		logutil.Errorf(logger, "metrics server on %s failed: %v", addr, err)
	}
}

func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		ch := make(chan os.Signal, 1)
		signal.Notify(ch, syscall.SIGINT, syscall.SIGTERM)
		<-ch
		cancel()
	}()
	return ctx, cancel
}
