// roadsense — road-surface telemetry hub.
// Ingests processed agent data over HTTP and MQTT, flushes fixed-size batches
// to SQLite and the bus, and fans records out to live websocket subscribers.
package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"

	"github.com/roadsense/roadsense/internal/api"
	"github.com/roadsense/roadsense/internal/domain/telemetry"
	"github.com/roadsense/roadsense/internal/infra/config"
	"github.com/roadsense/roadsense/internal/infra/metrics"
	"github.com/roadsense/roadsense/internal/infra/sqlite"
	"github.com/roadsense/roadsense/internal/mqtt"
	"github.com/roadsense/roadsense/internal/pipeline"
	"github.com/roadsense/roadsense/internal/server"
	"github.com/roadsense/roadsense/internal/version"
	"github.com/roadsense/roadsense/internal/ws"
)

func main() {
	os.Exit(run(os.Args[1:], os.Stdout))
}

func run(args []string, out io.Writer) int {
	fs := flag.NewFlagSet("roadsense", flag.ContinueOnError)
	fs.SetOutput(io.Discard)

	showVersion := fs.Bool("version", false, "Show version information")
	showHelp := fs.Bool("help", false, "Show help")

	if err := fs.Parse(args); err != nil {
		return 2
	}

	if *showVersion {
		fmt.Fprintln(out, version.String()) //nolint:errcheck
		return 0
	}
	if *showHelp {
		printHelp(out)
		return 0
	}

	if err := serve(); err != nil {
		fmt.Fprintf(out, "roadsense: %v\n", err) //nolint:errcheck
		return 1
	}
	return 0
}

func serve() error {
	cfg := config.Load()

	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})

	db, err := sqlite.NewDB(cfg.DBPath)
	if err != nil {
		return err
	}
	defer db.Close()
	if err := sqlite.MigrateUp(db); err != nil {
		return err
	}

	registry := prometheus.NewRegistry()
	m := metrics.New(registry)

	store := telemetry.NewStore(db)
	fanout := ws.NewRegistry(log, m)

	bus, err := mqtt.Dial(mqtt.Config{
		BrokerHost: cfg.MQTTBrokerHost,
		BrokerPort: cfg.MQTTBrokerPort,
		ClientID:   cfg.MQTTClientID,
		Topic:      cfg.MQTTTopic,
		BatchTopic: cfg.MQTTBatchTopic,
	}, log)
	if err != nil {
		return err
	}
	defer bus.Close()

	coord := pipeline.NewCoordinator(pipeline.Config{
		BatchSize:    cfg.BatchSize,
		FlushTimeout: cfg.FlushTimeout,
	}, store, bus, fanout, log, m)

	busIngress := mqtt.NewIngress(coord, log, m)
	if err := bus.SubscribeRecords(busIngress.HandleMessage); err != nil {
		return err
	}

	router := api.NewRouter(api.Deps{
		Store:       store,
		Coordinator: coord,
		Registry:    fanout,
		Log:         log,
		Metrics:     m,
		MetricsHandler: promhttp.HandlerFor(registry, promhttp.HandlerOpts{
			Registry: registry,
		}),
	})

	srvConfig := server.DefaultConfig()
	srvConfig.Host = cfg.HTTPHost
	srvConfig.Port = cfg.HTTPPort
	srv := server.NewServer(router, srvConfig)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		log.WithField("addr", srv.Addr()).Info("starting HTTP server")
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return err
		}

		if dropped := coord.DropPending(); dropped > 0 {
			log.WithField("dropped", dropped).Warn("discarded buffered records on shutdown")
		}
		return nil
	})

	return g.Wait()
}

func printHelp(out io.Writer) {
	helpText := `roadsense - road-surface telemetry hub

Usage:
  roadsense [options]

Options:
  --version    Show version information
  --help       Show this help message

With no options the service starts: it listens for processed agent data on
HTTP and MQTT, batches records, persists them, republishes batches on the
bus, and streams per-user records over /ws/{userID}.

Configuration is environment-based; see internal/infra/config.`
	fmt.Fprintln(out, helpText) //nolint:errcheck
}
