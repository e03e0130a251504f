// Command streamhub runs the pub/sub broker: publisher and subscriber HTTP
// endpoints over an in-memory channel store, with optional Postgres or Redis
// relays mirroring publishes between instances.
package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	_ "go.uber.org/automaxprocs"
	"golang.org/x/sync/errgroup"

	"github.com/dmitrymomot/streamhub/core/broker"
	"github.com/dmitrymomot/streamhub/core/config"
	"github.com/dmitrymomot/streamhub/core/delivery"
	"github.com/dmitrymomot/streamhub/core/logger"
	"github.com/dmitrymomot/streamhub/core/metrics"
	"github.com/dmitrymomot/streamhub/core/server"
	"github.com/dmitrymomot/streamhub/handler"
	"github.com/dmitrymomot/streamhub/integration/relay"
	pgrelay "github.com/dmitrymomot/streamhub/integration/relay/pg"
	redisrelay "github.com/dmitrymomot/streamhub/integration/relay/redis"
	"github.com/dmitrymomot/streamhub/middleware"
)

// relayConfig selects the cross-instance transport. Empty means none.
type relayConfig struct {
	Driver string `env:"RELAY_DRIVER" envDefault:""` // "", "pg" or "redis"
}

func main() {
	var logCfg logger.Config
	var brokerCfg broker.Config
	var deliveryCfg delivery.Config
	var serverCfg server.Config
	var relayCfg relayConfig
	config.MustLoad(&logCfg)
	config.MustLoad(&brokerCfg)
	config.MustLoad(&deliveryCfg)
	config.MustLoad(&serverCfg)
	config.MustLoad(&relayCfg)

	log := logger.New(logCfg)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var storeOpts []broker.Option
	storeOpts = append(storeOpts, broker.WithLogger(log.With(logger.Component("broker"))))

	rly, err := newRelay(ctx, relayCfg, log)
	if err != nil {
		log.Error("relay setup failed", logger.Error(err))
		os.Exit(1)
	}
	if rly != nil {
		storeOpts = append(storeOpts, broker.WithMirror(func(ctx context.Context, m *broker.Message) {
			env := relay.Envelope{
				Channel:   m.Channel,
				Body:      m.Body,
				EventID:   m.EventID,
				EventType: m.EventType,
			}
			if err := rly.Publish(ctx, env); err != nil {
				log.Warn("relay publish failed", logger.Channel(m.Channel), logger.Error(err))
			}
		}))
	}

	store := broker.New(brokerCfg, storeOpts...)
	sweeper := broker.NewSweeper(store, broker.WithSweeperLogger(log.With(logger.Component("sweeper"))))
	engine := delivery.New(store, deliveryCfg, delivery.WithLogger(log.With(logger.Component("delivery"))))
	gw := handler.New(store, engine, handler.WithLogger(log.With(logger.Component("handler"))))

	reg := prometheus.NewRegistry()
	reg.MustRegister(collectors.NewGoCollector())
	reg.MustRegister(collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}))
	if err := metrics.Register(reg, store); err != nil {
		log.Error("metrics registration failed", logger.Error(err))
		os.Exit(1)
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/pub", gw.Publisher())
	mux.HandleFunc("/sub/", gw.Subscribe(delivery.ModeStreaming, "/sub/"))
	mux.HandleFunc("/lp/", gw.Subscribe(delivery.ModeLongPolling, "/lp/"))
	mux.HandleFunc("/poll/", gw.Subscribe(delivery.ModePolling, "/poll/"))
	mux.HandleFunc("/ev/", gw.Subscribe(delivery.ModeEventSource, "/ev/"))
	mux.HandleFunc("/ws/", gw.Subscribe(delivery.ModeWebSocket, "/ws/"))
	mux.HandleFunc("/channels-stats", gw.ChannelsStats())
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json; charset=utf-8")
		_, _ = w.Write([]byte(`{"status":"ok"}`))
	})

	chain := middleware.RequestID()(middleware.LoggingWithConfig(middleware.LoggingConfig{
		Logger:   log.With(logger.Component("http")),
		LogLevel: slog.LevelDebug,
		Skip: func(r *http.Request) bool {
			return r.URL.Path == "/metrics" || r.URL.Path == "/healthz"
		},
	})(mux))

	srv, err := server.NewFromConfig(serverCfg, server.WithLogger(log.With(logger.Component("server"))))
	if err != nil {
		log.Error("server setup failed", logger.Error(err))
		os.Exit(1)
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.Run(ctx, chain)
	})
	g.Go(func() error {
		return sweeper.Run(ctx)
	})
	if rly != nil {
		g.Go(func() error {
			return rly.Listen(ctx, func(_ context.Context, env relay.Envelope) {
				if _, _, err := store.PublishForwarded(env.Channel, env.Body, env.EventID, env.EventType); err != nil {
					log.Warn("forwarded publish rejected", logger.Channel(env.Channel), logger.Error(err))
				}
			})
		})
		g.Go(func() error {
			<-ctx.Done()
			return rly.Close(context.Background())
		})
	}
	g.Go(func() error {
		return reloadOnSIGHUP(ctx, store, log)
	})

	log.Info("streamhub started",
		slog.String("addr", serverCfg.Addr),
		slog.String("relay", relayDriverName(relayCfg.Driver)),
		slog.String("instance_id", store.Instance().String()))

	if err := g.Wait(); err != nil {
		log.Error("streamhub terminated", logger.Error(err))
		os.Exit(1)
	}
	log.Info("streamhub stopped")
}

// newRelay constructs the configured relay transport, or nil when none is
// configured.
func newRelay(ctx context.Context, cfg relayConfig, log *slog.Logger) (relay.Relay, error) {
	switch cfg.Driver {
	case "":
		return nil, nil
	case "pg":
		var pgCfg pgrelay.Config
		config.MustLoad(&pgCfg)
		return pgrelay.New(ctx, pgCfg, relayOrigin(), pgrelay.WithLogger(log.With(logger.Component("relay"))))
	case "redis":
		var rdCfg redisrelay.Config
		config.MustLoad(&rdCfg)
		return redisrelay.New(ctx, rdCfg, relayOrigin(), redisrelay.WithLogger(log.With(logger.Component("relay"))))
	default:
		return nil, &unknownDriverError{driver: cfg.Driver}
	}
}

type unknownDriverError struct{ driver string }

func (e *unknownDriverError) Error() string {
	return "unknown relay driver: " + e.driver
}

func relayDriverName(driver string) string {
	if driver == "" {
		return "none"
	}
	return driver
}

// relayOrigin returns a stable per-process identifier used to filter this
// instance's own envelopes off the relay.
var relayOrigin = sync.OnceValue(func() string {
	return uuid.New().String()
})

// reloadOnSIGHUP re-reads the broker configuration from the environment and
// applies it to the store. Arena resizes are rejected by the store while it
// holds live data; everything else takes effect on the next operation.
func reloadOnSIGHUP(ctx context.Context, store *broker.Store, log *slog.Logger) error {
	hup := make(chan os.Signal, 1)
	signal.Notify(hup, syscall.SIGHUP)
	defer signal.Stop(hup)

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-hup:
			var cfg broker.Config
			if err := config.Reload(&cfg); err != nil {
				log.Error("configuration reload failed, keeping previous", logger.Error(err))
				continue
			}
			store.Reload(cfg)
			log.Info("configuration reloaded")
		}
	}
}
