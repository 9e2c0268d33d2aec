package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/SpheneDev/SpheneServer/global/config"
	"github.com/SpheneDev/SpheneServer/logger"
	"github.com/SpheneDev/SpheneServer/module/ack"
	"github.com/SpheneDev/SpheneServer/module/sync"
	"github.com/SpheneDev/SpheneServer/module/sync/store"
	"github.com/SpheneDev/SpheneServer/service/admission"
	kafkadisp "github.com/SpheneDev/SpheneServer/service/dispatcher/kafka"
	"github.com/SpheneDev/SpheneServer/service/gateway"
	"github.com/SpheneDev/SpheneServer/service/notify"
	"github.com/SpheneDev/SpheneServer/service/storage"
	"github.com/SpheneDev/SpheneServer/tools/ids"
	"github.com/SpheneDev/SpheneServer/tools/safe"

	"github.com/nats-io/nats.go"
)

func main() {
	var (
		nacosAddr  = flag.String("nacos-addr", "", "nacos server address; empty keeps the built-in defaults")
		nacosPort  = flag.Uint64("nacos-port", 8848, "nacos server port")
		nacosData  = flag.String("nacos-data-id", "sphene-server", "nacos data id")
		nacosGroup = flag.String("nacos-group", "DEFAULT_GROUP", "nacos group")
		noKafka    = flag.Bool("no-kafka", false, "disable the file event dispatcher")
	)
	flag.Parse()

	if *nacosAddr != "" {
		stopWatcher := config.StartNacosWatcher(*nacosAddr, *nacosPort, *nacosData, *nacosGroup)
		defer stopWatcher()
	}
	cfg := config.Get()
	ids.SetNodeID(cfg.NodeID)

	ctx := context.Background()

	st, err := store.NewPgStore(ctx, cfg.Postgres.DSN)
	if err != nil {
		logger.Errorf("[main] postgres: %v", err)
		os.Exit(1)
	}
	defer st.Close()

	presence, err := storage.NewRedisPresence(storage.RedisConf{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	if err != nil {
		logger.Errorf("[main] redis: %v", err)
		os.Exit(1)
	}
	defer func() { _ = presence.Close() }()

	nc, err := nats.Connect(cfg.Nats.Servers[0],
		nats.MaxReconnects(-1),
		nats.DisconnectErrHandler(func(_ *nats.Conn, err error) {
			logger.Warnf("[main] nats disconnected: %v", err)
		}),
		nats.ReconnectHandler(func(c *nats.Conn) {
			logger.Infof("[main] nats reconnected to %s", c.ConnectedUrl())
		}),
	)
	if err != nil {
		logger.Errorf("[main] nats: %v", err)
		os.Exit(1)
	}
	defer nc.Close()
	notifier := notify.WrapConn(nc)

	var files sync.FileEvents = sync.NopFileEvents{}
	if !*noKafka {
		producer, err := kafkadisp.NewProducer(cfg.Kafka.Brokers)
		if err != nil {
			logger.Warnf("[main] kafka unavailable, file events disabled: %v", err)
		} else {
			defer producer.Close()
			files = producer
		}
	}

	tracker := ack.NewTracker(ack.Conf{
		Retention:  cfg.AckRetention(),
		SweepEvery: cfg.AckSweepEvery(),
	})
	defer tracker.Close()

	guard := admission.NewGuard(cfg, gateway.OpPing)
	defer guard.Close()

	svc := sync.NewService(st, presence, notifier, tracker, files)

	srv := gateway.NewServer(gateway.Deps{
		Store:    st,
		Service:  svc,
		Presence: presence,
		Guard:    guard,
		Nats:     nc,
	})
	defer srv.Close()

	safe.Go("gateway", func() {
		if err := srv.Run(); err != nil {
			logger.Errorf("[main] gateway: %v", err)
			os.Exit(1)
		}
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, syscall.SIGINT, syscall.SIGTERM)
	<-sig
	logger.Infof("[main] shutting down")
}
