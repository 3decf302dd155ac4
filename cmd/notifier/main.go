package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/wholesale-orders/internal/config"
	kafkax "github.com/ariefcatur/wholesale-orders/internal/kafka"
	"github.com/ariefcatur/wholesale-orders/internal/notify"
	"github.com/ariefcatur/wholesale-orders/internal/observability"
	"github.com/ariefcatur/wholesale-orders/internal/orders"
	"github.com/ariefcatur/wholesale-orders/internal/redisx"
)

func main() {
	app := &cli.App{
		Name:  "notifier",
		Usage: "order events to the staff activity feed",
		Before: func(*cli.Context) error {
			_ = godotenv.Load()
			return nil
		},
		DefaultCommand: "run",
		Commands: []*cli.Command{
			{Name: "run", Usage: "consume order events", Action: run},
			{
				Name:  "tail",
				Usage: "print the most recent feed entries",
				Flags: []cli.Flag{
					&cli.Int64Flag{Name: "n", Value: 20, Usage: "number of entries"},
				},
				Action: tail,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "notifier:", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	name := cfg.ServiceName + "-notifier"
	logger, err := observability.NewLogger(name, cfg.LogLevel)
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, name, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}
	defer func() { _ = shutdownTracing(c.Context) }()

	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		return err
	}

	svc := notify.NewService(
		redisx.NewStaffFeed(rdb, cfg.NotifierGroup, cfg.StaffFeedSize),
		redisx.NewCache(rdb),
		logger.Named("notify"),
	)
	cons := kafkax.NewConsumer(cfg.KafkaBrokers, cfg.NotifierGroup, orders.AllTopics, cfg.NotifierWorkers, logger.Named("kafka"))

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("notifier consuming",
			zap.String("group", cfg.NotifierGroup),
			zap.Strings("topics", orders.AllTopics),
			zap.Int("workers", cfg.NotifierWorkers),
		)
		return cons.Start(gctx, svc.HandleMessage)
	})
	err = g.Wait()
	logger.Info("notifier stopped", zap.Error(err))
	return err
}

func tail(c *cli.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return err
	}
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()

	entries, err := redisx.NewStaffFeed(rdb, cfg.NotifierGroup, cfg.StaffFeedSize).Recent(c.Context, c.Int64("n"))
	if err != nil {
		return err
	}
	for _, e := range entries {
		fmt.Fprintln(c.App.Writer, e)
	}
	return nil
}
