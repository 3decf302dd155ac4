package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/ariefcatur/wholesale-orders/internal/httpx"
	kafkax "github.com/ariefcatur/wholesale-orders/internal/kafka"
	"github.com/ariefcatur/wholesale-orders/internal/observability"
	"github.com/ariefcatur/wholesale-orders/internal/orders"
	"github.com/ariefcatur/wholesale-orders/internal/redisx"
)

func serve(c *cli.Context) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	ctx, stop := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
	defer stop()

	shutdownTracing, err := observability.InitTracing(ctx, cfg.ServiceName, cfg.OTLPEndpoint)
	if err != nil {
		return err
	}

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer closeStore()

	// Redis
	rdb := redisx.New(cfg.RedisAddr)
	defer rdb.Close()
	if err := redisx.Ping(ctx, rdb); err != nil {
		logger.Warn("redis unavailable, read cache and idempotency degrade", zap.Error(err))
	}

	// Kafka producer
	prod := kafkax.NewProducer(cfg.KafkaBrokers, 1024, logger.Named("kafka"))
	prod.Start()

	svc := orders.NewService(store, kafkax.NewEventSink(prod, logger.Named("kafka")), logger.Named("orders"), cfg.ServiceName)
	router := httpx.NewRouter(logger.Named("http"), cfg.RequestTimeout+time.Second)
	oh := &httpx.OrdersHandler{
		Orders:  svc,
		Cache:   redisx.NewCache(rdb),
		Logger:  logger.Named("http"),
		Timeout: cfg.RequestTimeout,
	}
	oh.Register(router)

	srv := &http.Server{
		Addr:              cfg.HTTPAddr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http listening", zap.String("addr", cfg.HTTPAddr), zap.String("store", cfg.StoreDriver))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return errors.Wrap(err, "listen")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down")
		sctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		err := srv.Shutdown(sctx)
		prod.Close()
		prod.WaitClosed()
		if terr := shutdownTracing(sctx); terr != nil {
			logger.Warn("tracing shutdown", zap.Error(terr))
		}
		return errors.Wrap(err, "http shutdown")
	})
	return g.Wait()
}
