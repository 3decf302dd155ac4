package main

import (
	"context"
	"fmt"
	"os"

	"github.com/joho/godotenv"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"

	"github.com/ariefcatur/wholesale-orders/internal/catalog"
	"github.com/ariefcatur/wholesale-orders/internal/config"
	"github.com/ariefcatur/wholesale-orders/internal/observability"
	"github.com/ariefcatur/wholesale-orders/internal/orders"
	"github.com/ariefcatur/wholesale-orders/internal/postgres"
)

func main() {
	app := &cli.App{
		Name:  "api",
		Usage: "wholesale order placement API",
		Before: func(*cli.Context) error {
			_ = godotenv.Load()
			return nil
		},
		DefaultCommand: "serve",
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "run the HTTP API",
				Action: serve,
			},
			{
				Name:      "migrate",
				Usage:     "apply database migrations",
				ArgsUsage: "[up|down]",
				Action:    migrate,
			},
			{
				Name:  "seed",
				Usage: "upsert products from a catalog file",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "file", Aliases: []string{"f"}, Usage: "catalog YAML", EnvVars: []string{"CATALOG_FILE"}},
				},
				Action: seed,
			},
		},
	}
	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, "api:", err)
		os.Exit(1)
	}
}

func bootstrap() (config.Config, *zap.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return cfg, nil, err
	}
	logger, err := observability.NewLogger(cfg.ServiceName, cfg.LogLevel)
	if err != nil {
		return cfg, nil, err
	}
	return cfg, logger, nil
}

func migrate(c *cli.Context) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	var down bool
	switch dir := c.Args().First(); dir {
	case "", "up":
	case "down":
		down = true
	default:
		return fmt.Errorf("unknown direction %q, want up or down", dir)
	}
	if err := postgres.Migrate(cfg.PostgresDSN, down); err != nil {
		return err
	}
	logger.Info("migrations applied", zap.Bool("down", down))
	return nil
}

func seed(c *cli.Context) error {
	cfg, logger, err := bootstrap()
	if err != nil {
		return err
	}
	defer logger.Sync()

	path := c.String("file")
	if path == "" {
		return fmt.Errorf("--file is required")
	}
	products, err := catalog.LoadFile(path)
	if err != nil {
		return err
	}

	ctx := c.Context
	pool, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolOptions{MaxConns: 2})
	if err != nil {
		return err
	}
	defer pool.Close()

	store := &postgres.Store{DB: pool, LockTimeout: cfg.LockTimeout}
	if err := store.UpsertProducts(ctx, products); err != nil {
		return err
	}
	logger.Info("catalog seeded", zap.String("file", path), zap.Int("products", len(products)))
	return nil
}

// openStore returns the order store for cfg.StoreDriver and a func releasing it.
func openStore(ctx context.Context, cfg config.Config, logger *zap.Logger) (orders.Store, func(), error) {
	if cfg.StoreDriver == config.StoreDriverMemory {
		products, err := catalog.LoadFile(cfg.CatalogFile)
		if err != nil {
			return nil, nil, err
		}
		logger.Warn("using in-memory store, orders are lost on restart", zap.Int("products", len(products)))
		return orders.NewMemoryStore(products...), func() {}, nil
	}

	pool, err := postgres.Connect(ctx, cfg.PostgresDSN, postgres.PoolOptions{MaxConns: cfg.PostgresMaxConns})
	if err != nil {
		return nil, nil, err
	}
	return &postgres.Store{DB: pool, LockTimeout: cfg.LockTimeout}, pool.Close, nil
}
