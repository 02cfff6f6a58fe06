package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/oarkflow/retail/pkg/adapters/csvadapter"
	"github.com/oarkflow/retail/pkg/adapters/nosqladapter"
	"github.com/oarkflow/retail/pkg/config"
	"github.com/oarkflow/retail/pkg/normalize"
	"github.com/oarkflow/retail/pkg/pipeline"
	"github.com/oarkflow/retail/pkg/validate"
)

func main() {
	app := &cli.App{
		Name:  "retail-etl",
		Usage: "Clean, normalize and load retail sales data",
		Commands: []*cli.Command{
			{
				Name:  "run",
				Usage: "Run the full pipeline: clean, normalize, load, validate",
				Flags: []cli.Flag{
					configFlag(),
					&cli.BoolFlag{
						Name:  "denormalize-mongo",
						Usage: "Also load the embedded-document collection into MongoDB",
					},
					&cli.BoolFlag{
						Name:  "skip-load",
						Usage: "Write CSV artifacts but load no store",
					},
					&cli.BoolFlag{
						Name:  "skip-cleaning",
						Usage: "Start from the previously exported clean CSV",
					},
					&cli.BoolFlag{
						Name:  "dry-run",
						Usage: "Run in memory only: no files written, no store touched",
					},
				},
				Action: runPipeline,
			},
			{
				Name:  "clean",
				Usage: "Run reconciliation only and write the clean CSV plus audit reports",
				Flags: []cli.Flag{
					configFlag(),
				},
				Action: runClean,
			},
			{
				Name:  "validate",
				Usage: "Validate already loaded stores against the clean CSV",
				Flags: []cli.Flag{
					configFlag(),
				},
				Action: runValidate,
			},
			{
				Name:  "export",
				Usage: "Dump every MongoDB collection to JSON files",
				Flags: []cli.Flag{
					configFlag(),
					&cli.StringFlag{
						Name:  "out",
						Value: "mongo_export",
						Usage: "Directory to write the JSON dumps into",
					},
				},
				Action: runExport,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func configFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "file",
		Aliases:  []string{"f"},
		Usage:    "Path to the YAML configuration file",
		Required: true,
	}
}

// signalContext returns a context cancelled on SIGINT or SIGTERM.
func signalContext() (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	go func() {
		sig := <-sigChan
		fmt.Printf("Received signal: %v. Shutting down...\n", sig)
		cancel()
	}()
	return ctx, cancel
}

func runPipeline(c *cli.Context) error {
	cfg, err := config.Load(c.String("file"))
	if err != nil {
		return fmt.Errorf("error loading config: %v", err)
	}
	if c.Bool("denormalize-mongo") {
		cfg.DenormalizeMongo = true
	}

	ctx, cancel := signalContext()
	defer cancel()

	p, err := pipeline.New(cfg,
		pipeline.WithDryRun(c.Bool("dry-run")),
		pipeline.WithSkipLoad(c.Bool("skip-load")),
		pipeline.WithSkipCleaning(c.Bool("skip-cleaning")),
	)
	if err != nil {
		return err
	}
	summary, err := p.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Run %s finished: %d input rows, %d clean, %d dropped\n",
		summary.RunID, summary.InputRows, summary.CleanRows, summary.DroppedRows)
	return nil
}

func runClean(c *cli.Context) error {
	cfg, err := config.Load(c.String("file"))
	if err != nil {
		return fmt.Errorf("error loading config: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	p, err := pipeline.New(cfg, pipeline.WithSkipLoad(true))
	if err != nil {
		return err
	}
	summary, err := p.Run(ctx)
	if err != nil {
		return err
	}
	fmt.Printf("Cleaned %d rows: %d kept, %d dropped, %d fields recovered; normalized tables in %s\n",
		summary.InputRows, summary.CleanRows, summary.DroppedRows, summary.RecoveryEvents, cfg.NormalizedDir)
	return nil
}

func runValidate(c *cli.Context) error {
	cfg, err := config.Load(c.String("file"))
	if err != nil {
		return fmt.Errorf("error loading config: %v", err)
	}

	ctx, cancel := signalContext()
	defer cancel()

	clean, err := csvadapter.LoadClean(cfg.CleanCSV)
	if err != nil {
		return fmt.Errorf("load clean CSV: %v", err)
	}
	var opts []normalize.Option
	if cfg.KeyStore != "" {
		keyStore, err := normalize.NewFileKeyStore(cfg.KeyStore)
		if err != nil {
			return err
		}
		opts = append(opts, normalize.WithKeyStore(keyStore))
	}
	ds, err := normalize.Normalize(clean, opts...)
	if err != nil {
		return err
	}

	p, err := pipeline.New(cfg)
	if err != nil {
		return err
	}
	stores, cleanup, err := p.OpenStores(ctx)
	if err != nil {
		cleanup()
		return err
	}
	defer cleanup()
	if len(stores) == 0 {
		return fmt.Errorf("no store is configured")
	}

	rep, err := validate.New(ds, stores, cfg.SampleSize).Run(ctx)
	if err != nil {
		return err
	}
	for _, check := range rep.Checks {
		status := "PASS"
		if !check.Passed {
			status = "FAIL"
		}
		fmt.Printf("%-4s %-10s %-30s %s\n", status, check.Store, check.Name, check.Detail)
	}
	if !rep.Passed() {
		return fmt.Errorf("validation failed: %d checks did not pass", len(rep.Failures()))
	}
	fmt.Printf("All %d checks passed\n", len(rep.Checks))
	return nil
}

func runExport(c *cli.Context) error {
	cfg, err := config.Load(c.String("file"))
	if err != nil {
		return fmt.Errorf("error loading config: %v", err)
	}
	if cfg.Mongo.Database == "" {
		return fmt.Errorf("mongo database is not configured")
	}

	ctx, cancel := signalContext()
	defer cancel()

	loader := nosqladapter.NewLoader(cfg.MongoURI(), cfg.Mongo.Database)
	if err := loader.Setup(ctx); err != nil {
		return fmt.Errorf("connect to MongoDB: %v", err)
	}
	defer loader.Close()

	dir := c.String("out")
	if err := loader.ExportCollections(ctx, dir); err != nil {
		return err
	}
	fmt.Printf("Collections exported to %s\n", dir)
	return nil
}
