package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/oarkflow/log"
	"github.com/oarkflow/xid"

	"github.com/oarkflow/retail/pkg/adapters/csvadapter"
	"github.com/oarkflow/retail/pkg/adapters/nosqladapter"
	"github.com/oarkflow/retail/pkg/adapters/sqladapter"
	"github.com/oarkflow/retail/pkg/config"
	"github.com/oarkflow/retail/pkg/models"
	"github.com/oarkflow/retail/pkg/normalize"
	"github.com/oarkflow/retail/pkg/reconcile"
	"github.com/oarkflow/retail/pkg/report"
	"github.com/oarkflow/retail/pkg/validate"
)

// RelationalStore is the pipeline's view of a SQL destination.
type RelationalStore interface {
	validate.Store
	Setup(ctx context.Context) error
	Load(ctx context.Context, ds *models.Dataset, batchSize int) error
	Close() error
}

// DocumentStore is the pipeline's view of a document destination.
type DocumentStore interface {
	validate.Store
	Setup(ctx context.Context) error
	LoadNormalized(ctx context.Context, ds *models.Dataset, batchSize int) error
	LoadDenormalized(ctx context.Context, ds *models.Dataset, batchSize int) error
	Close() error
}

// LifecycleHooks let callers observe stage boundaries.
type LifecycleHooks struct {
	AfterClean     func(ctx context.Context, res reconcile.Result) error
	AfterNormalize func(ctx context.Context, ds *models.Dataset) error
	BeforeLoad     func(ctx context.Context, store string) error
	AfterLoad      func(ctx context.Context, store string) error
	AfterValidate  func(ctx context.Context, rep *validate.Report) error
}

// Pipeline runs the full flow: clean, normalize, export, load,
// validate, report.
type Pipeline struct {
	cfg          *config.Config
	logger       *log.Logger
	hooks        *LifecycleHooks
	sqlStore     RelationalStore
	docStore     DocumentStore
	dryRun       bool
	skipLoad     bool
	skipCleaning bool
}

type Option func(*Pipeline) error

// WithLogger replaces the default logger.
func WithLogger(logger *log.Logger) Option {
	return func(p *Pipeline) error {
		p.logger = logger
		return nil
	}
}

// WithLifecycleHooks registers stage callbacks.
func WithLifecycleHooks(hooks *LifecycleHooks) Option {
	return func(p *Pipeline) error {
		p.hooks = hooks
		return nil
	}
}

// WithRelationalStore injects a SQL destination, replacing the one
// built from config.
func WithRelationalStore(store RelationalStore) Option {
	return func(p *Pipeline) error {
		p.sqlStore = store
		return nil
	}
}

// WithDocumentStore injects a document destination, replacing the one
// built from config.
func WithDocumentStore(store DocumentStore) Option {
	return func(p *Pipeline) error {
		p.docStore = store
		return nil
	}
}

// WithDryRun runs the in-memory stages only: no files are written and
// no store is touched.
func WithDryRun(dryRun bool) Option {
	return func(p *Pipeline) error {
		p.dryRun = dryRun
		return nil
	}
}

// WithSkipLoad writes the CSV artifacts but loads no store.
func WithSkipLoad(skip bool) Option {
	return func(p *Pipeline) error {
		p.skipLoad = skip
		return nil
	}
}

// WithSkipCleaning starts from a previously exported clean CSV
// instead of the raw source.
func WithSkipCleaning(skip bool) Option {
	return func(p *Pipeline) error {
		p.skipCleaning = skip
		return nil
	}
}

// WithBatchSize overrides the configured insert batch size.
func WithBatchSize(n int) Option {
	return func(p *Pipeline) error {
		if n <= 0 {
			return fmt.Errorf("batch size must be positive, got %d", n)
		}
		p.cfg.BatchSize = n
		return nil
	}
}

// WithDenormalizedMongo toggles the denormalized Mongo collection and
// its CSV export, overriding the configured value.
func WithDenormalizedMongo(enabled bool) Option {
	return func(p *Pipeline) error {
		p.cfg.DenormalizeMongo = enabled
		return nil
	}
}

// WithKeyStore overrides the configured surrogate key store path.
func WithKeyStore(path string) Option {
	return func(p *Pipeline) error {
		p.cfg.KeyStore = path
		return nil
	}
}

func New(cfg *config.Config, opts ...Option) (*Pipeline, error) {
	p := &Pipeline{
		cfg:    cfg,
		logger: &log.DefaultLogger,
	}
	for _, opt := range opts {
		if err := opt(p); err != nil {
			return nil, err
		}
	}
	return p, nil
}

// Run executes the pipeline end to end and returns the run summary.
// A failed validation is an error: a run that loaded inconsistent
// stores must not look successful.
func (p *Pipeline) Run(ctx context.Context) (*report.RunSummary, error) {
	runID := xid.New().String()
	summary := &report.RunSummary{
		RunID:           runID,
		StartedAt:       time.Now(),
		SourceFile:      p.cfg.SourceCSV,
		DroppedByReason: make(map[string]int),
	}
	p.logger.Info().Str("run_id", runID).Str("source", p.cfg.SourceCSV).Msg("pipeline started")

	clean, err := p.cleanStage(ctx, summary)
	if err != nil {
		return summary, err
	}

	ds, err := p.normalizeStage(ctx, clean, summary)
	if err != nil {
		return summary, err
	}

	if !p.dryRun {
		if err := p.exportStage(ds); err != nil {
			return summary, err
		}
	}

	stores, cleanup, err := p.loadStage(ctx, ds)
	if err != nil {
		cleanup()
		return summary, err
	}

	if len(stores) > 0 {
		rep, err := validate.New(ds, stores, p.cfg.SampleSize).Run(ctx)
		if err != nil {
			cleanup()
			return summary, fmt.Errorf("validation: %w", err)
		}
		passed := rep.Passed()
		summary.ValidationPassed = &passed
		summary.ValidationChecks = rep.Checks
		if p.hooks != nil && p.hooks.AfterValidate != nil {
			if err := p.hooks.AfterValidate(ctx, rep); err != nil {
				cleanup()
				return summary, err
			}
		}
		if !passed {
			for _, f := range rep.Failures() {
				p.logger.Error().Str("store", f.Store).Str("check", f.Name).Str("detail", f.Detail).Msg("validation check failed")
			}
			cleanup()
			p.finish(summary)
			return summary, fmt.Errorf("validation failed: %d checks did not pass", len(rep.Failures()))
		}
		p.logger.Info().Int("checks", len(rep.Checks)).Msg("validation passed")
	}
	cleanup()

	p.finish(summary)
	return summary, nil
}

func (p *Pipeline) finish(summary *report.RunSummary) {
	summary.FinishedAt = time.Now()
	if !p.dryRun {
		writer := report.NewWriter(p.cfg.ReportDir)
		if err := writer.WriteSummary(summary); err != nil {
			p.logger.Error().Err(err).Msg("failed to write run summary")
		}
		if err := writer.WriteCleaningLog(summary); err != nil {
			p.logger.Error().Err(err).Msg("failed to write cleaning log")
		}
	}
	p.logger.Info().
		Str("run_id", summary.RunID).
		Int("clean", summary.CleanRows).
		Int("dropped", summary.DroppedRows).
		Msg("pipeline finished")
}

func (p *Pipeline) cleanStage(ctx context.Context, summary *report.RunSummary) ([]models.CleanTransaction, error) {
	if p.skipCleaning {
		clean, err := csvadapter.LoadClean(p.cfg.CleanCSV)
		if err != nil {
			return nil, fmt.Errorf("load clean CSV: %w", err)
		}
		summary.InputRows = len(clean)
		summary.CleanRows = len(clean)
		p.logger.Info().Int("rows", len(clean)).Str("file", p.cfg.CleanCSV).Msg("cleaning skipped, clean CSV loaded")
		return clean, nil
	}

	source := csvadapter.NewSource(p.cfg.SourceCSV)
	if err := source.Setup(ctx); err != nil {
		return nil, fmt.Errorf("source CSV: %w", err)
	}
	rows, err := source.LoadAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("read source CSV: %w", err)
	}
	summary.InputRows = len(rows)

	var menu *reconcile.PriceMenu
	if p.cfg.PriceMenuCSV != "" {
		menu, err = csvadapter.LoadPriceMenu(p.cfg.PriceMenuCSV)
		if err != nil {
			return nil, fmt.Errorf("price menu: %w", err)
		}
		p.logger.Info().Int("entries", menu.Len()).Msg("price menu loaded")
	}

	res := reconcile.Reconcile(rows, menu)
	if got := len(res.Clean) + len(res.Dropped); got != len(rows) {
		return nil, fmt.Errorf("row conservation broken: %d in, %d out", len(rows), got)
	}
	summary.CleanRows = len(res.Clean)
	summary.DroppedRows = len(res.Dropped)
	for _, d := range res.Dropped {
		summary.DroppedByReason[string(d.Reason)]++
	}
	summary.RecoveryEvents = len(res.Recovered)
	summary.FieldWarnings = len(res.Warnings)
	p.logger.Info().
		Int("input", len(rows)).
		Int("clean", len(res.Clean)).
		Int("dropped", len(res.Dropped)).
		Int("recovered_fields", len(res.Recovered)).
		Msg("reconciliation done")

	if p.hooks != nil && p.hooks.AfterClean != nil {
		if err := p.hooks.AfterClean(ctx, res); err != nil {
			return nil, err
		}
	}

	if !p.dryRun {
		writer := report.NewWriter(p.cfg.ReportDir)
		if err := writer.WriteDropped(res.Dropped); err != nil {
			return nil, err
		}
		if err := writer.WriteRecoveries(res.Recovered); err != nil {
			return nil, err
		}
		if err := writer.WriteWarnings(res.Warnings); err != nil {
			return nil, err
		}
		if err := csvadapter.ExportClean(p.cfg.CleanCSV, res.Clean); err != nil {
			return nil, fmt.Errorf("export clean CSV: %w", err)
		}
	}
	return res.Clean, nil
}

func (p *Pipeline) normalizeStage(ctx context.Context, clean []models.CleanTransaction, summary *report.RunSummary) (*models.Dataset, error) {
	var opts []normalize.Option
	var keyStore *normalize.FileKeyStore
	if p.cfg.KeyStore != "" && !p.dryRun {
		var err error
		keyStore, err = normalize.NewFileKeyStore(p.cfg.KeyStore)
		if err != nil {
			return nil, fmt.Errorf("open key store: %w", err)
		}
		opts = append(opts, normalize.WithKeyStore(keyStore))
	}

	ds, err := normalize.Normalize(clean, opts...)
	if err != nil {
		return nil, fmt.Errorf("normalize: %w", err)
	}
	if keyStore != nil {
		if err := keyStore.Save(); err != nil {
			return nil, fmt.Errorf("save key store: %w", err)
		}
	}

	summary.TableCounts = ds.Counts()
	summary.TotalRevenue = ds.TotalRevenue()
	summary.TotalQuantity = ds.TotalQuantity()
	p.logger.Info().
		Int64("items", summary.TableCounts["items"]).
		Int64("transactions", summary.TableCounts["transactions"]).
		Msg("normalization done")

	if p.hooks != nil && p.hooks.AfterNormalize != nil {
		if err := p.hooks.AfterNormalize(ctx, ds); err != nil {
			return nil, err
		}
	}
	return ds, nil
}

func (p *Pipeline) exportStage(ds *models.Dataset) error {
	if err := csvadapter.ExportDataset(p.cfg.NormalizedDir, ds); err != nil {
		return fmt.Errorf("export normalized tables: %w", err)
	}
	if p.cfg.DenormalizeMongo {
		if err := csvadapter.ExportDenormalized(p.cfg.NormalizedDir, ds); err != nil {
			return fmt.Errorf("export denormalized view: %w", err)
		}
	}
	p.logger.Info().Str("dir", p.cfg.NormalizedDir).Msg("normalized tables exported")
	return nil
}

// openStores opens and prepares every enabled store. The returned
// cleanup closes whatever was opened; callers run it exactly once.
func (p *Pipeline) openStores(ctx context.Context) (RelationalStore, DocumentStore, func(), error) {
	var closers []func() error
	cleanup := func() {
		for _, c := range closers {
			if err := c(); err != nil {
				p.logger.Error().Err(err).Msg("store close failed")
			}
		}
	}

	sqlStore := p.sqlStore
	if sqlStore == nil && !p.cfg.MySQL.Disable && p.cfg.MySQL.Database != "" {
		db, err := config.OpenDB(p.cfg.MySQL)
		if err != nil {
			return nil, nil, cleanup, err
		}
		sqlStore = sqladapter.NewLoader(db, p.cfg.MySQL.Driver, p.cfg.Truncate)
	}
	if sqlStore != nil {
		closers = append(closers, sqlStore.Close)
		if err := sqlStore.Setup(ctx); err != nil {
			return nil, nil, cleanup, fmt.Errorf("setup %s: %w", sqlStore.Name(), err)
		}
	}

	docStore := p.docStore
	if docStore == nil && !p.cfg.Mongo.Disable && p.cfg.Mongo.Database != "" {
		docStore = nosqladapter.NewLoader(p.cfg.MongoURI(), p.cfg.Mongo.Database)
	}
	if docStore != nil {
		closers = append(closers, docStore.Close)
		if err := docStore.Setup(ctx); err != nil {
			return nil, nil, cleanup, fmt.Errorf("setup %s: %w", docStore.Name(), err)
		}
	}

	return sqlStore, docStore, cleanup, nil
}

// OpenStores opens every enabled store without loading anything, for
// standalone validation of already loaded data.
func (p *Pipeline) OpenStores(ctx context.Context) ([]validate.Store, func(), error) {
	sqlStore, docStore, cleanup, err := p.openStores(ctx)
	if err != nil {
		return nil, cleanup, err
	}
	var stores []validate.Store
	if sqlStore != nil {
		stores = append(stores, sqlStore)
	}
	if docStore != nil {
		stores = append(stores, docStore)
	}
	return stores, cleanup, nil
}

func (p *Pipeline) loadStage(ctx context.Context, ds *models.Dataset) ([]validate.Store, func(), error) {
	if p.dryRun || p.skipLoad {
		return nil, func() {}, nil
	}

	sqlStore, docStore, cleanup, err := p.openStores(ctx)
	if err != nil {
		return nil, cleanup, err
	}

	var stores []validate.Store
	if sqlStore != nil {
		if p.hooks != nil && p.hooks.BeforeLoad != nil {
			if err := p.hooks.BeforeLoad(ctx, sqlStore.Name()); err != nil {
				return nil, cleanup, err
			}
		}
		if err := sqlStore.Load(ctx, ds, p.cfg.BatchSize); err != nil {
			return nil, cleanup, fmt.Errorf("load %s: %w", sqlStore.Name(), err)
		}
		stores = append(stores, sqlStore)
		p.logger.Info().Str("store", sqlStore.Name()).Msg("relational load done")
		if p.hooks != nil && p.hooks.AfterLoad != nil {
			if err := p.hooks.AfterLoad(ctx, sqlStore.Name()); err != nil {
				return nil, cleanup, err
			}
		}
	}

	if docStore != nil {
		if p.hooks != nil && p.hooks.BeforeLoad != nil {
			if err := p.hooks.BeforeLoad(ctx, docStore.Name()); err != nil {
				return nil, cleanup, err
			}
		}
		if err := docStore.LoadNormalized(ctx, ds, p.cfg.BatchSize); err != nil {
			return nil, cleanup, fmt.Errorf("load %s: %w", docStore.Name(), err)
		}
		if p.cfg.DenormalizeMongo {
			if err := docStore.LoadDenormalized(ctx, ds, p.cfg.BatchSize); err != nil {
				return nil, cleanup, fmt.Errorf("load %s denormalized: %w", docStore.Name(), err)
			}
		}
		stores = append(stores, docStore)
		p.logger.Info().Str("store", docStore.Name()).Msg("document load done")
		if p.hooks != nil && p.hooks.AfterLoad != nil {
			if err := p.hooks.AfterLoad(ctx, docStore.Name()); err != nil {
				return nil, cleanup, err
			}
		}
	}

	return stores, cleanup, nil
}
