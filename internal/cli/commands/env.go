package commands

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"slices"
	"time"

	"go.uber.org/zap"

	// database/sql drivers selectable in database.driver
	_ "github.com/go-sql-driver/mysql"
	_ "github.com/jackc/pgx/v5/stdlib"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"github.com/metaobjects/metaobjects/internal/cli/config"
	"github.com/metaobjects/metaobjects/internal/cli/ui"
	"github.com/metaobjects/metaobjects/internal/logging"
	"github.com/metaobjects/metaobjects/internal/meta/loader"
	"github.com/metaobjects/metaobjects/internal/meta/metadata"
	"github.com/metaobjects/metaobjects/internal/meta/registry"
	"github.com/metaobjects/metaobjects/internal/orm/cache"
	"github.com/metaobjects/metaobjects/internal/orm/manager"
	"github.com/metaobjects/metaobjects/internal/orm/sqldriver"
)

// driversByDialect lists the registered database/sql drivers for each dialect.
// The first one is the default.
var driversByDialect = map[string][]string{
	sqldriver.DialectPostgres: {"pgx", "postgres"},
	sqldriver.DialectMySQL:    {"mysql"},
	sqldriver.DialectSQLite:   {"sqlite3"},
}

// errReported marks errors whose message was already written to stderr.
var errReported = errors.New("reported")

// report writes msg and returns an error Execute does not print again.
func report(w io.Writer, msg ui.Message) error {
	msg.Write(w)
	return fmt.Errorf("%s: %w", msg.Problem, errReported)
}

func loadConfig() (*config.Config, error) {
	return config.Load(configPath)
}

// configDir is the directory relative metadata paths are resolved against.
func configDir() string {
	if configPath != "" {
		return filepath.Dir(configPath)
	}
	wd, err := os.Getwd()
	if err != nil {
		return "."
	}
	return wd
}

func cliLogger() *zap.Logger {
	return logging.Verbose(verbose)
}

func loadRegistry() (*registry.Registry, error) {
	reg := registry.Default()
	if err := reg.Load(); err != nil {
		return nil, fmt.Errorf("failed to load type registry: %w", err)
	}
	return reg, nil
}

// metadataFiles returns args, or the files configured in metadata.files.
func metadataFiles(args []string) ([]string, error) {
	if len(args) > 0 {
		return args, nil
	}
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	files := cfg.MetadataFiles(configDir())
	if len(files) == 0 {
		return nil, fmt.Errorf("no metadata files given: pass them as arguments or set metadata.files in %s", config.FileName)
	}
	return files, nil
}

func loadTree(files []string) (*metadata.Tree, error) {
	reg, err := loadRegistry()
	if err != nil {
		return nil, err
	}
	tree, err := metadata.NewTree(reg)
	if err != nil {
		return nil, err
	}
	if err := loader.LoadFiles(tree, files...); err != nil {
		return nil, err
	}
	return tree, nil
}

// selectObjects returns the named objects of tree, or all of them when
// names is empty.
func selectObjects(w io.Writer, tree *metadata.Tree, names []string) ([]*metadata.Node, error) {
	if len(names) == 0 {
		return tree.Objects(), nil
	}
	out := make([]*metadata.Node, 0, len(names))
	for _, name := range names {
		n, err := tree.Object(name)
		if err != nil {
			return nil, report(w, ui.ObjectNotFound(name, objectNames(tree), noColor))
		}
		out = append(out, n)
	}
	return out, nil
}

func objectNames(tree *metadata.Tree) []string {
	var names []string
	for _, n := range tree.Objects() {
		names = append(names, n.Name())
	}
	return names
}

// openStore opens the configured database and pings it.
func openStore(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*sqldriver.Store, error) {
	if err := cfg.RequireDatabase(); err != nil {
		return nil, err
	}
	dialect, err := sqldriver.ByName(cfg.Database.Dialect)
	if err != nil {
		return nil, err
	}
	if !slices.Contains(sql.Drivers(), cfg.Database.Driver) {
		return nil, fmt.Errorf("unknown database driver %q, registered: %v", cfg.Database.Driver, sql.Drivers())
	}

	db, err := sql.Open(cfg.Database.Driver, cfg.Database.DSN)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.Database.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	logger.Debug("database opened",
		zap.String("driver", cfg.Database.Driver),
		zap.String("dialect", dialect.Name),
	)
	return sqldriver.NewStore(db, dialect,
		sqldriver.WithLogger(logger),
		sqldriver.WithEnforceTransactions(cfg.Database.EnforceTransactions),
	), nil
}

// newManager creates the object manager over store with the configured
// async pool and object cache. cleanup releases the manager, the cache and the
// database.
func newManager(ctx context.Context, cfg *config.Config, store *sqldriver.Store, tree *metadata.Tree, logger *zap.Logger) (m *manager.Manager, cleanup func() error, err error) {
	opts := []manager.Option{
		manager.WithMetadata(tree),
		manager.WithLogger(logger),
		manager.WithAsyncWorkers(cfg.Manager.AsyncWorkers, cfg.Manager.AsyncQueueSize),
	}
	closers := []func() error{store.DB().Close}

	cacheConfig := cache.DefaultConfig()
	cacheConfig.DefaultTTL = cfg.Manager.CacheTTL

	switch cfg.Manager.ObjectCache {
	case config.CacheMemory:
		c, err := cache.NewMemory(cfg.Manager.CacheSize, cacheConfig)
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, manager.WithObjectCache(c, cfg.Manager.CacheTTL))
	case config.CacheRedis:
		c, err := cache.NewRedisWithConfig(ctx, cache.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
			Config:   cacheConfig,
		})
		if err != nil {
			return nil, nil, err
		}
		opts = append(opts, manager.WithObjectCache(c, cfg.Manager.CacheTTL))
		closers = append([]func() error{c.Close}, closers...)
	}

	m = manager.New(store, opts...)
	closers = append([]func() error{m.Close}, closers...)
	return m, func() error {
		var errs []error
		for _, c := range closers {
			errs = append(errs, c())
		}
		return errors.Join(errs...)
	}, nil
}
