package commands

import (
	"context"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/metaobjects/metaobjects/internal/cli/ui"
	"github.com/metaobjects/metaobjects/internal/logging"
	"github.com/metaobjects/metaobjects/internal/server"
)

var serveAddr string

// NewServeCommand creates the serve command
func NewServeCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve [files...]",
		Short: "Serve the registry and metadata over HTTP",
		Long: `Serve the type registry, the loaded metadata, generated DDL and compiled SQL
as JSON. When database.dsn is set the stored objects can be read through
the records, count and refs endpoints.

  GET /health
  GET /types
  GET /types/{type}/{subType}
  GET /objects
  GET /objects/{name}
  GET /objects/{name}/ddl?dialect=
  GET /objects/{name}/sql?dialect=&where=&order=&range=
  GET /objects/{name}/records?where=&order=&range=
  GET /objects/{name}/count?where=
  GET /refs/{ref}`,
		Example: `  metaobjects serve
  metaobjects serve --addr :9090 meta/people.yaml`,
		RunE: runServe,
	}

	cmd.Flags().StringVar(&serveAddr, "addr", "", "listen address (default server.addr)")

	return cmd
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return report(cmd.ErrOrStderr(), ui.ConfigProblem(err, noColor))
	}
	logger := logging.Verbose(true)
	if !verbose {
		if logger, err = logging.New(cfg.Log); err != nil {
			return err
		}
	}
	defer logger.Sync()

	files, err := metadataFiles(args)
	if err != nil {
		return err
	}
	tree, err := loadTree(files)
	if err != nil {
		return err
	}

	opts := []server.APIOption{server.WithLogger(logger)}
	var cleanup func() error
	if cfg.Database.DSN != "" {
		store, err := openStore(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		m, closeManager, err := newManager(cmd.Context(), cfg, store, tree, logger)
		if err != nil {
			store.DB().Close()
			return err
		}
		cleanup = closeManager
		opts = append(opts, server.WithStore(store), server.WithManager(m))
	} else {
		logger.Warn("no database configured, record endpoints are disabled")
	}

	addr := serveAddr
	if addr == "" {
		addr = cfg.Server.Addr
	}
	srv, err := server.New(addr, server.NewAPI(tree, opts...).Routes(),
		server.WithTimeouts(cfg.Server.ReadTimeout, cfg.Server.WriteTimeout),
		server.WithErrorLog(logger))
	if err != nil {
		return err
	}
	if err := srv.Listen(); err != nil {
		return err
	}

	shutdown := server.DefaultShutdownConfig()
	shutdown.Logger = logger
	if cfg.Server.ShutdownTimeout > 0 {
		shutdown.Timeout = cfg.Server.ShutdownTimeout
	}
	gs := server.NewGracefulShutdown(srv, shutdown)
	if cleanup != nil {
		gs.RegisterHook(func(ctx context.Context) error {
			return cleanup()
		})
	}
	logger.Info("serving metadata", zap.String("url", srv.URL()), zap.Int("objects", len(tree.Objects())), zap.Strings("files", files))
	return gs.Run(cmd.Context())
}
