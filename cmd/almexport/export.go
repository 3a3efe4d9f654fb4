package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/Sternrassler/alm-export/pkg/cache"
	"github.com/Sternrassler/alm-export/pkg/client"
	"github.com/Sternrassler/alm-export/pkg/config"
	"github.com/Sternrassler/alm-export/pkg/export"
	"github.com/Sternrassler/alm-export/pkg/logging"
	"github.com/Sternrassler/alm-export/pkg/mapping"
	"github.com/Sternrassler/alm-export/pkg/metrics"
	"github.com/Sternrassler/alm-export/pkg/notify"
	"github.com/Sternrassler/alm-export/pkg/pagination"
	"github.com/Sternrassler/alm-export/pkg/progress"
	"github.com/Sternrassler/alm-export/pkg/publish"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"
)

type exportOptions struct {
	preferences string
	mapping     string
	output      string
	email       bool
	force       bool
	metricsAddr string
	publish     string
	runID       string
	workers     int
	pageSize    int

	// logFixed is set when --log-level was given; preferences then do not
	// change the level.
	logFixed  bool
	logOutput io.Writer
}

func newExportCmd() *cobra.Command {
	var opts exportOptions

	cmd := &cobra.Command{
		Use:   "export",
		Short: "Fetch all tests from ALM and write them to an xlsx file",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.logFixed = cmd.Flags().Changed("log-level")
			opts.logOutput = cmd.ErrOrStderr()
			return runExport(cmd.Context(), opts, newTerminalPrompter(), cmd.OutOrStdout())
		},
	}

	f := cmd.Flags()
	f.StringVarP(&opts.preferences, "preferences", "p", "", "preferences file (YAML or JSON); environment only when empty")
	f.StringVarP(&opts.mapping, "mapping", "m", "", "mapping file overriding the preferences mapping")
	f.StringVarP(&opts.output, "output", "o", "", "output file or directory (default export_<timestamp>.xlsx)")
	f.BoolVarP(&opts.email, "email", "e", false, "mail the export to the configured recipients")
	f.BoolVar(&opts.force, "force", false, "overwrite an existing output file without asking")
	f.StringVar(&opts.metricsAddr, "metrics-addr", "", "serve Prometheus metrics on this address during the run")
	f.StringVar(&opts.publish, "publish", "", "bucket URL to upload the export to (overrides publish.bucket_url)")
	f.StringVar(&opts.runID, "run-id", "", "run identifier (default: random UUID)")
	f.IntVar(&opts.workers, "workers", 0, "parallel page fetches (overrides export.workers)")
	f.IntVar(&opts.pageSize, "page-size", 0, "records per page, at most 100 (overrides export.page_size)")

	return cmd
}

func loadPreferences(opts exportOptions) (config.Preferences, error) {
	var (
		prefs config.Preferences
		err   error
	)
	if opts.preferences != "" {
		prefs, err = config.Load(opts.preferences)
	} else {
		prefs, err = config.FromEnv()
	}
	if err != nil {
		return config.Preferences{}, err
	}

	override := config.Preferences{
		Export:  config.ExportConfig{Workers: opts.workers, PageSize: opts.pageSize},
		Publish: config.PublishConfig{BucketURL: opts.publish},
	}
	if opts.mapping != "" {
		m, err := mapping.LoadFile(opts.mapping)
		if err != nil {
			return config.Preferences{}, err
		}
		override.Mapping = m
	}

	return config.Merge(prefs, override), nil
}

func runExport(ctx context.Context, opts exportOptions, p *prompter, out io.Writer) error {
	logger := logging.NewLogger("cli")

	prefs, err := loadPreferences(opts)
	if err != nil {
		return fmt.Errorf("load preferences: %w", err)
	}
	if !opts.logFixed {
		if err := applyLogging(prefs.Logging, opts.logOutput); err != nil {
			return err
		}
		logger = logging.NewLogger("cli")
	}
	if opts.preferences == "" {
		logger.Warn().Msg("No preferences file given, using defaults and ALMEXPORT_* environment")
	}

	outputPath, err := export.ResolveOutputPath(opts.output, opts.force, time.Now())
	if errors.Is(err, export.ErrOutputExists) && p.interactive {
		ok, perr := p.confirm(fmt.Sprintf("%s exists. Overwrite it?", outputPath))
		if perr != nil {
			return perr
		}
		if !ok {
			return fmt.Errorf("%w: overwrite declined", export.ErrOutputExists)
		}
		err = nil
	}
	if err != nil {
		return err
	}

	if err := p.fillMissing(&prefs, config.Preferences.Validate); err != nil {
		return err
	}
	if opts.email {
		if err := p.fillMissing(&prefs, config.Preferences.ValidateEmail); err != nil {
			return err
		}
	}

	runID := opts.runID
	if runID == "" {
		runID = uuid.NewString()
	}
	logger = logger.With().Str("run_id", runID).Logger()

	if opts.metricsAddr != "" {
		srv, err := metrics.Listen(opts.metricsAddr)
		if err != nil {
			return fmt.Errorf("metrics server: %w", err)
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	var rdb *redis.Client
	if prefs.Cache.Enabled || prefs.Progress.Enabled {
		rdb = redis.NewClient(&redis.Options{
			Addr:     prefs.Redis.Addr,
			Password: prefs.Redis.Password,
			DB:       prefs.Redis.DB,
		})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Warn().Err(err).Str("addr", prefs.Redis.Addr).Msg("Redis unavailable, continuing without cache and progress publishing")
			rdb = nil
		}
	}

	clientCfg := client.DefaultConfig(prefs.ALM.WebDomain, prefs.ALM.Domain, prefs.ALM.Project)
	clientCfg.Username = prefs.ALM.Username
	clientCfg.Password = prefs.ALM.Password
	clientCfg.VerifyTLS = prefs.ALM.VerifyTLS()
	clientCfg.Timeout = prefs.ALM.Timeout
	clientCfg.UserAgent = "almexport/" + version
	if rdb != nil && prefs.Cache.Enabled {
		clientCfg.Cache = cache.NewManager(rdb, prefs.Cache.TTL)
	}

	almClient, err := client.New(clientCfg)
	if err != nil {
		return err
	}
	defer func() {
		if err := almClient.Close(); err != nil {
			logger.Warn().Err(err).Msg("ALM logout failed")
		}
	}()

	if err := almClient.Authenticate(ctx); err != nil {
		return err
	}

	total, err := almClient.TotalResults(ctx)
	if err != nil {
		return err
	}

	tracker := progress.NewTracker(runID, total, logging.NewLogger("progress"))
	if rdb != nil && prefs.Progress.Enabled {
		tracker.WithStore(progress.NewStore(rdb, prefs.Progress.TTL))
	}
	tracker.Start(ctx)

	fetcher := pagination.NewBatchFetcher(almClient, pagination.Config{
		MaxConcurrency: prefs.Export.Workers,
		PageSize:       prefs.Export.PageSize,
	}).WithProgress(tracker)

	table := fetcher.Run(ctx, prefs.Mapping, total)
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("export interrupted after %d of %d test cases: %w", table.Len(), total, err)
	}
	tracker.Finish(ctx)

	if err := export.NewXLSXWriter().Write(outputPath, table); err != nil {
		return err
	}

	if opts.email {
		if err := sendEmail(ctx, prefs, outputPath, table.Len()); err != nil {
			logger.Error().Err(err).Str("path", outputPath).Msg("Failed to send export email")
		}
	}

	if prefs.Publish.BucketURL != "" {
		if err := publishExport(ctx, prefs, runID, outputPath); err != nil {
			return err
		}
	}

	fmt.Fprintf(out, "Exported %d of %d test cases to %s (run %s)\n", table.Len(), total, outputPath, runID)
	return nil
}

func applyLogging(lc config.LoggingConfig, out io.Writer) error {
	level, err := logging.ParseLevel(lc.Level)
	if err != nil {
		return fmt.Errorf("logging.level: %w", err)
	}
	cfg := logging.DefaultConfig()
	cfg.Level = level
	cfg.Pretty = lc.Pretty == nil || *lc.Pretty
	if out != nil {
		cfg.Output = out
	}
	logging.Setup(cfg)
	return nil
}

func sendEmail(ctx context.Context, prefs config.Preferences, path string, rows int) error {
	from := prefs.Email.Sender
	if from == "" {
		var err error
		if from, err = notify.FromAddress(prefs.Email.SenderDomain); err != nil {
			return err
		}
	}

	mailer, err := notify.NewMailer(notify.Config{
		From:    from,
		To:      prefs.Email.ToList,
		CC:      prefs.Email.CCList,
		Host:    prefs.Email.SMTPHost,
		Port:    prefs.Email.SMTPPort,
		Subject: prefs.Email.Subject,
	})
	if err != nil {
		return err
	}
	return mailer.Send(ctx, path, rows)
}

func publishExport(ctx context.Context, prefs config.Preferences, runID, path string) error {
	store, err := publish.Open(ctx, prefs.Publish.BucketURL, prefs.Publish.Prefix)
	if err != nil {
		return err
	}
	defer store.Close()

	_, err = store.Upload(ctx, runID, path)
	return err
}
