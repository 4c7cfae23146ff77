package main

import (
	"context"
	stderrors "errors"
	"io"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/spf13/cobra"

	"github.com/vango-dev/uisync/internal/config"
	"github.com/vango-dev/uisync/internal/demo"
	"github.com/vango-dev/uisync/internal/errors"
	"github.com/vango-dev/uisync/pkg/middleware"
	"github.com/vango-dev/uisync/pkg/server"
)

type serveOptions struct {
	configPath string
	port       int
	host       string
	push       string
	themeDir   string
	logFormat  string
	clock      time.Duration
	debug      bool
}

func serveCmd() *cobra.Command {
	var opts serveOptions

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the demo application",
		Long: `Serve the demo application with the settings of uisync.json.

uisync.json is read from the working directory when present, or from
the --config path. Flags override file settings, and UISYNC_PORT
overrides the port of the file.

Examples:
  uisync serve
  uisync serve --port=9000 --push=automatic
  uisync serve --config=/etc/uisync.json --log-format=json`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd.Context(), opts)
		},
	}

	cmd.Flags().StringVarP(&opts.configPath, "config", "c", "", "Path to uisync.json")
	cmd.Flags().IntVarP(&opts.port, "port", "p", 0, "Port to listen on (default from uisync.json)")
	cmd.Flags().StringVarP(&opts.host, "host", "H", "", "Host to bind to (default from uisync.json)")
	cmd.Flags().StringVar(&opts.push, "push", "", "Push mode: disabled, manual or automatic")
	cmd.Flags().StringVar(&opts.themeDir, "theme-dir", "", "Directory serving theme resources")
	cmd.Flags().StringVar(&opts.logFormat, "log-format", "text", "Log format: text or json")
	cmd.Flags().DurationVar(&opts.clock, "clock", time.Second, "Interval of the pushed demo clock, 0 to disable")
	cmd.Flags().BoolVar(&opts.debug, "debug", false, "Panic on internal invariant violations")

	return cmd
}

func runServe(ctx context.Context, opts serveOptions) error {
	cfg, err := loadConfig(opts)
	if err != nil {
		return err
	}
	logger, err := newLogger(os.Stderr, cfg, opts.logFormat)
	if err != nil {
		return err
	}
	srv, err := buildServer(ctx, cfg, opts, logger)
	if err != nil {
		return err
	}

	success(os.Stdout, "Serving %s on %s", cfg.Name, cfg.Address())
	info(os.Stdout, "push: %s, uploads: %s", cfg.Push.Mode, cfg.Upload.Storage)
	if cfg.Metrics.Enabled {
		info(os.Stdout, "metrics: %s", cfg.Metrics.Path)
	}
	if err := srv.Run(); err != nil {
		return errors.Classify(err)
	}
	return nil
}

// loadConfig reads uisync.json and applies flag overrides.
func loadConfig(opts serveOptions) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	switch {
	case opts.configPath != "":
		cfg, err = config.LoadFile(opts.configPath)
	case config.Exists("."):
		cfg, err = config.Load(".")
	default:
		cfg = config.New()
		err = cfg.ApplyEnv()
	}
	if err != nil {
		return nil, err
	}

	if opts.port > 0 {
		cfg.Port = opts.port
	}
	if opts.host != "" {
		cfg.Host = opts.host
	}
	if opts.push != "" {
		cfg.Push.Mode = opts.push
	}
	if opts.debug {
		cfg.Debug = true
	}
	return cfg, cfg.Validate()
}

func newLogger(w io.Writer, cfg *config.Config, format string) (*slog.Logger, error) {
	level, err := cfg.Level()
	if err != nil {
		return nil, errors.New("E160").WithField("logLevel", cfg.LogLevel).Wrap(err)
	}
	hopts := &slog.HandlerOptions{Level: level}
	switch format {
	case "json":
		return slog.New(slog.NewJSONHandler(w, hopts)), nil
	case "text", "":
		return slog.New(slog.NewTextHandler(w, hopts)), nil
	}
	return nil, errors.Newf(errors.CategoryConfig, "unknown log format %q", format).
		WithSuggestion("Use --log-format=text or --log-format=json.")
}

// buildServer wires the demo application, uploads and observability into
// a server.
func buildServer(ctx context.Context, cfg *config.Config, opts serveOptions, logger *slog.Logger) (*server.Server, error) {
	sc, err := cfg.ToServerConfig()
	if err != nil {
		return nil, err
	}
	sc.Logger = logger
	if opts.themeDir != "" {
		sc.Theme = themeLoader(os.DirFS(opts.themeDir))
	}

	var receivers demo.ReceiverFunc
	switch cfg.Upload.Storage {
	case config.StorageS3:
		client := newS3Client(cfg)
		receivers = demo.S3Receivers(client, cfg.Upload.Bucket, cfg.Upload.Prefix)
	default:
		fr, err := cfg.NewFileReceiver()
		if err != nil {
			return nil, errors.New("E164").WithField("upload.dir", cfg.UploadDir()).Wrap(err)
		}
		go cleanupUploads(ctx, fr.Cleanup, logger)
		receivers = demo.FileReceivers(cfg.UploadDir(), cfg.Upload.MaxSize)
	}

	srv := server.New(sc, demo.NewRegistry(), demo.Factory(demo.Options{
		Title:         cfg.Name,
		Receivers:     receivers,
		ClockInterval: opts.clock,
		Logger:        logger,
	}))

	if cfg.Tracing.Enabled {
		metricsPath := cfg.Metrics.Path
		srv.Use(middleware.Tracing(
			middleware.WithTracerName(cfg.Tracing.TracerName),
			middleware.WithRequestFilter(func(r *http.Request) bool {
				return r.URL.Path != metricsPath
			}),
		))
	}
	if cfg.Metrics.Enabled {
		m := middleware.NewMetrics(middleware.WithNamespace(cfg.Metrics.Namespace))
		srv.SetObserver(m)
		srv.Use(m.HTTP)
		srv.Handle(cfg.Metrics.Path, m.Handler())
	}
	return srv, nil
}

// themeLoader serves theme resources from fsys.
func themeLoader(fsys fs.FS) func(key string) (string, error) {
	return func(key string) (string, error) {
		key = strings.TrimPrefix(key, "/")
		if !fs.ValidPath(key) {
			return "", fs.ErrNotExist
		}
		data, err := fs.ReadFile(fsys, key)
		if err != nil {
			return "", err
		}
		return string(data), nil
	}
}

// cleanupUploads removes stored uploads nobody claimed within a day.
func cleanupUploads(ctx context.Context, cleanup func(time.Duration) error, logger *slog.Logger) {
	ticker := time.NewTicker(time.Hour)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := cleanup(24 * time.Hour); err != nil {
				logger.Warn("upload cleanup failed", "error", err)
			}
		}
	}
}

var errNoCredentials = stderrors.New("uisync: AWS_ACCESS_KEY_ID and AWS_SECRET_ACCESS_KEY must be set for s3 uploads")

func newS3Client(cfg *config.Config) *s3.Client {
	opts := s3.Options{
		Region:      cfg.Upload.Region,
		Credentials: aws.NewCredentialsCache(aws.CredentialsProviderFunc(envCredentials)),
	}
	if cfg.Upload.Endpoint != "" {
		opts.BaseEndpoint = aws.String(cfg.Upload.Endpoint)
		opts.UsePathStyle = true
	}
	return s3.New(opts)
}

func envCredentials(ctx context.Context) (aws.Credentials, error) {
	id, secret := os.Getenv("AWS_ACCESS_KEY_ID"), os.Getenv("AWS_SECRET_ACCESS_KEY")
	if id == "" || secret == "" {
		return aws.Credentials{}, errNoCredentials
	}
	return aws.Credentials{
		AccessKeyID:     id,
		SecretAccessKey: secret,
		SessionToken:    os.Getenv("AWS_SESSION_TOKEN"),
		Source:          "Environment",
	}, nil
}
