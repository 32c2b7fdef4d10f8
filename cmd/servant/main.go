package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/collectors"

	"github.com/maltedev/bestseller-affiliator/internal/affiliate"
	"github.com/maltedev/bestseller-affiliator/internal/api"
	"github.com/maltedev/bestseller-affiliator/internal/auth"
	"github.com/maltedev/bestseller-affiliator/internal/browser"
	"github.com/maltedev/bestseller-affiliator/internal/config"
	"github.com/maltedev/bestseller-affiliator/internal/diagnostics"
	"github.com/maltedev/bestseller-affiliator/internal/pipeline"
	"github.com/maltedev/bestseller-affiliator/internal/ratelimit"
	"github.com/maltedev/bestseller-affiliator/internal/scraper"
	"github.com/maltedev/bestseller-affiliator/internal/storage"
	"github.com/maltedev/bestseller-affiliator/internal/store"
	"github.com/maltedev/bestseller-affiliator/pkg/logger"
)

const usage = `usage: servant <command> [flags]

commands:
  bestsellers   scrape bestseller categories and store affiliate links (default)
  import        store the products behind a file of Amazon links
  update        refresh prices of every stored product
  login         sign in and save the session cookies
  serve         serve the stored products over HTTP
`

func main() {
	command := "bestsellers"
	args := os.Args[1:]
	if len(args) > 0 && args[0] != "" && args[0][0] != '-' {
		command, args = args[0], args[1:]
	}

	var (
		fs      = flag.NewFlagSet(command, flag.ExitOnError)
		envFile = fs.String("env", "", "Load environment from this file instead of ./.env")
		file    = fs.String("file", "", "Links file to import (import only)")
		topics  = fs.String("topics", "", "Category topics file (bestsellers only)")
	)
	fs.Usage = func() {
		fmt.Fprint(fs.Output(), usage)
		fs.PrintDefaults()
	}
	fs.Parse(args)

	var envFiles []string
	if *envFile != "" {
		envFiles = append(envFiles, *envFile)
	}
	cfg, err := config.Load(envFiles...)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("Invalid config: %v", err)
	}

	logger, closer, err := logger.NewWithFile(cfg.Logging.Level, cfg.Logging.Format, cfg.Logging.File)
	if err != nil {
		log.Fatalf("Failed to set up logging: %v", err)
	}
	defer closer.Close()
	slog.SetDefault(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &app{cfg: cfg, logger: logger}

	switch command {
	case "bestsellers":
		if *topics != "" {
			cfg.Paths.TopicsFile = *topics
		}
		err = app.bestsellers(ctx)
	case "import":
		if *file != "" {
			cfg.Paths.ProductLinks = *file
		}
		err = app.importLinks(ctx)
	case "update":
		err = app.update(ctx)
	case "login":
		err = app.login(ctx)
	case "serve":
		err = app.serve(ctx)
	default:
		fs.Usage()
		os.Exit(2)
	}

	if err != nil {
		logger.Error("command failed", "command", command, "error", err)
		closer.Close()
		os.Exit(1)
	}
}

type app struct {
	cfg    *config.Config
	logger *slog.Logger
}

func (a *app) openBrowser(headless bool) func(context.Context) (browser.Session, error) {
	return func(context.Context) (browser.Session, error) {
		opts := browser.DefaultOptions()
		opts.Headless = headless
		opts.Timeout = a.cfg.Browser.Timeout
		opts.ViewportWidth = a.cfg.Browser.ViewportWidth
		opts.ViewportHeight = a.cfg.Browser.ViewportHeight
		opts.AcceptLanguage = a.cfg.Browser.AcceptLanguage
		opts.TimezoneID = a.cfg.Browser.TimezoneID
		opts.Locale = a.cfg.Browser.Locale
		opts.ProxyServer = a.cfg.Browser.ProxyServer
		if a.cfg.Browser.UserAgent != "" {
			opts.UserAgent = a.cfg.Browser.UserAgent
		}

		b, err := browser.New(opts, a.logger)
		if err != nil {
			return nil, err
		}
		return b, nil
	}
}

func (a *app) openStore(ctx context.Context) (*store.Gateway, error) {
	return store.Open(ctx, store.Config{
		Kind:            a.cfg.Store.Kind,
		BaseURL:         a.cfg.Store.BaseURL,
		CredentialsFile: a.cfg.Store.CredentialsFile,
		RedisAddr:       a.cfg.Store.RedisAddr,
		RedisPassword:   a.cfg.Store.RedisPassword,
		RedisDB:         a.cfg.Store.RedisDB,
		RedisPrefix:     a.cfg.Store.RedisPrefix,
		PostgresDSN:     a.cfg.Store.PostgresDSN,
		Options: store.Options{
			LastItemPath: a.cfg.Store.LastItemPath,
			ItemsPath:    a.cfg.Store.ItemsPath,
			AtomicAppend: a.cfg.Store.AtomicAppend,
		},
	}, a.logger)
}

func (a *app) diagnostics() diagnostics.Sink {
	if a.cfg.Paths.Diagnostics == "" {
		return diagnostics.Nop{}
	}
	return diagnostics.NewScreenshotSink(a.cfg.Paths.Diagnostics, a.logger)
}

func (a *app) authenticator(session browser.Session) *auth.Authenticator {
	opts := auth.DefaultOptions()
	opts.BaseURL = a.cfg.Amazon.BaseURL
	if a.cfg.Amazon.SignInURL != "" {
		opts.SignInURL = a.cfg.Amazon.SignInURL
	}
	opts.WaitTimeout = a.cfg.Pacing.WaitTimeout
	opts.Typing = ratelimit.Between(a.cfg.Pacing.TypingMin, a.cfg.Pacing.TypingMax)
	opts.Navigation = ratelimit.Between(a.cfg.Pacing.NavigationMin, a.cfg.Pacing.NavigationMax)
	opts.Diagnostics = a.diagnostics()

	creds := auth.Credentials{Email: a.cfg.Amazon.Email, Password: a.cfg.Amazon.Password}
	return auth.New(session, storage.NewCookieFile(a.cfg.Paths.CookiesFile), creds, opts, a.logger)
}

func (a *app) scraper(session browser.Session) *scraper.Scraper {
	opts := scraper.DefaultOptions()
	opts.WaitTimeout = a.cfg.Pacing.WaitTimeout
	opts.DetailLoad = ratelimit.Between(a.cfg.Pacing.NavigationMin, a.cfg.Pacing.NavigationMax)
	opts.ScrollSteps = a.cfg.Pacing.ScrollSteps
	opts.Diagnostics = a.diagnostics()
	return scraper.New(session, opts, a.logger)
}

func (a *app) pipeline(deps pipeline.Deps) (*pipeline.Pipeline, error) {
	opts := pipeline.DefaultOptions()
	opts.ProductDelay = ratelimit.Between(a.cfg.Pacing.ProductDelayMin, a.cfg.Pacing.ProductDelayMax)
	return pipeline.New(deps, opts, a.logger)
}

// exportMetrics runs after the command, so it gets its own deadline instead of
// the possibly cancelled run context.
func (a *app) exportMetrics(ctx context.Context, metrics *pipeline.Metrics, mode string) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()

	err := metrics.Export(ctx, mode, pipeline.ExportOptions{
		Dir:     a.cfg.Metrics.Dir,
		PushURL: a.cfg.Metrics.PushURL,
		Job:     a.cfg.Metrics.Job,
	})
	if err != nil {
		a.logger.Warn("failed to export run metrics", "mode", mode, "error", err)
	}
}

func (a *app) bestsellers(ctx context.Context) error {
	gateway, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer gateway.Close()

	metrics := pipeline.NewMetrics()
	defer a.exportMetrics(ctx, metrics, "bestsellers")

	return pipeline.WithSession(ctx, a.openBrowser(a.cfg.Browser.Headless), a.logger, func(ctx context.Context, session browser.Session) error {
		affOpts := affiliate.DefaultOptions()
		affOpts.WaitTimeout = a.cfg.Pacing.WaitTimeout
		affOpts.PageLoad = ratelimit.Between(a.cfg.Pacing.NavigationMin, a.cfg.Pacing.NavigationMax)
		affOpts.Diagnostics = a.diagnostics()

		p, err := a.pipeline(pipeline.Deps{
			Auth:      a.authenticator(session),
			Scraper:   a.scraper(session),
			Affiliate: affiliate.NewGenerator(session, affOpts, a.logger),
			Store:     gateway,
			Links:     storage.NewLinkAppender(a.cfg.Paths.AffiliateLinks),
			Metrics:   metrics,
		})
		if err != nil {
			return err
		}

		_, err = p.RunBestsellers(ctx, a.cfg.Paths.TopicsFile)
		return err
	})
}

func (a *app) importLinks(ctx context.Context) error {
	gateway, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer gateway.Close()

	metrics := pipeline.NewMetrics()
	defer a.exportMetrics(ctx, metrics, "import")

	return pipeline.WithSession(ctx, a.openBrowser(true), a.logger, func(ctx context.Context, session browser.Session) error {
		p, err := a.pipeline(pipeline.Deps{
			Scraper: a.scraper(session),
			Store:   gateway,
			Metrics: metrics,
		})
		if err != nil {
			return err
		}

		_, err = p.Import(ctx, a.cfg.Paths.ProductLinks)
		return err
	})
}

func (a *app) update(ctx context.Context) error {
	gateway, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer gateway.Close()

	if gateway.NoOp() {
		return errors.New("record store unavailable, nothing to update")
	}

	metrics := pipeline.NewMetrics()
	defer a.exportMetrics(ctx, metrics, "update")

	return pipeline.WithSession(ctx, a.openBrowser(true), a.logger, func(ctx context.Context, session browser.Session) error {
		p, err := a.pipeline(pipeline.Deps{
			Scraper: a.scraper(session),
			Store:   gateway,
			Metrics: metrics,
		})
		if err != nil {
			return err
		}

		_, err = p.Update(ctx)
		return err
	})
}

// login always shows the browser so a captcha or 2FA prompt can be solved by
// hand. A session restored from saved cookies counts as logged in.
func (a *app) login(ctx context.Context) error {
	return pipeline.WithSession(ctx, a.openBrowser(false), a.logger, func(ctx context.Context, session browser.Session) error {
		if err := a.authenticator(session).Ensure(ctx); err != nil {
			return err
		}
		a.logger.Info("session ready, cookies saved", "file", a.cfg.Paths.CookiesFile)
		return nil
	})
}

func (a *app) serve(ctx context.Context) error {
	gateway, err := a.openStore(ctx)
	if err != nil {
		return err
	}
	defer gateway.Close()

	metrics := pipeline.NewMetrics()
	metrics.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	router := api.NewRouter(api.NewHandlers(gateway, a.logger), api.RouterOptions{
		AllowedOrigins: a.cfg.Server.AllowedOrigins,
		RequestTimeout: a.cfg.Server.WriteTimeout,
		Gatherer:       metrics.Registry,
	})

	server := &http.Server{
		Addr:         a.cfg.Addr(),
		Handler:      router,
		ReadTimeout:  a.cfg.Server.ReadTimeout,
		WriteTimeout: a.cfg.Server.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	go func() {
		<-ctx.Done()
		a.logger.Info("shutting down server...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			a.logger.Error("server shutdown failed", "error", err)
		}
	}()

	a.logger.Info("server starting", "addr", server.Addr)
	if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return fmt.Errorf("server failed: %w", err)
	}
	a.logger.Info("server stopped")
	return nil
}
