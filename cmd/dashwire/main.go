package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/dashwire/dashwire/config"
	"github.com/dashwire/dashwire/core"
	"github.com/dashwire/dashwire/dashboard"
	"github.com/dashwire/dashwire/dataservice"
	zl "github.com/dashwire/dashwire/logger/zerolog"
	"github.com/dashwire/dashwire/notification"
	"github.com/dashwire/dashwire/render"
	"github.com/dashwire/dashwire/render/web"

	"github.com/schollz/progressbar/v3"
	"github.com/spf13/cobra"
)

// Command line flags
var (
	configPath string
	chartID    string
	webDebug   bool
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "dashwire",
		Short:   "Dashboard chart refresh and rendering engine",
		Version: "1.0.0",
	}

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", config.DefaultConfigPath, "Dashboard definition file")

	rootCmd.AddCommand(buildServeCmd())
	rootCmd.AddCommand(buildRenderCmd())

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func buildServeCmd() *cobra.Command {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the dashboard and keep its charts fresh",
		RunE:  runServe,
	}

	serveCmd.Flags().BoolVar(&webDebug, "debug", false, "Disable script minification")

	return serveCmd
}

func buildRenderCmd() *cobra.Command {
	renderCmd := &cobra.Command{
		Use:   "render",
		Short: "Fetch one chart and render it to the terminal",
		RunE:  runRender,
	}

	renderCmd.Flags().StringVar(&chartID, "chart", "", "Chart id to render")

	return renderCmd
}

// setup loads the configuration and builds a session with every built-in
// renderer registered.
func setup() (*config.Config, *dashboard.Session, core.Logger, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, nil, nil, err
	}

	log := zl.NewConsole(logLevel(cfg.LogLevel))

	service := dataservice.NewHTTPService(cfg.DataService.BaseURL, nil, log)

	session, err := dashboard.New(service, log,
		dashboard.WithFetchTimeout(cfg.DataService.Timeout),
	)
	if err != nil {
		return nil, nil, nil, err
	}

	if err := session.Registry().Register(render.TableDescriptor()); err != nil {
		return nil, nil, nil, err
	}
	if err := session.Registry().Register(render.HistogramDescriptor()); err != nil {
		return nil, nil, nil, err
	}

	for _, chart := range cfg.Charts {
		if err := session.AddChart(chart); err != nil {
			return nil, nil, nil, fmt.Errorf("failed to add chart %s: %w", chart.ID, err)
		}
	}

	return cfg, session, log, nil
}

func runServe(_ *cobra.Command, _ []string) error {
	cfg, session, log, err := setup()
	if err != nil {
		return err
	}
	defer session.Close()

	webOptions := []web.Option{web.WithPort(cfg.WebPort)}
	if webDebug {
		webOptions = append(webOptions, web.WithDebug())
	}

	webServer, err := web.NewServer(log, session.DispatchInteraction, webOptions...)
	if err != nil {
		return fmt.Errorf("failed to create web backend: %w", err)
	}

	if err := session.Registry().Register(webServer.Descriptor()); err != nil {
		return err
	}

	// Every completed fetch re-renders through the resolved backend, which
	// for echarts charts pushes the frame to connected browsers.
	session.EnableLiveRender(core.RenderTarget{})

	if cfg.Telegram.Enabled {
		telegram, err := notification.NewTelegram(session, notification.Settings{
			Token: cfg.Telegram.Token,
			Users: cfg.Telegram.Users,
		}, log)
		if err != nil {
			return fmt.Errorf("failed to create telegram notifier: %w", err)
		}
		session.SetNotifier(telegram)
		telegram.Start()
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	prime(ctx, session)

	for _, chart := range session.Charts() {
		session.SetVisible(chart.ID, true)
	}

	go func() {
		if err := webServer.Start(ctx); err != nil {
			log.WithError(err).Error("web server failed")
			stop()
		}
	}()

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

func runRender(cmd *cobra.Command, _ []string) error {
	if chartID == "" {
		return fmt.Errorf("--chart is required")
	}

	_, session, _, err := setup()
	if err != nil {
		return err
	}
	defer session.Close()

	return session.Render(cmd.Context(), chartID, core.RenderTarget{
		Width:  80,
		Output: os.Stdout,
	})
}

// prime executes the initial fetch of every chart behind a progress bar,
// so the dashboard opens with data instead of spinners.
func prime(ctx context.Context, session *dashboard.Session) {
	total := len(session.Charts())
	if total == 0 {
		return
	}

	bar := progressbar.NewOptions(total,
		progressbar.OptionSetDescription("priming charts"),
		progressbar.OptionClearOnFinish(),
	)

	session.Prime(ctx, func(done, _ int) {
		_ = bar.Set(done)
	})
}

func logLevel(name string) core.Level {
	switch name {
	case "trace":
		return core.TraceLevel
	case "debug":
		return core.DebugLevel
	case "warn":
		return core.WarnLevel
	case "error":
		return core.ErrorLevel
	default:
		return core.InfoLevel
	}
}
