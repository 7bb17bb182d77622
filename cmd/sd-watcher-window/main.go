package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/dholendar-27/sd-watcher-window/internal/autostart"
	"github.com/dholendar-27/sd-watcher-window/internal/client"
	"github.com/dholendar-27/sd-watcher-window/internal/config"
	"github.com/dholendar-27/sd-watcher-window/internal/manager"
	"github.com/dholendar-27/sd-watcher-window/internal/metrics"
	"github.com/dholendar-27/sd-watcher-window/internal/models"
	"github.com/dholendar-27/sd-watcher-window/internal/server"
	"github.com/dholendar-27/sd-watcher-window/internal/watcher"
	"github.com/dholendar-27/sd-watcher-window/pkg/utils"
)

// AppVersion contains the application version
const AppVersion = "1.0.0"

// bucketType is the event type reported by this watcher
const bucketType = "currentwindow"

var (
	flagConfig       string
	flagHost         string
	flagPort         int
	flagTesting      bool
	flagVerbose      bool
	flagPollTime     time.Duration
	flagExcludeTitle bool
)

// Application represents the running watcher daemon
type Application struct {
	config   *config.Config
	testing  bool
	client   *client.Client
	watcher  *watcher.Watcher
	server   *server.StatusServer
	metrics  *metrics.Metrics
	instance *client.SingleInstance
	ctx      context.Context
	cancel   context.CancelFunc
}

// NewApplication creates a new application instance
func NewApplication(cfg *config.Config, testing bool) (*Application, error) {
	ctx, cancel := context.WithCancel(context.Background())

	app := &Application{
		config:  cfg,
		testing: testing,
		ctx:     ctx,
		cancel:  cancel,
	}

	if err := app.initializeLogger(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize logger: %w", err)
	}

	if err := app.initializeComponents(); err != nil {
		cancel()
		return nil, fmt.Errorf("failed to initialize components: %w", err)
	}

	return app, nil
}

func (app *Application) initializeLogger() error {
	logCfg := app.config.Logging
	level := logCfg.Level
	if flagVerbose {
		level = "debug"
	}
	if err := utils.InitLogger(level, logCfg.Format, logCfg.Output, logCfg.File); err != nil {
		return err
	}
	return nil
}

func (app *Application) initializeComponents() error {
	logger := utils.GetLogger()
	logger.Info("Initializing components")

	app.metrics = metrics.NewMetrics()

	if err := app.initializeClient(); err != nil {
		return fmt.Errorf("failed to initialize client: %w", err)
	}

	if err := app.initializeWatcher(); err != nil {
		return fmt.Errorf("failed to initialize watcher: %w", err)
	}

	if app.config.Status.Enabled {
		app.initializeServer()
	}

	logger.Info("All components initialized")
	return nil
}

func (app *Application) initializeClient() error {
	serverCfg := app.config.ServerFor(app.testing)

	c, err := newClient(app.config, app.testing, app.metrics)
	if err != nil {
		return err
	}
	app.client = c

	// Refuse to run next to another watcher talking to the same server
	lockName := fmt.Sprintf("%s-at-%s-on-%d",
		app.config.Client.Name, serverCfg.Hostname, serverCfg.Port)
	instance, err := client.NewSingleInstance(lockName)
	if err != nil {
		return err
	}
	app.instance = instance

	bucketID := fmt.Sprintf("%s_%s", app.config.Client.Name, c.ClientHostname())
	c.CreateBucketQueued(bucketID, bucketType)

	return nil
}

func (app *Application) initializeWatcher() error {
	provider, err := watcher.NewProvider(app.config.Watcher.StrategyMacOS)
	if err != nil {
		return err
	}

	bucketID := fmt.Sprintf("%s_%s", app.config.Client.Name, app.client.ClientHostname())
	app.watcher = watcher.NewWatcher(&watcher.Config{
		BucketID:     bucketID,
		PollTime:     app.config.Watcher.PollTime,
		PulseMargin:  app.config.Watcher.PulseMargin,
		ExcludeTitle: app.config.Watcher.ExcludeTitle,
	}, app.client, provider, app.metrics)

	return nil
}

func (app *Application) initializeServer() {
	app.server = server.NewStatusServer(&server.Config{
		Host:          app.config.Status.Host,
		Port:          app.config.Status.Port,
		ReadTimeout:   app.config.Status.ReadTimeout,
		WriteTimeout:  app.config.Status.WriteTimeout,
		EnableMetrics: app.config.Status.EnableMetrics,
	}, app.watcher, app.client.Queue(), app.metrics, AppVersion)
}

// Start starts all components
func (app *Application) Start() error {
	logger := utils.GetLogger()

	if err := app.client.Connect(); err != nil {
		return fmt.Errorf("failed to start request queue: %w", err)
	}

	if err := app.watcher.Start(app.ctx); err != nil {
		return err
	}

	if app.server != nil {
		if err := app.server.Start(); err != nil {
			// The watcher is more important than the status server
			logger.WithError(err).Warn("Status server failed to start, continuing without it")
			app.server = nil
		}
	}

	logger.WithField("version", AppVersion).Info("sd-watcher-window started")
	return nil
}

// Stop stops all components in reverse order
func (app *Application) Stop() {
	logger := utils.GetLogger()
	logger.Info("Shutting down")

	if app.server != nil {
		if err := app.server.Stop(); err != nil {
			logger.WithError(err).Warn("Failed to stop status server")
		}
	}
	if err := app.watcher.Stop(); err != nil {
		logger.WithError(err).Warn("Failed to stop watcher")
	}
	if err := app.client.Disconnect(); err != nil {
		logger.WithError(err).Warn("Failed to stop request queue")
	}
	if app.instance != nil {
		app.instance.Release()
	}
	app.cancel()

	logger.Info("Shutdown complete")
}

// waitForShutdown blocks until a signal arrives or the watcher dies
func (app *Application) waitForShutdown() {
	sigs := make(chan os.Signal, 1)
	signal.Notify(sigs, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	for {
		select {
		case sig := <-sigs:
			utils.GetLogger().WithField("signal", sig.String()).Info("Received signal")
			return
		case <-ticker.C:
			if !app.watcher.IsRunning() {
				utils.GetLogger().Info("Watcher stopped, exiting")
				return
			}
		}
	}
}

// newClient builds an API client from the loaded configuration.
func newClient(cfg *config.Config, testing bool, m *metrics.Metrics) (*client.Client, error) {
	serverCfg := cfg.ServerFor(testing)
	return client.NewClient(&client.Config{
		ClientName:        cfg.Client.Name,
		Testing:           testing,
		ServerHost:        serverCfg.Hostname,
		ServerPort:        serverCfg.Port,
		Protocol:          serverCfg.Protocol,
		CommitInterval:    cfg.Client.CommitInterval,
		RequestTimeout:    cfg.Client.RequestTimeout,
		QueueDir:          cfg.Queue.Directory,
		ReconnectInterval: cfg.Queue.ReconnectInterval,
		RetryDelay:        cfg.Queue.RetryDelay,
	}, m)
}

// loadConfig loads the configuration and applies command-line overrides.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return nil, err
	}

	if cmd.Flags().Changed("host") {
		cfg.Server.Hostname = flagHost
		cfg.ServerTesting.Hostname = flagHost
	}
	if cmd.Flags().Changed("port") {
		cfg.Server.Port = flagPort
		cfg.ServerTesting.Port = flagPort
	}
	if cmd.Flags().Changed("poll-time") {
		cfg.Watcher.PollTime = flagPollTime
	}
	if cmd.Flags().Changed("exclude-title") {
		cfg.Watcher.ExcludeTitle = flagExcludeTitle
	}

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// cliClient builds a client for one-shot subcommands; the request queue
// is not started, all operations go straight to the server.
func cliClient(cmd *cobra.Command) (*client.Client, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	level := "warning"
	if flagVerbose {
		level = "debug"
	}
	if err := utils.InitLogger(level, "text", "stdout", ""); err != nil {
		return nil, nil, err
	}
	c, err := newClient(cfg, flagTesting, nil)
	if err != nil {
		return nil, nil, err
	}
	return c, cfg, nil
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:     "sd-watcher-window",
		Short:   "A cross platform window watcher. Supported on: Linux (X11), macOS and Windows.",
		Version: AppVersion,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}

			app, err := NewApplication(cfg, flagTesting)
			if err != nil {
				return err
			}

			if err := app.Start(); err != nil {
				app.Stop()
				return err
			}

			app.waitForShutdown()
			app.Stop()
			return nil
		},
	}

	root.PersistentFlags().StringVar(&flagConfig, "config", "", "Path to config file")
	root.PersistentFlags().StringVar(&flagHost, "host", "127.0.0.1", "Address of the server")
	root.PersistentFlags().IntVar(&flagPort, "port", 7600, "Port of the server")
	root.PersistentFlags().BoolVar(&flagTesting, "testing", false, "Use the testing server")
	root.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "Verbose logging")
	root.Flags().DurationVar(&flagPollTime, "poll-time", time.Second, "Window poll interval")
	root.Flags().BoolVar(&flagExcludeTitle, "exclude-title", false, "Replace window titles with 'excluded'")

	root.AddCommand(newBucketsCommand())
	root.AddCommand(newEventsCommand())
	root.AddCommand(newHeartbeatCommand())
	root.AddCommand(newQueryCommand())
	root.AddCommand(newModulesCommand())
	root.AddCommand(newAutostartCommand())

	return root
}

func newBucketsCommand() *cobra.Command {
	return &cobra.Command{
		Use:   "buckets",
		Short: "List all buckets on the server",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, err := cliClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Client.RequestTimeout)
			defer cancel()

			buckets, err := c.GetBuckets(ctx)
			if err != nil {
				return err
			}
			fmt.Println("Buckets:")
			for id := range buckets {
				fmt.Printf(" - %s\n", id)
			}
			return nil
		},
	}
}

func newEventsCommand() *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "events <bucket_id>",
		Short: "Query events from a bucket",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, err := cliClient(cmd)
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Client.RequestTimeout)
			defer cancel()

			events, err := c.GetEvents(ctx, args[0], limit, nil, nil)
			if err != nil {
				return err
			}
			fmt.Println("events:")
			for _, e := range events {
				fmt.Printf(" - %s (%s) %v\n",
					e.Timestamp.Format("2006-01-02 15:04:05"),
					e.Duration.Truncate(time.Second),
					e.Data)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", -1, "Maximum number of events, -1 for all")
	return cmd
}

func newHeartbeatCommand() *cobra.Command {
	var pulsetime float64
	cmd := &cobra.Command{
		Use:   "heartbeat <bucket_id> <data>",
		Short: "Send a heartbeat with JSON data to a bucket",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, err := cliClient(cmd)
			if err != nil {
				return err
			}

			var data map[string]interface{}
			if err := json.Unmarshal([]byte(args[1]), &data); err != nil {
				return fmt.Errorf("invalid heartbeat data: %w", err)
			}

			event := models.Event{Timestamp: time.Now().UTC(), Data: data}
			fmt.Printf("%s %v\n", event.Timestamp.Format(time.RFC3339), event.Data)

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Client.RequestTimeout)
			defer cancel()
			return c.Heartbeat(ctx, args[0], event, pulsetime, false)
		},
	}
	cmd.Flags().Float64Var(&pulsetime, "pulsetime", 60, "Pulsetime to use for merging heartbeats")
	return cmd
}

func newQueryCommand() *cobra.Command {
	var (
		name     string
		cache    bool
		asJSON   bool
		startStr string
		stopStr  string
	)
	cmd := &cobra.Command{
		Use:   "query <path>",
		Short: "Run the query in the file at <path> on the server",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, cfg, err := cliClient(cmd)
			if err != nil {
				return err
			}

			source, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}

			now := time.Now().UTC()
			start := now.Add(-24 * time.Hour)
			stop := now.Add(365 * 24 * time.Hour)
			if startStr != "" {
				if start, err = time.Parse(time.RFC3339, startStr); err != nil {
					return fmt.Errorf("invalid --start: %w", err)
				}
			}
			if stopStr != "" {
				if stop, err = time.Parse(time.RFC3339, stopStr); err != nil {
					return fmt.Errorf("invalid --stop: %w", err)
				}
			}

			ctx, cancel := context.WithTimeout(cmd.Context(), cfg.Client.RequestTimeout)
			defer cancel()

			result, err := c.Query(ctx, string(source),
				[]client.TimePeriod{{Start: start, End: stop}}, name, cache)
			if err != nil {
				return err
			}

			if asJSON {
				out, err := json.Marshal(result)
				if err != nil {
					return err
				}
				fmt.Println(string(out))
				return nil
			}
			for _, period := range result {
				out, _ := json.MarshalIndent(period, "", "  ")
				fmt.Println(string(out))
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&name, "name", "", "Query name, required for caching")
	cmd.Flags().BoolVar(&cache, "cache", false, "Cache the query result server-side")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Print the raw JSON result")
	cmd.Flags().StringVar(&startStr, "start", "", "Period start (RFC3339), default 24h ago")
	cmd.Flags().StringVar(&stopStr, "stop", "", "Period stop (RFC3339), default 1y ahead")
	return cmd
}

func newModulesCommand() *cobra.Command {
	var moduleDir string

	newManager := func() (*manager.Manager, error) {
		if err := utils.InitLogger("warning", "text", "stdout", ""); err != nil {
			return nil, err
		}
		return manager.NewManager(&manager.Config{ModuleDir: moduleDir})
	}

	cmd := &cobra.Command{
		Use:   "modules",
		Short: "Discover and control sibling sd-* modules",
	}
	cmd.PersistentFlags().StringVar(&moduleDir, "module-dir", "", "Extra directory to search for modules")

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List discovered modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			for _, module := range m.Discover() {
				fmt.Printf(" - %s at %s\n", module.Name, module.Path)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "start <name>",
		Short: "Start a module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			return m.Start(args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "stop <name>",
		Short: "Stop a running module",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			return m.Stop(args[0])
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show the run state of known modules",
		RunE: func(cmd *cobra.Command, args []string) error {
			m, err := newManager()
			if err != nil {
				return err
			}
			for name, state := range m.StatusAll() {
				running := "stopped"
				if state.Running {
					running = fmt.Sprintf("running (pid %d)", state.PID)
				}
				fmt.Printf(" - %s: %s\n", name, running)
			}
			return nil
		},
	})

	return cmd
}

func newAutostartCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "autostart",
		Short: "Manage the login item that starts the watcher",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "install",
		Short: "Install the login item",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := autostart.Install()
			if err != nil {
				return err
			}
			fmt.Printf("Installed %s\n", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "remove",
		Short: "Remove the login item",
		RunE: func(cmd *cobra.Command, args []string) error {
			path, err := autostart.Remove()
			if err != nil {
				return err
			}
			fmt.Printf("Removed %s\n", path)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "status",
		Short: "Show whether the login item is installed",
		RunE: func(cmd *cobra.Command, args []string) error {
			installed, err := autostart.Installed()
			if err != nil {
				return err
			}
			if installed {
				fmt.Println("autostart: installed")
			} else {
				fmt.Println("autostart: not installed")
			}
			return nil
		},
	})

	return cmd
}

func main() {
	if err := newRootCommand().Execute(); err != nil {
		log.Fatalf("Error: %v", err)
	}
}
