package cmd

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"
	"k8s.io/apimachinery/pkg/runtime/schema"

	"driftsync/internal/apiserver"
	"driftsync/internal/cluster"
	"driftsync/internal/config"
	"driftsync/internal/controller"
	"driftsync/internal/render"
	"driftsync/internal/source"
	"driftsync/internal/store"
	"driftsync/internal/syncer"
	"driftsync/pkg/logging"
)

// newServeCmd creates the serve command, which runs the controller and the
// API server until interrupted.
func newServeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the reconciliation controller and API server",
		Long: `Starts the driftsync daemon: the source tracker polls every Application's
git repository for new commits, the controller reconciles desired against
live cluster state, and the API server accepts Application management
requests and GitHub webhooks.

Configuration is read from config.yaml in the configuration directory
(~/.config/driftsync by default, or --config-path). Application definitions
live in the apps/ subdirectory and may be managed through the API, the
'driftsync app' commands, or by editing the files directly.`,
		Args: cobra.NoArgs,
		RunE: runServe,
	}
}

func runServe(cmd *cobra.Command, args []string) error {
	path := configPath
	if path == "" {
		path = config.GetDefaultConfigPathOrPanic()
	}

	cfg, err := config.LoadConfig(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	level := logging.ParseLevel(cfg.LogLevel)
	if debug {
		level = logging.LevelDebug
	}
	logging.Init(level, os.Stderr)

	registry := cluster.NewRegistry()
	for _, cr := range cfg.CustomResources {
		registry.Register(
			schema.GroupKind{Group: cr.Group, Kind: cr.Kind},
			cr.Resource, cr.Version, cr.Namespaced,
		)
	}

	clusterClient, err := cluster.NewForDefaultConfig(registry)
	if err != nil {
		return fmt.Errorf("failed to connect to Kubernetes: %w", err)
	}

	repo := source.NewShellClient(cfg.Source.SSHKeyFile, cfg.Source.HTTPSTokenFile)
	tracker := source.NewTracker(
		repo,
		cfg.Source.PollInterval(),
		cfg.Controller.InitialBackoff(),
		cfg.Controller.MaxBackoff(),
	)

	st := store.NewStore(path)
	watcher := store.NewWatcher(st, 0)

	reconciler := controller.NewReconciler(
		st,
		repo,
		tracker,
		render.NewRenderer(registry),
		clusterClient,
		syncer.New(clusterClient),
		cfg.Source.CacheDir,
	)

	manager := controller.NewManager(controller.ManagerConfig{
		Workers:          cfg.Controller.Workers,
		MaxRetries:       cfg.Controller.MaxRetries,
		InitialBackoff:   cfg.Controller.InitialBackoff(),
		MaxBackoff:       cfg.Controller.MaxBackoff(),
		ReconcileTimeout: cfg.Controller.ReconcileTimeout(),
		ResyncInterval:   cfg.Controller.ResyncInterval(),
	}, reconciler, st, tracker, watcher)

	api, err := apiserver.NewServer(cfg.Server, st, manager)
	if err != nil {
		return fmt.Errorf("failed to create API server: %w", err)
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("failed to start controller: %w", err)
	}
	defer manager.Stop()

	group, groupCtx := errgroup.WithContext(ctx)
	group.Go(func() error {
		return api.Start(groupCtx)
	})

	logging.Info("Serve", "driftsync %s started", GetVersion())
	return group.Wait()
}
