package cmd

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/briandowns/spinner"
	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/jedib0t/go-pretty/v6/text"
	"github.com/spf13/cobra"
	sigsyaml "sigs.k8s.io/yaml"

	"driftsync/internal/config"
	"driftsync/internal/controller"
	"driftsync/pkg/apis/driftsync/v1alpha1"
)

// endpoint overrides the API server address derived from the configuration.
var endpoint string

// newAppCmd creates the app command group for managing Applications through
// the API of a running driftsync daemon.
func newAppCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "app",
		Short: "Manage Applications on a running driftsync server",
		Long: `Manage Applications through the API of a running driftsync daemon.

The server address is read from config.yaml (server.host and server.port)
unless --endpoint is given.`,
	}

	cmd.PersistentFlags().StringVar(&endpoint, "endpoint", "", "API server address (default derived from configuration)")

	cmd.AddCommand(newAppRegisterCmd())
	cmd.AddCommand(newAppListCmd())
	cmd.AddCommand(newAppGetCmd())
	cmd.AddCommand(newAppDeleteCmd())
	cmd.AddCommand(newAppSyncCmd())

	return cmd
}

// apiClient is a thin client for the driftsync HTTP API.
type apiClient struct {
	baseURL string
	http    *http.Client
}

// newAPIClient resolves the server address from --endpoint or the loaded
// configuration.
func newAPIClient() (*apiClient, error) {
	base := endpoint
	if base == "" {
		path := configPath
		if path == "" {
			path = config.GetDefaultConfigPathOrPanic()
		}
		cfg, err := config.LoadConfig(path)
		if err != nil {
			return nil, fmt.Errorf("failed to load configuration: %w", err)
		}
		base = fmt.Sprintf("http://%s:%d", cfg.Server.Host, cfg.Server.Port)
	}

	return &apiClient{
		baseURL: base,
		http:    &http.Client{Timeout: 10 * time.Second},
	}, nil
}

// do performs a request and decodes the JSON response into out when it is
// non-nil. Non-2xx responses are turned into errors carrying the server's
// error message.
func (c *apiClient) do(ctx context.Context, method, path string, body, out interface{}) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("failed to reach driftsync server at %s: %w", c.baseURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		var apiErr struct {
			Error string `json:"error"`
		}
		if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
			return fmt.Errorf("%s", apiErr.Error)
		}
		return fmt.Errorf("server returned %s", resp.Status)
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("failed to decode response: %w", err)
		}
	}
	return nil
}

// appStatus mirrors the status endpoint response.
type appStatus struct {
	Name      string                    `json:"name"`
	Sync      v1alpha1.SyncStatus       `json:"sync"`
	Health    v1alpha1.HealthStatus     `json:"health"`
	Resources []v1alpha1.ResourceStatus `json:"resources,omitempty"`
	LastSync  *v1alpha1.SyncResult      `json:"lastSync,omitempty"`
	Loop      *struct {
		State      controller.ReconcileState `json:"state"`
		LastError  string                    `json:"lastError,omitempty"`
		RetryCount int                       `json:"retryCount,omitempty"`
	} `json:"loop,omitempty"`
}

func newAppRegisterCmd() *cobra.Command {
	var (
		repoURL   string
		revision  string
		path      string
		namespace string
		autoSync  bool
		prune     bool
		selfHeal  bool
	)

	cmd := &cobra.Command{
		Use:   "register <name>",
		Short: "Register an Application for reconciliation",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if (prune || selfHeal) && !autoSync {
				return fmt.Errorf("--prune and --self-heal require --auto-sync")
			}

			app := &v1alpha1.Application{}
			app.Name = args[0]
			app.Spec = v1alpha1.ApplicationSpec{
				Source: v1alpha1.ApplicationSource{
					RepoURL:  repoURL,
					Revision: revision,
					Path:     path,
				},
				Destination: v1alpha1.ApplicationDestination{
					Namespace: namespace,
				},
			}
			if autoSync {
				app.Spec.SyncPolicy.Automated = &v1alpha1.AutomatedSyncPolicy{
					Prune:    prune,
					SelfHeal: selfHeal,
				}
			}

			client, err := newAPIClient()
			if err != nil {
				return err
			}
			if err := client.do(cmd.Context(), http.MethodPost, "/api/v1/applications", app, nil); err != nil {
				return err
			}

			fmt.Printf("%s Application %s registered\n", text.FgGreen.Sprint("✓"), app.Name)
			return nil
		},
	}

	cmd.Flags().StringVar(&repoURL, "repo", "", "git repository URL (required)")
	cmd.Flags().StringVar(&revision, "revision", "main", "branch, tag or commit SHA to track")
	cmd.Flags().StringVar(&path, "path", ".", "path to the manifests within the repository")
	cmd.Flags().StringVar(&namespace, "namespace", "", "default namespace for namespaced resources")
	cmd.Flags().BoolVar(&autoSync, "auto-sync", false, "apply detected changes without a manual trigger")
	cmd.Flags().BoolVar(&prune, "prune", false, "delete live resources removed from the repository (requires --auto-sync)")
	cmd.Flags().BoolVar(&selfHeal, "self-heal", false, "revert out-of-band cluster edits (requires --auto-sync)")
	_ = cmd.MarkFlagRequired("repo")

	return cmd
}

func newAppListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List registered Applications",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var apps []*v1alpha1.Application
			if err := client.do(cmd.Context(), http.MethodGet, "/api/v1/applications", nil, &apps); err != nil {
				return err
			}
			if len(apps) == 0 {
				fmt.Println(text.FgYellow.Sprint("No applications registered"))
				return nil
			}

			t := table.NewWriter()
			t.SetOutputMirror(os.Stdout)
			t.SetStyle(table.StyleRounded)
			t.AppendHeader(table.Row{
				text.FgHiCyan.Sprint("NAME"),
				text.FgHiCyan.Sprint("REPO"),
				text.FgHiCyan.Sprint("REVISION"),
				text.FgHiCyan.Sprint("SYNC"),
				text.FgHiCyan.Sprint("HEALTH"),
			})
			for _, app := range apps {
				t.AppendRow(table.Row{
					app.Name,
					app.Spec.Source.RepoURL,
					app.Spec.Source.Revision,
					colorSync(app.Status.Sync.Status),
					colorHealth(app.Status.Health.Status),
				})
			}
			t.Render()
			return nil
		},
	}
}

func newAppGetCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "get <name>",
		Short: "Show an Application definition and status as YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}

			var app v1alpha1.Application
			if err := client.do(cmd.Context(), http.MethodGet, "/api/v1/applications/"+args[0], nil, &app); err != nil {
				return err
			}

			data, err := sigsyaml.Marshal(&app)
			if err != nil {
				return fmt.Errorf("failed to render application: %w", err)
			}
			fmt.Print(string(data))
			return nil
		},
	}
}

func newAppDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <name>",
		Short: "Unregister an Application",
		Long: `Unregister an Application. The resources it created stay in the cluster;
delete them manually if they are no longer wanted.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAPIClient()
			if err != nil {
				return err
			}
			if err := client.do(cmd.Context(), http.MethodDelete, "/api/v1/applications/"+args[0], nil, nil); err != nil {
				return err
			}
			fmt.Printf("%s Application %s deleted\n", text.FgGreen.Sprint("✓"), args[0])
			return nil
		},
	}
}

func newAppSyncCmd() *cobra.Command {
	var (
		wait    bool
		timeout time.Duration
	)

	cmd := &cobra.Command{
		Use:   "sync <name>",
		Short: "Trigger an immediate reconciliation",
		Long: `Trigger an immediate reconciliation. A manual sync applies detected
changes even when the Application has no automated sync policy.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name := args[0]

			client, err := newAPIClient()
			if err != nil {
				return err
			}
			if err := client.do(cmd.Context(), http.MethodPost, "/api/v1/applications/"+name+"/sync", nil, nil); err != nil {
				return err
			}

			if !wait {
				fmt.Printf("Sync triggered for %s\n", name)
				return nil
			}
			return waitForSync(cmd.Context(), client, name, timeout)
		},
	}

	cmd.Flags().BoolVar(&wait, "wait", false, "wait until the sync finishes")
	cmd.Flags().DurationVar(&timeout, "timeout", 2*time.Minute, "how long to wait with --wait")

	return cmd
}

// waitForSync polls the status endpoint until the triggered sync settles.
func waitForSync(ctx context.Context, client *apiClient, name string, timeout time.Duration) error {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = fmt.Sprintf(" Syncing %s...", name)
	s.Start()
	defer s.Stop()

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("timeout waiting for %s to sync", name)
		case <-ticker.C:
			var status appStatus
			if err := client.do(ctx, http.MethodGet, "/api/v1/applications/"+name+"/status", nil, &status); err != nil {
				// Transient error, keep polling
				continue
			}

			if status.Loop == nil {
				continue
			}
			switch status.Loop.State {
			case controller.StateSynced:
				s.Stop()
				fmt.Printf("%s %s synced at %s (health: %s)\n",
					text.FgGreen.Sprint("✓"), name,
					shortRevision(status.Sync.Revision),
					colorHealth(status.Health.Status))
				return nil
			case controller.StateError, controller.StateFailed:
				s.Stop()
				return fmt.Errorf("sync of %s failed: %s", name, status.Loop.LastError)
			}
		}
	}
}

func colorSync(code v1alpha1.SyncStatusCode) string {
	switch code {
	case v1alpha1.SyncStatusSynced:
		return text.FgGreen.Sprint(code)
	case v1alpha1.SyncStatusOutOfSync:
		return text.FgYellow.Sprint(code)
	case v1alpha1.SyncStatusSyncing:
		return text.FgCyan.Sprint(code)
	case v1alpha1.SyncStatusError:
		return text.FgRed.Sprint(code)
	default:
		return string(code)
	}
}

func colorHealth(code v1alpha1.HealthStatusCode) string {
	switch code {
	case v1alpha1.HealthHealthy:
		return text.FgGreen.Sprint(code)
	case v1alpha1.HealthProgressing:
		return text.FgCyan.Sprint(code)
	case v1alpha1.HealthDegraded:
		return text.FgRed.Sprint(code)
	case v1alpha1.HealthMissing:
		return text.FgYellow.Sprint(code)
	default:
		return string(code)
	}
}

func shortRevision(rev string) string {
	if len(rev) > 8 {
		return rev[:8]
	}
	return rev
}
