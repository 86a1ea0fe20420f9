// Package main is the ingestd admin CLI.
package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/spolu/ingestd/internal/config"
	"github.com/spolu/ingestd/internal/hierarchy"
	"github.com/spolu/ingestd/internal/provider"
	"github.com/spolu/ingestd/internal/store"
	"github.com/spolu/ingestd/internal/temporal"
)

var (
	flagConnector string
	flagProvider  string
	flagSeed      string
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// newClient dials Temporal with the environment configuration. The
// caller must defer tc.Close().
func newClient() (*temporal.Client, error) {
	cfg := config.Load()
	tc, err := temporal.NewClient(cfg)
	if err != nil {
		return nil, fmt.Errorf("connecting to temporal: %w", err)
	}
	return tc, nil
}

// newStore opens the sync state store. Connector lifecycle commands
// need direct store access; everything else goes through workflows.
func newStore() (store.Store, error) {
	cfg := config.Load()
	if cfg.DatabaseURL == "" {
		return nil, fmt.Errorf("DATABASE_URL is required for this command")
	}
	return store.NewPostgresStore(cfg.DatabaseURL)
}

func providerKind() provider.Kind {
	return provider.Kind(flagProvider)
}

func cmdContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 30*time.Second)
}

// unpauseRegistry maps each provider to the workflow that resumes it.
// The webcrawler has no incremental mode; resuming it re-runs the
// crawl, which picks up the stored cursor.
func unpauseRegistry(tc *temporal.Client, st store.Store) *provider.UnpauseRegistry {
	reg := provider.NewUnpauseRegistry()
	for _, kind := range []provider.Kind{
		provider.KindSlack,
		provider.KindConfluence,
		provider.KindNotion,
		provider.KindZendesk,
		provider.KindGitHub,
		provider.KindGoogleDrive,
	} {
		kind := kind
		reg.Register(kind, func(ctx context.Context, connectorID string) error {
			_, err := tc.EnsureIncrementalSync(ctx, kind, connectorID)
			return err
		})
	}
	reg.Register(provider.KindWebcrawler, func(ctx context.Context, connectorID string) error {
		conn, err := st.GetConnector(ctx, connectorID)
		if err != nil {
			return err
		}
		seed, _ := conn.Connection.Extra["seedUrl"].(string)
		if seed == "" {
			return fmt.Errorf("connector %s has no seed url", connectorID)
		}
		_, err = tc.StartCrawl(ctx, provider.KindWebcrawler, connectorID, seed)
		return err
	})
	return reg
}

var rootCmd = &cobra.Command{
	Use:   "ingestctl",
	Short: "Admin CLI for connector sync orchestration",
}

// sync commands
var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Manage sync workflows",
}

var syncStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start a full sync, superseding any stale run",
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := newClient()
		if err != nil {
			return err
		}
		defer tc.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		run, err := tc.StartFullSync(ctx, providerKind(), flagConnector)
		if err != nil {
			return err
		}
		fmt.Printf("Started full sync: workflowId=%s runId=%s\n", run.GetID(), run.GetRunID())
		return nil
	},
}

var syncResyncCmd = &cobra.Command{
	Use:   "resync",
	Short: "Request an incremental resync pass",
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := newClient()
		if err != nil {
			return err
		}
		defer tc.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		run, err := tc.EnsureIncrementalSync(ctx, providerKind(), flagConnector)
		if err != nil {
			return err
		}
		fmt.Printf("Resync requested: workflowId=%s\n", run.GetID())
		return nil
	},
}

var syncCancelCmd = &cobra.Command{
	Use:   "cancel",
	Short: "Cancel running sync workflows for a connector",
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := newClient()
		if err != nil {
			return err
		}
		defer tc.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		if err := tc.CancelSync(ctx, providerKind(), flagConnector); err != nil {
			return err
		}
		fmt.Println("Cancellation requested; units stop at the next page boundary")
		return nil
	},
}

var syncStatusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show live progress of the running sync",
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := newClient()
		if err != nil {
			return err
		}
		defer tc.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		progress, err := tc.QueryProgress(ctx, providerKind(), true, flagConnector)
		if err != nil {
			// Fall back to the incremental workflow id.
			progress, err = tc.QueryProgress(ctx, providerKind(), false, flagConnector)
			if err != nil {
				return err
			}
		}
		fmt.Printf("pass=%s status=%s units=%d/%d items=%d\n",
			progress.PassID, progress.Status, progress.UnitsDone, progress.UnitsTotal, progress.TotalCount)
		return nil
	},
}

// crawl commands
var crawlCmd = &cobra.Command{
	Use:   "crawl",
	Short: "Manage website crawls",
}

var crawlStartCmd = &cobra.Command{
	Use:   "start",
	Short: "Start or resume a crawl of one seed",
	RunE: func(cmd *cobra.Command, args []string) error {
		tc, err := newClient()
		if err != nil {
			return err
		}
		defer tc.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		run, err := tc.StartCrawl(ctx, provider.KindWebcrawler, flagConnector, flagSeed)
		if err != nil {
			return err
		}
		fmt.Printf("Started crawl: workflowId=%s runId=%s\n", run.GetID(), run.GetRunID())
		return nil
	},
}

// connector commands
var connectorCmd = &cobra.Command{
	Use:   "connector",
	Short: "Manage connector lifecycle",
}

var connectorPauseCmd = &cobra.Command{
	Use:   "pause",
	Short: "Soft-pause a connector and cancel its sync workflows",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newStore()
		if err != nil {
			return err
		}
		defer st.Close()
		tc, err := newClient()
		if err != nil {
			return err
		}
		defer tc.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		if err := st.UpdateConnectorStatus(ctx, flagConnector, store.ConnectorStatusPaused); err != nil {
			return err
		}
		if err := tc.CancelSync(ctx, providerKind(), flagConnector); err != nil {
			return err
		}
		fmt.Printf("Connector %s paused\n", flagConnector)
		return nil
	},
}

var connectorUnpauseCmd = &cobra.Command{
	Use:   "unpause",
	Short: "Resume a paused connector with its provider's restart flow",
	RunE: func(cmd *cobra.Command, args []string) error {
		st, err := newStore()
		if err != nil {
			return err
		}
		defer st.Close()
		tc, err := newClient()
		if err != nil {
			return err
		}
		defer tc.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		if err := st.UpdateConnectorStatus(ctx, flagConnector, store.ConnectorStatusRunning); err != nil {
			return err
		}
		if err := unpauseRegistry(tc, st).Unpause(ctx, providerKind(), flagConnector); err != nil {
			return err
		}
		fmt.Printf("Connector %s resumed\n", flagConnector)
		return nil
	},
}

// permission commands
var permissionCmd = &cobra.Command{
	Use:   "permission",
	Short: "Manage content node permissions",
}

var permissionSetCmd = &cobra.Command{
	Use:   "set <internal-id> <read|read_write|none>",
	Short: "Set a node's permission and cascade it through the subtree",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		perm := hierarchy.Permission(args[1])
		switch perm {
		case hierarchy.PermissionRead, hierarchy.PermissionReadWrite, hierarchy.PermissionNone:
		default:
			return fmt.Errorf("invalid permission %q", args[1])
		}

		tc, err := newClient()
		if err != nil {
			return err
		}
		defer tc.Close()

		ctx, cancel := cmdContext()
		defer cancel()

		out, err := tc.SetPermission(ctx, flagConnector, args[0], perm)
		if err != nil {
			return err
		}
		fmt.Printf("Updated %d nodes (%d reconciled)\n", out.Updated, out.Reconciled)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().StringVar(&flagConnector, "connector", "", "connector id")
	rootCmd.PersistentFlags().StringVar(&flagProvider, "provider", "", "provider kind (slack, confluence, notion, zendesk, github, google_drive, webcrawler)")
	crawlStartCmd.Flags().StringVar(&flagSeed, "seed", "", "seed url to crawl")

	syncCmd.AddCommand(syncStartCmd, syncResyncCmd, syncCancelCmd, syncStatusCmd)
	crawlCmd.AddCommand(crawlStartCmd)
	connectorCmd.AddCommand(connectorPauseCmd, connectorUnpauseCmd)
	permissionCmd.AddCommand(permissionSetCmd)
	rootCmd.AddCommand(syncCmd, crawlCmd, connectorCmd, permissionCmd)
}
