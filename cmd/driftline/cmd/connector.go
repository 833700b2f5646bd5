package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/driftline/driftline/internal/async"
	"github.com/driftline/driftline/internal/chunk"
	"github.com/driftline/driftline/internal/connector"
	"github.com/driftline/driftline/internal/index"
	"github.com/driftline/driftline/internal/store"
)

func newConnectorCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "connector",
		Short: "Manage external source connectors",
	}
	cmd.AddCommand(newConnectorAddCmd())
	cmd.AddCommand(newConnectorListCmd())
	cmd.AddCommand(newConnectorUpdateCmd())
	cmd.AddCommand(newConnectorDeleteCmd())
	cmd.AddCommand(newConnectorIndexCmd())
	return cmd
}

func parseConfigKVs(kvs []string) (map[string]string, error) {
	cfg := make(map[string]string, len(kvs))
	for _, kv := range kvs {
		k, v, ok := strings.Cut(kv, "=")
		if !ok {
			return nil, fmt.Errorf("config entry %q is not key=value", kv)
		}
		cfg[k] = v
	}
	return cfg, nil
}

func newConnectorAddCmd() *cobra.Command {
	var (
		name      string
		configKVs []string
	)

	cmd := &cobra.Command{
		Use:   "add <type>",
		Short: "Add a connector (SLACK_CONNECTOR, NOTION_CONNECTOR, GITHUB_CONNECTOR, SERPER_API, TAVILY_API)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			connType := store.ConnectorType(strings.ToUpper(args[0]))

			cfg, err := parseConfigKVs(configKVs)
			if err != nil {
				return err
			}

			if err := connector.ValidateConfig(connType, cfg); err != nil {
				return err
			}
			if name == "" {
				name = strings.ToLower(string(connType))
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			created, err := a.store.CreateConnector(cmd.Context(), store.CreateConnectorInput{
				OwnerID:     a.cfg.OwnerID,
				Name:        name,
				Type:        connType,
				IsIndexable: connector.IsIndexable(connType),
				Config:      cfg,
			})
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Created connector %d (%s)\n", created.ID, created.Type)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Connector display name")
	cmd.Flags().StringSliceVarP(&configKVs, "set", "c", nil, "Config entry key=value (repeatable)")
	return cmd
}

func newConnectorListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List connectors",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			connectors, err := a.store.ListConnectors(cmd.Context(), a.cfg.OwnerID)
			if err != nil {
				return err
			}
			if len(connectors) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No connectors.")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tTYPE\tINDEXABLE\tLAST INDEXED")
			for _, c := range connectors {
				lastIndexed := "never"
				if c.LastIndexedAt != nil {
					lastIndexed = c.LastIndexedAt.Format("2006-01-02 15:04")
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%t\t%s\n", c.ID, c.Name, c.Type, c.IsIndexable, lastIndexed)
			}
			return w.Flush()
		},
	}
}

func newConnectorUpdateCmd() *cobra.Command {
	var (
		name      string
		configKVs []string
	)

	cmd := &cobra.Command{
		Use:   "update <id>",
		Short: "Replace a connector's name and credentials",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid connector id %q", args[0])
			}

			cfg, err := parseConfigKVs(configKVs)
			if err != nil {
				return err
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			existing, err := a.store.GetConnector(cmd.Context(), id)
			if err != nil {
				return err
			}
			if err := connector.ValidateConfig(existing.Type, cfg); err != nil {
				return err
			}
			if name == "" {
				name = existing.Name
			}

			if err := a.store.UpdateConnectorConfig(cmd.Context(), id, name, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Updated connector %d\n", id)
			return nil
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "New display name (default: keep current)")
	cmd.Flags().StringSliceVarP(&configKVs, "set", "c", nil, "Config entry key=value (repeatable, replaces existing config)")
	return cmd
}

func newConnectorDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a connector (already-indexed documents stay)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid connector id %q", args[0])
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.store.DeleteConnector(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted connector %d\n", id)
			return nil
		},
	}
}

func newConnectorIndexCmd() *cobra.Command {
	var (
		spaceID int64
		wait    bool
	)

	cmd := &cobra.Command{
		Use:   "index <connector-id>",
		Short: "Trigger an incremental indexing run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			connectorID, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid connector id %q", args[0])
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			runner := index.NewRunner(a.store, connector.NewRegistry(), chunk.New(),
				index.WithLookbackDays(a.cfg.Indexing.LookbackDays))

			scheduler, err := async.NewScheduler(a.store, runner, a.cfg.Indexing.Workers)
			if err != nil {
				return err
			}
			defer scheduler.Close()

			job, err := scheduler.Trigger(cmd.Context(), connectorID, spaceID)
			if err != nil {
				return err
			}

			fmt.Fprintf(cmd.OutOrStdout(), "Indexing job %s started: window %s -> %s\n",
				job.ID,
				job.WindowStart.Format("2006-01-02 15:04"),
				job.WindowEnd.Format("2006-01-02 15:04"))

			if !wait {
				// Scheduler.Close below still waits for the run to finish
				// before the process exits.
				return nil
			}

			if err := job.Wait(cmd.Context()); err != nil {
				return err
			}
			indexed, outcome := job.Result()
			fmt.Fprintf(cmd.OutOrStdout(), "%s: %s (%d documents)\n", outcome.Status, outcome.Message, indexed)
			if outcome.Status == index.StatusFailure {
				return fmt.Errorf("indexing failed")
			}
			return nil
		},
	}

	cmd.Flags().Int64VarP(&spaceID, "space", "s", 0, "Target search space id (required)")
	cmd.Flags().BoolVarP(&wait, "wait", "w", true, "Wait for the run and print its outcome")
	_ = cmd.MarkFlagRequired("space")
	return cmd
}
