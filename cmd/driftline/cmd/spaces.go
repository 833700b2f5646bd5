package cmd

import (
	"fmt"
	"strconv"
	"text/tabwriter"

	"github.com/spf13/cobra"
)

func newSpacesCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "spaces",
		Short: "Manage search spaces",
	}
	cmd.AddCommand(newSpacesCreateCmd())
	cmd.AddCommand(newSpacesListCmd())
	cmd.AddCommand(newSpacesDeleteCmd())
	return cmd
}

func newSpacesCreateCmd() *cobra.Command {
	var description string

	cmd := &cobra.Command{
		Use:   "create <name>",
		Short: "Create a search space",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			space, err := a.store.CreateSearchSpace(cmd.Context(), a.cfg.OwnerID, args[0], description)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Created search space %d: %s\n", space.ID, space.Name)
			return nil
		},
	}

	cmd.Flags().StringVarP(&description, "description", "d", "", "Space description")
	return cmd
}

func newSpacesListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List search spaces",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			spaces, err := a.store.ListSearchSpaces(cmd.Context(), a.cfg.OwnerID)
			if err != nil {
				return err
			}
			if len(spaces) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "No search spaces. Create one with: driftline spaces create <name>")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tNAME\tDOCUMENTS\tDESCRIPTION")
			for _, space := range spaces {
				docs, err := a.store.ListDocuments(cmd.Context(), space.ID)
				if err != nil {
					return err
				}
				fmt.Fprintf(w, "%d\t%s\t%d\t%s\n", space.ID, space.Name, len(docs), space.Description)
			}
			return w.Flush()
		},
	}
}

func newSpacesDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete a search space and all of its documents",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid space id %q", args[0])
			}

			a, err := openApp()
			if err != nil {
				return err
			}
			defer a.close()

			if err := a.store.DeleteSearchSpace(cmd.Context(), id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Deleted search space %d\n", id)
			return nil
		},
	}
}
