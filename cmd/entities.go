package main

import (
	"fmt"
	"text/tabwriter"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
)

var migrateCmd = &cobra.Command{
	Use:   "migrate",
	Short: "Create or update the store schema",
	RunE: func(cmd *cobra.Command, _ []string) error {
		env, err := initEnv(cmd.Context(), cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		fmt.Fprintf(cmd.OutOrStdout(), "store migrated (%s)\n", cfg.Store.Driver)
		return nil
	},
}

var entitiesCmd = &cobra.Command{
	Use:   "entities",
	Short: "List entities with a field store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		ids, err := env.Store.ListEntities(ctx)
		if err != nil {
			return eris.Wrap(err, "list entities")
		}

		w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
		fmt.Fprintln(w, "ENTITY\tPROPOSED\tCONFIRMED\tREJECTED\tVERSION")
		for _, id := range ids {
			fs, err := env.Store.LoadFieldStore(ctx, id)
			if err != nil {
				return eris.Wrapf(err, "load field store %s", id)
			}
			if fs == nil {
				continue
			}
			c := fs.CountByStatus()
			fmt.Fprintf(w, "%s\t%d\t%d\t%d\t%d\n", id, c.Proposed, c.Confirmed, c.Rejected, fs.Meta.Version)
		}
		return w.Flush()
	},
}

var fieldsCmd = &cobra.Command{
	Use:   "fields",
	Short: "Show an entity's field store",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		entity, _ := cmd.Flags().GetString("entity")

		env, err := initEnv(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		fs, err := env.Store.LoadFieldStore(ctx, entity)
		if err != nil {
			return eris.Wrap(err, "load field store")
		}
		if fs == nil {
			return eris.Errorf("no field store for %s", entity)
		}
		return printJSON(cmd.OutOrStdout(), fs)
	},
}

func init() {
	fieldsCmd.Flags().String("entity", "", "entity ID")
	_ = fieldsCmd.MarkFlagRequired("entity")
	rootCmd.AddCommand(migrateCmd, entitiesCmd, fieldsCmd)
}
