package main

import (
	"github.com/spf13/cobra"

	"github.com/sells-group/factbase/internal/baseline"
)

var baselineTrigger baseline.Trigger

var baselineCmd = &cobra.Command{
	Use:   "baseline",
	Short: "Propose missing required fields from the latest upstream run",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		env, err := initEnv(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		res := env.Scheduler.AutoProposeBaselineIfNeeded(ctx, baselineTrigger)
		return printJSON(cmd.OutOrStdout(), res)
	},
}

func init() {
	f := baselineCmd.Flags()
	f.StringVar(&baselineTrigger.EntityID, "entity", "", "entity ID")
	f.StringVar(&baselineTrigger.RunID, "run", "", "run ID (latest of the importer's kind when empty)")
	f.StringVar(&baselineTrigger.ImporterID, "importer", "", "importer ID (default from config)")
	f.StringVar(&baselineTrigger.TriggeredBy, "triggered-by", "cli", "trigger label used for debouncing")
	_ = baselineCmd.MarkFlagRequired("entity")
	rootCmd.AddCommand(baselineCmd)
}
