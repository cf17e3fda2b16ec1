package main

import (
	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/factbase/internal/review"
)

func newDecisionCmd(use, short string, confirm bool) *cobra.Command {
	c := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			entity, _ := cmd.Flags().GetString("entity")
			keys, _ := cmd.Flags().GetStringSlice("keys")
			actor, _ := cmd.Flags().GetString("actor")
			if len(keys) == 0 {
				return eris.Errorf("%s: --keys is required", use)
			}

			env, err := initEnv(ctx, cfg, "cli")
			if err != nil {
				return err
			}
			defer env.Close()

			var res *review.Result
			if confirm {
				res, err = env.Review.ConfirmFields(ctx, entity, keys, actor)
			} else {
				res, err = env.Review.RejectFields(ctx, entity, keys, actor)
			}
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), res)
		},
	}
	c.Flags().String("entity", "", "entity ID")
	c.Flags().StringSlice("keys", nil, "field keys, comma separated")
	c.Flags().String("actor", "", "who made the decision")
	_ = c.MarkFlagRequired("entity")
	_ = c.MarkFlagRequired("actor")
	return c
}

var confirmCmd = newDecisionCmd("confirm", "Confirm proposed field records", true)
var rejectCmd = newDecisionCmd("reject", "Reject field records", false)

func init() {
	rootCmd.AddCommand(confirmCmd, rejectCmd)
}
