package main

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/factbase/internal/health"
	"github.com/sells-group/factbase/internal/materialize"
	"github.com/sells-group/factbase/internal/monitoring"
)

var materializeCmd = &cobra.Command{
	Use:   "materialize",
	Short: "Write confirmed fields to the graph view",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		entity, _ := cmd.Flags().GetString("entity")

		env, err := initEnv(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		ids, err := targetEntities(ctx, env, entity)
		if err != nil {
			return err
		}
		return runMaterialize(ctx, env, ids, cmd.OutOrStdout())
	},
}

func runMaterialize(ctx context.Context, env *appEnv, ids []string, w io.Writer) error {
	out := make(map[string]*materialize.Result, len(ids))
	var failed int
	for _, id := range ids {
		res, err := env.Materializer.MaterializeConfirmedToGraph(ctx, id)
		if err != nil {
			zap.L().Error("materialize failed", zap.String("entity_id", id), zap.Error(err))
			failed++
			continue
		}
		out[id] = res
	}
	if err := printJSON(w, out); err != nil {
		return err
	}
	if failed > 0 {
		return eris.Errorf("materialize: %d of %d entities failed", failed, len(ids))
	}
	return nil
}

var healthCmd = &cobra.Command{
	Use:   "health",
	Short: "Report GREEN/YELLOW/RED status for entities",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		entity, _ := cmd.Flags().GetString("entity")
		alert, _ := cmd.Flags().GetBool("alert")

		env, err := initEnv(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		ids, err := targetEntities(ctx, env, entity)
		if err != nil {
			return err
		}
		reports := make([]*health.Report, 0, len(ids))
		for _, id := range ids {
			reports = append(reports, env.Health.ComputeHealthStatus(ctx, id))
		}
		if alert {
			a := monitoring.NewAlerter(cfg.Monitor)
			sent := a.SendAlerts(ctx, a.Evaluate(reports))
			zap.L().Info("health alerts sent", zap.Int("sent", sent))
		}
		return printJSON(cmd.OutOrStdout(), reports)
	},
}

// targetEntities returns entity, or every known entity when it is empty.
func targetEntities(ctx context.Context, env *appEnv, entity string) ([]string, error) {
	if entity != "" {
		return []string{entity}, nil
	}
	ids, err := env.Store.ListEntities(ctx)
	if err != nil {
		return nil, eris.Wrap(err, "list entities")
	}
	return ids, nil
}

func init() {
	materializeCmd.Flags().String("entity", "", "entity ID (all entities when empty)")
	healthCmd.Flags().String("entity", "", "entity ID (all entities when empty)")
	healthCmd.Flags().Bool("alert", false, "post alerts for unhealthy entities to the monitoring webhook")
	rootCmd.AddCommand(materializeCmd, healthCmd)
}
