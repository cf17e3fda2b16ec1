package main

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/factbase/internal/baseline"
	"github.com/sells-group/factbase/internal/model"
)

var runsCmd = &cobra.Command{
	Use:   "runs",
	Short: "Record and inspect upstream diagnostic runs",
}

// -- runs add --

type runAddOpts struct {
	ID       string
	EntityID string
	Kind     string
	Status   string
	Baseline bool
}

var runAddFlags runAddOpts
var runAddFile string

var runsAddCmd = &cobra.Command{
	Use:   "add",
	Short: "Record a run and optionally propose its baseline",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()

		raw, err := readInput(cmd.InOrStdin(), runAddFile)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		return runAddRun(ctx, env, runAddFlags, raw, cmd.OutOrStdout())
	},
}

func runAddRun(ctx context.Context, env *appEnv, opts runAddOpts, raw []byte, w io.Writer) error {
	status := model.RunStatus(opts.Status)
	switch status {
	case model.RunStatusQueued, model.RunStatusRunning, model.RunStatusComplete, model.RunStatusFailed:
	default:
		return eris.Errorf("runs add: invalid status %q", opts.Status)
	}

	run := &model.Run{
		ID:        opts.ID,
		EntityID:  opts.EntityID,
		Kind:      opts.Kind,
		Status:    status,
		RawResult: raw,
	}
	if err := env.Store.CreateRun(ctx, run); err != nil {
		return eris.Wrap(err, "runs add")
	}

	out := struct {
		Run      *model.Run       `json:"run"`
		Baseline *baseline.Result `json:"baseline,omitempty"`
	}{Run: run}

	if opts.Baseline && status == model.RunStatusComplete {
		res := env.Scheduler.AutoProposeBaselineIfNeeded(ctx, baseline.Trigger{
			EntityID:    run.EntityID,
			TriggeredBy: "run_completed",
			RunID:       run.ID,
			ImporterID:  run.Kind,
		})
		out.Baseline = &res
	}
	return printJSON(w, out)
}

// -- runs latest --

var runsLatestCmd = &cobra.Command{
	Use:   "latest",
	Short: "Show the latest run for an entity",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		entity, _ := cmd.Flags().GetString("entity")
		kind, _ := cmd.Flags().GetString("kind")

		env, err := initEnv(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		run, err := env.Store.GetLatestRun(ctx, entity, kind)
		if err != nil {
			return eris.Wrap(err, "runs latest")
		}
		if run == nil {
			return eris.Errorf("runs latest: no run for %s", entity)
		}
		return printJSON(cmd.OutOrStdout(), run)
	},
}

func init() {
	f := runsAddCmd.Flags()
	f.StringVar(&runAddFlags.ID, "id", "", "run ID (generated when empty)")
	f.StringVar(&runAddFlags.EntityID, "entity", "", "entity ID")
	f.StringVar(&runAddFlags.Kind, "kind", "", "run kind, usually the importer ID")
	f.StringVar(&runAddFlags.Status, "status", string(model.RunStatusComplete), "run status")
	f.BoolVar(&runAddFlags.Baseline, "baseline", true, "propose missing required fields from a complete run")
	f.StringVar(&runAddFile, "file", "-", "raw result file, - for stdin")
	_ = runsAddCmd.MarkFlagRequired("entity")
	_ = runsAddCmd.MarkFlagRequired("kind")

	runsLatestCmd.Flags().String("entity", "", "entity ID")
	runsLatestCmd.Flags().String("kind", "", "run kind (any when empty)")
	_ = runsLatestCmd.MarkFlagRequired("entity")

	runsCmd.AddCommand(runsAddCmd, runsLatestCmd)
	rootCmd.AddCommand(runsCmd)
}
