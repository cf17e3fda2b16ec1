package main

import (
	"context"
	"io"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/factbase/internal/findings"
	"github.com/sells-group/factbase/internal/model"
)

var findingsCmd = &cobra.Command{
	Use:   "findings",
	Short: "Parse diagnostic findings and promote them into field proposals",
}

var findingsParseCmd = &cobra.Command{
	Use:   "parse",
	Short: "Parse and dedupe findings from a run's raw result",
	RunE: func(cmd *cobra.Command, _ []string) error {
		path, _ := cmd.Flags().GetString("file")
		raw, err := readInput(cmd.InOrStdin(), path)
		if err != nil {
			return err
		}
		unique, dups := findings.Dedupe(findings.Parse(raw))
		return printJSON(cmd.OutOrStdout(), map[string][]model.Finding{
			"findings":   nonNil(unique),
			"duplicates": nonNil(dups),
		})
	},
}

type promoteOpts struct {
	EntityID   string
	FindingID  string
	Targets    []string
	Actor      string
	Confidence float64
}

var promoteFlags promoteOpts

var findingsPromoteCmd = &cobra.Command{
	Use:   "promote",
	Short: "Propose a finding into target field keys",
	RunE: func(cmd *cobra.Command, _ []string) error {
		ctx := cmd.Context()
		path, _ := cmd.Flags().GetString("file")
		raw, err := readInput(cmd.InOrStdin(), path)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		return runPromote(ctx, env, promoteFlags, raw, cmd.OutOrStdout())
	},
}

func runPromote(ctx context.Context, env *appEnv, opts promoteOpts, raw []byte, w io.Writer) error {
	var found *model.Finding
	for _, f := range findings.Parse(raw) {
		if f.FindingID == opts.FindingID {
			found = &f
			break
		}
	}
	if found == nil {
		return eris.Errorf("findings promote: finding %q not found", opts.FindingID)
	}

	res, err := env.Promoter.Promote(ctx, opts.EntityID, *found, opts.Targets, opts.Actor, opts.Confidence)
	if err != nil {
		return err
	}
	return printJSON(w, res)
}

func nonNil(fs []model.Finding) []model.Finding {
	if fs == nil {
		return []model.Finding{}
	}
	return fs
}

func init() {
	findingsParseCmd.Flags().String("file", "-", "raw result file, - for stdin")

	f := findingsPromoteCmd.Flags()
	f.String("file", "-", "raw result file, - for stdin")
	f.StringVar(&promoteFlags.EntityID, "entity", "", "entity ID")
	f.StringVar(&promoteFlags.FindingID, "finding", "", "finding ID")
	f.StringSliceVar(&promoteFlags.Targets, "targets", nil, "target field keys (default: the finding's recommendations)")
	f.StringVar(&promoteFlags.Actor, "actor", "", "who promoted the finding")
	f.Float64Var(&promoteFlags.Confidence, "confidence", 0, "override the finding's confidence")
	_ = findingsPromoteCmd.MarkFlagRequired("entity")
	_ = findingsPromoteCmd.MarkFlagRequired("finding")
	_ = findingsPromoteCmd.MarkFlagRequired("actor")

	findingsCmd.AddCommand(findingsParseCmd, findingsPromoteCmd)
	rootCmd.AddCommand(findingsCmd)
}
