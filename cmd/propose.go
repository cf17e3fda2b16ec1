package main

import (
	"context"
	"encoding/json"
	"io"
	"os"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"

	"github.com/sells-group/factbase/internal/model"
	"github.com/sells-group/factbase/internal/propose"
)

type proposeOpts struct {
	EntityID   string
	ImporterID string
	Source     string
	SourceID   string
	// Candidates means the input is a JSON array of candidates rather than
	// an importer raw result.
	Candidates bool
}

var proposeFlags proposeOpts
var proposeFile string

var proposeCmd = &cobra.Command{
	Use:   "propose",
	Short: "Propose field candidates from an importer result",
	Long:  "Extracts candidates from an importer raw result (or reads a candidate list with --candidates) and applies them to the entity's field store.",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()

		data, err := readInput(cmd.InOrStdin(), proposeFile)
		if err != nil {
			return err
		}

		env, err := initEnv(ctx, cfg, "cli")
		if err != nil {
			return err
		}
		defer env.Close()

		return runPropose(ctx, env, proposeFlags, data, cmd.OutOrStdout())
	},
}

func runPropose(ctx context.Context, env *appEnv, opts proposeOpts, data []byte, w io.Writer) error {
	req := propose.Request{
		EntityID:   opts.EntityID,
		ImporterID: opts.ImporterID,
		Source:     opts.Source,
		SourceID:   opts.SourceID,
	}

	if opts.Candidates {
		var cands []model.Candidate
		if err := json.Unmarshal(data, &cands); err != nil {
			return eris.Wrap(err, "propose: parse candidates")
		}
		req.Candidates = cands
	} else {
		ext, ok := env.Extractors.Get(opts.ImporterID)
		if !ok {
			return eris.Errorf("propose: unknown importer %q", opts.ImporterID)
		}
		res := ext.Extract(data)
		req.Candidates = res.Candidates
		req.ExtractionPath = res.ExtractionPath
	}

	out, err := env.Engine.ProposeE(ctx, req)
	if perr := printJSON(w, out); perr != nil {
		return perr
	}
	return err
}

// readInput reads path, or stdin when path is "-" or empty.
func readInput(stdin io.Reader, path string) ([]byte, error) {
	if path == "" || path == "-" {
		data, err := io.ReadAll(stdin)
		if err != nil {
			return nil, eris.Wrap(err, "read stdin")
		}
		return data, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "read %s", path)
	}
	return data, nil
}

func init() {
	f := proposeCmd.Flags()
	f.StringVar(&proposeFlags.EntityID, "entity", "", "entity ID")
	f.StringVar(&proposeFlags.ImporterID, "importer", "", "importer ID")
	f.StringVar(&proposeFlags.Source, "source", "", "evidence source label (default importer ID)")
	f.StringVar(&proposeFlags.SourceID, "source-id", "", "upstream run or document ID")
	f.BoolVar(&proposeFlags.Candidates, "candidates", false, "input is a JSON array of candidates")
	f.StringVar(&proposeFile, "file", "-", "input file, - for stdin")
	_ = proposeCmd.MarkFlagRequired("entity")
	_ = proposeCmd.MarkFlagRequired("importer")
	rootCmd.AddCommand(proposeCmd)
}
