package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/courtsched/internal/config"
	"github.com/example/courtsched/internal/pipeline"
)

func newCheckFormCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "checkform",
		Short: "Verify the configured field ids still exist in the live form",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			pipe, err := pipeline.New(cfg.Form.Steps, cfg.Form.Profile, cfg.StepTimeout)
			if err != nil {
				return err
			}

			rep, err := pipe.CheckSchema(cmd.Context())
			if err != nil {
				return err
			}
			if rep.OK() {
				fmt.Fprintf(os.Stdout, "all configured fields found in %s\n", rep.CheckedURL)
				return nil
			}
			for _, m := range rep.Missing {
				fmt.Fprintf(os.Stdout, "missing: %s\n", m)
			}
			return fmt.Errorf("%d configured field(s) missing from the live form", len(rep.Missing))
		},
	}
}
