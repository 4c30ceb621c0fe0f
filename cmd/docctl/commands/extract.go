package commands

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/feichai0017/medical-document-processor/internal/app"
)

func newExtractCommand(c *cli) *cobra.Command {
	var (
		page       int
		confidence float64
	)
	cmd := &cobra.Command{
		Use:   "extract <text-file>",
		Short: "Run the field extractor on recognized text",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", args[0], err)
			}
			extractor, err := app.NewExtractor(c.cfg.Extraction, c.log)
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), extractor.Extract(string(text), page, confidence))
		},
	}
	cmd.Flags().IntVar(&page, "page", 1, "page number attached to the fields")
	cmd.Flags().Float64Var(&confidence, "confidence", 1, "confidence attached to the fields")
	return cmd
}
