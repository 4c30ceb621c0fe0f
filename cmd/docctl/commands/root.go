// Package commands implements the docctl command line.
package commands

import (
	"encoding/json"
	"io"

	"github.com/spf13/cobra"

	"github.com/feichai0017/medical-document-processor/config"
	"github.com/feichai0017/medical-document-processor/internal/app"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
)

// cli carries the state shared by subcommands once the root has run.
type cli struct {
	cfgFile string
	verbose bool

	cfg *config.Config
	log logger.Logger
}

// NewRootCommand builds the docctl command tree.
func NewRootCommand() *cobra.Command {
	c := &cli{}

	root := &cobra.Command{
		Use:   "docctl",
		Short: "Operate the medical document pipeline",
		Long: `docctl publishes work items, inspects their status, applies the database
schema and runs the extraction pipeline locally against files on disk.`,
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return c.init()
		},
		PersistentPostRun: func(cmd *cobra.Command, args []string) {
			if c.log != nil {
				_ = c.log.Sync()
			}
		},
	}

	root.PersistentFlags().StringVarP(&c.cfgFile, "config", "c", "", "config file path")
	root.PersistentFlags().BoolVarP(&c.verbose, "verbose", "v", false, "enable debug logging")

	root.AddCommand(
		newEnqueueCommand(c),
		newStatusCommand(c),
		newProcessCommand(c),
		newExtractCommand(c),
		newMigrateCommand(c),
	)
	return root
}

func (c *cli) init() error {
	cfg, err := config.Load(c.cfgFile)
	if err != nil {
		return err
	}

	// Results go to stdout, so logs stay on stderr.
	cfg.Log.OutputPaths = []string{"stderr"}
	cfg.Log.Encoding = "console"
	if c.verbose {
		cfg.Log.Level = "debug"
	}

	log, err := app.NewLogger(cfg.Log, "docctl")
	if err != nil {
		return err
	}
	c.cfg = cfg
	c.log = log
	return nil
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
