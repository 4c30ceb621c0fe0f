package commands

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/feichai0017/medical-document-processor/internal/app"
	"github.com/feichai0017/medical-document-processor/internal/models"
	"github.com/feichai0017/medical-document-processor/internal/repository"
	"github.com/feichai0017/medical-document-processor/internal/utils/validator"
	"github.com/feichai0017/medical-document-processor/pkg/storage/local"
)

func newProcessCommand(c *cli) *cobra.Command {
	var (
		tenant   string
		postgres bool
	)
	cmd := &cobra.Command{
		Use:   "process <file>",
		Short: "Run the pipeline locally on a PDF or image",
		Long: `Run the pipeline in process on a local file, with retries, and print the
extracted fields. Records go to an in-memory store unless --postgres is set.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			abs, err := filepath.Abs(args[0])
			if err != nil {
				return err
			}
			data, err := os.ReadFile(abs)
			if err != nil {
				return fmt.Errorf("failed to read %s: %w", abs, err)
			}

			store, err := local.NewLocalStorage(filepath.Dir(abs), c.log)
			if err != nil {
				return err
			}

			var gateway repository.Gateway = repository.NewMemoryGateway()
			if postgres {
				pool, err := repository.Open(ctx, c.cfg.Database, c.log)
				if err != nil {
					return err
				}
				defer pool.Close()
				gateway = repository.NewPostgresGateway(pool, c.log)
			}

			pipeline, err := app.NewPipeline(ctx, c.cfg, store, gateway, c.log)
			if err != nil {
				return err
			}
			defer pipeline.Close()

			result, err := pipeline.Service.ProcessWithRetry(ctx, models.DocumentDescriptor{
				DocumentID:  uuid.NewString(),
				Tenant:      tenant,
				StorageKey:  filepath.Base(abs),
				ContentHash: validator.ContentHash(data),
				ContentType: mimetype.Detect(data).String(),
			})
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), result)
		},
	}
	cmd.Flags().StringVarP(&tenant, "tenant", "t", "local", "tenant recorded with the document")
	cmd.Flags().BoolVar(&postgres, "postgres", false, "persist to the configured database")
	return cmd
}
