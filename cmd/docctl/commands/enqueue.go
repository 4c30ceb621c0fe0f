package commands

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"

	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/feichai0017/medical-document-processor/internal/app"
	"github.com/feichai0017/medical-document-processor/internal/models"
	"github.com/feichai0017/medical-document-processor/internal/utils/validator"
	"github.com/feichai0017/medical-document-processor/pkg/logger"
	"github.com/feichai0017/medical-document-processor/pkg/queue"
	"github.com/feichai0017/medical-document-processor/pkg/storage"
)

type enqueueOptions struct {
	file        string
	key         string
	tenant      string
	documentID  string
	contentType string
	sha256      string
}

func newEnqueueCommand(c *cli) *cobra.Command {
	o := &enqueueOptions{}
	cmd := &cobra.Command{
		Use:   "enqueue",
		Short: "Publish a work item for a stored or local document",
		Long: `Publish a document:process work item. With --file the document is uploaded
to the configured storage first and its sha256 and size are computed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			item, err := o.workItem(cmd.Context(), c)
			if err != nil {
				return err
			}
			if err := validator.ValidateWorkItem(item); err != nil {
				return err
			}

			q := queue.NewAsynqQueue(app.QueueConfig(c.cfg))
			defer q.Close()

			if _, err := q.Enqueue(cmd.Context(), item); err != nil {
				if errors.Is(err, queue.ErrDuplicateTask) {
					c.log.Warn("Document is already queued", logger.String("document_id", item.DocumentID))
				} else {
					return err
				}
			}
			return printJSON(cmd.OutOrStdout(), item)
		},
	}

	cmd.Flags().StringVarP(&o.file, "file", "f", "", "local file to upload before publishing")
	cmd.Flags().StringVarP(&o.key, "key", "k", "", "storage key (default <tenant>/<id>/<file name>)")
	cmd.Flags().StringVarP(&o.tenant, "tenant", "t", "default", "tenant the document belongs to")
	cmd.Flags().StringVar(&o.documentID, "id", "", "document id (default a new uuid)")
	cmd.Flags().StringVar(&o.contentType, "content-type", "", "declared content type (detected from --file when empty)")
	cmd.Flags().StringVar(&o.sha256, "sha256", "", "expected sha256 of a stored document")
	return cmd
}

func (o *enqueueOptions) workItem(ctx context.Context, c *cli) (models.WorkItem, error) {
	item := models.WorkItem{
		DocumentID:  o.documentID,
		Tenant:      o.tenant,
		ObjectKey:   o.key,
		SHA256:      o.sha256,
		ContentType: o.contentType,
	}
	if item.DocumentID == "" {
		item.DocumentID = uuid.NewString()
	}
	if o.file == "" {
		if item.ObjectKey == "" {
			return item, fmt.Errorf("either --file or --key is required")
		}
		return item, nil
	}

	data, err := os.ReadFile(o.file)
	if err != nil {
		return item, fmt.Errorf("failed to read %s: %w", o.file, err)
	}
	if item.ObjectKey == "" {
		item.ObjectKey = path.Join(item.Tenant, item.DocumentID, filepath.Base(o.file))
	}
	if item.ContentType == "" {
		item.ContentType = mimetype.Detect(data).String()
	}
	item.SHA256 = validator.ContentHash(data)
	item.FileSize = int64(len(data))

	store, err := storage.NewStorage(ctx, c.cfg.Storage, c.log)
	if err != nil {
		return item, err
	}
	if err := store.Store(ctx, item.ObjectKey, bytes.NewReader(data)); err != nil {
		return item, err
	}
	c.log.Info("Uploaded document",
		logger.String("document_id", item.DocumentID),
		logger.String("key", item.ObjectKey),
		logger.Int64("size", item.FileSize))
	return item, nil
}
