package commands

import (
	"github.com/spf13/cobra"

	"github.com/feichai0017/medical-document-processor/internal/app"
	"github.com/feichai0017/medical-document-processor/pkg/queue"
)

func newStatusCommand(c *cli) *cobra.Command {
	return &cobra.Command{
		Use:   "status <document-id>",
		Short: "Show the queue status of a document",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			q := queue.NewAsynqQueue(app.QueueConfig(c.cfg))
			defer q.Close()

			status, err := q.GetTaskStatus(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), status)
		},
	}
}
