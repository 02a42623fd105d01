package cli

import (
	"github.com/spf13/cobra"
)

// NewEventsCmd создаёт команду для просмотра потока событий.
func NewEventsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var queue string

	cmd := &cobra.Command{
		Use:   "events",
		Short: "Follow engine events (Ctrl+C to stop)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			out := outputFn()

			return clientFn().StreamEvents(cmd.Context(), queue, func(ev EventResponse) error {
				if out.IsJSON() {
					out.JSON(ev)
					return nil
				}
				out.Line("%s  %-22s  %s", ev.Timestamp, ev.Type, eventDetail(ev))
				return nil
			})
		},
	}

	cmd.Flags().StringVar(&queue, "queue", "", "Only events of this queue (ID or name)")

	return cmd
}

// eventDetail возвращает краткое описание события для строки вывода.
func eventDetail(ev EventResponse) string {
	subject := "queue=" + ev.QueueID
	if ev.JobID != "" {
		subject = "job=" + ev.JobID
	}

	switch {
	case ev.Error != "":
		return subject + " error=" + ev.Error
	case ev.Reason != "":
		return subject + " reason=" + ev.Reason
	case ev.State != "":
		return subject + " state=" + ev.State
	case ev.Type == "stream.gap":
		return "missed events, stream lagging"
	default:
		return subject
	}
}
