package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewQueueCmd создаёт группу команд для управления очередями.
func NewQueueCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "queue",
		Short: "Manage queues",
	}

	cmd.AddCommand(
		newQueueListCmd(clientFn, outputFn),
		newQueueCreateCmd(clientFn, outputFn),
		newQueueShowCmd(clientFn, outputFn),
		newQueueStateCmd(clientFn, outputFn, "pause", "Pause dispatching (running jobs finish)", (*Client).PauseQueue),
		newQueueStateCmd(clientFn, outputFn, "resume", "Resume dispatching", (*Client).ResumeQueue),
		newQueueStateCmd(clientFn, outputFn, "restart", "Restart the queue actor (clears degraded state)", (*Client).RestartQueue),
		newQueueStatsCmd(clientFn, outputFn),
		newQueueDeleteCmd(clientFn, outputFn),
	)

	return cmd
}

var queueHeaders = []string{"ID", "NAME", "STATE", "CONCURRENCY", "DEGRADED", "CREATED"}

func queueRow(q QueueResponse) []string {
	degraded := "no"
	if q.Degraded {
		degraded = "yes"
	}
	return []string{q.ID, q.Name, q.State, strconv.Itoa(q.Config.Concurrency), degraded, q.CreatedAt}
}

func newQueueListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List queues",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			queues, err := clientFn().ListQueues()
			if err != nil {
				return err
			}

			rows := make([][]string, len(queues))
			for i, q := range queues {
				rows[i] = queueRow(q)
			}

			outputFn().Print(queueHeaders, rows, queues)
			return nil
		},
	}
}

func newQueueCreateCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req CreateQueueRequest
	var maxSize, maxRetries int
	var rateLimit float64

	cmd := &cobra.Command{
		Use:   "create NAME",
		Short: "Create a queue",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Name = args[0]
			if cmd.Flags().Changed("max-retries") {
				req.Config.DefaultMaxRetries = &maxRetries
			}
			if cmd.Flags().Changed("max-size") {
				req.Config.MaxQueueSize = &maxSize
			}
			if cmd.Flags().Changed("rate-limit") {
				req.Config.RateLimit = &rateLimit
			}

			out := outputFn()
			queue, err := clientFn().CreateQueue(req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Queue created: %s", queue.ID))
			out.Print(queueHeaders, [][]string{queueRow(*queue)}, queue)
			return nil
		},
	}

	cmd.Flags().StringVar(&req.Description, "description", "", "Queue description")
	cmd.Flags().IntVar(&req.Config.Concurrency, "concurrency", 0, "Maximum concurrently running jobs (server default 4)")
	cmd.Flags().Float64Var(&req.Config.DefaultTimeoutSec, "timeout", 0, "Default job timeout in seconds (server default 300)")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Default retries per job (server default 3)")
	cmd.Flags().IntVar(&maxSize, "max-size", 0, "Maximum pending + running jobs")
	cmd.Flags().Float64Var(&rateLimit, "rate-limit", 0, "Maximum job starts per second")

	return cmd
}

func newQueueShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show QUEUE",
		Short: "Show queue details (QUEUE is an ID or a name)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := clientFn().GetQueue(args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			if out.IsJSON() {
				out.JSON(queue)
				return nil
			}

			out.Line("ID:           %s", queue.ID)
			out.Line("Name:         %s", queue.Name)
			out.Line("Description:  %s", orDash(queue.Description))
			out.Line("State:        %s", queue.State)
			out.Line("Concurrency:  %d", queue.Config.Concurrency)
			out.Line("Timeout:      %gs", queue.Config.DefaultTimeoutSec)
			if queue.Config.DefaultMaxRetries != nil {
				out.Line("Max retries:  %d", *queue.Config.DefaultMaxRetries)
			}
			if queue.Config.MaxQueueSize != nil {
				out.Line("Max size:     %d", *queue.Config.MaxQueueSize)
			}
			if queue.Config.RateLimit != nil {
				out.Line("Rate limit:   %g/s", *queue.Config.RateLimit)
			}
			if queue.Degraded {
				out.Line("Degraded:     %s", queue.DegradedReason)
			}
			out.Line("Created:      %s", queue.CreatedAt)
			return nil
		},
	}
}

// newQueueStateCmd создаёт команду, меняющую состояние очереди.
func newQueueStateCmd(
	clientFn func() *Client,
	outputFn func() *Output,
	use, short string,
	action func(*Client, string) (*QueueResponse, error),
) *cobra.Command {
	return &cobra.Command{
		Use:   use + " QUEUE",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			queue, err := action(clientFn(), args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Queue %s: %s", queue.Name, queue.State))
			out.Print(queueHeaders, [][]string{queueRow(*queue)}, queue)
			return nil
		},
	}
}

func newQueueDeleteCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "delete QUEUE",
		Short: "Delete a queue and its jobs (running jobs finish first)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client := clientFn()
			out := outputFn()

			if err := client.DeleteQueue(args[0]); err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Queue deleted: %s", args[0]))
			return nil
		},
	}
}

func newQueueStatsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "stats QUEUE",
		Short: "Show queue statistics",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			stats, err := clientFn().GetQueueStats(args[0])
			if err != nil {
				return err
			}

			avg := "-"
			if stats.AvgDurationMs != nil {
				avg = strconv.FormatFloat(*stats.AvgDurationMs, 'f', 1, 64)
			}

			headers := []string{"PENDING", "RUNNING", "COMPLETED", "FAILED", "ARCHIVED", "CANCELLED", "AVG_MS", "PER_MIN"}
			row := []string{
				strconv.FormatInt(stats.Pending, 10),
				strconv.FormatInt(stats.Running, 10),
				strconv.FormatInt(stats.Completed, 10),
				strconv.FormatInt(stats.Failed, 10),
				strconv.FormatInt(stats.Archived, 10),
				strconv.FormatInt(stats.Cancelled, 10),
				avg,
				strconv.FormatFloat(stats.ThroughputPerMin, 'f', 1, 64),
			}

			outputFn().Print(headers, [][]string{row}, stats)
			return nil
		},
	}
}
