package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"
)

// NewJobCmd создаёт группу команд для управления jobs.
func NewJobCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "job",
		Short: "Manage jobs",
	}

	cmd.AddCommand(
		newJobEnqueueCmd(clientFn, outputFn),
		newJobListCmd(clientFn, outputFn),
		newJobShowCmd(clientFn, outputFn),
		newJobCancelCmd(clientFn, outputFn),
		newJobRetryCmd(clientFn, outputFn),
	)

	return cmd
}

var jobHeaders = []string{"ID", "TYPE", "PRIORITY", "STATUS", "RETRIES", "CREATED"}

func jobRow(j JobResponse) []string {
	retries := strconv.Itoa(j.RetryCount) + "/" + strconv.Itoa(j.MaxRetries)
	return []string{j.ID, j.JobType, j.Priority, j.Status, retries, j.CreatedAt}
}

func newJobEnqueueCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var req EnqueueRequest
	var payload, payloadFile string
	var maxRetries int
	var timeout float64

	cmd := &cobra.Command{
		Use:   "enqueue QUEUE JOB_TYPE",
		Short: "Enqueue a job",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.JobType = args[1]

			raw, err := readPayload(payload, payloadFile)
			if err != nil {
				return err
			}
			req.Payload = raw

			if cmd.Flags().Changed("max-retries") {
				req.MaxRetries = &maxRetries
			}
			if cmd.Flags().Changed("timeout") {
				req.TimeoutSecs = &timeout
			}

			out := outputFn()
			job, err := clientFn().EnqueueJob(args[0], req)
			if err != nil {
				return err
			}

			out.Success(fmt.Sprintf("Job enqueued: %s", job.ID))
			out.Print(jobHeaders, [][]string{jobRow(*job)}, job)
			return nil
		},
	}

	cmd.Flags().StringVar(&payload, "payload", "", "Job payload as JSON")
	cmd.Flags().StringVar(&payloadFile, "payload-file", "", "Read job payload from a JSON file")
	cmd.Flags().StringVar(&req.Priority, "priority", "", "Priority: low, normal, high, critical")
	cmd.Flags().IntVar(&maxRetries, "max-retries", 0, "Retries before archiving (queue default if not set)")
	cmd.Flags().Float64Var(&timeout, "timeout", 0, "Timeout in seconds (queue default if not set)")
	cmd.Flags().StringSliceVar(&req.Tags, "tag", nil, "Tag (repeatable)")

	return cmd
}

// readPayload возвращает payload из флага или файла.
func readPayload(inline, file string) (json.RawMessage, error) {
	if inline != "" && file != "" {
		return nil, fmt.Errorf("--payload and --payload-file are mutually exclusive")
	}

	data := []byte(inline)
	if file != "" {
		var err error
		data, err = os.ReadFile(file)
		if err != nil {
			return nil, fmt.Errorf("read payload file: %w", err)
		}
	}
	if len(strings.TrimSpace(string(data))) == 0 {
		return nil, nil
	}
	if !json.Valid(data) {
		return nil, fmt.Errorf("payload is not valid JSON")
	}
	return json.RawMessage(data), nil
}

func newJobListCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var opts ListJobsOpts

	cmd := &cobra.Command{
		Use:   "list",
		Short: "List jobs",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			opts.Status = strings.ToUpper(opts.Status)

			jobs, err := clientFn().ListJobs(opts)
			if err != nil {
				return err
			}

			rows := make([][]string, len(jobs))
			for i, j := range jobs {
				rows[i] = jobRow(j)
			}

			outputFn().Print(jobHeaders, rows, jobs)
			return nil
		},
	}

	cmd.Flags().StringVar(&opts.Queue, "queue", "", "Filter by queue (ID or name)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (PENDING, RUNNING, COMPLETED, FAILED, ARCHIVED, CANCELLED)")
	cmd.Flags().StringSliceVar(&opts.Tags, "tag", nil, "Filter by tag (repeatable, all must match)")
	cmd.Flags().IntVar(&opts.Limit, "limit", 0, "Maximum number of results")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Skip the first N results")

	return cmd
}

func newJobShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show JOB_ID",
		Short: "Show job details",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := clientFn().GetJob(args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			if out.IsJSON() {
				out.JSON(job)
				return nil
			}

			out.Line("ID:        %s", job.ID)
			out.Line("Queue:     %s", job.QueueID)
			out.Line("Type:      %s", job.JobType)
			out.Line("Priority:  %s", job.Priority)
			out.Line("Status:    %s", job.Status)
			out.Line("Retries:   %d/%d", job.RetryCount, job.MaxRetries)
			out.Line("Timeout:   %gs", job.TimeoutSec)
			if len(job.Tags) > 0 {
				out.Line("Tags:      %s", strings.Join(job.Tags, ", "))
			}
			if len(job.Payload) > 0 {
				out.Line("Payload:   %s", job.Payload)
			}
			if len(job.Result) > 0 {
				out.Line("Result:    %s", job.Result)
			}
			if job.Error != "" {
				out.Line("Error:     %s", job.Error)
			}
			out.Line("Created:   %s", job.CreatedAt)
			out.Line("Started:   %s", orDash(job.StartedAt))
			out.Line("Finished:  %s", orDash(job.FinishedAt))
			return nil
		},
	}
}

func newJobCancelCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel JOB_ID",
		Short: "Cancel a pending or running job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := clientFn().CancelJob(args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			if job.Status == "RUNNING" {
				out.Success(fmt.Sprintf("Cancellation requested: %s", job.ID))
			} else {
				out.Success(fmt.Sprintf("Job cancelled: %s", job.ID))
			}
			out.Print(jobHeaders, [][]string{jobRow(*job)}, job)
			return nil
		},
	}
}

func newJobRetryCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "retry JOB_ID",
		Short: "Re-enqueue an archived or cancelled job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			job, err := clientFn().RetryJob(args[0])
			if err != nil {
				return err
			}

			out := outputFn()
			out.Success(fmt.Sprintf("Job re-enqueued: %s", job.ID))
			out.Print(jobHeaders, [][]string{jobRow(*job)}, job)
			return nil
		},
	}
}
