package cli

import (
	"fmt"
	"strconv"

	"github.com/spf13/cobra"
)

// NewTriggerCmd — ручной запуск routine через API.
func NewTriggerCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var async, check bool

	cmd := &cobra.Command{
		Use:   "trigger ROUTINE_ID",
		Short: "Run a routine now, outside its schedule",
		Long: `Run a routine now. next_run_at is left unchanged.

By default waits for the run and prints it. With --async the request is
queued in RabbitMQ and picked up by any scheduler instance.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, out := clientFn(), outputFn()

			if async {
				queued, err := client.TriggerAsync(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				out.Success(fmt.Sprintf("Trigger for routine %s queued", queued.RoutineID))
				return nil
			}

			run, err := client.Trigger(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			out.Fields(runFields(run), run)
			if check && run.Status != "SUCCESS" {
				return fmt.Errorf("routine run failed: %s", run.ErrorMessage)
			}
			return nil
		},
	}

	cmd.Flags().BoolVar(&async, "async", false, "Queue the trigger via RabbitMQ instead of waiting")
	cmd.Flags().BoolVar(&check, "check", false, "Exit with an error when the run fails")
	return cmd
}

// NewRunsCmd — история запусков routine.
func NewRunsCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "runs ROUTINE_ID",
		Short: "Show recent runs of a routine",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, out := clientFn(), outputFn()

			runs, err := client.ListRuns(cmd.Context(), args[0], limit)
			if err != nil {
				return err
			}

			headers := []string{"ID", "TRIGGER", "STATUS", "HTTP", "DURATION_MS", "STARTED", "ERROR"}
			rows := make([][]string, len(runs))
			for i, r := range runs {
				rows[i] = []string{
					r.ID, r.TriggeredBy, r.Status,
					intOrDash(r.HTTPStatus), int64OrDash(r.DurationMs),
					r.StartedAt, r.ErrorMessage,
				}
			}
			out.Print(headers, rows, runs)
			return nil
		},
	}

	cmd.Flags().IntVar(&limit, "limit", 20, "Maximum number of runs")
	return cmd
}

// NewShowCmd — карточка routine.
func NewShowCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "show ROUTINE_ID",
		Short: "Show a routine and its schedule",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			client, out := clientFn(), outputFn()

			r, err := client.GetRoutine(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			lastRun := r.LastRunAt
			if lastRun == "" {
				lastRun = "-"
			}
			out.Fields([][2]string{
				{"ID", r.ID},
				{"Name", r.Name},
				{"Kind", r.Kind},
				{"Endpoint", r.HTTPMethod + " " + r.EndpointURL},
				{"Interval", strconv.Itoa(r.IntervalMinutes) + "m"},
				{"Active", strconv.FormatBool(r.IsActive)},
				{"Running", strconv.FormatBool(r.Running)},
				{"Next run", r.NextRunAt},
				{"Last run", lastRun},
			}, r)
			return nil
		},
	}
}

// NewHealthCmd — состояние scheduler'а и хранилища.
func NewHealthCmd(clientFn func() *Client, outputFn func() *Output) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check scheduler and store health",
		RunE: func(cmd *cobra.Command, _ []string) error {
			client, out := clientFn(), outputFn()

			h, err := client.Health(cmd.Context())
			if err != nil {
				return err
			}
			storeState := fmt.Sprintf("ok (%dms)", h.Store.LatencyMs)
			if !h.Store.OK {
				storeState = "unavailable: " + h.Store.Error
			}
			out.Fields([][2]string{
				{"Status", h.Status},
				{"Uptime", h.Uptime},
				{"Store", storeState},
			}, h)
			if !h.Store.OK {
				return fmt.Errorf("store unavailable")
			}
			return nil
		},
	}
}

func runFields(r *RunResponse) [][2]string {
	pairs := [][2]string{
		{"Run", r.ID},
		{"Routine", r.RoutineID},
		{"Triggered by", r.TriggeredBy},
		{"Status", r.Status},
		{"HTTP status", intOrDash(r.HTTPStatus)},
		{"Duration ms", int64OrDash(r.DurationMs)},
		{"Started", r.StartedAt},
	}
	if r.ErrorMessage != "" {
		pairs = append(pairs, [2]string{"Error", r.ErrorMessage})
	}
	return pairs
}

func intOrDash(v *int) string {
	if v == nil {
		return "-"
	}
	return strconv.Itoa(*v)
}

func int64OrDash(v *int64) string {
	if v == nil {
		return "-"
	}
	return strconv.FormatInt(*v, 10)
}
