package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os/user"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/target/mmk-jobcoord/internal/domain/model"
	"github.com/target/mmk-jobcoord/internal/service"
)

const defaultListLimit = 50

type enqueueResult struct {
	Status string  `json:"status"`
	RunIDs []int64 `json:"run_ids"`
}

type cancelResult struct {
	RunID  int64              `json:"run_id"`
	Result model.CancelResult `json:"result"`
}

// operator names the caller recorded as triggered_by / cancel_requested_by.
func operator(flag string) string {
	if s := strings.TrimSpace(flag); s != "" {
		return s
	}
	if u, err := user.Current(); err == nil && u.Username != "" {
		return u.Username
	}
	return "jobcoord-admin"
}

func parseRunID(arg string) (int64, error) {
	id, err := strconv.ParseInt(strings.TrimSpace(arg), 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid run id %q", arg)
	}
	return id, nil
}

type enqueueOptions struct {
	All    bool
	Group  string
	Params string
	By     string
}

func (o enqueueOptions) validate(args []string) error {
	modes := 0
	if len(args) == 1 {
		modes++
	}
	if o.All {
		modes++
	}
	if o.Group != "" {
		modes++
	}
	if modes != 1 {
		return errors.New("specify exactly one of <job>, --all or --group")
	}
	if o.Params != "" {
		if len(args) != 1 {
			return errors.New("--params applies to a single job")
		}
		if !json.Valid([]byte(o.Params)) {
			return errors.New("--params must be valid JSON")
		}
	}
	return nil
}

func newEnqueueCmd(app *adminApp) *cobra.Command {
	var opts enqueueOptions
	cmd := &cobra.Command{
		Use:   "enqueue [job]",
		Short: "Queue a run of one job, every job, or a job group",
		Long: `Queue runs through the dependency resolver.

--all and --group create the whole set in dependency order inside one
transaction; a cyclic dependency creates nothing.`,
		Args: cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := opts.validate(args); err != nil {
				return err
			}
			svcs, err := app.Services(cmd.Context())
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			by := operator(opts.By)

			var ids []int64
			switch {
			case opts.All:
				ids, err = svcs.Enqueue.EnqueueAll(ctx, by)
			case opts.Group != "":
				ids, err = svcs.Enqueue.EnqueueGroup(ctx, opts.Group, by)
			default:
				var id int64
				id, err = svcs.Enqueue.EnqueueOne(ctx, service.EnqueueRequest{
					JobName:     args[0],
					Params:      json.RawMessage(opts.Params),
					TriggeredBy: by,
				})
				ids = []int64{id}
			}
			if err != nil {
				return err
			}

			res := enqueueResult{Status: "accepted", RunIDs: ids}
			return app.output.render(cmd.OutOrStdout(), res, func(w io.Writer) error {
				for _, id := range ids {
					if err := writef(w, "%d\n", id); err != nil {
						return err
					}
				}
				return writef(w, "accepted\n")
			})
		},
	}
	cmd.Flags().BoolVar(&opts.All, "all", false, "Queue every registered job")
	cmd.Flags().StringVar(&opts.Group, "group", "", "Queue every job in this group")
	cmd.Flags().StringVar(&opts.Params, "params", "", "JSON parameters for a single job")
	cmd.Flags().StringVar(&opts.By, "by", "", "Operator recorded as triggered_by (default: current user)")
	return cmd
}

func newCancelCmd(app *adminApp) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "cancel <run-id>",
		Short: "Cancel a queued run or request cancellation of a running one",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			svcs, err := app.Services(cmd.Context())
			if err != nil {
				return err
			}
			result, err := svcs.Cancel.Cancel(cmd.Context(), id, operator(by))
			if err != nil {
				return err
			}
			return app.output.render(cmd.OutOrStdout(), cancelResult{RunID: id, Result: result}, func(w io.Writer) error {
				return writef(w, "%s\n", result)
			})
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "Operator recorded as cancel_requested_by (default: current user)")
	return cmd
}

func newRunsCmd(app *adminApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "runs",
		Short: "Inspect job runs",
	}
	cmd.AddCommand(
		newRunsGetCmd(app),
		newRunsListCmd(app),
		newRunsActiveCmd(app),
		newRunsStatsCmd(app),
		newRunsLogsCmd(app),
	)
	return cmd
}

func newRunsGetCmd(app *adminApp) *cobra.Command {
	return &cobra.Command{
		Use:   "get <run-id>",
		Short: "Show one run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			svcs, err := app.Services(cmd.Context())
			if err != nil {
				return err
			}
			run, err := svcs.Runs.GetByID(cmd.Context(), id)
			if err != nil {
				return err
			}
			return app.output.render(cmd.OutOrStdout(), run, func(w io.Writer) error {
				return printRunDetail(w, run)
			})
		},
	}
}

type runsListOptions struct {
	Name   string
	Status string
	Limit  int
	Offset int
	Sort   string
	Order  string
}

func (o runsListOptions) toModel() (model.RunListOptions, error) {
	opts := model.RunListOptions{
		SortBy:    o.Sort,
		SortOrder: o.Order,
		Limit:     o.Limit,
		Offset:    o.Offset,
	}
	if name := strings.TrimSpace(o.Name); name != "" {
		opts.JobName = &name
	}
	if s := strings.TrimSpace(o.Status); s != "" {
		status := model.RunStatus(strings.ToLower(s))
		if !status.Valid() {
			return opts, fmt.Errorf("invalid --status %q", o.Status)
		}
		opts.Status = &status
	}
	return opts, nil
}

func newRunsListCmd(app *adminApp) *cobra.Command {
	var opts runsListOptions
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List runs, newest first",
		RunE: func(cmd *cobra.Command, _ []string) error {
			listOpts, err := opts.toModel()
			if err != nil {
				return err
			}
			svcs, err := app.Services(cmd.Context())
			if err != nil {
				return err
			}
			runs, err := svcs.Runs.List(cmd.Context(), listOpts)
			if err != nil {
				return err
			}
			return app.output.render(cmd.OutOrStdout(), runs, func(w io.Writer) error {
				return printRunTable(w, runs)
			})
		},
	}
	cmd.Flags().StringVar(&opts.Name, "name", "", "Filter by job name")
	cmd.Flags().StringVar(&opts.Status, "status", "", "Filter by status (queued, running, cancelled, failed, succeeded)")
	cmd.Flags().IntVar(&opts.Limit, "limit", defaultListLimit, "Maximum runs to return")
	cmd.Flags().IntVar(&opts.Offset, "offset", 0, "Runs to skip")
	cmd.Flags().StringVar(&opts.Sort, "sort", "queued_at", "Sort field")
	cmd.Flags().StringVar(&opts.Order, "order", "desc", "Sort order: asc or desc")
	return cmd
}

func newRunsActiveCmd(app *adminApp) *cobra.Command {
	var limit int
	cmd := &cobra.Command{
		Use:   "active",
		Short: "List queued and running runs",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svcs, err := app.Services(cmd.Context())
			if err != nil {
				return err
			}
			runs, err := svcs.Runs.ListActive(cmd.Context(), limit)
			if err != nil {
				return err
			}
			return app.output.render(cmd.OutOrStdout(), runs, func(w io.Writer) error {
				return printRunTable(w, runs)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", defaultListLimit, "Maximum runs to return")
	return cmd
}

func newRunsStatsCmd(app *adminApp) *cobra.Command {
	return &cobra.Command{
		Use:   "stats",
		Short: "Show run counts by status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svcs, err := app.Services(cmd.Context())
			if err != nil {
				return err
			}
			stats, err := svcs.Runs.Stats(cmd.Context())
			if err != nil {
				return err
			}
			return app.output.render(cmd.OutOrStdout(), stats, func(w io.Writer) error {
				tw := newTable(w)
				rows := []struct {
					label string
					value int
				}{
					{"queued", stats.Queued},
					{"running", stats.Running},
					{"succeeded", stats.Succeeded},
					{"failed", stats.Failed},
					{"cancelled", stats.Cancelled},
					{"total", stats.Total()},
					{"last 24h", stats.Last24h},
				}
				for _, r := range rows {
					if err := writef(tw, "%s\t%d\n", r.label, r.value); err != nil {
						return err
					}
				}
				return tw.Flush()
			})
		},
	}
}

func newRunsLogsCmd(app *adminApp) *cobra.Command {
	var limit, offset int
	cmd := &cobra.Command{
		Use:   "logs <run-id>",
		Short: "Show log lines written for a run",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseRunID(args[0])
			if err != nil {
				return err
			}
			svcs, err := app.Services(cmd.Context())
			if err != nil {
				return err
			}
			logs, err := svcs.Logs.ListByRun(cmd.Context(), model.LogListOptions{RunID: id, Limit: limit, Offset: offset})
			if err != nil {
				return err
			}
			return app.output.render(cmd.OutOrStdout(), logs, func(w io.Writer) error {
				return printLogs(w, logs)
			})
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 200, "Maximum lines to return")
	cmd.Flags().IntVar(&offset, "offset", 0, "Lines to skip")
	return cmd
}

func printRunTable(w io.Writer, runs []*model.JobRun) error {
	tw := newTable(w)
	if err := writef(tw, "ID\tJOB\tSTATUS\tTRIGGER\tQUEUED\tSTARTED\tFINISHED\tSTAGE\n"); err != nil {
		return err
	}
	for _, r := range runs {
		if err := writef(tw, "%d\t%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID, r.JobName, r.Status, r.Trigger,
			fmtTime(&r.QueuedAt), fmtTime(r.StartedAt), fmtTime(r.FinishedAt), fmtString(r.CurrentStage),
		); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func printRunDetail(w io.Writer, r *model.JobRun) error {
	tw := newTable(w)
	fields := [][2]string{
		{"id", strconv.FormatInt(r.ID, 10)},
		{"job", r.JobName},
		{"version", r.Version},
		{"status", string(r.Status)},
		{"trigger", string(r.Trigger)},
		{"triggered by", r.TriggeredBy},
		{"queued", fmtTime(&r.QueuedAt)},
		{"started", fmtTime(r.StartedAt)},
		{"finished", fmtTime(r.FinishedAt)},
		{"last heartbeat", fmtTime(r.LastHeartbeatAt)},
		{"worker", fmtString(r.WorkerID)},
		{"stage", fmtString(r.CurrentStage)},
		{"progress", fmtString(r.ProgressMessage)},
		{"cancel requested", fmtTime(r.CancelRequestedAt)},
		{"cancel requested by", fmtString(r.CancelRequestedBy)},
		{"batch", fmtString(r.BatchID)},
		{"depends on", strings.Join(r.DependsOn, ",")},
		{"error", fmtString(r.Error)},
	}
	for _, f := range fields {
		value := f[1]
		if value == "" {
			value = "-"
		}
		if err := writef(tw, "%s\t%s\n", f[0], value); err != nil {
			return err
		}
	}
	if len(r.OutcomeSummary) > 0 {
		if err := writef(tw, "summary\t%s\n", r.OutcomeSummary); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func printLogs(w io.Writer, logs []*model.JobLog) error {
	for _, l := range logs {
		stage := l.Stage
		if stage == "" {
			stage = "-"
		}
		line := fmt.Sprintf("%s %-5s [%s] %s", l.CreatedAt.UTC().Format("2006-01-02T15:04:05.000Z"), l.Level, stage, l.Message)
		if len(l.Context) > 0 {
			line += " " + string(l.Context)
		}
		if err := writef(w, "%s\n", line); err != nil {
			return err
		}
	}
	return nil
}
