package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/target/mmk-jobcoord/internal/adapters/reaper"
	"github.com/target/mmk-jobcoord/internal/adapters/scheduler"
	"github.com/target/mmk-jobcoord/internal/bootstrap"
	"github.com/target/mmk-jobcoord/internal/domain/job"
	"github.com/target/mmk-jobcoord/internal/domain/model"
	"github.com/target/mmk-jobcoord/internal/migrate"
)

const (
	poolStatusLimit         = 20
	defaultMigrationTimeout = 5 * time.Minute
)

type cleanupResult struct {
	Threshold string  `json:"threshold"`
	RunIDs    []int64 `json:"run_ids"`
}

func newCleanupStalledCmd(app *adminApp) *cobra.Command {
	var threshold time.Duration
	cmd := &cobra.Command{
		Use:   "cleanup-stalled",
		Short: "Fail running runs whose heartbeat is older than the threshold",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if threshold <= 0 {
				return errors.New("--threshold must be positive")
			}
			svcs, err := app.Services(cmd.Context())
			if err != nil {
				return err
			}
			runner, err := reaper.NewRunner(reaper.RunnerOptions{
				DB:              app.db,
				Config:          app.cfg.Reaper,
				Logger:          app.logger,
				Metrics:         svcs.Observability.MetricsSink,
				FailureNotifier: svcs.Observability.FailureNotifier,
			})
			if err != nil {
				return err
			}
			ids, err := runner.Sweep(cmd.Context(), threshold)
			if err != nil {
				return err
			}
			if ids == nil {
				ids = []int64{}
			}
			res := cleanupResult{Threshold: threshold.String(), RunIDs: ids}
			return app.output.render(cmd.OutOrStdout(), res, func(w io.Writer) error {
				for _, id := range ids {
					if err := writef(w, "%d\n", id); err != nil {
						return err
					}
				}
				return writef(w, "reaped %d run(s)\n", len(ids))
			})
		},
	}
	cmd.Flags().DurationVar(&threshold, "threshold", 5*time.Minute, "Heartbeat age after which a running run is stalled")
	return cmd
}

func newWorkerCmd(app *adminApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "worker",
		Short: "Inspect and control the single worker of a pool",
	}
	cmd.PersistentFlags().StringVar(&app.cfg.Worker.Pool, "pool", app.cfg.Worker.Pool, "Worker pool")
	cmd.AddCommand(newWorkerStatusCmd(app), newWorkerStartCmd(app), newWorkerStopCmd(app))
	return cmd
}

func newWorkerStatusCmd(app *adminApp) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the pool lease and recent worker instances",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svcs, err := app.Services(cmd.Context())
			if err != nil {
				return err
			}
			status, err := svcs.Workers.PoolStatus(cmd.Context(), app.cfg.Worker.Pool, poolStatusLimit)
			if err != nil {
				return err
			}
			return app.output.render(cmd.OutOrStdout(), status, func(w io.Writer) error {
				return printPoolStatus(w, status)
			})
		},
	}
}

func newWorkerStartCmd(app *adminApp) *cobra.Command {
	return &cobra.Command{
		Use:   "start",
		Short: "Run the pool's worker in the foreground until interrupted",
		Long: `Run the pool's worker in the foreground.

The start is refused when another instance heartbeats in the pool or holds
the pool lease. The worker exits on SIGINT/SIGTERM, on 'worker stop', or
when its lease is lost.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			svcs, err := app.Services(cmd.Context())
			if err != nil {
				return err
			}
			return bootstrap.RunWorker(cmd.Context(), &bootstrap.ServiceOrchestrationConfig{
				Config:   &app.cfg,
				Services: *svcs,
				DB:       app.db,
				Logger:   app.logger,
			})
		},
	}
}

type stopResult struct {
	Pool      string `json:"pool"`
	Requested bool   `json:"requested"`
}

func newWorkerStopCmd(app *adminApp) *cobra.Command {
	var by string
	cmd := &cobra.Command{
		Use:   "stop",
		Short: "Ask the live worker of the pool to exit",
		RunE: func(cmd *cobra.Command, _ []string) error {
			svcs, err := app.Services(cmd.Context())
			if err != nil {
				return err
			}
			pool := app.cfg.Worker.Pool
			requested, err := svcs.Workers.RequestStop(cmd.Context(), pool, operator(by))
			if err != nil {
				return err
			}
			return app.output.render(cmd.OutOrStdout(), stopResult{Pool: pool, Requested: requested}, func(w io.Writer) error {
				if !requested {
					return writef(w, "no live worker holds pool %s\n", pool)
				}
				return writef(w, "stop requested for pool %s\n", pool)
			})
		},
	}
	cmd.Flags().StringVar(&by, "by", "", "Operator recorded on the lease (default: current user)")
	return cmd
}

func printPoolStatus(w io.Writer, status model.WorkerPoolStatus) error {
	if err := writef(w, "pool: %s\nactive instances: %d\n", status.Pool, status.ActiveCount); err != nil {
		return err
	}
	if l := status.Lease; l != nil {
		if err := writef(w, "lease: %s (expires %s", l.WorkerID, fmtTime(&l.ExpiresAt)); err != nil {
			return err
		}
		if l.StopRequestedAt != nil {
			if err := writef(w, ", stop requested by %s", fmtString(l.StopRequestedBy)); err != nil {
				return err
			}
		}
		if err := writef(w, ")\n"); err != nil {
			return err
		}
	} else if err := writef(w, "lease: none\n"); err != nil {
		return err
	}

	if len(status.Instances) == 0 {
		return nil
	}
	tw := newTable(w)
	if err := writef(tw, "\nID\tHOST\tPID\tSTATUS\tSTARTED\tLAST HEARTBEAT\tPROCESSED\n"); err != nil {
		return err
	}
	for _, inst := range status.Instances {
		if err := writef(tw, "%s\t%s\t%d\t%s\t%s\t%s\t%d\n",
			inst.ID, inst.Hostname, inst.PID, inst.Status,
			fmtTime(&inst.StartedAt), fmtTime(&inst.LastHeartbeatAt), inst.JobsProcessed,
		); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func newJobsCmd(app *adminApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "jobs",
		Short: "Inspect registered job definitions",
	}
	var match string
	list := &cobra.Command{
		Use:   "list",
		Short: "List registered jobs in name order",
		RunE: func(cmd *cobra.Command, _ []string) error {
			reg, err := app.Registry()
			if err != nil {
				return err
			}
			defs := reg.Definitions()
			if match = strings.TrimSpace(match); match != "" {
				if defs, err = reg.Match(match); err != nil {
					return err
				}
			}
			return app.output.render(cmd.OutOrStdout(), defs, func(w io.Writer) error {
				return printDefinitions(w, defs)
			})
		},
	}
	list.Flags().StringVar(&match, "match", "", "Only jobs whose name matches this glob")
	cmd.AddCommand(list)
	return cmd
}

func printDefinitions(w io.Writer, defs []job.Definition) error {
	tw := newTable(w)
	if err := writef(tw, "NAME\tGROUP\tVERSION\tDEPENDS ON\tDESCRIPTION\n"); err != nil {
		return err
	}
	for _, d := range defs {
		deps := strings.Join(d.Dependencies, ",")
		if deps == "" {
			deps = "-"
		}
		if err := writef(tw, "%s\t%s\t%s\t%s\t%s\n",
			d.Name, orDash(d.Group), orDash(d.Version), deps, orDash(d.Description),
		); err != nil {
			return err
		}
	}
	return tw.Flush()
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func newSchedulesCmd(app *adminApp) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "schedules",
		Short: "Inspect and toggle interval schedules",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List schedules",
		RunE: func(cmd *cobra.Command, _ []string) error {
			sched, err := app.scheduler(cmd.Context())
			if err != nil {
				return err
			}
			items, err := sched.Scheduler().List(cmd.Context())
			if err != nil {
				return err
			}
			return app.output.render(cmd.OutOrStdout(), items, func(w io.Writer) error {
				tw := newTable(w)
				if err := writef(tw, "JOB\tINTERVAL\tENABLED\tLAST QUEUED\n"); err != nil {
					return err
				}
				for _, s := range items {
					if err := writef(tw, "%s\t%s\t%t\t%s\n", s.JobName, s.Interval, s.Enabled, fmtTime(s.LastQueuedAt)); err != nil {
						return err
					}
				}
				return tw.Flush()
			})
		},
	})
	cmd.AddCommand(newScheduleToggleCmd(app, "enable", true), newScheduleToggleCmd(app, "disable", false))
	return cmd
}

func newScheduleToggleCmd(app *adminApp, verb string, enabled bool) *cobra.Command {
	return &cobra.Command{
		Use:   verb + " <job>",
		Short: strings.ToUpper(verb[:1]) + verb[1:] + " the schedule of a job",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			sched, err := app.scheduler(cmd.Context())
			if err != nil {
				return err
			}
			if err := sched.Scheduler().SetEnabled(cmd.Context(), args[0], enabled); err != nil {
				return err
			}
			return writef(cmd.OutOrStdout(), "schedule for %s %sd\n", args[0], verb)
		},
	}
}

func (a *adminApp) scheduler(ctx context.Context) (*scheduler.Runner, error) {
	svcs, err := a.Services(ctx)
	if err != nil {
		return nil, err
	}
	return scheduler.NewRunner(scheduler.RunnerOptions{
		DB:     a.db,
		Runs:   svcs.Runs,
		Config: a.cfg.Scheduler,
		Logger: a.logger,
	})
}

func newMigrateCmd(app *adminApp) *cobra.Command {
	var (
		timeout time.Duration
		status  bool
	)
	cmd := &cobra.Command{
		Use:   "migrate",
		Short: "Apply embedded database migrations",
		RunE: func(cmd *cobra.Command, _ []string) error {
			db, err := app.DB(cmd.Context())
			if err != nil {
				return err
			}
			ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
			defer cancel()

			if status {
				pending, err := migrate.Pending(ctx, db)
				if err != nil {
					return fmt.Errorf("list pending migrations: %w", err)
				}
				return app.output.render(cmd.OutOrStdout(), pending, func(w io.Writer) error {
					if len(pending) == 0 {
						return writef(w, "schema is up to date\n")
					}
					for _, v := range pending {
						if err := writef(w, "pending %s\n", v); err != nil {
							return err
						}
					}
					return nil
				})
			}
			if err := bootstrap.RunMigrations(ctx, db, app.logger); err != nil {
				return err
			}
			return writef(cmd.OutOrStdout(), "migrations applied\n")
		},
	}
	cmd.Flags().DurationVar(&timeout, "timeout", defaultMigrationTimeout, "Maximum time to wait for migrations")
	cmd.Flags().BoolVar(&status, "status", false, "List pending migrations without applying them")
	return cmd
}
