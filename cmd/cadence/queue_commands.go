package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"cadence/internal/api"
	"cadence/internal/queue"
)

func newQueueCommand(ctx *commandContext) *cobra.Command {
	queueCmd := &cobra.Command{
		Use:   "queue",
		Short: "Inspect and manage the admission queue",
	}
	queueCmd.AddCommand(newQueueListCommand(ctx))
	queueCmd.AddCommand(newQueueSummaryCommand(ctx))
	queueCmd.AddCommand(newQueueHealthCommand(ctx))
	queueCmd.AddCommand(newQueueCancelCommand(ctx))
	queueCmd.AddCommand(newQueueRetryCommand(ctx))
	queueCmd.AddCommand(newQueueCleanupCommand(ctx))
	queueCmd.AddCommand(newQueueReleaseCommand(ctx))
	queueCmd.AddCommand(newQueueLocksCommand(ctx))
	return queueCmd
}

func newQueueListCommand(ctx *commandContext) *cobra.Command {
	var taskType, status, owner string
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List queue tasks in dispatch order",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := queue.Filter{Owner: owner, Limit: limit}
			if taskType != "" {
				parsed, err := queue.ParseTaskType(taskType)
				if err != nil {
					return err
				}
				filter.Type = parsed
			}
			if status != "" {
				parsed, err := queue.ParseStatus(status)
				if err != nil {
					return err
				}
				filter.Status = parsed
			}
			return ctx.withStores(func(s *stores) error {
				tasks, err := s.queue.List(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.FromTasks(tasks))
				}
				rows := make([][]string, 0, len(tasks))
				for _, t := range tasks {
					rows = append(rows, []string{
						strconv.FormatInt(t.ID, 10),
						string(t.Type),
						string(t.Status),
						strconv.Itoa(t.Priority),
						dash(t.Owner.User),
						dash(t.Owner.Project),
						fmt.Sprintf("%d/%d", t.RetryCount, t.MaxRetries),
						formatWhen(t.CreatedAt),
						truncate(dash(t.ErrorMessage), 40),
					})
				}
				printTable(cmd, []string{"ID", "Type", "Status", "Priority", "User", "Project", "Retries", "Created", "Error"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight})
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&taskType, "type", "t", "", "Filter by task type (script, image, video)")
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().StringVar(&owner, "owner", "", "Filter by owning user")
	cmd.Flags().IntVar(&limit, "limit", 50, "Maximum rows")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newQueueSummaryCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "summary",
		Short: "Count tasks per type and status",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(s *stores) error {
				summary, err := s.queue.Summary(cmd.Context())
				if err != nil {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.FromSummary(summary))
				}
				headers := []string{"Type"}
				aligns := []columnAlignment{alignLeft}
				for _, status := range queue.AllStatuses {
					headers = append(headers, string(status))
					aligns = append(aligns, alignRight)
				}
				rows := make([][]string, 0, len(queue.AllTaskTypes))
				for _, t := range queue.AllTaskTypes {
					row := []string{string(t)}
					for _, status := range queue.AllStatuses {
						row = append(row, strconv.Itoa(summary.Count(t, status)))
					}
					rows = append(rows, row)
				}
				printTable(cmd, headers, rows, aligns)
				return nil
			})
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newQueueHealthCommand(ctx *commandContext) *cobra.Command {
	var staleMinutes int
	cmd := &cobra.Command{
		Use:   "health",
		Short: "Report tasks processing past the staleness threshold",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(s *stores) error {
				staleAfter := s.cfg.QueueStaleAfter()
				if staleMinutes > 0 {
					staleAfter = time.Duration(staleMinutes) * time.Minute
				}
				report, err := s.queue.HealthCheck(cmd.Context(), staleAfter)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				if report.Healthy() {
					fmt.Fprintf(out, "Queue healthy (stale after %s)\n", staleAfter)
					return nil
				}
				fmt.Fprintf(out, "%d task(s) processing longer than %s\n", len(report.Stuck), staleAfter)
				rows := make([][]string, 0, len(report.Stuck))
				for _, t := range report.Stuck {
					rows = append(rows, []string{
						strconv.FormatInt(t.ID, 10),
						string(t.Type),
						formatWhenPtr(t.StartedAt),
						strconv.FormatInt(t.Metadata.ScheduleID, 10),
					})
				}
				printTable(cmd, []string{"ID", "Type", "Started", "Schedule"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignRight})
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&staleMinutes, "stale-minutes", 0, "Override the configured staleness threshold")
	return cmd
}

func newQueueCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a waiting task",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStores(func(s *stores) error {
				if err := s.queue.Cancel(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d cancelled\n", id)
				return nil
			})
		},
	}
}

func newQueueRetryCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "retry <id>",
		Short: "Requeue a failed task with remaining retry budget",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStores(func(s *stores) error {
				task, err := s.queue.Requeue(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Task %d requeued (attempt %d of %d)\n", task.ID, task.RetryCount, task.MaxRetries)
				return nil
			})
		},
	}
}

func newQueueCleanupCommand(ctx *commandContext) *cobra.Command {
	var days int
	cmd := &cobra.Command{
		Use:   "cleanup",
		Short: "Delete finished tasks older than the retention window",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(s *stores) error {
				retention := days
				if retention <= 0 {
					retention = s.cfg.Queue.RetentionDays
				}
				removed, err := s.queue.Cleanup(cmd.Context(), retention)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Removed %d task(s) older than %d day(s)\n", removed, retention)
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&days, "days", 0, "Retention in days (defaults to queue.retention_days)")
	return cmd
}

func newQueueReleaseCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "release <type>",
		Short: "Force-release a resource lock held by a dead worker",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			taskType, err := queue.ParseTaskType(args[0])
			if err != nil {
				return err
			}
			return ctx.withStores(func(s *stores) error {
				released, err := s.queue.ForceRelease(cmd.Context(), taskType)
				if err != nil {
					return err
				}
				if !released {
					fmt.Fprintf(cmd.OutOrStdout(), "No %s lock held\n", taskType)
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Released %s lock\n", taskType)
				return nil
			})
		},
	}
}

func newQueueLocksCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "locks",
		Short: "Show resource lock holders",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(s *stores) error {
				locks, err := s.queue.Locks(cmd.Context())
				if err != nil {
					return err
				}
				rows := make([][]string, 0, len(locks))
				for _, l := range locks {
					holder := "-"
					if l.Held() {
						holder = strconv.FormatInt(l.TaskID, 10)
					}
					pid := "-"
					if l.WorkerPID > 0 {
						pid = strconv.Itoa(l.WorkerPID)
					}
					rows = append(rows, []string{string(l.Type), holder, formatWhenPtr(l.LockedAt), pid})
				}
				printTable(cmd, []string{"Type", "Task", "Locked", "PID"}, rows,
					[]columnAlignment{alignLeft, alignRight, alignLeft, alignRight})
				return nil
			})
		},
	}
}
