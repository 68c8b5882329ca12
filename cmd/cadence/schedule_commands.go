package main

import (
	"fmt"
	"strconv"
	"time"

	"github.com/spf13/cobra"

	"cadence/internal/api"
	"cadence/internal/catalog"
)

func newScheduleCommand(ctx *commandContext) *cobra.Command {
	scheduleCmd := &cobra.Command{
		Use:   "schedule",
		Short: "Manage schedules",
	}
	scheduleCmd.AddCommand(newScheduleAddCommand(ctx))
	scheduleCmd.AddCommand(newScheduleListCommand(ctx))
	scheduleCmd.AddCommand(newScheduleShowCommand(ctx))
	scheduleCmd.AddCommand(newScheduleCancelCommand(ctx))
	scheduleCmd.AddCommand(newScheduleStopCommand(ctx))
	scheduleCmd.AddCommand(newScheduleResumeCommand(ctx))
	return scheduleCmd
}

func newScheduleAddCommand(ctx *commandContext) *cobra.Command {
	var at, publishAt, visibility string
	cmd := &cobra.Command{
		Use:   "add <title-id>",
		Short: "Schedule a title for production",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			titleID, err := parseID(args[0])
			if err != nil {
				return err
			}
			now := time.Now()
			when, err := parseWhen(at, now)
			if err != nil {
				return err
			}
			req := api.ScheduleRequest{TitleID: titleID, ScheduledAt: when, Visibility: visibility}
			if publishAt != "" {
				publish, err := parseWhen(publishAt, now)
				if err != nil {
					return err
				}
				req.PublishAt = &publish
			}
			newSchedule, err := req.NewSchedule()
			if err != nil {
				return err
			}
			return ctx.withStores(func(s *stores) error {
				schedule, created, err := s.catalog.CreateSchedule(cmd.Context(), newSchedule)
				if err != nil {
					return err
				}
				if !created {
					fmt.Fprintf(cmd.OutOrStdout(), "Title %d already has active schedule %d (%s at %s)\n",
						titleID, schedule.ID, schedule.Status, formatWhen(schedule.ScheduledAt))
					return nil
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Scheduled title %d as schedule %d at %s\n",
					titleID, schedule.ID, formatWhen(schedule.ScheduledAt))
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&at, "at", "now", "Execution time (now, 2h, RFC3339, or YYYY-MM-DD HH:MM)")
	cmd.Flags().StringVar(&publishAt, "publish-at", "", "Publish time on the hosting service")
	cmd.Flags().StringVar(&visibility, "visibility", "", "Visibility (private, unlisted, public); defaults to settings")
	return cmd
}

func newScheduleListCommand(ctx *commandContext) *cobra.Command {
	var status string
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List schedules by execution time",
		RunE: func(cmd *cobra.Command, args []string) error {
			filter := catalog.ScheduleFilter{Limit: limit}
			if status != "" {
				parsed, err := catalog.ParseScheduleStatus(status)
				if err != nil {
					return err
				}
				filter.Status = parsed
			}
			return ctx.withStores(func(s *stores) error {
				schedules, err := s.catalog.ListSchedules(cmd.Context(), filter)
				if err != nil {
					return err
				}
				if asJSON {
					out := make([]api.Schedule, 0, len(schedules))
					for _, sc := range schedules {
						out = append(out, api.FromSchedule(sc, nil))
					}
					return writeJSON(cmd, out)
				}
				rows := make([][]string, 0, len(schedules))
				for _, sc := range schedules {
					rows = append(rows, []string{
						strconv.FormatInt(sc.ID, 10),
						strconv.FormatInt(sc.TitleID, 10),
						formatWhen(sc.ScheduledAt),
						string(sc.Status),
						string(sc.Visibility),
						truncate(dash(sc.ErrorMessage), 40),
					})
				}
				printTable(cmd, []string{"ID", "Title", "Scheduled", "Status", "Visibility", "Error"}, rows,
					[]columnAlignment{alignRight, alignRight})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newScheduleShowCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "show <id>",
		Short: "Show a schedule with its stage runs and pipeline log",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStores(func(s *stores) error {
				schedule, err := s.catalog.GetSchedule(cmd.Context(), id)
				if err != nil {
					return err
				}
				runs, err := s.catalog.StageRuns(cmd.Context(), id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Schedule:  %d (title %d)\n", schedule.ID, schedule.TitleID)
				fmt.Fprintf(out, "Status:    %s\n", schedule.Status)
				fmt.Fprintf(out, "Scheduled: %s\n", formatWhen(schedule.ScheduledAt))
				fmt.Fprintf(out, "Publish:   %s (%s)\n", formatWhenPtr(schedule.PublishAt), schedule.Visibility)
				fmt.Fprintf(out, "Run:       %s\n", dash(schedule.RunID))
				fmt.Fprintf(out, "Refs:      script=%s video=%s upload=%s\n",
					dash(schedule.ScriptRef), dash(schedule.VideoRef), dash(schedule.UploadRef))
				if schedule.PublishedURL != "" {
					fmt.Fprintf(out, "URL:       %s\n", schedule.PublishedURL)
				}
				if schedule.ProjectDir != "" {
					fmt.Fprintf(out, "Project:   %s\n", schedule.ProjectDir)
				}
				if schedule.DerivativeJobID != "" {
					fmt.Fprintf(out, "Short:     %s (%s)\n", schedule.DerivativeJobID, dash(string(schedule.DerivativeState)))
				}
				if schedule.ErrorMessage != "" {
					fmt.Fprintf(out, "Error:     %s\n", schedule.ErrorMessage)
				}

				rows := make([][]string, 0, len(runs))
				for _, run := range runs {
					rows = append(rows, []string{
						string(run.Stage),
						string(run.Status),
						strconv.Itoa(run.RetryCount),
						formatWhenPtr(run.StartedAt),
						formatWhenPtr(run.CompletedAt),
						truncate(dash(run.ErrorMessage), 40),
					})
				}
				fmt.Fprintln(out)
				printTable(cmd, []string{"Stage", "Status", "Retries", "Started", "Completed", "Error"}, rows,
					[]columnAlignment{alignLeft, alignLeft, alignRight})

				logs, err := s.catalog.PipelineLogs(cmd.Context(), id)
				if err != nil {
					return err
				}
				if len(logs) > 0 {
					fmt.Fprintln(out, "\nPipeline log:")
					for _, e := range logs {
						fmt.Fprintf(out, "  %s %-7s [%s] %s\n", formatWhen(e.CreatedAt), e.Stage, e.Level, e.Message)
					}
				}
				return nil
			})
		},
	}
}

func newScheduleCancelCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "cancel <id>",
		Short: "Cancel a pending schedule or one parked for manual upload",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStores(func(s *stores) error {
				if err := s.executor().CancelSchedule(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schedule %d cancelled\n", id)
				return nil
			})
		},
	}
}

func newScheduleStopCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "stop <id>",
		Short: "Fail a processing schedule that is stuck or no longer wanted",
		Long: `Stop marks a processing schedule failed, records its unfinished stage as
failed, and frees the title for a new schedule. A running daemon is asked
first so its pipeline is cancelled at once; without one the database is
updated directly.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			if client, err := ctx.apiClient(); err == nil && client.Health(cmd.Context()) == nil {
				schedule, err := client.StopSchedule(cmd.Context(), id)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schedule %d stopped (%s)\n", schedule.ID, schedule.Status)
				return nil
			}
			return ctx.withStores(func(s *stores) error {
				if err := s.executor().StopSchedule(cmd.Context(), id); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Schedule %d stopped (%s)\n", id, catalog.ScheduleFailed)
				return nil
			})
		},
	}
}

func newScheduleResumeCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "resume <id>",
		Short: "Resume a schedule parked for manual upload (requires the daemon)",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			schedule, err := client.ResumeSchedule(cmd.Context(), id)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Schedule %d resumed (%s)\n", schedule.ID, schedule.Status)
			return nil
		},
	}
}
