package main

import (
	"errors"
	"fmt"
	"sort"
	"strconv"

	"github.com/spf13/cobra"

	"cadence/internal/api"
	"cadence/internal/preflight"
	"cadence/internal/queue"
)

func newStatusCommand(ctx *commandContext) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := ctx.apiClient()
			if err != nil {
				return err
			}
			status, err := client.Status(cmd.Context())
			if err != nil {
				if !errors.Is(err, api.ErrDaemonUnreachable) {
					return err
				}
				if asJSON {
					return writeJSON(cmd, api.DaemonStatus{})
				}
				return printOffline(cmd, ctx)
			}
			if asJSON {
				return writeJSON(cmd, status)
			}
			printStatus(cmd, status)
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func printStatus(cmd *cobra.Command, status api.DaemonStatus) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Daemon:    running (pid %d)\n", status.PID)
	fmt.Fprintf(out, "Database:  %s\n", status.DatabasePath)
	sched := status.Scheduler
	state := "stopped"
	if sched.Running {
		state = "running"
	}
	fmt.Fprintf(out, "Scheduler: %s, %d tick(s), %d skipped, last %s\n",
		state, sched.Ticks, sched.SkippedTicks, formatWhen(sched.LastTick))
	fmt.Fprintf(out, "Active:    %d pipeline(s), %d task(s)\n", sched.ActivePipelines, sched.ActiveTasks)
	if sched.LastError != "" {
		fmt.Fprintf(out, "Error:     %s\n", sched.LastError)
	}
	if enabled, ok := status.Settings["enabled"]; ok {
		fmt.Fprintf(out, "Enabled:   %s\n", enabled)
	}
	if status.Host != nil {
		fmt.Fprintf(out, "Host:      cpu %.1f%%, memory %.1f%%\n", status.Host.CPUPercent, status.Host.MemoryPercent)
	}

	if len(status.Schedules) > 0 {
		keys := make([]string, 0, len(status.Schedules))
		for key := range status.Schedules {
			keys = append(keys, key)
		}
		sort.Strings(keys)
		rows := make([][]string, 0, len(keys))
		for _, key := range keys {
			rows = append(rows, []string{key, strconv.Itoa(status.Schedules[key])})
		}
		fmt.Fprintln(out)
		printTable(cmd, []string{"Schedule status", "Count"}, rows, []columnAlignment{alignLeft, alignRight})
	}

	rows := make([][]string, 0, len(queue.AllTaskTypes))
	for _, t := range queue.AllTaskTypes {
		counts := status.Queue[string(t)]
		rows = append(rows, []string{
			string(t),
			strconv.Itoa(counts[string(queue.StatusWaiting)]),
			strconv.Itoa(counts[string(queue.StatusProcessing)]),
		})
	}
	fmt.Fprintln(out)
	printTable(cmd, []string{"Queue", "Waiting", "Processing"}, rows, []columnAlignment{alignLeft, alignRight, alignRight})
}

func printOffline(cmd *cobra.Command, ctx *commandContext) error {
	cfg, err := ctx.ensureConfig()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "Daemon:    not running")
	fmt.Fprintf(out, "Database:  %s\n", cfg.DatabasePath())
	fmt.Fprintln(out)

	results := preflight.RunAll(cmd.Context(), cfg)
	rows := make([][]string, 0, len(results))
	for _, r := range results {
		rows = append(rows, []string{r.Name, yesNo(r.Passed), yesNo(r.Required), dash(r.Detail)})
	}
	printTable(cmd, []string{"Check", "Passed", "Required", "Detail"}, rows, nil)
	return nil
}
