package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"cadence/internal/api"
	"cadence/internal/catalog"
)

func newTitleCommand(ctx *commandContext) *cobra.Command {
	titleCmd := &cobra.Command{
		Use:   "title",
		Short: "Manage titles in the catalog",
	}
	titleCmd.AddCommand(newTitleAddCommand(ctx))
	titleCmd.AddCommand(newTitleListCommand(ctx))
	titleCmd.AddCommand(newTitleShowCommand(ctx))
	titleCmd.AddCommand(newTitleImportCommand(ctx))
	return titleCmd
}

func newTitleAddCommand(ctx *commandContext) *cobra.Command {
	var req api.TitleRequest
	cmd := &cobra.Command{
		Use:   "add <title text>",
		Short: "Add a title",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			req.Title = strings.Join(args, " ")
			return ctx.withStores(func(s *stores) error {
				newTitle, err := req.NewTitle()
				if err != nil {
					return err
				}
				title, err := s.catalog.CreateTitle(cmd.Context(), newTitle)
				if err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Added title %d: %s\n", title.ID, title.Title)
				return nil
			})
		},
	}
	cmd.Flags().StringVarP(&req.ContentType, "type", "t", "long", "Content type (short, long, product, product_info, cinematic)")
	cmd.Flags().StringVar(&req.Category, "category", "", "Category")
	cmd.Flags().StringSliceVar(&req.Tags, "tag", nil, "Tag (repeatable)")
	cmd.Flags().StringVar(&req.ChannelID, "channel", "", "Target channel id")
	cmd.Flags().StringVar(&req.ScriptMode, "script-mode", "", "Script mode (browser, api); defaults to settings")
	cmd.Flags().StringVar(&req.MediaMode, "media-mode", "", "Media mode (manual, generated, stock, ai); defaults to settings")
	cmd.Flags().StringVar(&req.Model, "model", "", "Script model hint")
	cmd.Flags().IntVarP(&req.Priority, "priority", "p", 0, "Priority (higher runs first)")
	return cmd
}

func newTitleListCommand(ctx *commandContext) *cobra.Command {
	var status string
	var limit int
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List titles by priority",
		RunE: func(cmd *cobra.Command, args []string) error {
			return ctx.withStores(func(s *stores) error {
				titles, err := s.catalog.ListTitles(cmd.Context(), catalog.TitleFilter{
					Status: catalog.TitleStatus(strings.ToLower(strings.TrimSpace(status))),
					Limit:  limit,
				})
				if err != nil {
					return err
				}
				if asJSON {
					out := make([]api.Title, 0, len(titles))
					for _, t := range titles {
						out = append(out, api.FromTitle(t))
					}
					return writeJSON(cmd, out)
				}
				rows := make([][]string, 0, len(titles))
				for _, t := range titles {
					rows = append(rows, []string{
						strconv.FormatInt(t.ID, 10),
						truncate(t.Title, 48),
						string(t.ContentType),
						string(t.MediaMode),
						strconv.Itoa(t.Priority),
						string(t.Status),
					})
				}
				printTable(cmd, []string{"ID", "Title", "Type", "Media", "Priority", "Status"}, rows,
					[]columnAlignment{alignRight, alignLeft, alignLeft, alignLeft, alignRight, alignLeft})
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&status, "status", "", "Filter by status")
	cmd.Flags().IntVar(&limit, "limit", 0, "Maximum rows")
	cmd.Flags().BoolVar(&asJSON, "json", false, "Output JSON")
	return cmd
}

func newTitleShowCommand(ctx *commandContext) *cobra.Command {
	var logLimit int
	cmd := &cobra.Command{
		Use:   "show <id>",
		Short: "Show a title, its latest schedule, and recent log lines",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := parseID(args[0])
			if err != nil {
				return err
			}
			return ctx.withStores(func(s *stores) error {
				title, err := s.catalog.GetTitle(cmd.Context(), id)
				if err != nil {
					return err
				}
				out := cmd.OutOrStdout()
				fmt.Fprintf(out, "Title:     %s\n", title.Title)
				fmt.Fprintf(out, "ID:        %d\n", title.ID)
				fmt.Fprintf(out, "Type:      %s\n", title.ContentType)
				fmt.Fprintf(out, "Status:    %s\n", title.Status)
				fmt.Fprintf(out, "Modes:     script=%s media=%s\n", title.ScriptMode, title.MediaMode)
				fmt.Fprintf(out, "Priority:  %d\n", title.Priority)
				fmt.Fprintf(out, "Channel:   %s\n", dash(title.ChannelID))
				if len(title.Tags) > 0 {
					fmt.Fprintf(out, "Tags:      %s\n", strings.Join(title.Tags, ", "))
				}
				if schedule, err := s.catalog.LatestScheduleForTitle(cmd.Context(), id); err == nil && schedule != nil {
					fmt.Fprintf(out, "Schedule:  #%d %s at %s\n", schedule.ID, schedule.Status, formatWhen(schedule.ScheduledAt))
				}

				entries, err := s.catalog.TitleLogs(cmd.Context(), id, logLimit)
				if err != nil {
					return err
				}
				if len(entries) > 0 {
					fmt.Fprintln(out, "\nRecent log:")
					for _, e := range entries {
						fmt.Fprintf(out, "  %s [%s] %s\n", formatWhen(e.CreatedAt), e.Level, e.Message)
					}
				}
				return nil
			})
		},
	}
	cmd.Flags().IntVar(&logLimit, "logs", 20, "Number of log lines to show")
	return cmd
}

// importEntry is one title in an import file, optionally scheduled.
type importEntry struct {
	api.TitleRequest `yaml:",inline"`
	ScheduleAt       string `yaml:"schedule_at"`
	PublishAt        string `yaml:"publish_at"`
	Visibility       string `yaml:"visibility"`
}

type importFile struct {
	Titles []importEntry `yaml:"titles"`
}

func parseImportFile(data []byte) ([]importEntry, error) {
	var wrapped importFile
	if err := yaml.Unmarshal(data, &wrapped); err == nil && len(wrapped.Titles) > 0 {
		return wrapped.Titles, nil
	}
	var entries []importEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse import file: %w", err)
	}
	return entries, nil
}

func newTitleImportCommand(ctx *commandContext) *cobra.Command {
	return &cobra.Command{
		Use:   "import <file.yaml>",
		Short: "Bulk-add titles (and optional schedules) from YAML",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("read import file: %w", err)
			}
			entries, err := parseImportFile(data)
			if err != nil {
				return err
			}
			if len(entries) == 0 {
				return fmt.Errorf("import file %s contains no titles", args[0])
			}
			return ctx.withStores(func(s *stores) error {
				added, scheduled := 0, 0
				for i, entry := range entries {
					ok, err := importOne(cmd.Context(), s.catalog, entry)
					if err != nil {
						fmt.Fprintf(cmd.ErrOrStderr(), "entry %d (%q): %v\n", i+1, entry.Title, err)
						continue
					}
					added++
					if ok {
						scheduled++
					}
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Imported %d of %d title(s); %d scheduled\n", added, len(entries), scheduled)
				if added < len(entries) {
					return fmt.Errorf("%d import entries failed", len(entries)-added)
				}
				return nil
			})
		},
	}
}

func importOne(ctx context.Context, cat *catalog.Store, entry importEntry) (bool, error) {
	req, err := entry.NewTitle()
	if err != nil {
		return false, err
	}
	var schedule *api.ScheduleRequest
	if strings.TrimSpace(entry.ScheduleAt) != "" {
		now := time.Now()
		at, err := parseWhen(entry.ScheduleAt, now)
		if err != nil {
			return false, err
		}
		schedule = &api.ScheduleRequest{ScheduledAt: at, Visibility: entry.Visibility}
		if strings.TrimSpace(entry.PublishAt) != "" {
			publishAt, err := parseWhen(entry.PublishAt, now)
			if err != nil {
				return false, err
			}
			schedule.PublishAt = &publishAt
		}
	}
	title, err := cat.CreateTitle(ctx, req)
	if err != nil {
		return false, err
	}
	if schedule == nil {
		return false, nil
	}
	schedule.TitleID = title.ID
	newSchedule, err := schedule.NewSchedule()
	if err != nil {
		return false, err
	}
	if _, _, err := cat.CreateSchedule(ctx, newSchedule); err != nil {
		return false, err
	}
	return true, nil
}
