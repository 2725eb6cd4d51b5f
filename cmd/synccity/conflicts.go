package main

import (
	"context"
	"fmt"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"synccity/internal/app"
	"synccity/internal/domain"
	"synccity/internal/engine"
	"synccity/internal/repo"
)

func conflictCmd() *cobra.Command {
	c := &cobra.Command{Use: "conflict", Short: "Inspect and settle conflicts"}
	c.AddCommand(conflictListCmd())
	c.AddCommand(conflictShowCmd())
	c.AddCommand(conflictStatusCmd("resolve", domain.ConflictResolved, "Mark a conflict resolved"))
	c.AddCommand(conflictStatusCmd("ignore", domain.ConflictIgnored, "Ignore a conflict and close its conversation"))
	c.AddCommand(conflictStatusCmd("reopen", domain.ConflictDetected, "Reopen a settled conflict"))
	return c
}

func conflictListCmd() *cobra.Command {
	var f repo.ConflictFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListConflicts(ctx, f)
				if err != nil {
					return err
				}
				return printConflicts(items)
			})
		},
	}
	cmd.Flags().StringVar(&f.ProjectID, "project", "", "only conflicts involving this project")
	cmd.Flags().StringVar(&f.Status, "status", "", "detected, resolved or ignored")
	return cmd
}

func conflictShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <conflict-id>",
		Short: "Show a conflict",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.GetConflict(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(c)
			})
		},
	}
}

func conflictStatusCmd(use, status, short string) *cobra.Command {
	var resolution, resolutionType string
	cmd := &cobra.Command{
		Use:   use + " <conflict-id>",
		Short: short,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				c, err := a.Engine.SetConflictStatus(ctx, engine.ConflictStatusOptions{
					ID:             args[0],
					Status:         status,
					Resolution:     resolution,
					ResolutionType: resolutionType,
					ActorID:        actorID(),
				})
				if err != nil {
					return err
				}
				return printConflicts([]domain.Conflict{c})
			})
		},
	}
	if status != domain.ConflictDetected {
		cmd.Flags().StringVar(&resolution, "note", "", "resolution note")
		cmd.Flags().StringVar(&resolutionType, "type", "", "rescheduled, relocated, resourceReallocation or other")
	}
	return cmd
}

func printConflicts(items []domain.Conflict) error {
	return printJSONOrTable(items, table.Row{"ID", "Key", "Project 1", "Project 2", "Overlap", "Window", "Status"}, func(tw table.Writer) {
		for _, c := range items {
			d := c.ConflictDetails
			window := d.TemporalOverlap.StartDate.Format("2006-01-02") + " to " + d.TemporalOverlap.EndDate.Format("2006-01-02")
			tw.AppendRow(table.Row{c.ID, c.ConflictID, c.Project1ID, c.Project2ID, fmt.Sprintf("%d%%", d.SpatialOverlap), window, c.Status})
		}
	})
}

func conversationCmd() *cobra.Command {
	c := &cobra.Command{Use: "conversation", Short: "Read conflict conversations"}
	c.AddCommand(&cobra.Command{
		Use:   "show <conflict-id>",
		Short: "Show the conversation of a conflict with its messages",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				conv, err := a.Engine.GetConversationForConflict(ctx, args[0])
				if err != nil {
					return err
				}
				msgs, err := a.Engine.ListMessages(ctx, conv.ID)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"conversation": conv, "messages": msgs})
				}
				fmt.Printf("conversation %s [%s] between %s and %s\n", conv.ID, conv.Status, conv.Project1DepartmentID, conv.Project2DepartmentID)
				for _, m := range msgs {
					fmt.Printf("\n%s  %s (%s)\n%s\n", m.Timestamp, m.SenderID, m.SenderDepartmentID, m.Content)
				}
				return nil
			})
		},
	})
	return c
}

func scanCmd() *cobra.Command {
	c := &cobra.Command{Use: "scan", Short: "Run conflict detection"}
	c.AddCommand(&cobra.Command{
		Use:   "all",
		Short: "Rescan every project",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				reports, err := a.Engine.RescanAll(ctx, actorID())
				if err != nil {
					return err
				}
				return printReports(reports)
			})
		},
	})
	return c
}

func logCmd() *cobra.Command {
	c := &cobra.Command{Use: "log", Short: "Event log"}
	c.AddCommand(logTailCmd())
	return c
}

func logTailCmd() *cobra.Command {
	var f repo.EventFilter
	cmd := &cobra.Command{
		Use:   "tail",
		Short: "Show the latest events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.LatestEvents(ctx, f)
				if err != nil {
					return err
				}
				return printJSONOrTable(items, table.Row{"ID", "Time", "Type", "Entity", "Actor"}, func(tw table.Writer) {
					for _, e := range items {
						tw.AppendRow(table.Row{e.ID, e.TS, e.Type, e.EntityKind + ":" + e.EntityID, e.ActorID})
					}
				})
			})
		},
	}
	cmd.Flags().IntVarP(&f.Limit, "n", "n", 20, "number of events")
	cmd.Flags().StringVar(&f.EntityKind, "entity-kind", "", "department, project or conflict")
	cmd.Flags().StringVar(&f.EntityID, "entity-id", "", "entity id")
	return cmd
}
