package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/pkg/errors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"synccity/internal/app"
	"synccity/internal/conflict"
	"synccity/internal/domain"
	"synccity/internal/engine"
	"synccity/internal/repo"
)

func departmentCmd() *cobra.Command {
	dept := &cobra.Command{Use: "department", Short: "Manage departments"}
	dept.AddCommand(departmentCreateCmd())
	dept.AddCommand(departmentListCmd())
	return dept
}

func departmentCreateCmd() *cobra.Command {
	var opts engine.DepartmentCreateOptions
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a department",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts.ActorID = actorID()
				d, err := a.Engine.CreateDepartment(ctx, opts)
				if err != nil {
					return err
				}
				return printDepartments([]domain.Department{d})
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "department id (generated when empty)")
	cmd.Flags().StringVar(&opts.Name, "name", "", "department name")
	cmd.Flags().StringVar(&opts.Email, "email", "", "contact email")
	cmd.Flags().StringVar(&opts.PointOfContact, "contact", "", "point of contact")
	_ = cmd.MarkFlagRequired("name")
	return cmd
}

func departmentListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List departments",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListDepartments(ctx)
				if err != nil {
					return err
				}
				return printDepartments(items)
			})
		},
	}
}

func printDepartments(items []domain.Department) error {
	return printJSONOrTable(items, table.Row{"ID", "Name", "Email", "Contact"}, func(tw table.Writer) {
		for _, d := range items {
			tw.AppendRow(table.Row{d.ID, d.Name, d.Email, d.PointOfContact})
		}
	})
}

func projectCmd() *cobra.Command {
	prj := &cobra.Command{Use: "project", Short: "Manage projects"}
	prj.AddCommand(projectCreateCmd())
	prj.AddCommand(projectListCmd())
	prj.AddCommand(projectShowCmd())
	prj.AddCommand(projectUpdateCmd())
	prj.AddCommand(projectDeleteCmd())
	prj.AddCommand(projectRescanCmd())
	return prj
}

// locationFlags collects a project location from the command line.
type locationFlags struct {
	kind     string
	lng, lat float64
	coords   string
	radius   float64
}

func (f *locationFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.kind, "location-type", "Point", "Point, Polygon or LineString")
	cmd.Flags().Float64Var(&f.lng, "lng", 0, "longitude for a Point")
	cmd.Flags().Float64Var(&f.lat, "lat", 0, "latitude for a Point")
	cmd.Flags().StringVar(&f.coords, "coords", "", "GeoJSON coordinates as JSON, overrides --lng/--lat")
	cmd.Flags().Float64Var(&f.radius, "radius", 0, "radius in meters (default from config)")
}

func (f *locationFlags) changed(cmd *cobra.Command) bool {
	for _, name := range []string{"location-type", "lng", "lat", "coords", "radius"} {
		if cmd.Flags().Changed(name) {
			return true
		}
	}
	return false
}

func (f *locationFlags) location(cmd *cobra.Command) (domain.Location, error) {
	loc := domain.Location{Type: f.kind}
	if f.coords != "" {
		if !json.Valid([]byte(f.coords)) {
			return loc, errors.New("--coords must be valid JSON")
		}
		loc.Coordinates = json.RawMessage(f.coords)
	} else {
		if !strings.EqualFold(f.kind, "Point") {
			return loc, errors.Errorf("--coords is required for %s", f.kind)
		}
		raw, _ := json.Marshal([]float64{f.lng, f.lat})
		loc.Coordinates = raw
	}
	if cmd.Flags().Changed("radius") {
		r := f.radius
		loc.Radius = &r
	}
	return loc, nil
}

func projectCreateCmd() *cobra.Command {
	var opts engine.ProjectCreateOptions
	var start, end string
	var budget float64
	var loc locationFlags
	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a project and scan it for conflicts",
		RunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if opts.StartDate, err = parseDate("start", start); err != nil {
				return err
			}
			if opts.EndDate, err = parseDate("end", end); err != nil {
				return err
			}
			if opts.Location, err = loc.location(cmd); err != nil {
				return err
			}
			if cmd.Flags().Changed("budget") {
				opts.Budget = &budget
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts.ActorID = actorID()
				p, report, err := a.Engine.CreateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printProjectWrite(p, report)
			})
		},
	}
	cmd.Flags().StringVar(&opts.ID, "id", "", "project id (generated when empty)")
	cmd.Flags().StringVar(&opts.DepartmentID, "department", "", "owning department id")
	cmd.Flags().StringVar(&opts.Name, "name", "", "project name")
	cmd.Flags().StringVar(&opts.Description, "description", "", "description")
	cmd.Flags().StringVar(&start, "start", "", "start date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&end, "end", "", "end date (YYYY-MM-DD or RFC 3339)")
	cmd.Flags().StringVar(&opts.Status, "status", "", "active, completed or cancelled")
	cmd.Flags().StringVar(&opts.Priority, "priority", "", "low, medium or high")
	cmd.Flags().Float64Var(&budget, "budget", 0, "budget")
	cmd.Flags().StringSliceVar(&opts.ResourcesRequired, "resource", nil, "required resource (repeatable)")
	loc.register(cmd)
	for _, name := range []string{"department", "name", "start", "end"} {
		_ = cmd.MarkFlagRequired(name)
	}
	return cmd
}

func projectListCmd() *cobra.Command {
	var f repo.ProjectFilter
	cmd := &cobra.Command{
		Use:   "list",
		Short: "List projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				items, err := a.Engine.ListProjects(ctx, f)
				if err != nil {
					return err
				}
				return printProjects(items)
			})
		},
	}
	cmd.Flags().StringVar(&f.DepartmentID, "department", "", "department filter")
	cmd.Flags().StringVar(&f.Status, "status", "", "status filter")
	return cmd
}

func projectShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show <project-id>",
		Short: "Show a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				p, err := a.Engine.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				return printJSON(p)
			})
		},
	}
}

func projectUpdateCmd() *cobra.Command {
	var department, name, description, start, end, status, priority string
	var budget float64
	var resources []string
	var loc locationFlags
	cmd := &cobra.Command{
		Use:   "update <project-id>",
		Short: "Update a project and rescan it",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			opts := engine.ProjectUpdateOptions{ID: args[0]}
			flags := cmd.Flags()
			if flags.Changed("department") {
				opts.DepartmentID = &department
			}
			if flags.Changed("name") {
				opts.Name = &name
			}
			if flags.Changed("description") {
				opts.Description = &description
			}
			if flags.Changed("status") {
				opts.Status = &status
			}
			if flags.Changed("priority") {
				opts.Priority = &priority
			}
			if flags.Changed("budget") {
				opts.Budget = &budget
			}
			if flags.Changed("resource") {
				opts.ResourcesRequired = &resources
			}
			if flags.Changed("start") {
				t, err := parseDate("start", start)
				if err != nil {
					return err
				}
				opts.StartDate = &t
			}
			if flags.Changed("end") {
				t, err := parseDate("end", end)
				if err != nil {
					return err
				}
				opts.EndDate = &t
			}
			if loc.changed(cmd) {
				l, err := loc.location(cmd)
				if err != nil {
					return err
				}
				opts.Location = &l
			}
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				opts.ActorID = actorID()
				p, report, err := a.Engine.UpdateProject(ctx, opts)
				if err != nil {
					return err
				}
				return printProjectWrite(p, report)
			})
		},
	}
	cmd.Flags().StringVar(&department, "department", "", "owning department id")
	cmd.Flags().StringVar(&name, "name", "", "project name")
	cmd.Flags().StringVar(&description, "description", "", "description")
	cmd.Flags().StringVar(&start, "start", "", "start date")
	cmd.Flags().StringVar(&end, "end", "", "end date")
	cmd.Flags().StringVar(&status, "status", "", "active, completed or cancelled")
	cmd.Flags().StringVar(&priority, "priority", "", "low, medium or high")
	cmd.Flags().Float64Var(&budget, "budget", 0, "budget")
	cmd.Flags().StringSliceVar(&resources, "resource", nil, "required resource (repeatable, replaces the list)")
	loc.register(cmd)
	return cmd
}

func projectDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <project-id>",
		Short: "Delete a project and every conflict it is part of",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				cleared, err := a.Engine.DeleteProject(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"id": args[0], "cleared_conflicts": cleared})
				}
				fmt.Printf("deleted %s, cleared %d conflict(s)\n", args[0], len(cleared))
				return nil
			})
		},
	}
}

func projectRescanCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "rescan <project-id>",
		Short: "Re-run conflict detection for one project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.App) error {
				report, err := a.Engine.Rescan(ctx, args[0], actorID())
				if err != nil {
					return err
				}
				return printReports([]conflict.Report{report})
			})
		},
	}
}

func printProjects(items []domain.Project) error {
	return printJSONOrTable(items, table.Row{"ID", "Department", "Name", "Start", "End", "Status", "Priority", "Location"}, func(tw table.Writer) {
		for _, p := range items {
			tw.AppendRow(table.Row{p.ID, p.DepartmentID, p.Name, p.StartDate.Format("2006-01-02"), p.EndDate.Format("2006-01-02"), p.Status, p.Priority, p.Location.Type})
		}
	})
}

func printProjectWrite(p domain.Project, report conflict.Report) error {
	if viper.GetBool("json") {
		return printJSON(map[string]any{"project": p, "scan": report})
	}
	if err := printProjects([]domain.Project{p}); err != nil {
		return err
	}
	return printReports([]conflict.Report{report})
}

func printReports(reports []conflict.Report) error {
	err := printJSONOrTable(reports, table.Row{"Project", "Inserted", "Deleted", "Reopened", "Refreshed", "Unchanged", "Failed", "Queued"}, func(tw table.Writer) {
		for _, r := range reports {
			tw.AppendRow(table.Row{r.ProjectID, strings.Join(r.Inserted, ","), strings.Join(r.Deleted, ","), strings.Join(r.Reopened, ","), strings.Join(r.Refreshed, ","), r.Unchanged, r.Failed, r.Queued})
		}
	})
	for _, r := range reports {
		if r.Warning != "" && !viper.GetBool("json") {
			fmt.Fprintln(os.Stderr, "warning:", r.Warning)
		}
	}
	return err
}
