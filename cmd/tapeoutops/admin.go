package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"tapeoutops/internal/app"
	"tapeoutops/internal/db"
	"tapeoutops/internal/domain"
	"tapeoutops/internal/engine"
	"tapeoutops/internal/lint"
	"tapeoutops/internal/migrate"
	"tapeoutops/internal/repo"
	tapeoutopssdk "tapeoutops/sdk/go"
)

// cliActor is used for operator commands run with direct database access.
var cliActor = domain.Actor{UserID: "cli", Role: domain.RoleAdmin}

func migrateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "migrate",
		Short: "Apply database migrations",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			if err := db.EnsureDataDir(cfg.DataDir); err != nil {
				return err
			}
			conn, err := db.Open(db.Config{DataDir: cfg.DataDir})
			if err != nil {
				return err
			}
			defer conn.Close()
			if err := migrate.MigrateContext(cmd.Context(), conn); err != nil {
				return err
			}
			st, err := migrate.CurrentStatus(cmd.Context(), conn)
			if err != nil {
				return err
			}
			if viper.GetBool("json") {
				return printJSON(st)
			}
			fmt.Printf("Schema at version %d (latest %d)\n", st.Current, st.Latest)
			return nil
		},
	}
}

func userCmd() *cobra.Command {
	user := &cobra.Command{Use: "user", Short: "Manage user accounts"}

	var email, password, name, role string
	create := &cobra.Command{
		Use:   "create",
		Short: "Create a user (the first user becomes admin)",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				u, err := a.Engine.Signup(ctx, engine.SignupInput{Email: email, Password: password, FullName: name})
				if err != nil {
					return err
				}
				if role != "" && role != u.Role {
					u, err = a.Engine.UpdateUser(ctx, cliActor, u.ID, engine.UserUpdateInput{Role: &role})
					if err != nil {
						return err
					}
				}
				if viper.GetBool("json") {
					return printJSON(u)
				}
				fmt.Printf("Created %s (%s) id=%s\n", u.Email, u.Role, u.ID)
				return nil
			})
		},
	}
	create.Flags().StringVar(&email, "email", "", "email address")
	create.Flags().StringVar(&password, "password", "", "password (min 8 characters)")
	create.Flags().StringVar(&name, "name", "", "full name")
	create.Flags().StringVar(&role, "role", "", "admin|engineer|pm")
	_ = create.MarkFlagRequired("email")
	_ = create.MarkFlagRequired("password")
	user.AddCommand(create)

	user.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List users",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				users, err := a.Engine.ListUsers(ctx, cliActor)
				if err != nil {
					return err
				}
				return printJSONOrTable(users, func() {
					tw := newTable()
					tw.AppendHeader(table.Row{"ID", "Email", "Name", "Role", "Active"})
					for _, u := range users {
						tw.AppendRow(table.Row{u.ID, u.Email, u.FullName, u.Role, u.IsActive})
					}
					tw.Render()
				})
			})
		},
	})
	return user
}

func lintCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "lint <file>",
		Short: "Lint a specification document locally",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return err
			}
			res := lint.Run(data)
			err = printJSONOrTable(res, func() {
				tw := newTable()
				tw.AppendHeader(table.Row{"Severity", "Type", "Location", "Message"})
				for _, is := range res.Issues {
					tw.AppendRow(table.Row{is.Severity, is.Type, is.Location, is.Message})
				}
				tw.AppendFooter(table.Row{"", "", "", res.Summary})
				tw.Render()
			})
			if err != nil {
				return err
			}
			if errs, _, _ := res.Counts(); errs > 0 {
				return fmt.Errorf("%s has lint errors", filepath.Base(args[0]))
			}
			return nil
		},
	}
}

func evidenceCmd() *cobra.Command {
	evidence := &cobra.Command{Use: "evidence", Short: "Maintain the evidence store"}
	var remove bool
	sync := &cobra.Command{
		Use:   "sync",
		Short: "Report evidence files that are orphaned or missing",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				rep, err := a.Engine.SyncEvidence(ctx, remove)
				if err != nil {
					return err
				}
				return printJSONOrTable(rep, func() {
					tw := newTable()
					tw.AppendHeader(table.Row{"State", "File"})
					for _, f := range rep.Missing {
						tw.AppendRow(table.Row{"missing", f})
					}
					removed := make(map[string]bool, len(rep.Removed))
					for _, f := range rep.Removed {
						removed[f] = true
					}
					for _, f := range rep.Orphaned {
						state := "orphaned"
						if removed[f] {
							state = "removed"
						}
						tw.AppendRow(table.Row{state, f})
					}
					tw.Render()
				})
			})
		},
	}
	sync.Flags().BoolVar(&remove, "remove", false, "delete orphaned files")
	evidence.AddCommand(sync)
	return evidence
}

func auditCmd() *cobra.Command {
	audit := &cobra.Command{Use: "audit", Short: "Inspect the audit log"}
	var (
		limit     int
		eventType string
		outcome   string
	)
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Show the most recent audit events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withApp(cmd.Context(), func(ctx context.Context, a *app.Context) error {
				page, err := a.Engine.AuditEvents(ctx, repo.AuditFilter{Type: eventType, Outcome: outcome, Limit: limit}, "")
				if err != nil {
					return err
				}
				return printJSONOrTable(page.Events, func() {
					tw := newTable()
					tw.AppendHeader(table.Row{"ID", "Time", "Type", "Actor", "Resource", "Outcome"})
					for _, ev := range page.Events {
						tw.AppendRow(table.Row{ev.ID, ev.TS, ev.Type, ev.ActorID, ev.ResourceType + ":" + ev.ResourceID, ev.Outcome})
					}
					tw.Render()
				})
			})
		},
	}
	tail.Flags().IntVar(&limit, "limit", 20, "number of events")
	tail.Flags().StringVar(&eventType, "type", "", "filter by event type, e.g. spec.approved")
	tail.Flags().StringVar(&outcome, "outcome", "", "success|failure")
	audit.AddCommand(tail)
	return audit
}

func specCmd() *cobra.Command {
	spec := &cobra.Command{Use: "spec", Short: "Work with a remote TapeOutOps server"}
	var (
		server, apiKey  string
		project, name   string
		version, descr  string
		metadata        string
		lintAfterUpload bool
	)
	push := &cobra.Command{
		Use:   "push <file>",
		Short: "Upload a specification document as a new draft",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			f, err := os.Open(args[0])
			if err != nil {
				return err
			}
			defer f.Close()
			up := tapeoutopssdk.SpecUpload{
				ProjectID:   project,
				Name:        name,
				Version:     version,
				Description: descr,
				Filename:    filepath.Base(args[0]),
				Content:     f,
			}
			if metadata != "" {
				if err := json.Unmarshal([]byte(metadata), &up.Metadata); err != nil {
					return fmt.Errorf("--metadata must be a JSON object: %w", err)
				}
			}
			client := tapeoutopssdk.New(server)
			client.APIKey = apiKey
			s, err := client.UploadSpec(cmd.Context(), up)
			if err != nil {
				return err
			}
			out := map[string]any{"spec": s}
			if lintAfterUpload {
				res, err := client.LintSpec(cmd.Context(), s.ID)
				if err != nil {
					return err
				}
				out["lint"] = res
			}
			if viper.GetBool("json") {
				return printJSON(out)
			}
			fmt.Printf("Uploaded %s %s as %s (%s)\n", s.Name, s.Version, s.ID, s.Status)
			if res, ok := out["lint"].(tapeoutopssdk.LintResult); ok {
				fmt.Println("Lint:", res.Summary)
			}
			return nil
		},
	}
	push.Flags().StringVar(&server, "server", "http://localhost:8080", "server URL")
	push.Flags().StringVar(&apiKey, "api-key", os.Getenv("TAPEOUTOPS_API_KEY"), "API key")
	push.Flags().StringVar(&project, "project", "", "project id")
	push.Flags().StringVar(&name, "name", "", "spec name")
	push.Flags().StringVar(&version, "version", "", "spec version")
	push.Flags().StringVar(&descr, "description", "", "description")
	push.Flags().StringVar(&metadata, "metadata", "", "metadata JSON object")
	push.Flags().BoolVar(&lintAfterUpload, "lint", false, "lint after upload")
	for _, f := range []string{"project", "name", "version"} {
		_ = push.MarkFlagRequired(f)
	}
	spec.AddCommand(push)
	return spec
}

func newTable() table.Writer {
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.SetStyle(table.StyleLight)
	return tw
}

func printJSONOrTable(v any, render func()) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	render()
	return nil
}
