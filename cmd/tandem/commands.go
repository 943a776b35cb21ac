package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"tandem/board"
	"tandem/client"
	"tandem/domain"
)

func loginCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "login [token]",
		Short: "Store a session token",
		Long:  "Without arguments, prints the GitHub sign-in URL. Pass the session token obtained after signing in to store it.",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := a.config()
			if err != nil {
				return err
			}
			if len(args) == 0 {
				fmt.Fprintf(cmd.OutOrStdout(), "Sign in at %s/api/auth/github/login and run `tandem login <token>`\n", strings.TrimRight(cfg.Server, "/"))
				return nil
			}
			s, err := client.New(cfg.Server, args[0]).Session(cmd.Context())
			if err != nil {
				return fmt.Errorf("verify token: %w", err)
			}
			cfg.Token = args[0]
			if err := saveConfig(a.configPath, cfg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Signed in as %s <%s>\n", s.User.Name, s.User.Email)
			return nil
		},
	}
}

func whoamiCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			s, err := c.Session(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s <%s> %s\n", s.User.Name, s.User.Email, s.Role)
			return nil
		},
	}
}

func projectsCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "projects",
		Short: "List your projects",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			projects, err := c.ListProjects(cmd.Context())
			if err != nil {
				return err
			}
			tw := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tTITLE\tREPOSITORY")
			for _, p := range projects {
				repo := "-"
				if p.GithubRepoName != nil {
					repo = *p.GithubRepoName
				}
				fmt.Fprintf(tw, "%s\t%s\t%s\n", p.ID, p.Title, repo)
			}
			return tw.Flush()
		},
	}

	var description, repoID, repoName string
	create := &cobra.Command{
		Use:   "create <title>",
		Short: "Create a project",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			in := domain.NewProject{Title: args[0]}
			if description != "" {
				in.Description = &description
			}
			if repoID != "" || repoName != "" {
				in.GithubRepoID, in.GithubRepoName = &repoID, &repoName
			}
			p, err := c.CreateProject(cmd.Context(), in)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), p.ID)
			return nil
		},
	}
	create.Flags().StringVarP(&description, "description", "d", "", "project description")
	create.Flags().StringVar(&repoID, "repo-id", "", "GitHub repository id")
	create.Flags().StringVar(&repoName, "repo", "", "GitHub repository full name")
	cmd.AddCommand(create)
	return cmd
}

func boardCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "board <project-id>",
		Short: "Show a project's board",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			b, err := loadBoard(cmd.Context(), c, args[0])
			if err != nil {
				return err
			}
			renderBoard(cmd.OutOrStdout(), b.Columns())
			return nil
		},
	}
}

func watchCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "watch <project-id>",
		Short: "Follow board changes live",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			b, err := loadBoard(ctx, c, args[0])
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			renderBoard(out, b.Columns())
			return c.Stream(ctx, args[0], func(ev domain.BoardEvent) error {
				// the event only says something changed; the server copy wins
				detail, err := c.GetProject(ctx, args[0])
				if err != nil {
					return err
				}
				b.Replace(detail.Tasks)
				fmt.Fprintf(out, "\n%s %s %s\n", ev.Time.Local().Format("15:04:05"), ev.Type, shortID(ev.TaskID))
				renderBoard(out, b.Columns())
				return nil
			})
		},
	}
}

func taskCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "task", Short: "Create, edit and move tasks"}
	cmd.AddCommand(taskAddCmd(a), taskSetCmd(a), taskMoveCmd(a))
	return cmd
}

func taskAddCmd(a *app) *cobra.Command {
	var (
		status, priority, description, key string
		tags                               []string
	)
	cmd := &cobra.Command{
		Use:   "add <project-id> <title>",
		Short: "Append a task to a column",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			in := domain.NewTask{Title: args[1], Status: domain.Status(status), Priority: domain.Priority(priority), Tags: tags}
			if description != "" {
				in.Description = &description
			}
			if key == "" {
				key = uuid.NewString()
			}
			t, err := c.CreateTask(cmd.Context(), args[0], in, key)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s order=%d\n", t.ID, t.Status, t.Order)
			return nil
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "todo, in-progress or done")
	cmd.Flags().StringVarP(&priority, "priority", "p", "", "low, medium or high")
	cmd.Flags().StringVarP(&description, "description", "d", "", "task description")
	cmd.Flags().StringSliceVarP(&tags, "tag", "t", nil, "tag (repeatable)")
	cmd.Flags().StringVar(&key, "idempotency-key", "", "retry key; generated when empty")
	return cmd
}

func taskSetCmd(a *app) *cobra.Command {
	var clearFields []string
	cmd := &cobra.Command{
		Use:   "set <task-id>",
		Short: "Change task fields",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			patch, err := buildPatch(cmd, clearFields)
			if err != nil {
				return err
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			t, err := c.UpdateTask(cmd.Context(), args[0], patch)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s order=%d\n", t.ID, t.Status, t.Order)
			return nil
		},
	}
	cmd.Flags().String("title", "", "new title")
	cmd.Flags().String("status", "", "todo, in-progress or done")
	cmd.Flags().String("priority", "", "low, medium or high")
	cmd.Flags().String("description", "", "new description")
	cmd.Flags().StringSlice("tags", nil, "replace tags")
	cmd.Flags().String("branch", "", "linked GitHub branch")
	cmd.Flags().Int64("pr", 0, "linked pull request id")
	cmd.Flags().String("pr-status", "", "open, merged or closed")
	cmd.Flags().StringSliceVar(&clearFields, "clear", nil, "fields to null: description, branch, pr, pr-status, tags")
	return cmd
}

var patchFields = map[string]string{
	"title":       "title",
	"status":      "status",
	"priority":    "priority",
	"description": "description",
	"tags":        "tags",
	"branch":      "githubBranch",
	"pr":          "githubPrId",
	"pr-status":   "githubPrStatus",
}

// buildPatch turns the flags the user actually passed into a partial update.
func buildPatch(cmd *cobra.Command, clearFields []string) (client.Patch, error) {
	patch := client.Patch{}
	flags := cmd.Flags()
	for flag, field := range patchFields {
		if !flags.Changed(flag) {
			continue
		}
		switch flag {
		case "tags":
			v, _ := flags.GetStringSlice(flag)
			patch.Set(field, v)
		case "pr":
			v, _ := flags.GetInt64(flag)
			patch.Set(field, v)
		default:
			v, _ := flags.GetString(flag)
			patch.Set(field, v)
		}
	}
	for _, name := range clearFields {
		field, ok := patchFields[name]
		if !ok || name == "title" || name == "status" || name == "priority" {
			return nil, fmt.Errorf("cannot clear %q", name)
		}
		patch.Clear(field)
	}
	if len(patch) == 0 {
		return nil, errors.New("nothing to change")
	}
	return patch, nil
}

func taskMoveCmd(a *app) *cobra.Command {
	var status, over string
	cmd := &cobra.Command{
		Use:   "move <project-id> <task-id>",
		Short: "Move a task to another column or next to another task",
		Long:  "With --over the task takes the place of that task, adopting its column. With only --status it joins that column.",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			if over == "" && !domain.Status(status).Valid() {
				return errors.New("pass --over or a valid --status")
			}
			c, err := a.client()
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			b, err := loadBoard(ctx, c, args[0])
			if err != nil {
				return err
			}
			m, ok, err := planMove(b, args[1], status, over)
			if err != nil {
				return err
			}
			if !ok {
				fmt.Fprintln(cmd.OutOrStdout(), "task already there")
				return nil
			}
			if _, err := b.Submit(ctx, c, m); err != nil {
				return err
			}
			if b.Stale() {
				if b, err = loadBoard(ctx, c, args[0]); err != nil {
					return err
				}
			}
			renderBoard(cmd.OutOrStdout(), b.Columns())
			return nil
		},
	}
	cmd.Flags().StringVarP(&status, "status", "s", "", "target column")
	cmd.Flags().StringVar(&over, "over", "", "task whose place to take")
	return cmd
}

// planMove replays a drag gesture on b and returns the resulting move.
func planMove(b *board.Board, taskID, status, over string) (board.Move, bool, error) {
	if err := b.DragStart(taskID); err != nil {
		return board.Move{}, false, fmt.Errorf("%s: %w", taskID, err)
	}
	if over != "" {
		b.DragOver(board.Target{TaskID: over})
	} else {
		b.DragOver(board.Target{Column: domain.Status(status)})
	}
	m, ok := b.DragEnd()
	return m, ok, nil
}

func waitlistCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "waitlist <email>",
		Short: "Join the waitlist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			if err := c.JoinWaitlist(cmd.Context(), args[0]); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "Added to waitlist")
			return nil
		},
	}
}

func adminCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{Use: "admin", Short: "Manage access (admins only)"}

	whitelist := &cobra.Command{
		Use:   "whitelist",
		Short: "List whitelisted emails",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			entries, err := c.Whitelist(cmd.Context())
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.Email, e.CreatedAt.Format("2006-01-02"))
			}
			return nil
		},
	}
	whitelist.AddCommand(&cobra.Command{
		Use:   "add <email>",
		Short: "Allow an email to sign in",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			e, err := c.AddToWhitelist(cmd.Context(), args[0])
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), e.Email)
			return nil
		},
	}, &cobra.Command{
		Use:   "rm <email>",
		Short: "Remove an email from the whitelist",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			return c.RemoveFromWhitelist(cmd.Context(), args[0])
		},
	})

	waitlist := &cobra.Command{
		Use:   "waitlist",
		Short: "List waitlist signups",
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := a.client()
			if err != nil {
				return err
			}
			entries, err := c.Waitlist(cmd.Context())
			if err != nil {
				return err
			}
			for _, e := range entries {
				fmt.Fprintf(cmd.OutOrStdout(), "%s\t%s\n", e.Email, e.CreatedAt.Format("2006-01-02"))
			}
			return nil
		},
	}

	cmd.AddCommand(whitelist, waitlist)
	return cmd
}

func loadBoard(ctx context.Context, c *client.Client, projectID string) (*board.Board, error) {
	detail, err := c.GetProject(ctx, projectID)
	if err != nil {
		return nil, err
	}
	return board.New(detail.Tasks), nil
}

func renderBoard(w io.Writer, cols []board.Column) {
	for _, col := range cols {
		fmt.Fprintf(w, "== %s (%d) ==\n", col.Status, len(col.Tasks))
		for _, t := range col.Tasks {
			line := fmt.Sprintf("  %s  %s", shortID(t.ID), t.Title)
			if t.Priority != "" && t.Priority != domain.PriorityMedium {
				line += " [" + string(t.Priority) + "]"
			}
			if len(t.Tags) > 0 {
				line += " #" + strings.Join(t.Tags, " #")
			}
			fmt.Fprintln(w, line)
		}
	}
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}
