package cmd

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/samsaffron/storyloom/internal/llm"
	"github.com/samsaffron/storyloom/internal/session"
	"github.com/samsaffron/storyloom/internal/ui"
)

var (
	sessionsLimit   int
	sessionsProject string
	sessionsJSON    bool
	sessionsForce   bool
)

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "Manage saved chat sessions",
	Long: `List, show and delete saved chat sessions. Incognito sessions are never saved.

Examples:
  storyloom sessions                  # list recent sessions
  storyloom sessions show <id>
  storyloom sessions rm <id>`,
	RunE: runSessionsList, // Default to list
}

var sessionsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List sessions",
	RunE:  runSessionsList,
}

var sessionsShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a session transcript",
	Args:  cobra.ExactArgs(1),
	RunE:  runSessionsShow,
}

var sessionsRmCmd = &cobra.Command{
	Use:     "rm <id>",
	Aliases: []string{"delete"},
	Short:   "Delete a session",
	Args:    cobra.ExactArgs(1),
	RunE:    runSessionsRm,
}

func init() {
	for _, c := range []*cobra.Command{sessionsCmd, sessionsListCmd} {
		c.Flags().IntVarP(&sessionsLimit, "limit", "n", 20, "Maximum sessions to list")
		c.Flags().StringVar(&sessionsProject, "project", "", "Only list sessions of this project")
	}
	sessionsShowCmd.Flags().BoolVar(&sessionsJSON, "json", false, "Print the session as JSON")
	sessionsRmCmd.Flags().BoolVarP(&sessionsForce, "force", "f", false, "Delete without asking")

	sessionsCmd.AddCommand(sessionsListCmd, sessionsShowCmd, sessionsRmCmd)
	rootCmd.AddCommand(sessionsCmd)
}

func sessionStore() (session.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	if !cfg.Sessions.Enabled {
		return nil, errors.New("sessions are disabled (sessions.enabled: false)")
	}
	return openStore(cfg)
}

func runSessionsList(cmd *cobra.Command, args []string) error {
	store, err := sessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	summaries, err := store.List(cmd.Context(), session.ListOptions{
		ProjectID: sessionsProject,
		Limit:     sessionsLimit,
	})
	if err != nil {
		return fmt.Errorf("failed to list sessions: %w", err)
	}
	printSessionList(cmd.OutOrStdout(), summaries, time.Now())
	return nil
}

func printSessionList(w io.Writer, summaries []session.SessionSummary, now time.Time) {
	if len(summaries) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return
	}

	fmt.Fprintf(w, "%-36s %-40s %5s %s\n", "ID", "SUMMARY", "MSGS", "UPDATED")
	fmt.Fprintln(w, strings.Repeat("-", 92))
	for _, s := range summaries {
		summary := s.Summary
		if s.Name != "" {
			summary = s.Name
		}
		fmt.Fprintf(w, "%-36s %-40s %5d %s\n", s.ID, ui.Truncate(summary, 40), s.MessageCount, formatAge(now.Sub(s.UpdatedAt)))
	}
}

func formatAge(d time.Duration) string {
	switch {
	case d < time.Minute:
		return "just now"
	case d < time.Hour:
		return fmt.Sprintf("%dm ago", int(d.Minutes()))
	case d < 24*time.Hour:
		return fmt.Sprintf("%dh ago", int(d.Hours()))
	default:
		return fmt.Sprintf("%dd ago", int(d.Hours()/24))
	}
}

func runSessionsShow(cmd *cobra.Command, args []string) error {
	store, err := sessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	sess, err := store.Get(cmd.Context(), args[0])
	if err != nil {
		return err
	}

	out := cmd.OutOrStdout()
	if sessionsJSON {
		enc := json.NewEncoder(out)
		enc.SetIndent("", "  ")
		return enc.Encode(sess)
	}
	markdown := 0
	if out == os.Stdout && ui.IsTTY(os.Stdout) {
		markdown = ui.Width(os.Stdout, 80)
	}
	printTranscript(out, sess, markdown)
	return nil
}

// printTranscript writes sess for reading. A positive markdownWidth renders
// assistant replies as markdown wrapped to that width.
func printTranscript(w io.Writer, sess *session.Session, markdownWidth int) {
	styles := ui.NewStyles(w)
	fmt.Fprintln(w, styles.Title.Render(sess.DisplayName()))
	fmt.Fprintln(w, styles.Muted.Render(fmt.Sprintf("%s · created %s", sess.ID, sess.CreatedAt.Format(time.DateTime))))
	if sess.SystemPrompt != "" {
		fmt.Fprintln(w, styles.Muted.Render("system: "+ui.Truncate(sess.SystemPrompt, 70)))
	}

	for _, m := range sess.Messages {
		fmt.Fprintln(w)
		switch m.Role {
		case llm.RoleUser:
			fmt.Fprintln(w, styles.Prompt.Render("> ")+m.Content)
		case llm.RoleAssistant:
			if m.Content != "" {
				if markdownWidth > 0 {
					fmt.Fprintln(w, ui.RenderMarkdown(m.Content, markdownWidth))
				} else {
					fmt.Fprintln(w, m.Content)
				}
			}
			for _, c := range m.ToolCalls {
				fmt.Fprintln(w, styles.Tool.Render(fmt.Sprintf("%s %s(%s)", ui.ToolIcon, c.Name, ui.Truncate(c.ArgumentsJSON, 60))))
			}
		case llm.RoleTool:
			fmt.Fprintln(w, styles.Muted.Render("  "+m.Name+" → "+ui.Truncate(m.Content, 70)))
		default:
			fmt.Fprintln(w, styles.Muted.Render(string(m.Role)+": "+m.Content))
		}
	}
}

func runSessionsRm(cmd *cobra.Command, args []string) error {
	store, err := sessionStore()
	if err != nil {
		return err
	}
	defer store.Close()

	ctx := cmd.Context()
	sess, err := store.Get(ctx, args[0])
	if err != nil {
		return err
	}
	if !sessionsForce {
		ok, err := confirmDelete(ctx, sess)
		if err != nil {
			return err
		}
		if !ok {
			fmt.Fprintln(cmd.OutOrStdout(), "Cancelled.")
			return nil
		}
	}
	if err := store.Delete(ctx, sess.ID); err != nil {
		return fmt.Errorf("failed to delete session: %w", err)
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Deleted session %s\n", sess.ID)
	return nil
}

func confirmDelete(ctx context.Context, sess *session.Session) (bool, error) {
	if !ui.IsTTY(os.Stdin) {
		return false, errors.New("refusing to delete without a terminal; pass --force")
	}
	return ui.Confirm(ctx, fmt.Sprintf("Delete %q (%d messages)?", ui.Truncate(sess.DisplayName(), 40), len(sess.Messages)))
}
