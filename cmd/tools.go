package cmd

import (
	"fmt"
	"io"

	"github.com/spf13/cobra"

	"github.com/samsaffron/storyloom/internal/llm"
	"github.com/samsaffron/storyloom/internal/mcp"
	"github.com/samsaffron/storyloom/internal/ui"
)

var toolsCmd = &cobra.Command{
	Use:   "tools",
	Short: "List the tools the assistant can call",
	Long: `List the tools available to the assistant after applying tools.allow and
tools.deny: built-in tools, tools served by the backend registry and tools of
configured MCP servers (named server__tool).`,
	Args: cobra.NoArgs,
	RunE: runTools,
}

func init() {
	rootCmd.AddCommand(toolsCmd)
}

func runTools(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	set, err := buildTools(cmd.Context(), cfg)
	if err != nil {
		return err
	}
	defer set.Close()

	out := cmd.OutOrStdout()
	printTools(out, set.registry.Specs())
	if set.mcp != nil {
		printMCPStatus(out, set.mcp.Status())
	}
	return nil
}

func printTools(w io.Writer, specs []llm.ToolSpec) {
	if len(specs) == 0 {
		fmt.Fprintln(w, "No tools available.")
		return
	}
	styles := ui.NewStyles(w)
	for _, s := range specs {
		fmt.Fprintf(w, "%s  %s\n", styles.Bold.Render(fmt.Sprintf("%-32s", s.Name)), ui.Truncate(s.Description, 60))
	}
}

func printMCPStatus(w io.Writer, statuses []mcp.ServerStatus) {
	styles := ui.NewStyles(w)
	fmt.Fprintln(w)
	fmt.Fprintln(w, styles.Title.Render("MCP servers"))
	for _, s := range statuses {
		if s.Error != nil {
			fmt.Fprintln(w, "  "+styles.FormatResult(false, fmt.Sprintf("%s: %v", s.Name, s.Error)))
			continue
		}
		fmt.Fprintln(w, "  "+styles.FormatResult(s.Status == "running", fmt.Sprintf("%s (%s, %d tools)", s.Name, s.Status, s.Tools)))
	}
}
