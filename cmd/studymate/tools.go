package main

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strconv"

	"github.com/ashureev/studymate/internal/agent"
	"github.com/ashureev/studymate/internal/progress"
	"github.com/ashureev/studymate/internal/prompts"
	"github.com/spf13/cobra"
)

const cliSessionID = "cli"

func newToolsCmd(c *cli) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "tools",
		Short: "Run tutoring tools locally",
	}

	var sessionID string
	run := &cobra.Command{
		Use:   "run <json|->",
		Short: `Run a tool command such as {"tool":"scan_repo","args":{"repo_path":"."}}`,
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw := []byte(args[0])
			if args[0] == "-" {
				var err error
				if raw, err = io.ReadAll(cmd.InOrStdin()); err != nil {
					return fmt.Errorf("read command: %w", err)
				}
			}
			parsed := agent.ParseCommand(raw)
			res := c.tools().Dispatch(cmd.Context(), sessionID, parsed)
			if err := printJSON(cmd.OutOrStdout(), res); err != nil {
				return err
			}
			if res.Failed() {
				return fmt.Errorf("%s: %s", res.Tool, res.Error)
			}
			return nil
		},
	}
	run.Flags().StringVar(&sessionID, "session", cliSessionID, "session id used for track_progress")

	scan := &cobra.Command{
		Use:   "scan [path]",
		Short: "Summarize a repository layout",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 1 {
				path = args[0]
			}
			s := c.tools().ScanRepo(path)
			if err := printJSON(cmd.OutOrStdout(), s); err != nil {
				return err
			}
			if s.Error != "" {
				return fmt.Errorf("scan_repo: %s", s.Error)
			}
			return nil
		},
	}

	snippet := &cobra.Command{
		Use:   "snippet <file> <start> <end>",
		Short: "Print an inclusive, 1-based line range of a file",
		Args:  cobra.ExactArgs(3),
		RunE: func(cmd *cobra.Command, args []string) error {
			start, err := strconv.Atoi(args[1])
			if err != nil {
				return fmt.Errorf("invalid start line %q", args[1])
			}
			end, err := strconv.Atoi(args[2])
			if err != nil {
				return fmt.Errorf("invalid end line %q", args[2])
			}
			s := c.tools().ExtractSnippet(args[0], start, end)
			if s.Error != "" {
				return fmt.Errorf("extract_snippet: %s", s.Error)
			}
			_, err = fmt.Fprint(cmd.OutOrStdout(), s.Code)
			return err
		},
	}

	search := &cobra.Command{
		Use:   "search <query> [path]",
		Short: "Find source files mentioning a concept",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			path := "."
			if len(args) == 2 {
				path = args[1]
			}
			out, err := c.tools().SearchConcept(args[0], path)
			if err != nil {
				return err
			}
			_, err = fmt.Fprintln(cmd.OutOrStdout(), out)
			return err
		},
	}

	cmd.AddCommand(run, scan, snippet, search)
	return cmd
}

// tools builds an unconfined tool set for local use.
func (c *cli) tools() *agent.Tools {
	set, err := prompts.LoadFile(c.cfg.PromptsFile)
	if err != nil {
		fmt.Fprintln(os.Stderr, "warning: using built-in prompts:", err)
		set = prompts.Default()
	}
	return agent.NewTools(agent.ToolsConfig{
		Completer:        c.newCompleter(),
		Prompts:          set,
		Progress:         progress.NewStore(c.cfg.ProgressDir),
		SearchExtensions: c.cfg.SearchExtensions,
	})
}

func printJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
