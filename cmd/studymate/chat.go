package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/ashureev/studymate/internal/app"
	"github.com/ashureev/studymate/internal/config"
	"github.com/ashureev/studymate/internal/domain"
	"github.com/ashureev/studymate/internal/prompts"
	"github.com/ashureev/studymate/internal/session"
	"github.com/spf13/cobra"
)

type chatOptions struct {
	githubURL string
	name      string
	level     string
}

func newChatCmd(c *cli) *cobra.Command {
	var opts chatOptions
	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive tutoring conversation in the terminal",
		Long: "Start an interactive tutoring conversation in the terminal.\n\n" +
			"Commands: /reset clears the tutor's memory, /progress shows tracked concepts, /quit exits.",
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runChat(cmd.Context(), c, opts, cmd.InOrStdin(), cmd.OutOrStdout(), cmd.ErrOrStderr())
		},
	}
	cmd.Flags().StringVar(&opts.githubURL, "repo", "https://github.com/", "repository URL the student wants to explore")
	cmd.Flags().StringVar(&opts.name, "name", "", "student name (default \"Student\")")
	cmd.Flags().StringVar(&opts.level, "level", "", "knowledge level: beginner, intermediate or advanced")
	return cmd
}

func runChat(ctx context.Context, c *cli, opts chatOptions, in io.Reader, out, errOut io.Writer) error {
	cfg := *c.cfg
	// Terminal sessions never outlive the process.
	cfg.Store = config.StoreConfig{Driver: config.StoreMemory}
	cfg.ToolsRoot = ""

	logger := app.NewLogger(cfg.LogLevel, errOut, false)
	a, err := app.New(&cfg, logger, c.appOptions()...)
	if err != nil {
		return err
	}
	defer func() { _ = a.Close() }()

	if cfg.OpenAI.APIKey == "" {
		intro, err := a.Prompts.InitialGreeting(prompts.GreetingData{StudentName: displayName(opts.name)})
		if err == nil {
			fmt.Fprintln(out, intro)
			fmt.Fprintln(out)
		}
		fmt.Fprintln(errOut, "warning: OPENAI_API_KEY is not set, replies will be fallback messages")
	}

	res, err := a.Registry.Create(ctx, session.CreateRequest{
		GithubURL:      opts.githubURL,
		StudentName:    opts.name,
		KnowledgeLevel: opts.level,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "StudyMate: %s\n", res.Greeting)

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "\nYou: ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		line := strings.TrimSpace(scanner.Text())
		switch line {
		case "":
			continue
		case "/quit", "/exit", "exit", "quit":
			fmt.Fprintln(out, "Goodbye!")
			return nil
		case "/reset":
			if err := a.Registry.Reset(ctx, res.SessionID); err != nil {
				return err
			}
			fmt.Fprintln(out, "(conversation memory cleared)")
			continue
		case "/progress":
			p, found, err := a.Registry.Progress(ctx, res.SessionID)
			if err != nil {
				return err
			}
			if !found {
				fmt.Fprintln(out, "No progress tracked yet")
				continue
			}
			enc := json.NewEncoder(out)
			enc.SetIndent("", "  ")
			if err := enc.Encode(p); err != nil {
				return err
			}
			continue
		}

		reply, err := a.Registry.Dispatch(ctx, res.SessionID, line)
		if err != nil {
			return err
		}
		fmt.Fprintf(out, "\nStudyMate: %s\n", reply)
	}
}

func displayName(name string) string {
	if strings.TrimSpace(name) == "" {
		return domain.DefaultStudentName
	}
	return name
}
