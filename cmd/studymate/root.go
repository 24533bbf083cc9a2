package main

import (
	"log/slog"

	"github.com/ashureev/studymate/internal/app"
	"github.com/ashureev/studymate/internal/config"
	"github.com/ashureev/studymate/internal/llm"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
)

// cli carries state shared by subcommands.
type cli struct {
	cfg       *config.Config
	logLevel  string
	completer llm.Completer // nil selects the OpenAI client from config
}

func (c *cli) appOptions() []app.Option {
	if c.completer == nil {
		return nil
	}
	return []app.Option{app.WithCompleter(c.completer)}
}

func (c *cli) newCompleter() llm.Completer {
	if c.completer != nil {
		return c.completer
	}
	return llm.NewOpenAIClient(llm.OpenAIConfig{
		APIKey:  c.cfg.OpenAI.APIKey,
		Model:   c.cfg.OpenAI.Model,
		BaseURL: c.cfg.OpenAI.BaseURL,
		Timeout: c.cfg.OpenAI.Timeout,
	})
}

func newRootCmd(completer llm.Completer) *cobra.Command {
	c := &cli{completer: completer}

	root := &cobra.Command{
		Use:           "studymate",
		Short:         "Socratic programming tutor",
		Long:          "StudyMate teaches programming concepts through guided questions about a student's repository.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			if err := godotenv.Load(); err != nil {
				slog.Debug("No .env file found, using environment variables")
			}
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("log-level") {
				cfg.LogLevel = c.logLevel
			}
			c.cfg = cfg
			return nil
		},
	}
	root.PersistentFlags().StringVar(&c.logLevel, "log-level", "info", "log level: debug, info, warn or error")

	root.AddCommand(
		newServeCmd(c),
		newChatCmd(c),
		newToolsCmd(c),
	)
	return root
}
