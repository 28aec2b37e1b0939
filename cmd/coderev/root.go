package main

import (
	"github.com/spf13/cobra"

	"coderev/internal/config"
)

type rootOptions struct {
	configFile string
	envFile    string
	jsonOutput bool
}

func (o *rootOptions) configOptions() config.Options {
	return config.Options{ConfigFile: o.configFile, EnvFile: o.envFile}
}

func newRootCommand() *cobra.Command {
	opts := &rootOptions{}

	root := &cobra.Command{
		Use:   "coderev",
		Short: "LLM code review proxy",
		Long: `coderev reviews and refactors source code through an
OpenAI-compatible chat completions API.

Without a subcommand it starts the HTTP API, same as "coderev serve".`,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runServe(cmd.Context(), opts, cmd.ErrOrStderr())
		},
	}

	flags := root.PersistentFlags()
	flags.StringVar(&opts.configFile, "config", "", "configuration file (yaml, json or toml)")
	flags.StringVar(&opts.envFile, "env-file", "", "dotenv file to load (default .env when present)")
	flags.BoolVar(&opts.jsonOutput, "json", false, "print results as JSON")

	root.AddCommand(
		newServeCommand(opts),
		newReviewCommand(opts),
		newRefactorCommand(opts),
		newHealthCommand(opts),
	)
	return root
}
