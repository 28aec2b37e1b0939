package main

import (
	"context"
	"fmt"
	"os"
	"unicode/utf8"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"coderev/internal/observability"
	"coderev/internal/review"
)

func newReviewCommand(opts *rootOptions) *cobra.Command {
	var (
		language string
		focus    string
		refactor bool
	)
	cmd := &cobra.Command{
		Use:   "review FILE",
		Short: "Review a source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readSource(args[0])
			if err != nil {
				return err
			}
			lang := review.ResolveLanguage(language, args[0])
			if lang == "" {
				return review.ErrLanguageRequired
			}
			f, err := review.ParseFocus(focus)
			if err != nil {
				return err
			}

			a, err := buildApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(a)

			ctx := cliContext(cmd.Context())
			req := review.Request{Code: code, Language: lang, Focus: f}
			p := newPrinter(cmd.OutOrStdout(), opts.jsonOutput)
			if refactor {
				outcome, err := a.reviewer.ReviewAndRefactor(ctx, req)
				if err != nil {
					return err
				}
				return p.combined(outcome)
			}
			outcome, err := a.reviewer.Review(ctx, req)
			if err != nil {
				return err
			}
			return p.review(outcome)
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "language of the file (inferred from the extension when empty)")
	cmd.Flags().StringVarP(&focus, "focus", "f", "", "review focus: security, performance or clean_code")
	cmd.Flags().BoolVar(&refactor, "refactor", false, "refactor the file after reviewing it")
	return cmd
}

func newRefactorCommand(opts *rootOptions) *cobra.Command {
	var (
		language string
		issues   []string
	)
	cmd := &cobra.Command{
		Use:   "refactor FILE",
		Short: "Refactor a source file",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			code, err := readSource(args[0])
			if err != nil {
				return err
			}
			lang := review.ResolveLanguage(language, args[0])
			if lang == "" {
				return review.ErrLanguageRequired
			}

			a, err := buildApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(a)

			outcome, err := a.reviewer.Refactor(cliContext(cmd.Context()), code, lang, issues)
			if err != nil {
				return err
			}
			return newPrinter(cmd.OutOrStdout(), opts.jsonOutput).refactor(outcome)
		},
	}
	cmd.Flags().StringVarP(&language, "language", "l", "", "language of the file (inferred from the extension when empty)")
	cmd.Flags().StringArrayVarP(&issues, "issue", "i", nil, "issue to fix, may be repeated")
	return cmd
}

func newHealthCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "health",
		Short: "Check that the upstream LLM API is reachable",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := buildApp(opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer closeApp(a)

			if err := a.reviewer.Ping(cliContext(cmd.Context())); err != nil {
				return err
			}
			return newPrinter(cmd.OutOrStdout(), opts.jsonOutput).health(a.cfg.URL)
		},
	}
}

func readSource(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	if !utf8.Valid(data) {
		return "", fmt.Errorf("%s: file must be UTF-8 encoded", path)
	}
	return string(data), nil
}

func cliContext(ctx context.Context) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	return observability.ContextWithRequestID(ctx, "cli-"+uuid.NewString())
}

func closeApp(a *app) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	_ = a.close(ctx)
}
