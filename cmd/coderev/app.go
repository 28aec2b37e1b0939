package main

import (
	"context"
	"errors"
	"fmt"
	"io"

	"coderev/internal/config"
	"coderev/internal/llm"
	"coderev/internal/logging"
	"coderev/internal/observability"
	"coderev/internal/prompts"
	"coderev/internal/review"
)

// app holds the components shared by every command.
type app struct {
	cfg      config.Config
	logger   *observability.Logger
	metrics  *observability.MetricsCollector
	tracer   *observability.TracerProvider
	client   *llm.Client
	reviewer *review.Reviewer
}

func buildApp(opts *rootOptions, logOutput io.Writer) (*app, error) {
	cfg, err := config.Load(opts.configOptions())
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logger := observability.NewLogger(observability.LogConfig{
		Level:  cfg.LogLevel,
		Format: cfg.LogFormat,
		Output: logOutput,
	})
	logging.SetDefault(logger)

	metrics, err := observability.NewMetricsCollector(cfg.Metrics)
	if err != nil {
		return nil, err
	}
	tracer, err := observability.NewTracerProvider(cfg.Tracing)
	if err != nil {
		return nil, fmt.Errorf("init tracing: %w", err)
	}

	set, err := prompts.Load(cfg.PromptsFile)
	if err != nil {
		return nil, fmt.Errorf("load prompts: %w", err)
	}

	client := llm.NewClient(llm.Config{
		BaseURL:           cfg.URL,
		APIKey:            cfg.APIKey,
		Model:             cfg.Model,
		Referer:           cfg.Referer,
		Title:             cfg.Title,
		Timeout:           cfg.HTTPTimeout,
		HealthTimeout:     cfg.HealthTimeout,
		MaxAttempts:       cfg.MaxRetries,
		BackoffFactor:     cfg.BackoffFactor,
		MaxBackoff:        cfg.BackoffMax,
		RetryableStatuses: cfg.RetryableStatuses,
		MaxResponseBytes:  cfg.MaxResponseBytes,
	},
		llm.WithMetrics(metrics),
		llm.WithTracer(tracer),
	)

	reviewer := review.NewReviewer(client, set,
		review.WithMetrics(metrics),
		review.WithTracer(tracer),
	)

	logger.Debug("configuration loaded",
		"url", cfg.URL,
		"model", cfg.Model,
		"api_key", observability.SanitizeAPIKey(cfg.APIKey),
		"max_retries", cfg.MaxRetries,
		"environment", cfg.Environment,
	)

	return &app{
		cfg:      cfg,
		logger:   logger,
		metrics:  metrics,
		tracer:   tracer,
		client:   client,
		reviewer: reviewer,
	}, nil
}

func (a *app) close(ctx context.Context) error {
	return errors.Join(a.tracer.Shutdown(ctx), a.metrics.Shutdown(ctx))
}
