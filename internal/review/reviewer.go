// Package review orchestrates code reviews and refactors against the
// upstream model: it builds prompts, sends them, recovers the structured
// reply and normalizes it into transport-friendly outcomes.
package review

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"coderev/internal/llm"
	"coderev/internal/logging"
	"coderev/internal/observability"
	"coderev/internal/prompts"
	"coderev/internal/recovery"
)

const (
	maxIssues         = 5
	issueSeverity     = "warning"
	defaultSummary    = "Review completed"
	defaultRating     = 5
	minRating         = 1
	maxRating         = 10
	refactorFallback  = "// Refactoring failed"
	operationReview   = "review"
	operationRefactor = "refactor"
	operationCombined = "review_and_refactor"
)

// Completer is the upstream the reviewer talks to.
type Completer interface {
	Send(ctx context.Context, req llm.CompletionRequest) (llm.Reply, error)
	Health(ctx context.Context) error
}

// Reviewer runs review and refactor operations. It holds no per-request
// state and is safe for concurrent use.
type Reviewer struct {
	client  Completer
	prompts *prompts.Set
	logger  logging.Logger
	metrics *observability.MetricsCollector
	tracer  *observability.TracerProvider
}

// Option customizes a Reviewer.
type Option func(*Reviewer)

// WithLogger sets the reviewer logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Reviewer) { r.logger = logging.OrNop(logger) }
}

// WithMetrics records operations and recovery layers on m.
func WithMetrics(m *observability.MetricsCollector) Option {
	return func(r *Reviewer) { r.metrics = m }
}

// WithTracer traces operations.
func WithTracer(tp *observability.TracerProvider) Option {
	return func(r *Reviewer) {
		if tp != nil {
			r.tracer = tp
		}
	}
}

// NewReviewer creates a reviewer over client using the prompt set.
func NewReviewer(client Completer, set *prompts.Set, opts ...Option) *Reviewer {
	r := &Reviewer{
		client:  client,
		prompts: set,
		logger:  logging.NewComponentLogger("Reviewer"),
		tracer:  observability.NoopTracerProvider(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Ping checks that the upstream is reachable.
func (r *Reviewer) Ping(ctx context.Context) error {
	return r.client.Health(ctx)
}

// Review reviews req.Code and returns at most five issues.
func (r *Reviewer) Review(ctx context.Context, req Request) (outcome ReviewOutcome, err error) {
	ctx, span := r.tracer.StartSpan(ctx, observability.SpanReview,
		attribute.String(observability.AttrLanguage, req.Language),
		attribute.String(observability.AttrFocus, string(req.Focus)))
	defer r.finish(ctx, span, operationReview, time.Now(), &err)

	if err := validate(req.Code, req.Language); err != nil {
		return ReviewOutcome{}, err
	}
	if _, err := ParseFocus(string(req.Focus)); err != nil {
		return ReviewOutcome{}, err
	}

	system, user, err := r.prompts.Review(prompts.ReviewData{
		Language: req.Language,
		Focus:    string(req.Focus),
		Code:     req.Code,
	})
	if err != nil {
		return ReviewOutcome{}, fmt.Errorf("build review prompt: %w", err)
	}

	text, err := r.complete(ctx, prompts.OpReview, system, user)
	if err != nil {
		return ReviewOutcome{}, err
	}

	result := recovery.ParseReview(text)
	r.recordRecovery(ctx, span, recovery.SchemaReview, result.Layer)
	return normalizeReview(result.Value), nil
}

// Refactor rewrites code, addressing up to five issues when given.
func (r *Reviewer) Refactor(ctx context.Context, code, language string, issues []string) (outcome RefactorOutcome, err error) {
	ctx, span := r.tracer.StartSpan(ctx, observability.SpanRefactor,
		attribute.String(observability.AttrLanguage, language))
	defer r.finish(ctx, span, operationRefactor, time.Now(), &err)

	if err := validate(code, language); err != nil {
		return RefactorOutcome{}, err
	}

	system, user, err := r.prompts.Refactor(prompts.RefactorData{
		Language: language,
		Code:     code,
		Issues:   capIssues(issues),
	})
	if err != nil {
		return RefactorOutcome{}, fmt.Errorf("build refactor prompt: %w", err)
	}

	text, err := r.complete(ctx, prompts.OpRefactor, system, user)
	if err != nil {
		return RefactorOutcome{}, err
	}

	result := recovery.ParseRefactor(text)
	r.recordRecovery(ctx, span, recovery.SchemaRefactor, result.Layer)
	return normalizeRefactor(code, result), nil
}

// ReviewAndRefactor reviews req and then refactors the same code, feeding
// the review's issue descriptions into the refactor. A failed review stops
// the chain before any refactor request is sent.
func (r *Reviewer) ReviewAndRefactor(ctx context.Context, req Request) (outcome CombinedOutcome, err error) {
	ctx, span := r.tracer.StartSpan(ctx, observability.SpanReviewAndRefactor,
		attribute.String(observability.AttrLanguage, req.Language))
	defer r.finish(ctx, span, operationCombined, time.Now(), &err)

	reviewed, err := r.Review(ctx, req)
	if err != nil {
		return CombinedOutcome{}, err
	}

	var issues []string
	if descriptions := reviewed.Descriptions(); len(descriptions) > 0 {
		issues = descriptions
	}

	refactored, err := r.Refactor(ctx, req.Code, req.Language, issues)
	if err != nil {
		return CombinedOutcome{}, err
	}

	return CombinedOutcome{
		Summary:        reviewed.Summary,
		Rating:         reviewed.Rating,
		Issues:         reviewed.Issues,
		RefactoredCode: refactored.RefactoredCode,
		ChangesMade:    refactored.ChangesMade,
		Diff:           refactored.Diff,
	}, nil
}

func (r *Reviewer) complete(ctx context.Context, op, system, user string) (string, error) {
	params := r.prompts.Params(op)
	reply, err := r.client.Send(ctx, llm.CompletionRequest{
		Messages: []llm.Message{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	})
	if err != nil {
		return "", err
	}
	return llm.ExtractText(reply)
}

func (r *Reviewer) recordRecovery(ctx context.Context, span trace.Span, schema, layer string) {
	span.SetAttributes(attribute.String(observability.AttrRecoveryLayer, layer))
	r.metrics.RecordRecovery(ctx, schema, layer)
	if layer == recovery.LayerDefault {
		r.logger.Warn("%s reply could not be parsed, using default object", schema)
		return
	}
	r.logger.Debug("%s reply recovered by %s layer", schema, layer)
}

func (r *Reviewer) finish(ctx context.Context, span trace.Span, op string, start time.Time, errp *error) {
	err := *errp
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, op+" failed")
		r.logger.Warn("%s failed after %v: %v", op, time.Since(start), err)
	}
	r.metrics.RecordOperation(ctx, op, err, time.Since(start))
	span.End()
}

func validate(code, language string) error {
	if strings.TrimSpace(code) == "" {
		return ErrEmptyCode
	}
	if strings.TrimSpace(language) == "" {
		return ErrLanguageRequired
	}
	return nil
}

func capIssues(issues []string) []string {
	if len(issues) > maxIssues {
		return issues[:maxIssues]
	}
	return issues
}

func normalizeReview(parsed recovery.Review) ReviewOutcome {
	summary := defaultSummary
	if parsed.Summary != nil {
		summary = *parsed.Summary
	}

	rating := defaultRating
	if parsed.Rating != nil {
		rating = *parsed.Rating
	}
	rating = min(max(rating, minRating), maxRating)

	issues := make([]Issue, 0, maxIssues)
	for idx, description := range capIssues(parsed.TopIssues) {
		issues = append(issues, Issue{
			Severity:    issueSeverity,
			Line:        idx + 1,
			Description: description,
		})
	}

	return ReviewOutcome{Summary: summary, Rating: rating, Issues: issues}
}

func normalizeRefactor(original string, result recovery.Result[recovery.Refactor]) RefactorOutcome {
	code := refactorFallback
	if result.Value.FixedCode != nil {
		code = *result.Value.FixedCode
	}
	changes := result.Value.Changes
	if changes == nil {
		changes = []string{}
	}

	outcome := RefactorOutcome{RefactoredCode: code, ChangesMade: changes}
	if result.Recovered() && result.Value.FixedCode != nil {
		outcome.Diff = lineDiff(original, code)
	}
	return outcome
}
