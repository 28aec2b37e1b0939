package review

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	apperrors "coderev/internal/errors"
	"coderev/internal/llm"
	"coderev/internal/prompts"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

// fakeCompleter replays scripted replies and records every request.
type fakeCompleter struct {
	mu        sync.Mutex
	replies   []any // string content, llm.Reply or error
	requests  []llm.CompletionRequest
	healthErr error
}

func (f *fakeCompleter) Send(_ context.Context, req llm.CompletionRequest) (llm.Reply, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.requests = append(f.requests, req)
	if len(f.replies) == 0 {
		return nil, errors.New("unexpected request")
	}
	next := f.replies[0]
	f.replies = f.replies[1:]
	switch v := next.(type) {
	case error:
		return nil, v
	case llm.Reply:
		return v, nil
	case string:
		return contentReply(v), nil
	default:
		return nil, fmt.Errorf("bad script entry %T", next)
	}
}

func (f *fakeCompleter) Health(context.Context) error {
	return f.healthErr
}

func contentReply(content string) llm.Reply {
	return llm.Reply{
		"choices": []any{
			map[string]any{"message": map[string]any{"role": "assistant", "content": content}},
		},
	}
}

func newTestReviewer(t *testing.T, fake *fakeCompleter) *Reviewer {
	t.Helper()
	set, err := prompts.Default()
	require.NoError(t, err)
	return NewReviewer(fake, set, WithLogger(nil))
}

func TestReviewEvalExample(t *testing.T) {
	fake := &fakeCompleter{replies: []any{
		`{"rating":1,"summary":"Critical: eval with user input","top_issues":["eval() is dangerous","No validation"]}`,
	}}
	r := newTestReviewer(t, fake)

	got, err := r.Review(context.Background(), Request{Code: "eval(input())", Language: "python"})
	require.NoError(t, err)

	assert.Equal(t, "Critical: eval with user input", got.Summary)
	assert.Equal(t, 1, got.Rating)
	assert.Equal(t, []Issue{
		{Severity: "warning", Line: 1, Description: "eval() is dangerous"},
		{Severity: "warning", Line: 2, Description: "No validation"},
	}, got.Issues)
	assert.Nil(t, got.RefactoredCode)

	require.Len(t, fake.requests, 1)
	req := fake.requests[0]
	assert.Equal(t, 0.0, req.Temperature)
	assert.Equal(t, 512, req.MaxTokens)
	require.Len(t, req.Messages, 2)
	assert.Equal(t, "system", req.Messages[0].Role)
	assert.Equal(t, "user", req.Messages[1].Role)
	assert.Contains(t, req.Messages[1].Content, "Lang: python")
	assert.Contains(t, req.Messages[1].Content, "Code: eval(input())")
}

func TestReviewKeepsFirstFiveIssues(t *testing.T) {
	fake := &fakeCompleter{replies: []any{
		`{"summary":"many","rating":4,"top_issues":["i1","i2","i3","i4","i5","i6","i7","i8"]}`,
	}}
	r := newTestReviewer(t, fake)

	got, err := r.Review(context.Background(), Request{Code: "x", Language: "go"})
	require.NoError(t, err)
	require.Len(t, got.Issues, 5)
	for i, issue := range got.Issues {
		assert.Equal(t, fmt.Sprintf("i%d", i+1), issue.Description)
		assert.Equal(t, i+1, issue.Line)
		assert.Equal(t, "warning", issue.Severity)
	}
}

func TestReviewDefaultsAndClamping(t *testing.T) {
	cases := []struct {
		name    string
		content string
		summary string
		rating  int
		issues  int
	}{
		{"missing fields", `{}`, "Review completed", 5, 0},
		{"rating too high", `{"summary":"s","rating":42}`, "s", 10, 0},
		{"rating beyond int range", `{"summary":"s","rating":1e300}`, "s", 10, 0},
		{"rating near int64 max", `{"summary":"s","rating":9.3e18}`, "s", 10, 0},
		{"rating too low", `{"summary":"s","rating":-3}`, "s", 1, 0},
		{"unparseable", "not json at all", "Unable to parse review", 5, 1},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := newTestReviewer(t, &fakeCompleter{replies: []any{tc.content}})
			got, err := r.Review(context.Background(), Request{Code: "x", Language: "go"})
			require.NoError(t, err)
			assert.Equal(t, tc.summary, got.Summary)
			assert.Equal(t, tc.rating, got.Rating)
			assert.Len(t, got.Issues, tc.issues)
			assert.NotNil(t, got.Issues)
		})
	}
}

func TestReviewFocusInPrompt(t *testing.T) {
	fake := &fakeCompleter{replies: []any{`{"summary":"ok","rating":9,"top_issues":[]}`}}
	r := newTestReviewer(t, fake)

	_, err := r.Review(context.Background(), Request{Code: "x", Language: "go", Focus: FocusSecurity})
	require.NoError(t, err)
	assert.Contains(t, fake.requests[0].Messages[1].Content, "Focus: security")
}

func TestReviewRejectsBadInput(t *testing.T) {
	fake := &fakeCompleter{}
	r := newTestReviewer(t, fake)

	_, err := r.Review(context.Background(), Request{Code: "x", Language: "go", Focus: "style"})
	assert.ErrorIs(t, err, ErrInvalidFocus)
	assert.True(t, IsInputError(err))

	_, err = r.Review(context.Background(), Request{Code: "x"})
	assert.ErrorIs(t, err, ErrLanguageRequired)

	_, err = r.Review(context.Background(), Request{Code: "  ", Language: "go"})
	assert.ErrorIs(t, err, ErrEmptyCode)

	assert.Empty(t, fake.requests)
}

func TestReviewPropagatesErrors(t *testing.T) {
	timeout := apperrors.NewUpstreamTimeout(3, nil)
	r := newTestReviewer(t, &fakeCompleter{replies: []any{timeout}})
	_, err := r.Review(context.Background(), Request{Code: "x", Language: "go"})
	assert.True(t, apperrors.IsUpstreamTimeout(err))

	r = newTestReviewer(t, &fakeCompleter{replies: []any{llm.Reply{"choices": []any{}}}})
	_, err = r.Review(context.Background(), Request{Code: "x", Language: "go"})
	assert.True(t, apperrors.IsExtraction(err))
}

func TestRefactor(t *testing.T) {
	fake := &fakeCompleter{replies: []any{
		`{"fixed_code":"value = int(input())\nprint(value)","changes":["Replaced eval with int"]}`,
	}}
	r := newTestReviewer(t, fake)

	got, err := r.Refactor(context.Background(), "value = eval(input())\nprint(value)", "python",
		[]string{"a", "b", "c", "d", "e", "f", "g"})
	require.NoError(t, err)

	assert.Equal(t, "value = int(input())\nprint(value)", got.RefactoredCode)
	assert.Equal(t, []string{"Replaced eval with int"}, got.ChangesMade)
	assert.Contains(t, got.Diff, "- value = eval(input())")
	assert.Contains(t, got.Diff, "+ value = int(input())")
	assert.Contains(t, got.Diff, "  print(value)")

	req := fake.requests[0]
	assert.Equal(t, 0.2, req.Temperature)
	assert.Equal(t, 4096, req.MaxTokens)
	user := req.Messages[1].Content
	assert.Contains(t, user, "- e\n")
	assert.NotContains(t, user, "- f")
	assert.Contains(t, req.Messages[0].Content, "code refactoring tool")
}

func TestRefactorFallbacks(t *testing.T) {
	r := newTestReviewer(t, &fakeCompleter{replies: []any{`{"changes":["only changes"]}`}})
	got, err := r.Refactor(context.Background(), "x", "go", nil)
	require.NoError(t, err)
	assert.Equal(t, "// Refactoring failed", got.RefactoredCode)
	assert.Equal(t, []string{"only changes"}, got.ChangesMade)
	assert.Empty(t, got.Diff)

	r = newTestReviewer(t, &fakeCompleter{replies: []any{`{"fixed_code":"y"}`}})
	got, err = r.Refactor(context.Background(), "x", "go", nil)
	require.NoError(t, err)
	assert.Equal(t, "y", got.RefactoredCode)
	assert.NotNil(t, got.ChangesMade)
	assert.Empty(t, got.ChangesMade)

	r = newTestReviewer(t, &fakeCompleter{replies: []any{"sorry, no"}})
	got, err = r.Refactor(context.Background(), "x", "go", nil)
	require.NoError(t, err)
	assert.Equal(t, "// Failed to extract refactored code", got.RefactoredCode)
	assert.Equal(t, []string{"Error: Could not parse response"}, got.ChangesMade)
	assert.Empty(t, got.Diff)
}

func TestReviewAndRefactorChainsIssues(t *testing.T) {
	fake := &fakeCompleter{replies: []any{
		`{"summary":"risky","rating":2,"top_issues":["eval() is dangerous","No validation"]}`,
		`{"fixed_code":"int(input())","changes":["Removed eval"]}`,
	}}
	r := newTestReviewer(t, fake)

	got, err := r.ReviewAndRefactor(context.Background(), Request{Code: "eval(input())", Language: "python"})
	require.NoError(t, err)

	assert.Equal(t, "risky", got.Summary)
	assert.Equal(t, 2, got.Rating)
	assert.Len(t, got.Issues, 2)
	assert.Equal(t, "int(input())", got.RefactoredCode)
	assert.Equal(t, []string{"Removed eval"}, got.ChangesMade)

	require.Len(t, fake.requests, 2)
	refactorPrompt := fake.requests[1].Messages[1].Content
	assert.Contains(t, refactorPrompt, "Issues to fix:\n- eval() is dangerous\n- No validation")
	assert.Contains(t, refactorPrompt, "eval(input())")
}

func TestReviewAndRefactorWithoutIssues(t *testing.T) {
	fake := &fakeCompleter{replies: []any{
		`{"summary":"clean","rating":9,"top_issues":[]}`,
		`{"fixed_code":"x","changes":[]}`,
	}}
	r := newTestReviewer(t, fake)

	_, err := r.ReviewAndRefactor(context.Background(), Request{Code: "x", Language: "go"})
	require.NoError(t, err)
	require.Len(t, fake.requests, 2)
	assert.False(t, strings.Contains(fake.requests[1].Messages[1].Content, "Issues to fix"))
}

func TestReviewAndRefactorStopsOnReviewFailure(t *testing.T) {
	fake := &fakeCompleter{replies: []any{apperrors.NewUpstreamStatus(400, "bad")}}
	r := newTestReviewer(t, fake)

	_, err := r.ReviewAndRefactor(context.Background(), Request{Code: "x", Language: "go"})
	require.Error(t, err)
	assert.True(t, apperrors.IsUpstreamService(err))
	assert.Len(t, fake.requests, 1)
}

func TestPing(t *testing.T) {
	r := newTestReviewer(t, &fakeCompleter{})
	assert.NoError(t, r.Ping(context.Background()))

	r = newTestReviewer(t, &fakeCompleter{healthErr: apperrors.NewUpstreamStatus(500, "")})
	assert.True(t, apperrors.IsUpstreamService(r.Ping(context.Background())))
}

func TestConcurrentReviews(t *testing.T) {
	replies := make([]any, 20)
	for i := range replies {
		replies[i] = `{"summary":"ok","rating":7,"top_issues":["x"]}`
	}
	r := newTestReviewer(t, &fakeCompleter{replies: replies})

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			got, err := r.Review(context.Background(), Request{Code: "x", Language: "go"})
			assert.NoError(t, err)
			assert.Equal(t, 7, got.Rating)
		}()
	}
	wg.Wait()
}
