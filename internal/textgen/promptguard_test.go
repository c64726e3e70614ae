package textgen

import (
	"context"
	"strings"
	"testing"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"
)

func newTestGuard(p *fakeProvider) *Guard {
	g := newGuard(p, []string{"model-A", "model-B"}, time.Millisecond, zap.NewNop())
	g.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return g
}

func TestFitIsNoopUnderCeiling(t *testing.T) {
	p := &fakeProvider{name: "gemini"}
	g := newTestGuard(p)

	for _, prompt := range []string{
		"",
		"a fox in the snow",
		strings.Repeat("x", promptCharLimit),
	} {
		if got := g.Fit(context.Background(), prompt); got != prompt {
			t.Errorf("Fit should be a no-op for %d chars", utf8.RuneCountInString(prompt))
		}
	}
	if len(p.calls) != 0 {
		t.Errorf("no provider call expected, got %d", len(p.calls))
	}
}

func TestFitSummarizesOverCeiling(t *testing.T) {
	p := &fakeProvider{name: "gemini", responses: []fakeResponse{
		{text: "a dragon, a castle at dusk, pastel illustration"},
	}}
	g := newTestGuard(p)

	long := strings.Repeat("long prompt ", 500)
	got := g.Fit(context.Background(), long)

	if got != "a dragon, a castle at dusk, pastel illustration" {
		t.Errorf("expected summary, got %q", got)
	}
	if len(p.calls) != 1 {
		t.Fatalf("expected 1 summarization call, got %d", len(p.calls))
	}
	if !strings.Contains(p.calls[0].prompt, "4000 characters") {
		t.Errorf("summarization instruction should state the target, got %q", p.calls[0].prompt)
	}
	if !strings.Contains(p.calls[0].prompt, "illustration style") {
		t.Errorf("instruction should prioritize subject/scene/style, got %q", p.calls[0].prompt)
	}
}

func TestFitTruncatesWhenSummarizationFails(t *testing.T) {
	p := &fakeProvider{name: "gemini", responses: []fakeResponse{{err: transientErr("gemini")}}}
	g := newTestGuard(p)

	long := strings.Repeat("y", promptCharLimit+500)
	got := g.Fit(context.Background(), long)

	if n := utf8.RuneCountInString(got); n != promptCharLimit {
		t.Errorf("truncated prompt should be exactly %d chars, got %d", promptCharLimit, n)
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("truncated prompt should end with ellipsis")
	}
	if len(p.calls) != summaryRetryBudget {
		t.Errorf("expected %d summarization attempts, got %d", summaryRetryBudget, len(p.calls))
	}
}

func TestFitShrinksTargetUntilFloorThenTruncates(t *testing.T) {
	// Summaries that never fit force the target down 20% per round until it
	// would cross the floor, at which point the guard truncates.
	stubborn := strings.Repeat("z", promptCharLimit+1)
	p := &fakeProvider{name: "gemini", responses: []fakeResponse{{text: stubborn}}}
	g := newTestGuard(p)

	got := g.Fit(context.Background(), strings.Repeat("z", promptCharLimit+1000))

	if n := utf8.RuneCountInString(got); n > promptCharLimit {
		t.Errorf("output must fit the ceiling, got %d chars", n)
	}
	if !strings.HasSuffix(got, "...") {
		t.Error("expected truncation fallback after target floor")
	}
	// Targets: 4000, 3200, 2560, 2048, 1638, 1310, 1048; the next (838) is
	// below the floor so no further call is made.
	if len(p.calls) != 7 {
		t.Errorf("expected 7 summarization rounds, got %d", len(p.calls))
	}
	if !strings.Contains(p.calls[len(p.calls)-1].prompt, "1048 characters") {
		t.Errorf("last round should target 1048 chars, got %q", p.calls[len(p.calls)-1].prompt[:80])
	}
}

func TestSummarizeRotatesModels(t *testing.T) {
	p := &fakeProvider{name: "gemini", responses: []fakeResponse{
		{err: modelGoneErr("gemini", "model-A")},
		{text: "fits"},
	}}
	g := newTestGuard(p)

	got := g.Fit(context.Background(), strings.Repeat("w", promptCharLimit+10))
	if got != "fits" {
		t.Errorf("expected summary from rotated model, got %q", got)
	}
	if len(p.calls) != 2 || p.calls[1].model != "model-B" {
		t.Errorf("expected rotation to model-B, got %+v", p.calls)
	}
}

func TestSummarizeAbortsOnAuthError(t *testing.T) {
	p := &fakeProvider{name: "gemini", responses: []fakeResponse{{err: authErr("gemini")}}}
	g := newTestGuard(p)

	got := g.Fit(context.Background(), strings.Repeat("q", promptCharLimit+10))
	if n := utf8.RuneCountInString(got); n != promptCharLimit {
		t.Errorf("auth failure should fall back to truncation, got %d chars", n)
	}
	if len(p.calls) != 1 {
		t.Errorf("auth errors must not be retried, got %d calls", len(p.calls))
	}
}
