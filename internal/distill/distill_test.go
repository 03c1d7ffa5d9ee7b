package distill

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/nidhogg/tiermem/internal/provider"
	"go.uber.org/zap"
)

const conversation = "Alice Smith said the garden beds are finally built. " +
	"We were worried about the frost but now relieved. " +
	"Bob ordered more soil for the garden. We will plant tomatoes next week!"

func TestPeople(t *testing.T) {
	got := People(conversation)
	want := []string{"Alice Smith", "Smith"}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("got %v, want %v", got, want)
	}
	if got := People("The agent said hi. User asked why."); len(got) != 0 {
		t.Errorf("stopword names leaked: %v", got)
	}
}

func TestTopics(t *testing.T) {
	got := Topics(conversation)
	if len(got) == 0 || got[0] != "garden" {
		t.Fatalf("got %v, want garden first", got)
	}
	if len(got) > 5 {
		t.Errorf("more than five topics: %v", got)
	}
}

func TestEmotion(t *testing.T) {
	cases := map[string]string{
		"nothing to see":                    "neutral",
		"I am so happy":                     "happy",
		"worried at first, then relieved":   "worried → relieved",
		"thanks, that was a great surprise": "happy → grateful",
	}
	for in, want := range cases {
		if got := Emotion(in); got != want {
			t.Errorf("Emotion(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestActions(t *testing.T) {
	got := Actions(conversation)
	if len(got) == 0 || len(got) > 3 {
		t.Fatalf("got %v", got)
	}
	if got[0] != "Alice Smith said the garden beds are finally built" {
		t.Errorf("first action %q", got[0])
	}
}

func TestOutcome(t *testing.T) {
	cases := map[string]string{
		"it worked":                    OutcomePositive,
		"the build failed":             OutcomeNegative,
		"still working on it":          OutcomePending,
		"done, but one issue":          OutcomeOngoing,
		"done, but one issue; waiting": OutcomePending,
		"we chatted about movies":      OutcomeOngoing,
	}
	for in, want := range cases {
		if got := Outcome(in); got != want {
			t.Errorf("Outcome(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestRuleBasedShrinks(t *testing.T) {
	f := RuleBased(conversation, 100)
	if !strings.HasPrefix(f.Text, "Alice Smith said the garden") {
		t.Errorf("fact %q", f.Text)
	}
	if len(f.Actions) > 2 || len(f.Topics) > 3 || len([]rune(f.Text)) > 50 {
		t.Errorf("oversized result not shrunk: %+v", f)
	}
}

func TestCoreSummary(t *testing.T) {
	f := Fact{Text: "Garden beds are built and ready for planting now", People: []string{"Alice"}, Outcome: OutcomePositive}
	got := CoreSummary(f, 30)
	if len(got) > 30 || !strings.HasPrefix(got, "Alice Garden") || !strings.HasSuffix(got, "...") {
		t.Errorf("got %q", got)
	}
	short := CoreSummary(Fact{Text: "Tea time", Outcome: OutcomeOngoing}, 30)
	if short != "Tea time" {
		t.Errorf("got %q", short)
	}
}

func TestDistillRuleMode(t *testing.T) {
	d := New(Config{}, nil, func() time.Time { return time.Date(2025, 3, 14, 0, 0, 0, 0, time.UTC) }, zap.NewNop())
	res, err := d.Distill(context.Background(), "default", conversation, "", true)
	if err != nil {
		t.Fatalf("distill: %v", err)
	}
	if res.Mode != ModeRule || res.OriginalSize != len(conversation) || res.CompressionRatio <= 0 {
		t.Errorf("unexpected stats %+v", res)
	}
	if res.CoreSummary == "" || res.CoreSize > 30 {
		t.Errorf("core summary %q", res.CoreSummary)
	}
	if _, err := d.Distill(context.Background(), "default", "x", "magic", false); !errors.Is(err, ErrUnknownMode) {
		t.Errorf("got %v, want ErrUnknownMode", err)
	}
}

func TestDistillLLMMode(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"` +
			"```json\\n{\\\"fact\\\":\\\"Beds built\\\",\\\"emotion\\\":\\\"happy\\\",\\\"people\\\":[],\\\"topics\\\":[],\\\"actions\\\":[],\\\"outcome\\\":\\\"positive\\\"}\\n```" +
			`"}}]}`))
	}))
	defer srv.Close()

	router := provider.NewRouter(zap.NewNop())
	p, _ := provider.New(provider.ProviderConfig{Type: "openai", Endpoint: srv.URL}, zap.NewNop())
	router.Register(p)

	d := New(Config{Mode: ModeLLM}, router, nil, zap.NewNop())
	res, err := d.Distill(context.Background(), "default", conversation, "", false)
	if err != nil {
		t.Fatalf("distill: %v", err)
	}
	if res.Distilled.Text != "Beds built" || res.Distilled.Outcome != OutcomePositive {
		t.Errorf("got %+v", res.Distilled)
	}
}

func TestDistillLLMFallsBack(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte(`{"choices":[{"message":{"role":"assistant","content":"not json"}}]}`))
	}))
	defer srv.Close()

	router := provider.NewRouter(zap.NewNop())
	p, _ := provider.New(provider.ProviderConfig{Type: "openai", Endpoint: srv.URL}, zap.NewNop())
	router.Register(p)

	d := New(Config{}, router, nil, zap.NewNop())
	f := d.LLM(context.Background(), "default", conversation)
	if f.Text != RuleBased(conversation, 100).Text {
		t.Errorf("expected rule-based fallback, got %+v", f)
	}
}
