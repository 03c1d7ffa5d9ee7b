package distill

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/nidhogg/tiermem/internal/provider"
	"go.uber.org/zap"
)

// Modes accepted by Distiller.Distill.
const (
	ModeRule = "rule"
	ModeLLM  = "llm"
)

// ErrUnknownMode is returned for modes other than rule and llm.
var ErrUnknownMode = errors.New("distill: unknown mode")

const maxPromptChars = 1000

// Config controls output sizes.
type Config struct {
	Mode             string
	MaxBytes         int // distilled fact budget (default 100)
	CoreSummaryBytes int // core summary budget (default 30)
	Timeout          time.Duration
}

// DefaultConfig returns the standard distillation settings.
func DefaultConfig() Config {
	return Config{Mode: ModeRule, MaxBytes: 100, CoreSummaryBytes: 30, Timeout: 10 * time.Second}
}

// Result wraps a distilled fact with compression statistics.
type Result struct {
	Distilled        Fact    `json:"distilled"`
	Mode             string  `json:"mode"`
	Timestamp        string  `json:"timestamp"`
	OriginalSize     int     `json:"original_size"`
	DistilledSize    int     `json:"distilled_size"`
	CompressionRatio float64 `json:"compression_ratio"`
	CoreSummary      string  `json:"core_summary,omitempty"`
	CoreSize         int     `json:"core_size,omitempty"`
}

// Distiller runs rule-based or LLM distillation.
type Distiller struct {
	cfg    Config
	router *provider.Router
	now    func() time.Time
	logger *zap.Logger
}

// New creates a distiller. router may be nil when only rule mode is used.
func New(cfg Config, router *provider.Router, now func() time.Time, logger *zap.Logger) *Distiller {
	def := DefaultConfig()
	if cfg.Mode == "" {
		cfg.Mode = def.Mode
	}
	if cfg.MaxBytes <= 0 {
		cfg.MaxBytes = def.MaxBytes
	}
	if cfg.CoreSummaryBytes <= 0 {
		cfg.CoreSummaryBytes = def.CoreSummaryBytes
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if now == nil {
		now = time.Now
	}
	return &Distiller{cfg: cfg, router: router, now: now, logger: logger}
}

// Distill compresses text. An empty mode uses the configured default.
func (d *Distiller) Distill(ctx context.Context, agentID, text, mode string, withCore bool) (*Result, error) {
	if mode == "" {
		mode = d.cfg.Mode
	}
	var f Fact
	switch mode {
	case ModeRule:
		f = RuleBased(text, d.cfg.MaxBytes)
	case ModeLLM:
		f = d.LLM(ctx, agentID, text)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownMode, mode)
	}

	size := f.Size()
	res := &Result{
		Distilled:     f,
		Mode:          mode,
		Timestamp:     d.now().Format(time.RFC3339),
		OriginalSize:  len(text),
		DistilledSize: size,
	}
	if size > 0 {
		res.CompressionRatio = math.Round(float64(len(text))/float64(size)*10) / 10
	}
	if withCore {
		res.CoreSummary = CoreSummary(f, d.cfg.CoreSummaryBytes)
		res.CoreSize = len(res.CoreSummary)
	}
	return res, nil
}

// LLM asks the configured provider for a structured fact, falling back to
// rule-based distillation on any failure.
func (d *Distiller) LLM(ctx context.Context, agentID, text string) Fact {
	if !d.router.Available() {
		d.logger.Warn("no llm provider configured, using rule-based distillation")
		return RuleBased(text, d.cfg.MaxBytes)
	}
	ctx, cancel := context.WithTimeout(ctx, d.cfg.Timeout)
	defer cancel()

	reply, err := d.router.Complete(ctx, agentID, d.prompt(text), 200, 0.3)
	if err == nil {
		var f Fact
		if err = json.Unmarshal([]byte(stripFences(reply)), &f); err == nil {
			return f
		}
	}
	d.logger.Warn("llm distillation failed, falling back to rule-based", zap.Error(err))
	return RuleBased(text, d.cfg.MaxBytes)
}

func (d *Distiller) prompt(text string) string {
	return fmt.Sprintf(`Extract structured information from this conversation:

Conversation:
%s

Output as JSON with these fields:
- fact: One-sentence summary (max 80 chars)
- emotion: Emotional state or change (e.g., "worried → relieved")
- people: List of people mentioned (names only)
- topics: List of main topics/keywords (max 5)
- actions: Actions taken or needed (max 3, brief)
- outcome: positive|negative|pending|ongoing

Keep total JSON under %d bytes. Be concise.`, truncateRunes(text, maxPromptChars), d.cfg.MaxBytes)
}

func stripFences(s string) string {
	if i := strings.Index(s, "```json"); i >= 0 {
		s = s[i+len("```json"):]
	} else if i := strings.Index(s, "```"); i >= 0 {
		s = s[i+3:]
	} else {
		return strings.TrimSpace(s)
	}
	if j := strings.Index(s, "```"); j >= 0 {
		s = s[:j]
	}
	return strings.TrimSpace(s)
}
