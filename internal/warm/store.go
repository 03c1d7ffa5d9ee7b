package warm

import (
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/google/uuid"
	"github.com/nidhogg/tiermem/internal/scoring"
	"go.uber.org/zap"
)

// Fact is a scored warm-tier memory.
type Fact struct {
	ID          string              `json:"id"`
	Text        string              `json:"text"`
	Category    string              `json:"category"`
	Importance  float64             `json:"importance"`
	CreatedAt   float64             `json:"created_at"`
	AccessCount int                 `json:"access_count"`
	Score       float64             `json:"score"`
	Tier        scoring.DisplayTier `json:"tier,omitempty"`
	Archived    bool                `json:"archived,omitempty"` // already copied to the cold tier
}

// Hit is a search result with its query relevance.
type Hit struct {
	Fact
	Relevance float64 `json:"relevance"`
}

// Config bounds the warm store.
type Config struct {
	MaxKB             int     // byte budget in KiB (default 50)
	RetentionDays     float64 // minimum age before expiry (default 30)
	EvictionThreshold float64 // expired facts below this score are evicted (default 0.3)
}

// DefaultConfig returns the standard warm store bounds.
func DefaultConfig() Config {
	return Config{
		MaxKB:             50,
		RetentionDays:     30,
		EvictionThreshold: 0.3,
	}
}

// factNamespace scopes fact identifiers generated by NewFactID.
var factNamespace = uuid.NewSHA1(uuid.NameSpaceURL, []byte("tiermem/warm-fact"))

// NewFactID derives an identifier from the fact text and its creation time.
// Identical text stored at the same instant yields the same id.
func NewFactID(text string, createdAt float64) string {
	return uuid.NewSHA1(factNamespace, []byte(text+"|"+strconv.FormatFloat(createdAt, 'f', -1, 64))).String()
}

// Store is a scored, byte-budgeted fact collection.
type Store struct {
	facts  []Fact
	cfg    Config
	scorer *scoring.Scorer
	logger *zap.Logger
}

// New wraps an existing fact list.
func New(facts []Fact, cfg Config, scorer *scoring.Scorer, logger *zap.Logger) *Store {
	if facts == nil {
		facts = []Fact{}
	}
	return &Store{facts: facts, cfg: cfg, scorer: scorer, logger: logger}
}

// Facts returns the current fact list.
func (s *Store) Facts() []Fact { return s.facts }

// MaxBytes is the configured byte budget.
func (s *Store) MaxBytes() int { return s.cfg.MaxKB * 1024 }

// Add stores a new fact, recomputes scores and evicts the lowest-scoring
// facts until the collection fits its budget. It never evicts the last fact.
// Budget evictions are returned alongside the new fact.
func (s *Store) Add(text, category string, importance float64) (Fact, []Fact) {
	created := scoring.Unix(s.scorer.Now())
	f := Fact{
		ID:         NewFactID(text, created),
		Text:       text,
		Category:   category,
		Importance: importance,
		CreatedAt:  created,
		Score:      importance,
	}
	s.facts = append(s.facts, f)
	s.Rescore()
	evicted := s.enforceBudget()

	for _, cur := range s.facts {
		if cur.ID == f.ID {
			return cur, evicted
		}
	}
	return f, evicted
}

func (s *Store) enforceBudget() []Fact {
	max := s.MaxBytes()
	if max <= 0 {
		return nil
	}
	var evicted []Fact
	for len(s.facts) > 1 && s.Size() > max {
		lowest := 0
		for i := 1; i < len(s.facts); i++ {
			if s.facts[i].Score < s.facts[lowest].Score {
				lowest = i
			}
		}
		evicted = append(evicted, s.facts[lowest])
		s.facts = append(s.facts[:lowest], s.facts[lowest+1:]...)
	}
	if len(evicted) > 0 {
		s.logger.Info("warm store over budget, evicted lowest-scoring facts",
			zap.Int("evicted", len(evicted)),
			zap.Int("max_bytes", max))
	}
	return evicted
}

// MarkArchived flags the fact with id as present in the cold tier.
func (s *Store) MarkArchived(id string) bool {
	for i := range s.facts {
		if s.facts[i].ID == id {
			s.facts[i].Archived = true
			return true
		}
	}
	return false
}

// Rescore recomputes every fact's score and display tier.
func (s *Store) Rescore() {
	for i := range s.facts {
		f := &s.facts[i]
		f.Score = s.scorer.Score(f.Importance, f.CreatedAt, f.AccessCount)
		f.Tier = scoring.ClassifyTier(f.Score)
	}
}

// EvictExpired removes facts older than the retention window whose score
// fell below the eviction threshold, and returns them for archival.
func (s *Store) EvictExpired() []Fact {
	s.Rescore()
	cutoff := scoring.Unix(s.scorer.Now()) - s.cfg.RetentionDays*86400

	keep := s.facts[:0:0]
	var evicted []Fact
	for _, f := range s.facts {
		if f.CreatedAt < cutoff && f.Score < s.cfg.EvictionThreshold {
			evicted = append(evicted, f)
			continue
		}
		keep = append(keep, f)
	}
	s.facts = keep
	return evicted
}

// Search ranks facts by token overlap with the query times score, and
// counts an access on every fact it returns.
func (s *Store) Search(query string, limit int) []Hit {
	queryWords := wordSet(strings.Fields(strings.ToLower(query)))
	if len(queryWords) == 0 {
		return nil
	}
	s.Rescore()

	type match struct {
		idx       int
		relevance float64
	}
	var matches []match
	for i, f := range s.facts {
		words := wordSet(strings.Fields(strings.ToLower(f.Text)))
		for w := range wordSet(SplitCategory(f.Category)) {
			words[w] = struct{}{}
		}
		overlap := 0
		for w := range queryWords {
			if _, ok := words[w]; ok {
				overlap++
			}
		}
		if overlap == 0 {
			continue
		}
		relevance := float64(overlap) / float64(len(queryWords)) * f.Score
		matches = append(matches, match{idx: i, relevance: relevance})
	}

	sort.SliceStable(matches, func(i, j int) bool {
		return matches[i].relevance > matches[j].relevance
	})
	if limit > 0 && len(matches) > limit {
		matches = matches[:limit]
	}

	hits := make([]Hit, 0, len(matches))
	for _, m := range matches {
		s.facts[m.idx].AccessCount++
		hits = append(hits, Hit{Fact: s.facts[m.idx], Relevance: m.relevance})
	}
	return hits
}

// ByCategory returns facts whose category starts with prefix, best score
// first. A non-positive limit returns every match.
func (s *Store) ByCategory(prefix string, limit int) []Fact {
	s.Rescore()
	var out []Fact
	for _, f := range s.facts {
		if strings.HasPrefix(f.Category, prefix) {
			out = append(out, f)
		}
	}
	sort.SliceStable(out, func(i, j int) bool { return out[i].Score > out[j].Score })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out
}

// Size is the serialized byte size of the fact list.
func (s *Store) Size() int {
	b, err := json.Marshal(s.facts)
	if err != nil {
		return 0
	}
	return len(b)
}

// SplitCategory lowercases a category path and splits it on '/', '_' and '-'.
func SplitCategory(category string) []string {
	return strings.FieldsFunc(strings.ToLower(category), func(r rune) bool {
		return r == '/' || r == '_' || r == '-'
	})
}

func wordSet(words []string) map[string]struct{} {
	set := make(map[string]struct{}, len(words))
	for _, w := range words {
		set[w] = struct{}{}
	}
	return set
}
