// Package distill compresses raw conversation text into a small structured
// fact and a one-line core summary.
package distill

import (
	"encoding/json"
	"regexp"
	"slices"
	"sort"
	"strings"
	"unicode/utf8"
)

// Fact is the structured output of distillation.
type Fact struct {
	Text    string   `json:"fact"`
	Emotion string   `json:"emotion"`
	People  []string `json:"people"`
	Topics  []string `json:"topics"`
	Actions []string `json:"actions"`
	Outcome string   `json:"outcome"`
}

// Outcome values.
const (
	OutcomePositive = "positive"
	OutcomeNegative = "negative"
	OutcomePending  = "pending"
	OutcomeOngoing  = "ongoing"
)

var (
	fullNameRe   = regexp.MustCompile(`\b([A-Z][a-z]+ [A-Z][a-z]+)\b`)
	speakerRe    = regexp.MustCompile(`\b([A-Z][a-z]+)(?:'s| said| told| asked)\b`)
	topicWordRe  = regexp.MustCompile(`\b[a-z]{3,}\b`)
	sentenceRe   = regexp.MustCompile(`[.!?]`)
	nonPeople    = set("User", "Agent", "I", "You", "We", "They", "He", "She", "It", "The", "And")
	topicStopset = set(
		"the", "a", "an", "and", "or", "but", "is", "are", "was", "were",
		"be", "been", "being", "have", "has", "had", "do", "does", "did",
		"will", "would", "could", "should", "may", "might", "can", "must",
		"i", "you", "he", "she", "it", "we", "they", "me", "him", "her",
		"us", "them", "my", "your", "his", "its", "our", "their", "this",
		"that", "these", "those", "what", "which", "who", "when", "where",
		"why", "how", "said", "told", "asked", "like", "just", "know",
		"think", "want", "need", "going", "get", "got", "make", "made",
	)
)

// emotionFamilies is ordered; the first and last detected family form a transition.
var emotionFamilies = []struct {
	name     string
	keywords []string
}{
	{"happy", []string{"happy", "excited", "great", "wonderful", "love", "glad", "pleased", "delighted"}},
	{"sad", []string{"sad", "unhappy", "disappointed", "upset", "miss", "lonely", "depressed"}},
	{"angry", []string{"angry", "frustrated", "annoyed", "mad", "furious", "irritated"}},
	{"worried", []string{"worried", "concerned", "anxious", "nervous", "afraid", "scared"}},
	{"relieved", []string{"relieved", "better", "recovered", "calmer", "phew"}},
	{"grateful", []string{"thanks", "thank", "grateful", "appreciate", "thankful"}},
}

var actionPhrases = []string{
	"decided", "created", "built", "deployed", "fixed", "solved", "completed",
	"started", "finished", "implemented", "designed", "planned", "scheduled",
	"contacted", "called", "emailed", "messaged", "sent", "received",
	"bought", "sold", "ordered", "delivered", "shipped",
	"need", "want", "should", "must", "have to", "going to",
	"will", "plan to", "intend to", "hope to",
}

var (
	positiveWords = []string{"success", "worked", "completed", "done", "finished", "resolved", "solved", "great"}
	negativeWords = []string{"failed", "broken", "error", "problem", "issue", "wrong", "stuck"}
	pendingWords  = []string{"working on", "in progress", "need to", "will", "plan to", "waiting"}
)

// People finds capitalized full names and speakers ("Alice said").
func People(text string) []string {
	found := map[string]struct{}{}
	for _, re := range []*regexp.Regexp{fullNameRe, speakerRe} {
		for _, m := range re.FindAllStringSubmatch(text, -1) {
			name := m[1]
			if _, skip := nonPeople[name]; skip || len(name) <= 2 {
				continue
			}
			found[name] = struct{}{}
		}
	}
	out := make([]string, 0, len(found))
	for name := range found {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Topics returns the five most frequent non-stopword words of three or
// more letters. Ties keep first-seen order.
func Topics(text string) []string {
	freq := map[string]int{}
	var order []string
	for _, w := range topicWordRe.FindAllString(strings.ToLower(text), -1) {
		if _, stop := topicStopset[w]; stop {
			continue
		}
		if freq[w] == 0 {
			order = append(order, w)
		}
		freq[w]++
	}
	sort.SliceStable(order, func(i, j int) bool { return freq[order[i]] > freq[order[j]] })
	if len(order) > 5 {
		order = order[:5]
	}
	return order
}

// Emotion names the detected emotional state, "a → b" for a change, or
// "neutral".
func Emotion(text string) string {
	lower := strings.ToLower(text)
	var detected []string
	for _, fam := range emotionFamilies {
		if containsAny(lower, fam.keywords) {
			detected = append(detected, fam.name)
		}
	}
	switch len(detected) {
	case 0:
		return "neutral"
	case 1:
		return detected[0]
	default:
		return detected[0] + " → " + detected[len(detected)-1]
	}
}

// Actions returns up to three sentences mentioning an action verb.
func Actions(text string) []string {
	lower := strings.ToLower(text)
	sentences := sentenceRe.Split(text, -1)
	var out []string
	for _, verb := range actionPhrases {
		if !strings.Contains(lower, verb) {
			continue
		}
		for _, s := range sentences {
			if !strings.Contains(strings.ToLower(s), verb) {
				continue
			}
			clean := truncateRunes(strings.TrimSpace(s), 60)
			if clean != "" && !slices.Contains(out, clean) {
				out = append(out, clean)
			}
			break
		}
	}
	if len(out) > 3 {
		out = out[:3]
	}
	return out
}

// Outcome classifies how the conversation resolved.
func Outcome(text string) string {
	lower := strings.ToLower(text)
	pos := containsAny(lower, positiveWords)
	neg := containsAny(lower, negativeWords)
	switch {
	case pos && !neg:
		return OutcomePositive
	case neg && !pos:
		return OutcomeNegative
	case containsAny(lower, pendingWords):
		return OutcomePending
	default:
		return OutcomeOngoing
	}
}

// RuleBased distills text with heuristics only, shrinking lists and the
// fact sentence when the encoded result exceeds maxBytes.
func RuleBased(text string, maxBytes int) Fact {
	f := Fact{
		Text:    leadSentence(text),
		Emotion: Emotion(text),
		People:  People(text),
		Topics:  Topics(text),
		Actions: Actions(text),
		Outcome: Outcome(text),
	}
	if maxBytes <= 0 || f.Size() <= maxBytes {
		return f
	}
	f.Actions = head(f.Actions, 2)
	f.Topics = head(f.Topics, 3)
	f.People = head(f.People, 3)
	if f.Size() > maxBytes {
		f.Text = truncateRunes(f.Text, 50)
	}
	return f
}

// CoreSummary renders "[person] first eight words of the fact (outcome)"
// within maxBytes.
func CoreSummary(f Fact, maxBytes int) string {
	var parts []string
	if len(f.People) > 0 {
		parts = append(parts, f.People[0])
	}
	parts = append(parts, strings.Join(head(strings.Fields(f.Text), 8), " "))
	if f.Outcome != "" && f.Outcome != OutcomeOngoing {
		parts = append(parts, "("+f.Outcome+")")
	}
	summary := strings.Join(parts, " ")
	if maxBytes > 3 && len(summary) > maxBytes {
		summary = truncateBytes(summary, maxBytes-3) + "..."
	}
	return summary
}

// Size is the encoded JSON size of the fact.
func (f Fact) Size() int {
	b, err := json.Marshal(f)
	if err != nil {
		return 0
	}
	return len(b)
}

func leadSentence(text string) string {
	for _, s := range sentenceRe.Split(text, -1) {
		if s = strings.TrimSpace(s); len([]rune(s)) > 20 {
			return truncateRunes(s, 80)
		}
	}
	return truncateRunes(text, 80)
}

func containsAny(s string, words []string) bool {
	for _, w := range words {
		if strings.Contains(s, w) {
			return true
		}
	}
	return false
}

func head(list []string, n int) []string {
	if len(list) > n {
		return list[:n]
	}
	return list
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}

// truncateBytes cuts s to at most n bytes without splitting a rune.
func truncateBytes(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n]
}

func set(items ...string) map[string]struct{} {
	m := make(map[string]struct{}, len(items))
	for _, it := range items {
		m[it] = struct{}{}
	}
	return m
}
