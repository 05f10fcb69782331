// Package nlp turns a user utterance into an intent with extracted
// parameters. Classification is a deterministic keyword scorer over a
// declarative intent table; no model calls are involved, so the same text
// and context always produce the same result.
package nlp

import (
	"sort"
	"strings"

	"github.com/antzucaro/matchr"
)

// Unknown is the sentinel intent emitted when nothing scores positively.
const Unknown = "unknown"

// jaroWinklerThreshold is how close a token must be to a keyword to count as
// a fuzzy hit. High on purpose: transcription slips like "volum" should
// match, unrelated words should not.
const jaroWinklerThreshold = 0.92

// minFuzzyLen guards short tokens from fuzzy matching; Jaro-Winkler scores
// on 3- and 4-letter words are too noisy to trust.
const minFuzzyLen = 5

// SessionHint is the slice of session state the scorer consults. Nil means
// no session: intents that require context score zero and no boosts apply.
type SessionHint struct {
	LastIntent     string
	LastParameters map[string]string
	Location       string
}

// Alternative is a runner-up intent with its raw score.
type Alternative struct {
	Intent string  `json:"intent"`
	Score  float64 `json:"score"`
}

// Result is the outcome of classifying one utterance.
type Result struct {
	Intent       string            `json:"intent"`
	Confidence   float64           `json:"confidence"`
	Parameters   map[string]string `json:"parameters"`
	Text         string            `json:"text"`
	ContextUsed  bool              `json:"context_used"`
	Alternatives []Alternative     `json:"alternatives"`
}

// Engine classifies utterances against its intent table. Stateless after
// construction and safe for concurrent use.
type Engine struct {
	intents []intentDef
}

// NewEngine builds an engine with the standard intent catalog.
func NewEngine() *Engine {
	return &Engine{intents: intentTable}
}

// Intents lists the catalog's intent labels in table order.
func (e *Engine) Intents() []string {
	names := make([]string, len(e.intents))
	for i, def := range e.intents {
		names[i] = def.name
	}
	return names
}

// Parse classifies text and extracts the winning intent's parameters.
func (e *Engine) Parse(text string, hint *SessionHint) Result {
	lowered := strings.ToLower(strings.TrimSpace(text))
	tokens := strings.Fields(lowered)

	if len(tokens) == 0 {
		return Result{Intent: Unknown, Parameters: map[string]string{}, Text: text}
	}

	type scored struct {
		def         *intentDef
		score       float64
		contextUsed bool
	}
	var candidates []scored

	for i := range e.intents {
		def := &e.intents[i]

		hits := 0.0
		for _, tok := range tokens {
			if def.matches(tok) {
				hits++
			}
		}
		// Early tokens carry the command verb; reward keywords there.
		for pos := 0; pos < len(tokens) && pos < 5; pos++ {
			if def.matches(tokens[pos]) {
				hits += float64(5-pos) * 0.1
			}
		}

		score := hits * def.weight
		if def.requiresContext && hint == nil {
			score = 0
		}

		contextUsed := false
		if hint != nil && def.boost != nil && score > 0 {
			if def.boost.applies(hint) {
				score += def.boost.amount
				contextUsed = true
			}
		}

		if score > 0 {
			candidates = append(candidates, scored{def: def, score: score, contextUsed: contextUsed})
		}
	}

	if len(candidates) == 0 {
		return Result{Intent: Unknown, Parameters: map[string]string{}, Text: text}
	}

	// Deterministic ranking: score descending, then table order.
	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].score > candidates[j].score
	})

	best := candidates[0]
	confidence := best.score / float64(len(tokens))
	if confidence > 1 {
		confidence = 1
	}

	var alternatives []Alternative
	for _, c := range candidates[1:] {
		if len(alternatives) == 3 {
			break
		}
		alternatives = append(alternatives, Alternative{Intent: c.def.name, Score: c.score})
	}

	params := map[string]string{}
	if best.def.extract != nil {
		params = best.def.extract(lowered, tokens)
	}

	return Result{
		Intent:       best.def.name,
		Confidence:   confidence,
		Parameters:   params,
		Text:         text,
		ContextUsed:  best.contextUsed,
		Alternatives: alternatives,
	}
}

// ─── Intent table machinery ───

// extractor pattern-matches a lowered utterance into a parameter map.
type extractor func(lowered string, tokens []string) map[string]string

// contextBoost raises an intent's score when the session's last intent or
// the user's location matches.
type contextBoost struct {
	afterIntents []string
	locations    []string
	amount       float64
}

func (b *contextBoost) applies(hint *SessionHint) bool {
	for _, intent := range b.afterIntents {
		if hint.LastIntent == intent {
			return true
		}
	}
	if hint.Location != "" {
		loc := strings.ToLower(hint.Location)
		for _, want := range b.locations {
			if strings.Contains(loc, want) {
				return true
			}
		}
	}
	return false
}

// intentDef is one row of the intent table.
type intentDef struct {
	name            string
	keywords        []string
	weight          float64
	requiresContext bool
	boost           *contextBoost
	extract         extractor
}

// matches reports whether the token counts as a keyword hit, exactly or by
// Jaro-Winkler similarity for longer tokens.
func (d *intentDef) matches(token string) bool {
	for _, kw := range d.keywords {
		if token == kw {
			return true
		}
		if len(token) >= minFuzzyLen && len(kw) >= minFuzzyLen {
			if matchr.JaroWinkler(token, kw, false) >= jaroWinklerThreshold {
				return true
			}
		}
	}
	return false
}
