// Package expand classifies the intent of a question and widens it with
// domain synonyms before retrieval. Both the intent signal groups and the
// synonym table are data, loaded from a yaml vocabulary and hot-reloadable.
package expand

import (
	"fmt"
	"regexp"
	"sort"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/mixmentor/mixmentor/internal/config"
)

// Intent labels a question with the kind of answer it wants. Routing and
// filename boosting both key off it.
type Intent string

const (
	IntentMastering Intent = "mastering"
	IntentMixing    Intent = "mixing"
	IntentFactual   Intent = "factual"
	IntentCreative  Intent = "creative"
	IntentRealtime  Intent = "realtime"
	IntentGeneral   Intent = "general"
)

// Expansion is the result of expanding a query
type Expansion struct {
	Intent        Intent
	OriginalQuery string
	ExpandedQuery string   // Original plus appended synonyms
	AddedTerms    []string // In append order, deduplicated
}

// Vocab is the on-disk vocabulary format
type Vocab struct {
	// Intent groups are evaluated in listed order; first match wins.
	Intents []IntentGroup `yaml:"intents"`
	// Synonyms maps a trigger term to terms appended when it occurs.
	Synonyms map[string][]string `yaml:"synonyms"`
}

type IntentGroup struct {
	Name     string   `yaml:"name"`
	Keywords []string `yaml:"keywords"`
}

type compiledGroup struct {
	intent  Intent
	pattern *regexp.Regexp
}

// Expander holds the compiled vocabulary behind an RWMutex so a hot reload
// can swap it while requests are in flight.
type Expander struct {
	logger *zap.Logger

	mu       sync.RWMutex
	groups   []compiledGroup
	synonyms map[string][]string
	synWords []string // Trigger terms in deterministic order
	synRegex map[string]*regexp.Regexp
}

// New creates an expander with an empty vocabulary. Call Reload (directly or
// through a config.Watcher) to load one.
func New(logger *zap.Logger) *Expander {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Expander{
		logger:   logger,
		synonyms: make(map[string][]string),
		synRegex: make(map[string]*regexp.Regexp),
	}
}

// Reload parses and compiles a vocabulary, replacing the current one only on
// success. Satisfies config.ReloadFunc.
func (e *Expander) Reload(data []byte) error {
	var v Vocab
	if err := config.ParseYAML(data, &v); err != nil {
		return err
	}

	groups := make([]compiledGroup, 0, len(v.Intents))
	for _, g := range v.Intents {
		if len(g.Keywords) == 0 {
			continue
		}
		quoted := make([]string, len(g.Keywords))
		for i, kw := range g.Keywords {
			quoted[i] = regexp.QuoteMeta(strings.ToLower(kw))
		}
		// Whole-word match so "master" does not fire on "mastermind"
		re, err := regexp.Compile(`\b(` + strings.Join(quoted, "|") + `)\b`)
		if err != nil {
			return fmt.Errorf("compile intent group %q: %w", g.Name, err)
		}
		groups = append(groups, compiledGroup{intent: Intent(g.Name), pattern: re})
	}

	synRegex := make(map[string]*regexp.Regexp, len(v.Synonyms))
	synWords := make([]string, 0, len(v.Synonyms))
	for trigger := range v.Synonyms {
		re, err := regexp.Compile(`\b` + regexp.QuoteMeta(strings.ToLower(trigger)) + `\b`)
		if err != nil {
			return fmt.Errorf("compile synonym trigger %q: %w", trigger, err)
		}
		synRegex[trigger] = re
		synWords = append(synWords, trigger)
	}
	// Map iteration order is random; sort for stable expansion output
	sort.Strings(synWords)

	e.mu.Lock()
	e.groups = groups
	e.synonyms = v.Synonyms
	e.synWords = synWords
	e.synRegex = synRegex
	e.mu.Unlock()

	e.logger.Info("Expansion vocabulary loaded",
		zap.Int("intent_groups", len(groups)),
		zap.Int("synonym_triggers", len(synWords)),
	)
	return nil
}

// Expand classifies the query's intent and appends synonym terms for every
// trigger term present. Expansion is idempotent: terms already in the query
// are not appended, and expanding the output again adds nothing.
func (e *Expander) Expand(query string) Expansion {
	lower := strings.ToLower(query)

	e.mu.RLock()
	defer e.mu.RUnlock()

	intent := IntentGeneral
	for _, g := range e.groups {
		if g.pattern.MatchString(lower) {
			intent = g.intent
			break
		}
	}

	var added []string
	expanded := query
	expandedLower := lower
	for _, trigger := range e.synWords {
		if !e.synRegex[trigger].MatchString(lower) {
			continue
		}
		for _, term := range e.synonyms[trigger] {
			termLower := strings.ToLower(term)
			if strings.Contains(expandedLower, termLower) {
				continue
			}
			expanded += " " + term
			expandedLower += " " + termLower
			added = append(added, term)
		}
	}

	return Expansion{
		Intent:        intent,
		OriginalQuery: query,
		ExpandedQuery: expanded,
		AddedTerms:    added,
	}
}
