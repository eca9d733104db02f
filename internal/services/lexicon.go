package services

import (
	_ "embed"
	"fmt"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"

	types "github.com/hivemindhq/hivemind-backend/internal/domain"
)

//go:embed signals.yaml
var defaultSignalsYAML []byte

// SignalLexicon holds the phrase lists the enricher scans for, keyed by
// signal category. Matching is case-insensitive substring matching; results
// are ordered by category then phrase so enrichment output is deterministic.
type SignalLexicon struct {
	categories map[string][]string
}

type lexiconFile struct {
	Categories map[string][]string `yaml:"categories"`
}

// LoadSignalLexicon reads the lexicon from SIGNAL_LEXICON_PATH when set,
// otherwise from the embedded default.
func LoadSignalLexicon() (*SignalLexicon, error) {
	raw := defaultSignalsYAML
	if path := strings.TrimSpace(os.Getenv("SIGNAL_LEXICON_PATH")); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("signal lexicon %s: %w", path, err)
		}
		raw = data
	}
	return ParseSignalLexicon(raw)
}

func ParseSignalLexicon(raw []byte) (*SignalLexicon, error) {
	var f lexiconFile
	if err := yaml.Unmarshal(raw, &f); err != nil {
		return nil, fmt.Errorf("signal lexicon: %w", err)
	}
	if len(f.Categories) == 0 {
		return nil, fmt.Errorf("signal lexicon has no categories")
	}
	cats := make(map[string][]string, len(f.Categories))
	for name, phrases := range f.Categories {
		cleaned := make([]string, 0, len(phrases))
		for _, p := range phrases {
			p = strings.ToLower(strings.TrimSpace(p))
			if p != "" {
				cleaned = append(cleaned, p)
			}
		}
		sort.Strings(cleaned)
		cats[strings.ToLower(name)] = cleaned
	}
	return &SignalLexicon{categories: cats}, nil
}

// Detect returns every (category, phrase) hit in the text, deterministically
// ordered. One hit per phrase regardless of occurrence count.
func (l *SignalLexicon) Detect(text string) []types.Signal {
	haystack := strings.ToLower(text)
	names := make([]string, 0, len(l.categories))
	for name := range l.categories {
		names = append(names, name)
	}
	sort.Strings(names)

	var out []types.Signal
	for _, name := range names {
		for _, phrase := range l.categories[name] {
			if strings.Contains(haystack, phrase) {
				out = append(out, types.Signal{Category: name, Phrase: phrase})
			}
		}
	}
	return out
}
