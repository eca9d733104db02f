package services

import (
	"reflect"
	"testing"

	types "github.com/hivemindhq/hivemind-backend/internal/domain"
)

func TestParseSignalLexiconRejectsEmpty(t *testing.T) {
	if _, err := ParseSignalLexicon([]byte("categories: {}")); err == nil {
		t.Fatal("empty lexicon must be rejected")
	}
	if _, err := ParseSignalLexicon([]byte("not: [valid")); err == nil {
		t.Fatal("malformed yaml must be rejected")
	}
}

func TestLexiconDetectDeterministicOrder(t *testing.T) {
	lex, err := ParseSignalLexicon([]byte(`
categories:
  urgency:
    - URGENT
    - blocker
  negative_sentiment:
    - broken
`))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	got := lex.Detect("Blocker: the URGENT thing is Broken")
	want := []types.Signal{
		{Category: "negative_sentiment", Phrase: "broken"},
		{Category: "urgency", Phrase: "blocker"},
		{Category: "urgency", Phrase: "urgent"},
	}
	if !reflect.DeepEqual(got, want) {
		t.Fatalf("got %v, want %v", got, want)
	}

	// Repeated occurrences count once.
	got = lex.Detect("broken broken broken")
	if len(got) != 1 {
		t.Fatalf("expected a single hit per phrase, got %v", got)
	}
}

func TestDefaultLexiconLoads(t *testing.T) {
	lex, err := LoadSignalLexicon()
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	hits := lex.Detect("this is urgent and the build is broken, we decided to roll back")
	cats := map[string]bool{}
	for _, h := range hits {
		cats[h.Category] = true
	}
	for _, want := range []string{"urgency", "negative_sentiment", "decision"} {
		if !cats[want] {
			t.Fatalf("default lexicon missed %q in %v", want, hits)
		}
	}
}
