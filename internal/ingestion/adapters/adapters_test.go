package adapters

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"
	"unicode/utf8"

	"gorm.io/datatypes"

	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/platform/apierr"
)

func rawEvent(source string, payload string) *types.RawEvent {
	return &types.RawEvent{
		Source:     source,
		TenantID:   "t1",
		RawPayload: datatypes.JSON(payload),
	}
}

func TestForSourceUnknown(t *testing.T) {
	_, err := ForSource("jira")
	if !errors.Is(err, apierr.ErrUnparseablePayload) {
		t.Fatalf("expected unparseable payload error, got %v", err)
	}
}

func TestSlackNormalize(t *testing.T) {
	payload := `{"event":{"type":"message","channel":"C42","user":"U1","text":"deploy is broken\nsecond line","ts":"1700000000.100","thread_ts":"1700000000.000"},"team_id":"T1","permalink":"https://slack.example/p1"}`

	a, err := ForSource(types.SourceSlack)
	if err != nil {
		t.Fatalf("ForSource: %v", err)
	}

	key, err := a.EntityKey([]byte(payload))
	if err != nil {
		t.Fatalf("EntityKey: %v", err)
	}
	if key != "C42:1700000000.000" {
		t.Fatalf("thread replies must anchor on thread_ts, got %q", key)
	}

	doc, err := a.Normalize(rawEvent(types.SourceSlack, payload))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if doc.Title != "deploy is broken" {
		t.Fatalf("title should be the first line, got %q", doc.Title)
	}
	if doc.BodyText != "deploy is broken\nsecond line" {
		t.Fatalf("unexpected body: %q", doc.BodyText)
	}
	if doc.Permalink != "https://slack.example/p1" {
		t.Fatalf("unexpected permalink: %q", doc.Permalink)
	}

	again, err := a.Normalize(rawEvent(types.SourceSlack, payload))
	if err != nil {
		t.Fatalf("Normalize (second pass): %v", err)
	}
	if !reflect.DeepEqual(doc, again) {
		t.Fatalf("normalization not deterministic: %+v vs %+v", doc, again)
	}
}

func TestSlackTitleTruncatesOnRuneBoundary(t *testing.T) {
	// 50 three-byte runes, 150 bytes. A byte cut at 140 would land inside a
	// rune.
	text := strings.Repeat("日", 50)
	payload := fmt.Sprintf(`{"event":{"type":"message","channel":"C42","text":"%s","ts":"1700000000.300"}}`, text)

	a, _ := ForSource(types.SourceSlack)
	doc, err := a.Normalize(rawEvent(types.SourceSlack, payload))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(doc.Title) > 140 {
		t.Fatalf("title not truncated, %d bytes", len(doc.Title))
	}
	if !utf8.ValidString(doc.Title) {
		t.Fatalf("truncation split a rune: %q", doc.Title)
	}
	if doc.BodyText != text {
		t.Fatal("body must keep the full text")
	}
}

func TestSlackTopLevelMessageUsesOwnTS(t *testing.T) {
	payload := `{"event":{"type":"message","channel":"C42","text":"hello","ts":"1700000000.200"}}`

	a, _ := ForSource(types.SourceSlack)
	key, err := a.EntityKey([]byte(payload))
	if err != nil {
		t.Fatalf("EntityKey: %v", err)
	}
	if key != "C42:1700000000.200" {
		t.Fatalf("top-level message should anchor on its own ts, got %q", key)
	}
}

func TestSlackUnparseable(t *testing.T) {
	a, _ := ForSource(types.SourceSlack)
	cases := map[string]string{
		"not json":         `{{{`,
		"missing channel":  `{"event":{"type":"message","text":"x","ts":"1"}}`,
		"empty text":       `{"event":{"type":"message","channel":"C1","text":"   ","ts":"1"}}`,
		"wrong event type": `{"event":{"type":"reaction_added","channel":"C1","text":"x","ts":"1"}}`,
	}
	for name, payload := range cases {
		if _, err := a.Normalize(rawEvent(types.SourceSlack, payload)); !errors.Is(err, apierr.ErrUnparseablePayload) {
			t.Fatalf("%s: expected unparseable payload error, got %v", name, err)
		}
	}
}

func TestGitHubNormalizeIssue(t *testing.T) {
	payload := `{"action":"opened","issue":{"number":17,"title":"API timeouts","body":"requests hang","html_url":"https://github.example/i/17"},"repository":{"full_name":"acme/api"},"sender":{"login":"casey"}}`

	a, _ := ForSource(types.SourceGitHub)
	key, err := a.EntityKey([]byte(payload))
	if err != nil {
		t.Fatalf("EntityKey: %v", err)
	}
	if key != "acme/api#17" {
		t.Fatalf("unexpected entity key %q", key)
	}

	doc, err := a.Normalize(rawEvent(types.SourceGitHub, payload))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if doc.Title != "API timeouts" || doc.BodyText != "requests hang" {
		t.Fatalf("unexpected doc: %+v", doc)
	}
}

func TestGitHubNormalizeComment(t *testing.T) {
	payload := `{"action":"created","issue":{"number":17,"title":"API timeouts","body":"requests hang","html_url":"https://github.example/i/17"},"comment":{"body":"still failing after the fix","html_url":"https://github.example/i/17#c1"},"repository":{"full_name":"acme/api"}}`

	a, _ := ForSource(types.SourceGitHub)
	doc, err := a.Normalize(rawEvent(types.SourceGitHub, payload))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if doc.BodyText != "still failing after the fix" {
		t.Fatalf("comment body should win for comment events, got %q", doc.BodyText)
	}
	if doc.Title != "API timeouts" {
		t.Fatalf("issue title should stay stable, got %q", doc.Title)
	}
	if doc.Permalink != "https://github.example/i/17#c1" {
		t.Fatalf("unexpected permalink %q", doc.Permalink)
	}
}

func TestGitHubUnparseable(t *testing.T) {
	a, _ := ForSource(types.SourceGitHub)
	if _, err := a.Normalize(rawEvent(types.SourceGitHub, `{"action":"opened"}`)); !errors.Is(err, apierr.ErrUnparseablePayload) {
		t.Fatalf("expected unparseable payload error, got %v", err)
	}
}

func TestNotionNormalize(t *testing.T) {
	payload := `{"event_type":"page.updated","page":{"id":"pg-9","url":"https://notion.example/pg-9","title":"Rollout plan"},"plain_text":"we decided to ship on friday","author":{"name":"sam"}}`

	a, _ := ForSource(types.SourceNotion)
	key, err := a.EntityKey([]byte(payload))
	if err != nil {
		t.Fatalf("EntityKey: %v", err)
	}
	if key != "pg-9" {
		t.Fatalf("unexpected entity key %q", key)
	}

	doc, err := a.Normalize(rawEvent(types.SourceNotion, payload))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if doc.Title != "Rollout plan" || doc.BodyText != "we decided to ship on friday" {
		t.Fatalf("unexpected doc: %+v", doc)
	}
}

func TestNotionFallsBackToTitleBody(t *testing.T) {
	payload := `{"page":{"id":"pg-1","title":"Standup notes"}}`

	a, _ := ForSource(types.SourceNotion)
	doc, err := a.Normalize(rawEvent(types.SourceNotion, payload))
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if doc.BodyText != "Standup notes" {
		t.Fatalf("empty plain_text should fall back to title, got %q", doc.BodyText)
	}
}
