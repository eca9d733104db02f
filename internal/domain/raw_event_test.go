package domain

import "testing"

func TestEventIDDeterministic(t *testing.T) {
	payload := []byte(`{"event":{"type":"message","text":"hi"}}`)

	first := EventID(SourceSlack, "d-1", payload)
	second := EventID(SourceSlack, "d-1", payload)
	if first != second {
		t.Fatalf("same inputs produced different event ids: %s vs %s", first, second)
	}
	if len(first) != 64 {
		t.Fatalf("expected hex sha256, got %q", first)
	}
}

func TestEventIDDistinguishesInputs(t *testing.T) {
	payload := []byte(`{"a":1}`)

	base := EventID(SourceSlack, "d-1", payload)
	if EventID(SourceGitHub, "d-1", payload) == base {
		t.Fatal("different sources must produce different event ids")
	}
	if EventID(SourceSlack, "d-2", payload) == base {
		t.Fatal("different delivery ids must produce different event ids")
	}
	if EventID(SourceSlack, "d-1", []byte(`{"a":2}`)) == base {
		t.Fatal("different payloads must produce different event ids")
	}
}

func TestEventIDFieldBoundaries(t *testing.T) {
	// The separator must prevent (source, delivery) ambiguity.
	a := EventID("slack", "xd-1", []byte("p"))
	b := EventID("slackx", "d-1", []byte("p"))
	if a == b {
		t.Fatal("field boundary collision in event id derivation")
	}
}

func TestDocIDStable(t *testing.T) {
	eventID := EventID(SourceNotion, "d-9", []byte(`{"page":{"id":"p1"}}`))

	first := DocID(eventID)
	second := DocID(eventID)
	if first != second {
		t.Fatalf("doc id not stable: %s vs %s", first, second)
	}
	if DocID(eventID+"x") == first {
		t.Fatal("different event ids must map to different doc ids")
	}
}
