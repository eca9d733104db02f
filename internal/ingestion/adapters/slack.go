package adapters

import (
	"encoding/json"
	"strings"
	"unicode/utf8"

	types "github.com/hivemindhq/hivemind-backend/internal/domain"
)

// slackPayload is the event-callback envelope Slack delivers. Only message
// events are normalized; the thread root timestamp anchors the entity.
type slackPayload struct {
	Event struct {
		Type     string `json:"type"`
		Channel  string `json:"channel"`
		User     string `json:"user"`
		Text     string `json:"text"`
		TS       string `json:"ts"`
		ThreadTS string `json:"thread_ts"`
	} `json:"event"`
	TeamID    string `json:"team_id"`
	Permalink string `json:"permalink"`
}

type slackAdapter struct{}

func (slackAdapter) Source() string { return types.SourceSlack }

func (slackAdapter) EntityKey(payload []byte) (string, error) {
	var p slackPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", unparseable(types.SourceSlack, err.Error())
	}
	if p.Event.Channel == "" || p.Event.TS == "" {
		return "", unparseable(types.SourceSlack, "missing channel or ts")
	}
	anchor := p.Event.ThreadTS
	if anchor == "" {
		anchor = p.Event.TS
	}
	return p.Event.Channel + ":" + anchor, nil
}

func (a slackAdapter) Normalize(ev *types.RawEvent) (*NormalizedDoc, error) {
	var p slackPayload
	if err := json.Unmarshal(ev.RawPayload, &p); err != nil {
		return nil, unparseable(types.SourceSlack, err.Error())
	}
	if p.Event.Type != "message" {
		return nil, unparseable(types.SourceSlack, "unsupported event type "+p.Event.Type)
	}
	key, err := a.EntityKey(ev.RawPayload)
	if err != nil {
		return nil, err
	}
	text := strings.TrimSpace(p.Event.Text)
	if text == "" {
		return nil, unparseable(types.SourceSlack, "empty message text")
	}
	title := text
	if idx := strings.IndexByte(title, '\n'); idx >= 0 {
		title = title[:idx]
	}
	if len(title) > 140 {
		cut := 140
		for cut > 0 && !utf8.RuneStart(title[cut]) {
			cut--
		}
		title = title[:cut]
	}
	return &NormalizedDoc{
		Title:     title,
		BodyText:  text,
		EntityKey: key,
		Permalink: p.Permalink,
	}, nil
}
