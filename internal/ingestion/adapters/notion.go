package adapters

import (
	"encoding/json"
	"strings"

	types "github.com/hivemindhq/hivemind-backend/internal/domain"
)

type notionPayload struct {
	EventType string `json:"event_type"`
	Page      struct {
		ID    string `json:"id"`
		URL   string `json:"url"`
		Title string `json:"title"`
	} `json:"page"`
	PlainText string `json:"plain_text"`
	Author    struct {
		Name string `json:"name"`
	} `json:"author"`
}

type notionAdapter struct{}

func (notionAdapter) Source() string { return types.SourceNotion }

func (notionAdapter) EntityKey(payload []byte) (string, error) {
	var p notionPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", unparseable(types.SourceNotion, err.Error())
	}
	if p.Page.ID == "" {
		return "", unparseable(types.SourceNotion, "missing page id")
	}
	return p.Page.ID, nil
}

func (a notionAdapter) Normalize(ev *types.RawEvent) (*NormalizedDoc, error) {
	var p notionPayload
	if err := json.Unmarshal(ev.RawPayload, &p); err != nil {
		return nil, unparseable(types.SourceNotion, err.Error())
	}
	key, err := a.EntityKey(ev.RawPayload)
	if err != nil {
		return nil, err
	}
	title := strings.TrimSpace(p.Page.Title)
	if title == "" {
		return nil, unparseable(types.SourceNotion, "missing page title")
	}
	body := strings.TrimSpace(p.PlainText)
	if body == "" {
		body = title
	}
	return &NormalizedDoc{
		Title:     title,
		BodyText:  body,
		EntityKey: key,
		Permalink: p.Page.URL,
	}, nil
}
