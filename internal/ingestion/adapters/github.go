package adapters

import (
	"encoding/json"
	"fmt"
	"strings"

	types "github.com/hivemindhq/hivemind-backend/internal/domain"
)

type githubPayload struct {
	Action string `json:"action"`
	Issue  struct {
		Number  int    `json:"number"`
		Title   string `json:"title"`
		Body    string `json:"body"`
		HTMLURL string `json:"html_url"`
	} `json:"issue"`
	Comment struct {
		Body    string `json:"body"`
		HTMLURL string `json:"html_url"`
	} `json:"comment"`
	Repository struct {
		FullName string `json:"full_name"`
	} `json:"repository"`
	Sender struct {
		Login string `json:"login"`
	} `json:"sender"`
}

type githubAdapter struct{}

func (githubAdapter) Source() string { return types.SourceGitHub }

func (githubAdapter) EntityKey(payload []byte) (string, error) {
	var p githubPayload
	if err := json.Unmarshal(payload, &p); err != nil {
		return "", unparseable(types.SourceGitHub, err.Error())
	}
	if p.Repository.FullName == "" || p.Issue.Number == 0 {
		return "", unparseable(types.SourceGitHub, "missing repository or issue number")
	}
	return fmt.Sprintf("%s#%d", p.Repository.FullName, p.Issue.Number), nil
}

func (a githubAdapter) Normalize(ev *types.RawEvent) (*NormalizedDoc, error) {
	var p githubPayload
	if err := json.Unmarshal(ev.RawPayload, &p); err != nil {
		return nil, unparseable(types.SourceGitHub, err.Error())
	}
	key, err := a.EntityKey(ev.RawPayload)
	if err != nil {
		return nil, err
	}

	// Comments supersede the issue body as the document text for comment
	// events; the issue title stays as the stable title for the entity.
	body := strings.TrimSpace(p.Issue.Body)
	permalink := p.Issue.HTMLURL
	if strings.HasPrefix(p.Action, "created") && p.Comment.Body != "" {
		body = strings.TrimSpace(p.Comment.Body)
		permalink = p.Comment.HTMLURL
	}
	title := strings.TrimSpace(p.Issue.Title)
	if title == "" {
		return nil, unparseable(types.SourceGitHub, "missing issue title")
	}
	if body == "" {
		body = title
	}
	return &NormalizedDoc{
		Title:     title,
		BodyText:  body,
		EntityKey: key,
		Permalink: permalink,
	}, nil
}
