package services

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/google/uuid"

	"github.com/hivemindhq/hivemind-backend/internal/clients/openai"
	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/platform/apierr"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
)

// Candidate is one similar existing document offered to the classifier,
// along with the digest currently covering it, if any.
type Candidate struct {
	Doc    *types.CanonicalDocument
	Digest *types.Digest
	Score  float64
}

// Decision is the classifier verdict for one incoming document. Duplicate
// and regression must name a DigestID drawn from the candidate set; the
// digest service rejects anything else as ungrounded.
type Decision struct {
	Decision string
	DigestID uuid.UUID
	TopicKey string
	Summary  string
}

// Classifier resolves the ambiguous similarity band. Implementations get one
// bounded call per document: no tools, no retrieval, no iteration.
type Classifier interface {
	Classify(ctx context.Context, doc *types.CanonicalDocument, candidates []Candidate) (*Decision, error)
}

type llmClassifier struct {
	log *logger.Logger
	ai  openai.Client
}

func NewLLMClassifier(log *logger.Logger, ai openai.Client) (Classifier, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if ai == nil {
		return nil, fmt.Errorf("openai client required")
	}
	return &llmClassifier{
		log: log.With("service", "LLMClassifier"),
		ai:  ai,
	}, nil
}

var classifySchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"decision": map[string]any{
			"type": "string",
			"enum": []string{types.DecisionDuplicate, types.DecisionRegression, types.DecisionNew},
		},
		"digest_id": map[string]any{
			"type":        "string",
			"description": "id of the matched digest; empty string when decision is new",
		},
		"summary": map[string]any{
			"type":        "string",
			"description": "one sentence summary of the topic when decision is new",
		},
	},
	"required":             []string{"decision", "digest_id", "summary"},
	"additionalProperties": false,
}

const classifySystemPrompt = `You compare an incoming workplace document against existing issue/decision digests.
Answer duplicate if it reports the same topic as one of the digests.
Answer regression only if it reports a problem a digest already marks resolved.
Answer new if it does not match any digest.
You may only reference digest ids listed in the prompt.`

func (c *llmClassifier) Classify(ctx context.Context, doc *types.CanonicalDocument, candidates []Candidate) (*Decision, error) {
	var b strings.Builder
	fmt.Fprintf(&b, "Incoming document (%s, %s):\nTitle: %s\nBody: %s\n\nCandidate digests:\n",
		doc.Source, doc.DocType, doc.Title, truncate(doc.BodyText, 2000))
	listed := 0
	for _, cand := range candidates {
		if cand.Digest == nil {
			continue
		}
		listed++
		fmt.Fprintf(&b, "- id=%s state=%s topic=%s summary=%s (similarity %.2f)\n",
			cand.Digest.ID, cand.Digest.State, cand.Digest.TopicKey,
			truncate(cand.Digest.Summary, 300), cand.Score)
	}
	if listed == 0 {
		b.WriteString("(none)\n")
	}

	out, err := c.ai.GenerateJSON(ctx, classifySystemPrompt, b.String(), "digest_classification", classifySchema)
	if err != nil {
		return nil, fmt.Errorf("%w: classifier: %s", apierr.ErrTransientDependency, err.Error())
	}

	raw, err := json.Marshal(out)
	if err != nil {
		return nil, err
	}
	var parsed struct {
		Decision string `json:"decision"`
		DigestID string `json:"digest_id"`
		Summary  string `json:"summary"`
	}
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return nil, err
	}

	dec := &Decision{
		Decision: parsed.Decision,
		Summary:  strings.TrimSpace(parsed.Summary),
	}
	if parsed.Decision != types.DecisionNew {
		id, err := uuid.Parse(strings.TrimSpace(parsed.DigestID))
		if err != nil {
			return nil, fmt.Errorf("%w: classifier named digest %q", apierr.ErrUngroundedClassification, parsed.DigestID)
		}
		dec.DigestID = id
	}
	return dec, nil
}

// truncate cuts on a rune boundary so prompt text never carries a split
// multi-byte sequence.
func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	for n > 0 && !utf8.RuneStart(s[n]) {
		n--
	}
	return s[:n] + "..."
}
