package services

import (
	"context"
	"encoding/json"
	"fmt"
	"regexp"
	"sort"

	"gorm.io/datatypes"

	"github.com/hivemindhq/hivemind-backend/internal/bus"
	"github.com/hivemindhq/hivemind-backend/internal/data/graph"
	docsrepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/docs"
	pipelinerepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/pipeline"
	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/platform/apierr"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
	"github.com/hivemindhq/hivemind-backend/internal/platform/neo4jdb"
)

const guardedUpdateAttempts = 3

// DocTypeClassifier decides the document type from its content and detected
// signals. The default is a pure heuristic; a failing classifier leaves the
// document partially enriched rather than blocking the pipeline.
type DocTypeClassifier func(doc *types.CanonicalDocument, signals []types.Signal) (string, error)

// EnricherService consumes the enrich channel, extracts entities and signals,
// classifies the document type, and hands the document to the embedder.
// Enrichment mutates the canonical document in place under an optimistic
// guard; it never creates or deletes documents.
type EnricherService interface {
	Handle(ctx context.Context, msg bus.Message) error
}

type enricherService struct {
	log         *logger.Logger
	documents   docsrepo.DocumentRepo
	checkpoints pipelinerepo.CheckpointRepo
	eventBus    bus.Bus
	lexicon     *SignalLexicon
	classify    DocTypeClassifier
	graphClient *neo4jdb.Client
}

func NewEnricherService(
	log *logger.Logger,
	documents docsrepo.DocumentRepo,
	checkpoints pipelinerepo.CheckpointRepo,
	eventBus bus.Bus,
	lexicon *SignalLexicon,
	classify DocTypeClassifier,
	graphClient *neo4jdb.Client,
) (EnricherService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if documents == nil {
		return nil, fmt.Errorf("document repo required")
	}
	if checkpoints == nil {
		return nil, fmt.Errorf("checkpoint repo required")
	}
	if eventBus == nil {
		return nil, fmt.Errorf("bus required")
	}
	if lexicon == nil {
		return nil, fmt.Errorf("signal lexicon required")
	}
	if classify == nil {
		classify = ClassifyDocType
	}
	return &enricherService{
		log:         log.With("service", "EnricherService"),
		documents:   documents,
		checkpoints: checkpoints,
		eventBus:    eventBus,
		lexicon:     lexicon,
		classify:    classify,
		graphClient: graphClient,
	}, nil
}

func (s *enricherService) Handle(ctx context.Context, msg bus.Message) error {
	var req bus.EnrichRequest
	if err := bus.Decode(msg.Payload, &req); err != nil {
		return fmt.Errorf("%w: enrich request: %s", apierr.ErrUnparseablePayload, err.Error())
	}

	var (
		entities []types.Entity
		signals  []types.Signal
	)

	for attempt := 0; attempt < guardedUpdateAttempts; attempt++ {
		doc, err := s.documents.GetByID(ctx, nil, req.DocID)
		if err != nil {
			return err
		}

		entities = ExtractEntities(doc)
		signals = s.lexicon.Detect(doc.Title + "\n" + doc.BodyText)

		encodedEntities, err := json.Marshal(entities)
		if err != nil {
			return err
		}
		encodedSignals, err := json.Marshal(signals)
		if err != nil {
			return err
		}
		updates := map[string]interface{}{
			"embedding_pending": true,
			"entities":          datatypes.JSON(encodedEntities),
			"signals":           datatypes.JSON(encodedSignals),
		}

		docType, classifyErr := s.classify(doc, signals)
		if classifyErr != nil {
			// Partial enrichment: entities and signals land, the type stays
			// unclassified, and the flag records the gap for a later pass.
			s.log.Warn("doc type classification failed, keeping partial enrichment",
				"doc_id", req.DocID.String(),
				"error", classifyErr,
			)
			updates["enrichment_partial"] = true
		} else {
			updates["doc_type"] = docType
			updates["enrichment_partial"] = false
		}

		applied, err := s.documents.UpdateFieldsGuarded(ctx, nil, doc.ID, doc.UpdatedAt, updates)
		if err != nil {
			return err
		}
		if applied {
			doc.Entities = datatypes.JSON(encodedEntities)
			doc.Signals = datatypes.JSON(encodedSignals)
			if t, ok := updates["doc_type"].(string); ok {
				doc.DocType = t
			}
			// Graph projection is best-effort; the relational row is the
			// truth store.
			_ = graph.UpsertDocumentEntities(ctx, s.graphClient, s.log, doc, entities)
			return s.finish(ctx, req)
		}
		s.log.Debug("enrichment lost guarded update, retrying",
			"doc_id", req.DocID.String(),
			"attempt", attempt+1,
		)
	}
	return fmt.Errorf("%w: enrich doc %s", apierr.ErrOptimisticConflict, req.DocID)
}

func (s *enricherService) finish(ctx context.Context, req bus.EnrichRequest) error {
	next := bus.EmbedRequest{
		DocID:     req.DocID,
		TenantID:  req.TenantID,
		Source:    req.Source,
		EntityKey: req.EntityKey,
		EventID:   req.EventID,
	}
	encoded, err := bus.Encode(next)
	if err != nil {
		return err
	}
	if err := s.eventBus.Publish(ctx, bus.ChannelEmbed, req.TenantID+"/"+req.EntityKey, encoded); err != nil {
		return err
	}
	return s.checkpoints.Advance(ctx, nil, req.Source, req.TenantID, types.StageEnrich, req.EventID)
}

var (
	slackUserRe    = regexp.MustCompile(`<@([A-Z0-9]+)>`)
	slackChannelRe = regexp.MustCompile(`<#([A-Z0-9]+)(?:\|([^>]*))?>`)
	mentionRe      = regexp.MustCompile(`(?:^|\s)@([A-Za-z0-9][A-Za-z0-9-]{1,38})`)
)

// ExtractEntities pulls mentioned people and channels out of the document
// text and always includes the source entity itself. Output order is
// deterministic for identical input.
func ExtractEntities(doc *types.CanonicalDocument) []types.Entity {
	text := doc.Title + "\n" + doc.BodyText
	seen := map[types.Entity]bool{}
	var out []types.Entity

	add := func(e types.Entity) {
		if e.Name == "" || seen[e] {
			return
		}
		seen[e] = true
		out = append(out, e)
	}

	switch doc.Source {
	case types.SourceSlack:
		add(types.Entity{Kind: "thread", Name: doc.EntityKey})
		for _, m := range slackUserRe.FindAllStringSubmatch(text, -1) {
			add(types.Entity{Kind: "person", Name: m[1]})
		}
		for _, m := range slackChannelRe.FindAllStringSubmatch(text, -1) {
			name := m[2]
			if name == "" {
				name = m[1]
			}
			add(types.Entity{Kind: "channel", Name: name})
		}
	case types.SourceGitHub:
		add(types.Entity{Kind: "issue", Name: doc.EntityKey})
		for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
			add(types.Entity{Kind: "person", Name: m[1]})
		}
	case types.SourceNotion:
		add(types.Entity{Kind: "page", Name: doc.EntityKey})
		for _, m := range mentionRe.FindAllStringSubmatch(text, -1) {
			add(types.Entity{Kind: "person", Name: m[1]})
		}
	}

	// The source entity stays first; mentions after it sort by kind and name.
	if len(out) > 2 {
		rest := out[1:]
		sort.SliceStable(rest, func(i, j int) bool {
			if rest[i].Kind != rest[j].Kind {
				return rest[i].Kind < rest[j].Kind
			}
			return rest[i].Name < rest[j].Name
		})
	}
	return out
}

// ClassifyDocType is the default heuristic: decision language wins, then
// urgency or negative sentiment marks an issue, everything else is info.
func ClassifyDocType(_ *types.CanonicalDocument, signals []types.Signal) (string, error) {
	hasCategory := func(cat string) bool {
		for _, sig := range signals {
			if sig.Category == cat {
				return true
			}
		}
		return false
	}
	switch {
	case hasCategory("decision"):
		return types.DocTypeDecision, nil
	case hasCategory("urgency"), hasCategory("negative_sentiment"):
		return types.DocTypeIssue, nil
	default:
		return types.DocTypeInfo, nil
	}
}
