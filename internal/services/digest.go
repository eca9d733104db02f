package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hivemindhq/hivemind-backend/internal/bus"
	docsrepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/docs"
	memoryrepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/memory"
	pipelinerepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/pipeline"
	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/platform/apierr"
	"github.com/hivemindhq/hivemind-backend/internal/platform/logger"
	"github.com/hivemindhq/hivemind-backend/internal/vector"
)

// DigestThresholds bound the classifier's involvement. At or above Duplicate
// the decision is deterministic; below New the document is new without a
// model call; only the band in between goes to the model.
type DigestThresholds struct {
	Duplicate  float64
	New        float64
	TopK       int
	WindowDays int
}

func DefaultDigestThresholds() DigestThresholds {
	return DigestThresholds{Duplicate: 0.83, New: 0.60, TopK: 5, WindowDays: 90}
}

// DigestService consumes the index channel and clusters each document into
// the structured memory layer. Every persisted digest is grounded: its
// evidence list names only documents that exist in the truth store, and it
// is never written with an empty evidence list.
type DigestService interface {
	Handle(ctx context.Context, msg bus.Message) error
}

type digestService struct {
	log         *logger.Logger
	documents   docsrepo.DocumentRepo
	digests     memoryrepo.DigestRepo
	checkpoints pipelinerepo.CheckpointRepo
	store       vector.Store
	classifier  Classifier
	thresholds  DigestThresholds
}

func NewDigestService(
	log *logger.Logger,
	documents docsrepo.DocumentRepo,
	digests memoryrepo.DigestRepo,
	checkpoints pipelinerepo.CheckpointRepo,
	store vector.Store,
	classifier Classifier,
	thresholds DigestThresholds,
) (DigestService, error) {
	if log == nil {
		return nil, fmt.Errorf("logger required")
	}
	if documents == nil {
		return nil, fmt.Errorf("document repo required")
	}
	if digests == nil {
		return nil, fmt.Errorf("digest repo required")
	}
	if checkpoints == nil {
		return nil, fmt.Errorf("checkpoint repo required")
	}
	if store == nil {
		return nil, fmt.Errorf("vector store required")
	}
	if classifier == nil {
		return nil, fmt.Errorf("classifier required")
	}
	if thresholds.TopK <= 0 {
		thresholds.TopK = 5
	}
	if thresholds.WindowDays <= 0 {
		thresholds.WindowDays = 90
	}
	return &digestService{
		log:         log.With("service", "DigestService"),
		documents:   documents,
		digests:     digests,
		checkpoints: checkpoints,
		store:       store,
		classifier:  classifier,
		thresholds:  thresholds,
	}, nil
}

func (s *digestService) Handle(ctx context.Context, msg bus.Message) error {
	var upd bus.IndexUpdate
	if err := bus.Decode(msg.Payload, &upd); err != nil {
		return fmt.Errorf("%w: index update: %s", apierr.ErrUnparseablePayload, err.Error())
	}

	doc, err := s.documents.GetByID(ctx, nil, upd.DocID)
	if err != nil {
		return err
	}

	candidates, err := s.compare(ctx, doc, upd.Values)
	if err != nil {
		return err
	}

	decision, err := s.classify(ctx, doc, candidates)
	if err != nil {
		return err
	}

	if err := s.persist(ctx, doc, decision); err != nil {
		return err
	}

	s.log.Info("classified",
		"doc_id", doc.ID.String(),
		"decision", decision.Decision,
		"digest_id", decision.DigestID.String(),
	)
	return s.checkpoints.Advance(ctx, nil, upd.Source, upd.TenantID, types.StageClassify, upd.EventID)
}

// compare retrieves the similarity neighborhood: top-k matches within the
// tenant namespace, hydrated from the truth store, restricted to the recency
// window, each paired with the digest currently covering it.
func (s *digestService) compare(ctx context.Context, doc *types.CanonicalDocument, values []float32) ([]Candidate, error) {
	if len(values) == 0 {
		return nil, nil
	}

	// Ask for one extra since the document's own vector is already indexed.
	matches, err := s.store.Query(ctx, doc.TenantID, values, s.thresholds.TopK+1, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: vector query: %s", apierr.ErrTransientDependency, err.Error())
	}

	ids := make([]uuid.UUID, 0, len(matches))
	scores := make(map[uuid.UUID]float64, len(matches))
	for _, m := range matches {
		id, err := uuid.Parse(m.ID)
		if err != nil || id == doc.ID {
			continue
		}
		ids = append(ids, id)
		scores[id] = m.Score
	}
	if len(ids) == 0 {
		return nil, nil
	}

	docs, err := s.documents.GetByIDs(ctx, nil, ids)
	if err != nil {
		return nil, err
	}

	windowStart := time.Now().UTC().AddDate(0, 0, -s.thresholds.WindowDays)
	byDigest, err := s.digestByDocID(ctx, doc.TenantID, windowStart)
	if err != nil {
		return nil, err
	}

	candidates := make([]Candidate, 0, len(docs))
	for _, d := range docs {
		if d.UpdatedAt.Before(windowStart) {
			continue
		}
		candidates = append(candidates, Candidate{
			Doc:    d,
			Digest: byDigest[d.ID],
			Score:  scores[d.ID],
		})
	}
	// Matches came back ordered, but hydration does not preserve order.
	for i := 1; i < len(candidates); i++ {
		for j := i; j > 0 && candidates[j].Score > candidates[j-1].Score; j-- {
			candidates[j], candidates[j-1] = candidates[j-1], candidates[j]
		}
	}
	if len(candidates) > s.thresholds.TopK {
		candidates = candidates[:s.thresholds.TopK]
	}
	return candidates, nil
}

func (s *digestService) digestByDocID(ctx context.Context, tenantID string, since time.Time) (map[uuid.UUID]*types.Digest, error) {
	digests, err := s.digests.ListByTenantUpdatedSince(ctx, nil, tenantID, since, 500)
	if err != nil {
		return nil, err
	}
	out := map[uuid.UUID]*types.Digest{}
	for _, d := range digests {
		evidence, err := memoryrepo.DecodeEvidence(d.EvidenceDocIDs)
		if err != nil {
			continue
		}
		for _, docID := range evidence {
			if _, taken := out[docID]; !taken {
				out[docID] = d
			}
		}
	}
	return out, nil
}

// classify turns the neighborhood into a decision. The model is consulted
// only inside the ambiguity band, and its verdict is checked against the
// candidate set before anything persists.
func (s *digestService) classify(ctx context.Context, doc *types.CanonicalDocument, candidates []Candidate) (*Decision, error) {
	if len(candidates) == 0 || candidates[0].Score < s.thresholds.New {
		return &Decision{Decision: types.DecisionNew}, nil
	}

	best := candidates[0]
	if best.Score >= s.thresholds.Duplicate {
		// Strong match: decide without the model. Pick the highest-scored
		// candidate that a digest already covers.
		for _, cand := range candidates {
			if cand.Score < s.thresholds.Duplicate {
				break
			}
			if cand.Digest == nil {
				continue
			}
			decision := types.DecisionDuplicate
			if cand.Digest.State == types.DigestStateResolved {
				decision = types.DecisionRegression
			}
			return &Decision{Decision: decision, DigestID: cand.Digest.ID}, nil
		}
		// Similar text, but no digest covers it yet.
		return &Decision{Decision: types.DecisionNew}, nil
	}

	verdict, err := s.classifier.Classify(ctx, doc, candidates)
	if err != nil {
		return nil, err
	}
	if verdict.Decision == types.DecisionNew {
		return verdict, nil
	}

	// Groundedness check: the named digest must be in the candidate set.
	for _, cand := range candidates {
		if cand.Digest != nil && cand.Digest.ID == verdict.DigestID {
			if verdict.Decision == types.DecisionRegression && cand.Digest.State != types.DigestStateResolved {
				// A regression against a digest that was never resolved is
				// just more evidence of the open issue.
				verdict.Decision = types.DecisionDuplicate
			}
			return verdict, nil
		}
	}
	return nil, fmt.Errorf("%w: digest %s not among candidates for doc %s",
		apierr.ErrUngroundedClassification, verdict.DigestID, doc.ID)
}

func (s *digestService) persist(ctx context.Context, doc *types.CanonicalDocument, decision *Decision) error {
	if decision.Decision == types.DecisionNew {
		return s.persistNew(ctx, doc, decision)
	}

	newState := ""
	if decision.Decision == types.DecisionRegression {
		newState = types.DigestStateRegressed
	}
	return s.appendEvidence(ctx, decision.DigestID, doc.ID, newState)
}

func (s *digestService) persistNew(ctx context.Context, doc *types.CanonicalDocument, decision *Decision) error {
	topicKey := decision.TopicKey
	if topicKey == "" {
		topicKey = doc.Source + "/" + doc.EntityKey
	}
	summary := decision.Summary
	if summary == "" {
		summary = doc.Title
	}

	existing, err := s.digests.GetByTopicKey(ctx, nil, doc.TenantID, topicKey)
	switch {
	case err == nil:
		return s.appendEvidence(ctx, existing.ID, doc.ID, "")
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return err
	}

	evidence, err := memoryrepo.EncodeEvidence([]uuid.UUID{doc.ID})
	if err != nil {
		return err
	}
	return s.digests.Create(ctx, nil, &types.Digest{
		TenantID:       doc.TenantID,
		TopicKey:       topicKey,
		State:          types.DigestStateOpen,
		Summary:        summary,
		EvidenceDocIDs: evidence,
	})
}

func (s *digestService) appendEvidence(ctx context.Context, digestID, docID uuid.UUID, newState string) error {
	for attempt := 0; attempt < guardedUpdateAttempts; attempt++ {
		current, err := s.digests.GetByID(ctx, nil, digestID)
		if err != nil {
			return err
		}
		applied, err := s.digests.AppendEvidenceGuarded(ctx, nil, digestID, current.UpdatedAt, docID, newState)
		if err != nil {
			return err
		}
		if applied {
			return nil
		}
	}
	return fmt.Errorf("%w: digest %s", apierr.ErrOptimisticConflict, digestID)
}
