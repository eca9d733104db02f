package services

import (
	"context"
	"crypto/sha256"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/hivemindhq/hivemind-backend/internal/bus"
	docsrepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/docs"
	ingestrepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/ingest"
	memoryrepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/memory"
	pipelinerepo "github.com/hivemindhq/hivemind-backend/internal/data/repos/pipeline"
	"github.com/hivemindhq/hivemind-backend/internal/data/repos/testutil"
	types "github.com/hivemindhq/hivemind-backend/internal/domain"
	"github.com/hivemindhq/hivemind-backend/internal/pipeline"
	"github.com/hivemindhq/hivemind-backend/internal/platform/apierr"
	"github.com/hivemindhq/hivemind-backend/internal/vector"
	vectormem "github.com/hivemindhq/hivemind-backend/internal/vector/memory"
)

// embedRule maps a marker substring in the embedded text onto a fixed vector,
// so tests control similarity scores exactly.
type embedRule struct {
	marker string
	values []float32
}

type stubAI struct {
	model     string
	failEmbed bool
	rules     []embedRule
}

func (a *stubAI) EmbedModel() string { return a.model }

func (a *stubAI) Embed(_ context.Context, inputs []string) ([][]float32, error) {
	if a.failEmbed {
		return nil, fmt.Errorf("embedding backend down")
	}
	out := make([][]float32, len(inputs))
	for i, in := range inputs {
		out[i] = a.vectorFor(in)
	}
	return out, nil
}

func (a *stubAI) vectorFor(text string) []float32 {
	for _, r := range a.rules {
		if strings.Contains(text, r.marker) {
			return r.values
		}
	}
	// Unmatched text gets a one-hot direction from its hash.
	sum := sha256.Sum256([]byte(text))
	v := make([]float32, 64)
	v[int(sum[0])%64] = 1
	return v
}

func (a *stubAI) GenerateJSON(context.Context, string, string, string, map[string]any) (map[string]any, error) {
	return nil, fmt.Errorf("not used in tests")
}

type classifierFunc func(ctx context.Context, doc *types.CanonicalDocument, candidates []Candidate) (*Decision, error)

func (f classifierFunc) Classify(ctx context.Context, doc *types.CanonicalDocument, candidates []Candidate) (*Decision, error) {
	return f(ctx, doc, candidates)
}

type pipelineEnv struct {
	conn        *gorm.DB
	bus         *bus.MemoryBus
	store       vector.Store
	ai          *stubAI
	documents   docsrepo.DocumentRepo
	embeddings  docsrepo.EmbeddingRepo
	digests     memoryrepo.DigestRepo
	checkpoints pipelinerepo.CheckpointRepo
	deadLetters pipelinerepo.DeadLetterRepo
	ingest      IngestService
	replay      ReplayService
	search      SearchService
}

// newPipelineEnv wires the full pipeline against the in-process bus, a sqlite
// truth store and the in-memory vector index. The memory bus delivers
// synchronously, so by the time Accept returns the whole chain has run.
func newPipelineEnv(t *testing.T, ai *stubAI, clf Classifier, docType DocTypeClassifier) *pipelineEnv {
	t.Helper()
	conn := testutil.DB(t)
	log := testutil.Logger(t)
	eventBus := bus.NewMemoryBus(4)
	store := vectormem.NewStore()

	deliveries := ingestrepo.NewDeliveryRepo(conn, log)
	rawEvents := ingestrepo.NewRawEventRepo(conn, log)
	documents := docsrepo.NewDocumentRepo(conn, log)
	embeddings := docsrepo.NewEmbeddingRepo(conn, log)
	digests := memoryrepo.NewDigestRepo(conn, log)
	checkpoints := pipelinerepo.NewCheckpointRepo(conn, log)
	deadLetters := pipelinerepo.NewDeadLetterRepo(conn, log)

	lexicon, err := LoadSignalLexicon()
	if err != nil {
		t.Fatalf("lexicon: %v", err)
	}
	if clf == nil {
		clf = classifierFunc(func(_ context.Context, _ *types.CanonicalDocument, _ []Candidate) (*Decision, error) {
			return &Decision{Decision: types.DecisionNew}, nil
		})
	}

	normalizer, err := NewNormalizerService(log, rawEvents, documents, checkpoints, eventBus)
	if err != nil {
		t.Fatalf("normalizer: %v", err)
	}
	enricher, err := NewEnricherService(log, documents, checkpoints, eventBus, lexicon, docType, nil)
	if err != nil {
		t.Fatalf("enricher: %v", err)
	}
	embedder, err := NewEmbedderService(log, documents, embeddings, checkpoints, eventBus, ai, store)
	if err != nil {
		t.Fatalf("embedder: %v", err)
	}
	digestSvc, err := NewDigestService(log, documents, digests, checkpoints, store, clf, DefaultDigestThresholds())
	if err != nil {
		t.Fatalf("digest service: %v", err)
	}

	worker, err := pipeline.NewWorker(log, deadLetters, pipeline.RetryPolicy{
		MaxAttempts: 2,
		MinBackoff:  time.Millisecond,
		MaxBackoff:  time.Millisecond,
	})
	if err != nil {
		t.Fatalf("worker: %v", err)
	}
	subs := []struct {
		channel string
		stage   string
		handler bus.Handler
	}{
		{bus.ChannelRaw, types.StageNormalize, normalizer.Handle},
		{bus.ChannelEnrich, types.StageEnrich, enricher.Handle},
		{bus.ChannelEmbed, types.StageEmbed, embedder.Handle},
		{bus.ChannelIndex, types.StageClassify, digestSvc.Handle},
	}
	for _, sub := range subs {
		if err := eventBus.Subscribe(sub.channel, "workers", worker.Wrap(sub.stage, sub.handler)); err != nil {
			t.Fatalf("subscribe %s: %v", sub.channel, err)
		}
	}

	ingest, err := NewIngestService(log, deliveries, rawEvents, eventBus)
	if err != nil {
		t.Fatalf("ingest: %v", err)
	}
	replay, err := NewReplayService(log, rawEvents, documents, embeddings, deadLetters, eventBus, store)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	search, err := NewSearchService(log, documents, ai, store)
	if err != nil {
		t.Fatalf("search: %v", err)
	}

	return &pipelineEnv{
		conn:        conn,
		bus:         eventBus,
		store:       store,
		ai:          ai,
		documents:   documents,
		embeddings:  embeddings,
		digests:     digests,
		checkpoints: checkpoints,
		deadLetters: deadLetters,
		ingest:      ingest,
		replay:      replay,
		search:      search,
	}
}

func slackMsg(channel, ts, text string) []byte {
	return []byte(fmt.Sprintf(`{"team_id":"T1","event":{"type":"message","channel":%q,"user":"U1","text":%q,"ts":%q}}`,
		channel, text, ts))
}

func (e *pipelineEnv) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	if err := e.conn.Model(model).Count(&n).Error; err != nil {
		t.Fatalf("count: %v", err)
	}
	return n
}

func TestPipelineIngestIdempotence(t *testing.T) {
	ctx := context.Background()
	ai := &stubAI{model: "embed-v1", rules: []embedRule{
		{marker: "deploy pipeline is broken", values: []float32{1, 0, 0, 0}},
	}}
	env := newPipelineEnv(t, ai, nil, nil)

	payload := slackMsg("C1", "100.1", "the deploy pipeline is broken, this is urgent")
	first, err := env.ingest.Accept(ctx, types.SourceSlack, "d-1", "t1", payload)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if first.Duplicate {
		t.Fatal("first delivery must not be reported duplicate")
	}

	second, err := env.ingest.Accept(ctx, types.SourceSlack, "d-1", "t1", payload)
	if err != nil {
		t.Fatalf("redelivery: %v", err)
	}
	if !second.Duplicate {
		t.Fatal("redelivery must be acknowledged as duplicate")
	}
	if second.EventID != first.EventID || second.DocID != first.DocID {
		t.Fatal("redelivery must derive the same identities")
	}

	if n := env.count(t, &types.RawEvent{}); n != 1 {
		t.Fatalf("expected 1 raw event, got %d", n)
	}
	if n := env.count(t, &types.CanonicalDocument{}); n != 1 {
		t.Fatalf("expected 1 document, got %d", n)
	}
	if n := env.count(t, &types.Digest{}); n != 1 {
		t.Fatalf("expected 1 digest, got %d", n)
	}

	doc, err := env.documents.GetByID(ctx, nil, first.DocID)
	if err != nil {
		t.Fatalf("get doc: %v", err)
	}
	if doc.DocType != types.DocTypeIssue {
		t.Fatalf("urgent+broken text should classify as issue, got %q", doc.DocType)
	}
	if doc.EmbeddingPending {
		t.Fatal("embedding pending flag should be cleared after a successful embed")
	}

	active, err := env.embeddings.GetActiveByDocID(ctx, nil, first.DocID)
	if err != nil {
		t.Fatalf("active embedding: %v", err)
	}
	if active.Generation != 1 || active.ModelVersion != "embed-v1" {
		t.Fatalf("unexpected embedding record: %+v", active)
	}

	cp, err := env.checkpoints.Get(ctx, nil, types.SourceSlack, "t1", types.StageClassify)
	if err != nil {
		t.Fatalf("checkpoint: %v", err)
	}
	if cp == nil || cp.Cursor != first.EventID {
		t.Fatalf("classify checkpoint should sit at the event, got %+v", cp)
	}

	d, err := env.digests.GetByTopicKey(ctx, nil, "t1", "slack/C1:100.1")
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	evidence, err := memoryrepo.DecodeEvidence(d.EvidenceDocIDs)
	if err != nil {
		t.Fatalf("evidence: %v", err)
	}
	if len(evidence) != 1 || evidence[0] != first.DocID {
		t.Fatalf("digest evidence should name the document, got %v", evidence)
	}
}

func TestPipelineDuplicateClustersIntoDigest(t *testing.T) {
	ctx := context.Background()
	ai := &stubAI{model: "embed-v1", rules: []embedRule{
		{marker: "[TIMEOUT]", values: []float32{1, 0, 0, 0}},
	}}
	env := newPipelineEnv(t, ai, nil, nil)

	first, err := env.ingest.Accept(ctx, types.SourceSlack, "d-1", "t1",
		slackMsg("C1", "1.0", "payments api timing out [TIMEOUT]"))
	if err != nil {
		t.Fatalf("accept first: %v", err)
	}
	second, err := env.ingest.Accept(ctx, types.SourceSlack, "d-2", "t1",
		slackMsg("C1", "2.0", "payments api still timing out [TIMEOUT]"))
	if err != nil {
		t.Fatalf("accept second: %v", err)
	}

	if n := env.count(t, &types.Digest{}); n != 1 {
		t.Fatalf("identical reports must share one digest, got %d", n)
	}
	d, err := env.digests.GetByTopicKey(ctx, nil, "t1", "slack/C1:1.0")
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	if d.State != types.DigestStateOpen {
		t.Fatalf("duplicate of an open digest keeps it open, got %q", d.State)
	}
	evidence, err := memoryrepo.DecodeEvidence(d.EvidenceDocIDs)
	if err != nil {
		t.Fatalf("evidence: %v", err)
	}
	if len(evidence) != 2 || evidence[0] != first.DocID || evidence[1] != second.DocID {
		t.Fatalf("digest should accumulate both documents in order, got %v", evidence)
	}
}

func TestPipelineRegressionReopensResolvedDigest(t *testing.T) {
	ctx := context.Background()
	ai := &stubAI{model: "embed-v1", rules: []embedRule{
		{marker: "[LOGIN]", values: []float32{0, 1, 0, 0}},
	}}
	env := newPipelineEnv(t, ai, nil, nil)

	first, err := env.ingest.Accept(ctx, types.SourceSlack, "d-1", "t1",
		slackMsg("C2", "1.0", "login page crash on submit [LOGIN]"))
	if err != nil {
		t.Fatalf("accept first: %v", err)
	}

	d, err := env.digests.GetByTopicKey(ctx, nil, "t1", "slack/C2:1.0")
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	applied, err := env.digests.AppendEvidenceGuarded(ctx, nil, d.ID, d.UpdatedAt, first.DocID, types.DigestStateResolved)
	if err != nil || !applied {
		t.Fatalf("resolve digest: applied=%v err=%v", applied, err)
	}

	if _, err := env.ingest.Accept(ctx, types.SourceSlack, "d-2", "t1",
		slackMsg("C2", "2.0", "login page crash is back [LOGIN]")); err != nil {
		t.Fatalf("accept second: %v", err)
	}

	got, err := env.digests.GetByID(ctx, nil, d.ID)
	if err != nil {
		t.Fatalf("digest after regression: %v", err)
	}
	if got.State != types.DigestStateRegressed {
		t.Fatalf("a match against a resolved digest must mark it regressed, got %q", got.State)
	}
	evidence, err := memoryrepo.DecodeEvidence(got.EvidenceDocIDs)
	if err != nil {
		t.Fatalf("evidence: %v", err)
	}
	if len(evidence) != 2 {
		t.Fatalf("regression evidence should include the new report, got %v", evidence)
	}
	if n := env.count(t, &types.Digest{}); n != 1 {
		t.Fatalf("regression must not open a second digest, got %d", n)
	}
}

func TestPipelineEmbedFailureAndRecovery(t *testing.T) {
	ctx := context.Background()
	ai := &stubAI{model: "embed-v1", failEmbed: true}
	env := newPipelineEnv(t, ai, nil, nil)

	res, err := env.ingest.Accept(ctx, types.SourceSlack, "d-1", "t1",
		slackMsg("C1", "1.0", "search latency spiking"))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	doc, err := env.documents.GetByID(ctx, nil, res.DocID)
	if err != nil {
		t.Fatalf("get doc: %v", err)
	}
	if !doc.EmbeddingPending {
		t.Fatal("failed embed must leave the document flagged pending")
	}
	if doc.DocType == types.DocTypeUnclassified {
		t.Fatal("enrichment should have completed before the embed failure")
	}
	if _, err := env.embeddings.GetActiveByDocID(ctx, nil, res.DocID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("no embedding record should exist, got err=%v", err)
	}
	if n := env.count(t, &types.Digest{}); n != 0 {
		t.Fatalf("classification must not run without an index write, got %d digests", n)
	}

	letters, err := env.deadLetters.List(ctx, nil, types.StageEmbed, types.DeadLetterStatusPending, 10)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(letters) != 1 || letters[0].FailureCode != apierr.CodeTransientDependency {
		t.Fatalf("expected one transient embed dead letter, got %+v", letters)
	}

	// Dependency recovers; replaying the dead letter finishes the pipeline.
	ai.failEmbed = false
	replayed, err := env.replay.ReplayDeadLetter(ctx, letters[0].ID)
	if err != nil {
		t.Fatalf("replay dead letter: %v", err)
	}
	if replayed.Status != types.DeadLetterStatusReplayed {
		t.Fatalf("dead letter should be marked replayed, got %q", replayed.Status)
	}

	doc, err = env.documents.GetByID(ctx, nil, res.DocID)
	if err != nil {
		t.Fatalf("get doc after recovery: %v", err)
	}
	if doc.EmbeddingPending {
		t.Fatal("pending flag should clear after the successful embed")
	}
	if _, err := env.embeddings.GetActiveByDocID(ctx, nil, res.DocID); err != nil {
		t.Fatalf("active embedding after recovery: %v", err)
	}
	if n := env.count(t, &types.Digest{}); n != 1 {
		t.Fatalf("classification should have run after recovery, got %d digests", n)
	}
}

func TestPipelinePartialEnrichment(t *testing.T) {
	ctx := context.Background()
	ai := &stubAI{model: "embed-v1"}
	failing := func(_ *types.CanonicalDocument, _ []types.Signal) (string, error) {
		return "", fmt.Errorf("type model offline")
	}
	env := newPipelineEnv(t, ai, nil, failing)

	res, err := env.ingest.Accept(ctx, types.SourceSlack, "d-1", "t1",
		slackMsg("C1", "1.0", "ci runner bug with <@U42>"))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	doc, err := env.documents.GetByID(ctx, nil, res.DocID)
	if err != nil {
		t.Fatalf("get doc: %v", err)
	}
	if !doc.EnrichmentPartial {
		t.Fatal("classification failure must flag partial enrichment")
	}
	if doc.DocType != types.DocTypeUnclassified {
		t.Fatalf("type stays unclassified on partial enrichment, got %q", doc.DocType)
	}
	if len(doc.Entities) == 0 {
		t.Fatal("entity extraction must still land")
	}
	// The rest of the pipeline keeps going.
	if _, err := env.embeddings.GetActiveByDocID(ctx, nil, res.DocID); err != nil {
		t.Fatalf("active embedding: %v", err)
	}
	if n := env.count(t, &types.Digest{}); n != 1 {
		t.Fatalf("partially enriched docs still get classified, got %d digests", n)
	}
}

// Similarity 0.7 sits between the new and duplicate thresholds, so the model
// is consulted; both its grounded and ungrounded verdicts are exercised here.
var midBandRules = []embedRule{
	{marker: "[ALPHA]", values: []float32{1, 0, 0, 0}},
	{marker: "[BETA]", values: []float32{0.7, 0.7141428, 0, 0}},
}

func TestPipelineModelVerdictGrounded(t *testing.T) {
	ctx := context.Background()
	ai := &stubAI{model: "embed-v1", rules: midBandRules}
	clf := classifierFunc(func(_ context.Context, _ *types.CanonicalDocument, candidates []Candidate) (*Decision, error) {
		for _, c := range candidates {
			if c.Digest != nil {
				return &Decision{Decision: types.DecisionDuplicate, DigestID: c.Digest.ID}, nil
			}
		}
		return &Decision{Decision: types.DecisionNew}, nil
	})
	env := newPipelineEnv(t, ai, clf, nil)

	if _, err := env.ingest.Accept(ctx, types.SourceSlack, "d-1", "t1",
		slackMsg("C1", "1.0", "checkout errors rising [ALPHA]")); err != nil {
		t.Fatalf("accept first: %v", err)
	}
	if _, err := env.ingest.Accept(ctx, types.SourceSlack, "d-2", "t1",
		slackMsg("C1", "2.0", "cart failures reported [BETA]")); err != nil {
		t.Fatalf("accept second: %v", err)
	}

	if n := env.count(t, &types.Digest{}); n != 1 {
		t.Fatalf("grounded duplicate verdict should merge into the digest, got %d", n)
	}
	d, err := env.digests.GetByTopicKey(ctx, nil, "t1", "slack/C1:1.0")
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	evidence, err := memoryrepo.DecodeEvidence(d.EvidenceDocIDs)
	if err != nil {
		t.Fatalf("evidence: %v", err)
	}
	if len(evidence) != 2 {
		t.Fatalf("expected both docs as evidence, got %v", evidence)
	}
}

func TestPipelineUngroundedClassificationRejected(t *testing.T) {
	ctx := context.Background()
	ai := &stubAI{model: "embed-v1", rules: midBandRules}
	clf := classifierFunc(func(_ context.Context, _ *types.CanonicalDocument, _ []Candidate) (*Decision, error) {
		// Hallucinated digest id, not in the candidate set.
		return &Decision{Decision: types.DecisionDuplicate, DigestID: uuid.New()}, nil
	})
	env := newPipelineEnv(t, ai, clf, nil)

	if _, err := env.ingest.Accept(ctx, types.SourceSlack, "d-1", "t1",
		slackMsg("C1", "1.0", "checkout errors rising [ALPHA]")); err != nil {
		t.Fatalf("accept first: %v", err)
	}
	d, err := env.digests.GetByTopicKey(ctx, nil, "t1", "slack/C1:1.0")
	if err != nil {
		t.Fatalf("digest: %v", err)
	}

	if _, err := env.ingest.Accept(ctx, types.SourceSlack, "d-2", "t1",
		slackMsg("C1", "2.0", "cart failures reported [BETA]")); err != nil {
		t.Fatalf("accept second: %v", err)
	}

	// The ungrounded verdict must not mutate memory in any way.
	if n := env.count(t, &types.Digest{}); n != 1 {
		t.Fatalf("ungrounded verdict must not create a digest, got %d", n)
	}
	got, err := env.digests.GetByID(ctx, nil, d.ID)
	if err != nil {
		t.Fatalf("digest: %v", err)
	}
	evidence, err := memoryrepo.DecodeEvidence(got.EvidenceDocIDs)
	if err != nil {
		t.Fatalf("evidence: %v", err)
	}
	if len(evidence) != 1 {
		t.Fatalf("ungrounded verdict must not touch evidence, got %v", evidence)
	}

	letters, err := env.deadLetters.List(ctx, nil, types.StageClassify, types.DeadLetterStatusPending, 10)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(letters) != 1 || letters[0].FailureCode != apierr.CodeUngroundedClassification {
		t.Fatalf("expected one ungrounded dead letter, got %+v", letters)
	}
	if letters[0].RetryCount != 1 {
		t.Fatalf("ungrounded classification is terminal, expected no retries, got %d", letters[0].RetryCount)
	}
}

func TestPipelineReplayIsIdempotent(t *testing.T) {
	ctx := context.Background()
	ai := &stubAI{model: "embed-v1", rules: []embedRule{
		{marker: "[GAMMA]", values: []float32{0, 0, 1, 0}},
	}}
	env := newPipelineEnv(t, ai, nil, nil)

	res, err := env.ingest.Accept(ctx, types.SourceSlack, "d-1", "t1",
		slackMsg("C1", "1.0", "dns flapping in eu region [GAMMA]"))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	before, err := env.embeddings.GetActiveByDocID(ctx, nil, res.DocID)
	if err != nil {
		t.Fatalf("embedding: %v", err)
	}

	report, err := env.replay.Replay(ctx, types.SourceSlack, "t1", "", 100)
	if err != nil {
		t.Fatalf("replay: %v", err)
	}
	if report.Published != 1 || report.Skipped != 0 {
		t.Fatalf("unexpected replay report: %+v", report)
	}

	if n := env.count(t, &types.CanonicalDocument{}); n != 1 {
		t.Fatalf("replay must not create documents, got %d", n)
	}
	if n := env.count(t, &types.Digest{}); n != 1 {
		t.Fatalf("replay must not create digests, got %d", n)
	}
	after, err := env.embeddings.GetActiveByDocID(ctx, nil, res.DocID)
	if err != nil {
		t.Fatalf("embedding after replay: %v", err)
	}
	if after.Generation != before.Generation || after.ID != before.ID {
		t.Fatalf("unchanged content must not re-embed: before=%+v after=%+v", before, after)
	}
}

func TestReconcileRepairsIndexDrift(t *testing.T) {
	ctx := context.Background()
	ai := &stubAI{model: "embed-v1", rules: []embedRule{
		{marker: "[DELTA]", values: []float32{0, 0, 0, 1}},
	}}
	env := newPipelineEnv(t, ai, nil, nil)

	res, err := env.ingest.Accept(ctx, types.SourceSlack, "d-1", "t1",
		slackMsg("C1", "1.0", "billing export stuck [DELTA]"))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	// Simulate drift: the document's vector vanished and a stray id appeared.
	orphanID := uuid.New().String()
	if err := env.store.Delete(ctx, "t1", []string{res.DocID.String()}); err != nil {
		t.Fatalf("delete vector: %v", err)
	}
	if err := env.store.Upsert(ctx, "t1", []vector.Record{{ID: orphanID, Values: []float32{0, 0, 0, 1}}}); err != nil {
		t.Fatalf("plant orphan: %v", err)
	}

	report, err := env.replay.Reconcile(ctx, "t1")
	if err != nil {
		t.Fatalf("reconcile: %v", err)
	}
	if report.OrphansRemoved != 1 {
		t.Fatalf("expected the orphan removed, got %+v", report)
	}
	if report.Reindexed != 1 {
		t.Fatalf("expected the document requeued, got %+v", report)
	}

	ids, err := env.store.ListIDs(ctx, "t1")
	if err != nil {
		t.Fatalf("list ids: %v", err)
	}
	if len(ids) != 1 || ids[0] != res.DocID.String() {
		t.Fatalf("index should hold exactly the document's vector, got %v", ids)
	}
	if _, err := env.embeddings.GetActiveByDocID(ctx, nil, res.DocID); err != nil {
		t.Fatalf("active embedding after reconcile: %v", err)
	}
}

func TestReclassifyForcesNewGeneration(t *testing.T) {
	ctx := context.Background()
	ai := &stubAI{model: "embed-v1", rules: []embedRule{
		{marker: "[EPSILON]", values: []float32{1, 0, 0, 0}},
	}}
	env := newPipelineEnv(t, ai, nil, nil)

	res, err := env.ingest.Accept(ctx, types.SourceSlack, "d-1", "t1",
		slackMsg("C1", "1.0", "cache hit rate dropping [EPSILON]"))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	// Model upgrade: reclassification must supersede the old generation even
	// though the document text is unchanged.
	ai.model = "embed-v2"
	if err := env.replay.Reclassify(ctx, "t1", res.DocID); err != nil {
		t.Fatalf("reclassify: %v", err)
	}

	active, err := env.embeddings.GetActiveByDocID(ctx, nil, res.DocID)
	if err != nil {
		t.Fatalf("active embedding: %v", err)
	}
	if active.ModelVersion != "embed-v2" {
		t.Fatalf("expected the new model version, got %q", active.ModelVersion)
	}
	count, err := env.embeddings.CountActiveByDocID(ctx, nil, res.DocID)
	if err != nil {
		t.Fatalf("count: %v", err)
	}
	if count != 1 {
		t.Fatalf("exactly one active embedding after reclassify, got %d", count)
	}
	if n := env.count(t, &types.Digest{}); n != 1 {
		t.Fatalf("reclassifying the only document must not fork digests, got %d", n)
	}

	// Wrong tenant is indistinguishable from a missing document.
	if err := env.replay.Reclassify(ctx, "t2", res.DocID); !errors.Is(err, gorm.ErrRecordNotFound) {
		t.Fatalf("expected not found for wrong tenant, got %v", err)
	}
}

func TestSearchDropsOrphansAndDegrades(t *testing.T) {
	ctx := context.Background()
	ai := &stubAI{model: "embed-v1", rules: []embedRule{
		{marker: "[ZETA]", values: []float32{1, 0, 0, 0}},
	}}
	env := newPipelineEnv(t, ai, nil, nil)

	res, err := env.ingest.Accept(ctx, types.SourceSlack, "d-1", "t1",
		slackMsg("C1", "1.0", "webhook retries exhausted [ZETA]"))
	if err != nil {
		t.Fatalf("accept: %v", err)
	}

	orphanID := uuid.New().String()
	if err := env.store.Upsert(ctx, "t1", []vector.Record{{ID: orphanID, Values: []float32{1, 0, 0, 0}}}); err != nil {
		t.Fatalf("plant orphan: %v", err)
	}

	resp, err := env.search.Search(ctx, "t1", "webhook failures [ZETA]", SearchFilters{}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if resp.Degraded {
		t.Fatal("semantic search should not be degraded")
	}
	if len(resp.Results) != 1 || resp.Results[0].Doc.ID != res.DocID {
		t.Fatalf("orphan must be dropped, never fabricated: %+v", resp.Results)
	}
	if !strings.Contains(resp.Results[0].Explanation, "semantic similarity") {
		t.Fatalf("result should explain its score, got %q", resp.Results[0].Explanation)
	}

	ids, err := env.store.ListIDs(ctx, "t1")
	if err != nil {
		t.Fatalf("list ids: %v", err)
	}
	for _, id := range ids {
		if id == orphanID {
			t.Fatal("orphan should have been queued for removal")
		}
	}

	// Embedding dependency down: retrieval degrades to lexical, never errors.
	ai.failEmbed = true
	resp, err = env.search.Search(ctx, "t1", "webhook", SearchFilters{}, 5)
	if err != nil {
		t.Fatalf("degraded search: %v", err)
	}
	if !resp.Degraded {
		t.Fatal("fallback results must be marked degraded")
	}
	if len(resp.Results) != 1 || resp.Results[0].Doc.ID != res.DocID {
		t.Fatalf("lexical fallback should find the document, got %+v", resp.Results)
	}
}

func TestSearchFiltersNarrowResults(t *testing.T) {
	ctx := context.Background()
	ai := &stubAI{model: "embed-v1", rules: []embedRule{
		{marker: "[ETA]", values: []float32{1, 0, 0, 0}},
	}}
	env := newPipelineEnv(t, ai, nil, nil)

	issue, err := env.ingest.Accept(ctx, types.SourceSlack, "d-1", "t1",
		slackMsg("C1", "1.0", "payments db is broken and urgent [ETA]"))
	if err != nil {
		t.Fatalf("accept issue: %v", err)
	}
	if _, err := env.ingest.Accept(ctx, types.SourceSlack, "d-2", "t1",
		slackMsg("C1", "2.0", "payments notes for later [ETA]")); err != nil {
		t.Fatalf("accept info: %v", err)
	}

	// Unfiltered, both documents match the query vector.
	resp, err := env.search.Search(ctx, "t1", "payments [ETA]", SearchFilters{}, 5)
	if err != nil {
		t.Fatalf("search: %v", err)
	}
	if len(resp.Results) != 2 {
		t.Fatalf("expected both documents without filters, got %d", len(resp.Results))
	}

	resp, err = env.search.Search(ctx, "t1", "payments [ETA]", SearchFilters{DocType: types.DocTypeIssue}, 5)
	if err != nil {
		t.Fatalf("filtered search: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Doc.ID != issue.DocID {
		t.Fatalf("doc_type filter should keep only the issue, got %+v", resp.Results)
	}
	if !strings.Contains(resp.Results[0].Explanation, "urgency") {
		t.Fatalf("explanation should name the detected signals, got %q", resp.Results[0].Explanation)
	}

	resp, err = env.search.Search(ctx, "t1", "payments [ETA]", SearchFilters{Source: types.SourceGitHub}, 5)
	if err != nil {
		t.Fatalf("source-filtered search: %v", err)
	}
	if len(resp.Results) != 0 {
		t.Fatalf("source filter should exclude slack documents, got %+v", resp.Results)
	}

	// Filters also bind the lexical fallback.
	ai.failEmbed = true
	resp, err = env.search.Search(ctx, "t1", "payments", SearchFilters{DocType: types.DocTypeIssue}, 5)
	if err != nil {
		t.Fatalf("degraded filtered search: %v", err)
	}
	if len(resp.Results) != 1 || resp.Results[0].Doc.ID != issue.DocID {
		t.Fatalf("fallback must honor filters, got %+v", resp.Results)
	}
}

func TestPipelineUnparseableEventDeadLetters(t *testing.T) {
	ctx := context.Background()
	ai := &stubAI{model: "embed-v1"}
	env := newPipelineEnv(t, ai, nil, nil)

	// Valid envelope, but not a message event: it passes the ingestion door and
	// fails normalization downstream.
	payload := []byte(`{"team_id":"T1","event":{"type":"reaction_added","channel":"C1","ts":"1.0"}}`)
	res, err := env.ingest.Accept(ctx, types.SourceSlack, "d-1", "t1", payload)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if res.Duplicate {
		t.Fatal("first delivery is not a duplicate")
	}

	var ev types.RawEvent
	if err := env.conn.Where("event_id = ?", res.EventID).First(&ev).Error; err != nil {
		t.Fatalf("raw event: %v", err)
	}
	if ev.ProcessingStatus != types.RawEventStatusFailed {
		t.Fatalf("unparseable event should be marked failed, got %q", ev.ProcessingStatus)
	}
	if n := env.count(t, &types.CanonicalDocument{}); n != 0 {
		t.Fatalf("no document for an unparseable event, got %d", n)
	}

	letters, err := env.deadLetters.List(ctx, nil, types.StageNormalize, types.DeadLetterStatusPending, 10)
	if err != nil {
		t.Fatalf("dead letters: %v", err)
	}
	if len(letters) != 1 || letters[0].FailureCode != apierr.CodeUnparseablePayload {
		t.Fatalf("expected one unparseable dead letter, got %+v", letters)
	}

	// Garbage at the door is rejected synchronously instead.
	if _, err := env.ingest.Accept(ctx, types.SourceSlack, "d-2", "t1", []byte("not json")); !errors.Is(err, apierr.ErrUnparseablePayload) {
		t.Fatalf("expected unparseable rejection, got %v", err)
	}
}
