package staging

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/engram-kernel/engram/internal/category"
	"github.com/engram-kernel/engram/internal/echo"
	"github.com/engram-kernel/engram/internal/episodic"
	"github.com/engram-kernel/engram/internal/llm"
	"github.com/engram-kernel/engram/internal/models"
	"github.com/engram-kernel/engram/internal/store"
	"github.com/engram-kernel/engram/internal/vectorindex"
)

// addPatch is the JSON shape of a ChangeAdd's Patch: the new memory's
// content plus the caller-supplied categories/metadata.
type addPatch struct {
	Content    string            `json:"content"`
	Categories []string          `json:"categories,omitempty"`
	Metadata   map[string]string `json:"metadata,omitempty"`
}

func buildAddPatch(params ProposeParams) (json.RawMessage, error) {
	return json.Marshal(addPatch{Content: params.Content, Categories: params.Categories, Metadata: params.Metadata})
}

func unmarshalPatch(raw json.RawMessage, out *addPatch) error {
	return json.Unmarshal(raw, out)
}

// AutoMergeGuardrails bounds when a trusted agent's proposal may skip human
// review, per spec.md §4.10 step 6.
type AutoMergeGuardrails struct {
	TrustThreshold     float64
	MinTotalProposals  int
	MinApproved        int
	MaxRejectionRate   float64
}

// DefaultGuardrails matches the conservative defaults implied by spec.md's
// "minimum total/approved proposals, max rejection rate" language: require
// a modest track record before trust alone can bypass review.
var DefaultGuardrails = AutoMergeGuardrails{
	TrustThreshold:    0.8,
	MinTotalProposals: 5,
	MinApproved:       3,
	MaxRejectionRate:  0.2,
}

// Pipeline drives the proposal-commit lifecycle against the store and its
// collaborators, wiring apply-phase side effects (embed, echo, vector
// index, episodic ingestion, invariant upsert).
type Pipeline struct {
	DB         *sql.DB
	Vectors    *vectorindex.Index
	Embedder   llm.Embedder
	Echo       *echo.Processor
	Category   *category.Processor
	Episodic   *episodic.Store
	Guardrails AutoMergeGuardrails
}

// New returns a Pipeline wired to its collaborators with default guardrails.
func New(db *sql.DB, vectors *vectorindex.Index, embedder llm.Embedder, echoProc *echo.Processor, catProc *category.Processor, episodicStore *episodic.Store) *Pipeline {
	return &Pipeline{DB: db, Vectors: vectors, Embedder: embedder, Echo: echoProc, Category: catProc, Episodic: episodicStore, Guardrails: DefaultGuardrails}
}

// ProposeParams bundles one propose_write call's inputs (spec.md §6).
type ProposeParams struct {
	User          string
	Agent         string
	Content       string
	Scope         models.ConfidentialityScope
	Namespace     string
	Categories    []string
	Metadata      map[string]string
	SourceType    string
	SourceApp     string
	SourceEventID string
	Tool          string
}

// ProposeResult is what propose_write returns for mode=staging.
type ProposeResult struct {
	CommitID   string
	Status     models.CommitStatus
	Checks     models.CommitChecks
	Preview    string
	AutoMerged bool
}

// Propose evaluates invariant/PII/duplicate checks, creates a commit in
// PENDING or AUTO_STASHED, and optionally drives it through auto-merge when
// the proposing agent is sufficiently trusted (spec.md §4.10 propose flow).
func (p *Pipeline) Propose(ctx context.Context, params ProposeParams) (*ProposeResult, error) {
	checks, err := EvaluateAdd(p.DB, params.User, params.Content)
	if err != nil {
		return nil, err
	}

	status := models.CommitPending
	if RequiresStash(checks) {
		status = models.CommitAutoStashed
	}

	patch, err := buildAddPatch(params)
	if err != nil {
		return nil, err
	}
	commit := &models.ProposalCommit{
		User:      params.User,
		Agent:     params.Agent,
		Scope:     params.Scope,
		Namespace: namespaceOrDefault(params.Namespace),
		Status:    status,
		Checks:    checks,
		Preview:   preview(params.Content),
		Provenance: models.Provenance{
			SourceType:    params.SourceType,
			SourceApp:     params.SourceApp,
			SourceEventID: params.SourceEventID,
			Tool:          params.Tool,
			AgentID:       params.Agent,
		},
		Changes: []models.ProposalChange{{Op: models.ChangeAdd, Target: "memory", Patch: patch}},
	}

	var commitID string
	err = store.Transact(p.DB, func(tx *sql.Tx) error {
		id, err := store.CreateCommitTx(tx, commit)
		commitID = id
		return err
	})
	if err != nil {
		return nil, err
	}
	commit.ID = commitID

	if len(checks.Conflicts) > 0 {
		if err := store.Transact(p.DB, func(tx *sql.Tx) error {
			for _, c := range checks.Conflicts {
				if _, err := store.CreateConflictStashTx(tx, &models.ConflictStash{
					User:           params.User,
					ConflictKey:    c.Key,
					ExistingValue:  c.Existing,
					ProposedValue:  c.Proposed,
					Resolution:     models.ResolutionUnresolved,
					SourceCommitID: commitID,
				}); err != nil {
					return err
				}
			}
			return nil
		}); err != nil {
			return nil, err
		}
	}

	result := &ProposeResult{CommitID: commitID, Status: status, Checks: checks, Preview: commit.Preview}

	if status == models.CommitPending && checks.RiskScore < ConflictRiskScore && !checks.PIIRisk && checks.DuplicateOf == "" {
		trust, err := store.GetAgentTrust(p.DB, params.User, params.Agent)
		if err != nil {
			return nil, err
		}
		if p.eligibleForAutoMerge(trust) {
			applied, applyErr := p.Approve(ctx, commitID)
			if applyErr == nil && applied.Status == models.CommitApproved {
				result.Status = applied.Status
				result.Checks = applied.Checks
				result.AutoMerged = true
			}
		}
	}

	return result, nil
}

// ApplyDirect writes a memory immediately, bypassing the PENDING/APPROVED
// commit lifecycle, for hosts that asked for mode=direct (spec.md §6
// propose_write: "{ mode=direct, result, created_ids }"). It still runs the
// same apply-phase side effects as an approved ADD change — embedding,
// echo, per-node vector insert, episodic ingestion, invariant upsert — and
// still honors the idempotency key check.
func (p *Pipeline) ApplyDirect(ctx context.Context, params ProposeParams) (string, error) {
	patch, err := buildAddPatch(params)
	if err != nil {
		return "", err
	}
	commit := &models.ProposalCommit{
		User:      params.User,
		Agent:     params.Agent,
		Scope:     params.Scope,
		Namespace: namespaceOrDefault(params.Namespace),
		Provenance: models.Provenance{
			SourceType:    params.SourceType,
			SourceApp:     params.SourceApp,
			SourceEventID: params.SourceEventID,
			Tool:          params.Tool,
			AgentID:       params.Agent,
		},
	}
	return p.applyAdd(ctx, commit, models.ProposalChange{Op: models.ChangeAdd, Target: "memory", Patch: patch})
}

func (p *Pipeline) eligibleForAutoMerge(trust *models.AgentTrust) bool {
	g := p.Guardrails
	if trust.TrustScore < g.TrustThreshold {
		return false
	}
	if trust.Total < g.MinTotalProposals || trust.Approved < g.MinApproved {
		return false
	}
	return trust.RejectionRate() <= g.MaxRejectionRate
}

// ApproveResult is what approve_commit returns.
type ApproveResult struct {
	Status   models.CommitStatus
	Applied  []string
	Checks   models.CommitChecks
}

// Approve CAS-transitions a PENDING|AUTO_STASHED commit to APPLYING,
// applies every change in order, and CAS-transitions to APPROVED on
// success or back to PENDING (carrying apply_error/rollback_deleted) on
// failure, per spec.md §4.10 approve flow.
func (p *Pipeline) Approve(ctx context.Context, commitID string) (*ApproveResult, error) {
	if err := store.CASCommitStatus(p.DB, commitID, []models.CommitStatus{models.CommitPending, models.CommitAutoStashed}, models.CommitApplying); err != nil {
		return nil, err
	}

	commit, err := store.GetCommit(p.DB, commitID)
	if err != nil {
		return nil, err
	}
	if commit == nil {
		return nil, &models.NotFoundError{Entity: "proposal_commit", ID: commitID}
	}

	var created []string
	applyErr := p.applyChanges(ctx, commit, &created)
	if applyErr != nil {
		checks := commit.Checks
		checks.ApplyError = applyErr.Error()
		checks.RollbackCount = len(created)
		for _, id := range created {
			_, _ = store.DeleteMemory(p.DB, id, false)
		}
		_ = store.Transact(p.DB, func(tx *sql.Tx) error {
			return store.UpdateCommitChecksTx(tx, commitID, checks)
		})
		_ = store.CASCommitStatus(p.DB, commitID, []models.CommitStatus{models.CommitApplying}, models.CommitPending)
		return nil, fmt.Errorf("apply failed, rolled back %d memories: %w", len(created), applyErr)
	}

	if err := store.CASCommitStatus(p.DB, commitID, []models.CommitStatus{models.CommitApplying}, models.CommitApproved); err != nil {
		return nil, err
	}
	if err := store.Transact(p.DB, func(tx *sql.Tx) error {
		return store.RecordCommitOutcomeTx(tx, commit.User, commit.Agent, models.CommitApproved)
	}); err != nil {
		return nil, err
	}

	return &ApproveResult{Status: models.CommitApproved, Applied: created, Checks: commit.Checks}, nil
}

// applyChanges executes every staged change in order, appending newly
// created memory ids to created so a failure partway through can roll them
// all back.
func (p *Pipeline) applyChanges(ctx context.Context, commit *models.ProposalCommit, created *[]string) error {
	for _, ch := range commit.Changes {
		switch ch.Op {
		case models.ChangeAdd:
			id, err := p.applyAdd(ctx, commit, ch)
			if err != nil {
				return err
			}
			if id != "" {
				*created = append(*created, id)
			}
		default:
			return fmt.Errorf("unsupported change op %q", ch.Op)
		}
	}
	return nil
}

func (p *Pipeline) applyAdd(ctx context.Context, commit *models.ProposalCommit, ch models.ProposalChange) (string, error) {
	var patch addPatch
	if err := unmarshalPatch(ch.Patch, &patch); err != nil {
		return "", err
	}

	if commit.Provenance.SourceEventID != "" {
		existing, err := store.FindByIdempotencyKey(p.DB, commit.Provenance.SourceEventID, commit.Namespace, commit.Provenance.SourceApp)
		if err != nil {
			return "", err
		}
		if existing != nil {
			if existing.Content == patch.Content {
				return "", nil
			}
			return "", &models.ConflictError{Reason: "idempotency key collision with different content", ConflictingKey: commit.Provenance.SourceEventID}
		}
	}

	mem := &models.Memory{
		Owner:                commit.User,
		Agent:                commit.Agent,
		Content:              patch.Content,
		Tier:                 models.TierSML,
		Strength:             1.0,
		TraceFast:            1.0,
		TraceMid:             1.0,
		TraceSlow:            1.0,
		Namespace:            commit.Namespace,
		ConfidentialityScope: commit.Scope,
		SourceEventID:        commit.Provenance.SourceEventID,
		SourceApp:            commit.Provenance.SourceApp,
		Categories:           patch.Categories,
		Metadata:             patch.Metadata,
	}

	var echoResult echo.Result
	if p.Echo != nil {
		echoResult = p.Echo.Process(ctx, mem.Content, "", &echo.AssessContext{})
		mem.EchoDepth = string(echoResult.Depth)
		if mem.Metadata == nil {
			mem.Metadata = map[string]string{}
		}
		for k, v := range echoResult.Metadata() {
			mem.Metadata[k] = v
		}
	}

	if p.Category != nil {
		cats, err := p.Category.ApplyCategories(ctx, p.DB, commit.User, mem.Content, mem.Categories)
		if err == nil {
			mem.Categories = cats
		}
	}

	id, err := store.AddMemory(p.DB, mem)
	if err != nil {
		return "", err
	}
	mem.ID = id

	if p.Embedder != nil && p.Vectors != nil {
		if err := p.insertVectorNodes(ctx, mem, echoResult); err != nil {
			return id, err
		}
	}

	if p.Episodic != nil {
		if _, err := p.Episodic.IngestMemoryAsView(ctx, mem.Owner, mem.Agent, mem.ID, mem.Content, mem.Metadata, mem.Namespace, mem.CreatedAt); err != nil {
			return id, err
		}
	}

	if err := store.Transact(p.DB, func(tx *sql.Tx) error {
		for _, pair := range ExtractInvariantPairs(mem.Content) {
			if err := store.UpsertInvariantTx(tx, mem.Owner, pair.Key, pair.Value, 0.9); err != nil {
				return err
			}
		}
		return nil
	}); err != nil {
		return id, err
	}

	return id, nil
}

// insertVectorNodes embeds the primary content plus any echo paraphrases
// and the question-form text as separate nodes, per spec.md §4.10 step 2
// ("per-node vector insert: primary + paraphrase + question nodes").
func (p *Pipeline) insertVectorNodes(ctx context.Context, mem *models.Memory, echoResult echo.Result) error {
	nodes := []struct {
		suffix string
		text   string
	}{{"primary", mem.Content}}
	for i, para := range echoResult.Paraphrases {
		nodes = append(nodes, struct {
			suffix string
			text   string
		}{fmt.Sprintf("paraphrase-%d", i), para})
	}
	if echoResult.QuestionForm != "" {
		nodes = append(nodes, struct {
			suffix string
			text   string
		}{"question", echoResult.QuestionForm})
	}

	ids := make([]string, 0, len(nodes))
	vectors := make([][]float32, 0, len(nodes))
	payloads := make([]map[string]string, 0, len(nodes))
	for _, n := range nodes {
		vec, err := p.Embedder.Embed(ctx, n.text)
		if err != nil {
			return err
		}
		ids = append(ids, mem.ID+":"+n.suffix)
		vectors = append(vectors, vec)
		payloads = append(payloads, map[string]string{
			"memory_id": mem.ID,
			"user":      mem.Owner,
			"agent":     mem.Agent,
			"scope":     "agent",
			"node_type": n.suffix,
		})
	}
	return p.Vectors.Insert("memories", ids, vectors, payloads)
}

// Reject CAS-transitions any non-terminal commit to REJECTED, recording
// reason in checks.
func (p *Pipeline) Reject(commitID, reason string) error {
	commit, err := store.GetCommit(p.DB, commitID)
	if err != nil {
		return err
	}
	if commit == nil {
		return &models.NotFoundError{Entity: "proposal_commit", ID: commitID}
	}
	if err := store.CASCommitStatus(p.DB, commitID, []models.CommitStatus{models.CommitPending, models.CommitAutoStashed, models.CommitApplying}, models.CommitRejected); err != nil {
		return err
	}
	checks := commit.Checks
	checks.RejectionReason = reason
	if err := store.Transact(p.DB, func(tx *sql.Tx) error {
		if err := store.UpdateCommitChecksTx(tx, commitID, checks); err != nil {
			return err
		}
		return store.RecordCommitOutcomeTx(tx, commit.User, commit.Agent, models.CommitRejected)
	}); err != nil {
		return err
	}
	return nil
}

// ResolveConflict applies an explicit human resolution to an UNRESOLVED
// conflict stash. ACCEPT_PROPOSED additionally upserts the invariant with
// confidence 0.8 (spec.md §4.10 "Conflict resolution").
func (p *Pipeline) ResolveConflict(stashID string, resolution models.ConflictResolution) error {
	stash, err := store.GetConflictStash(p.DB, stashID)
	if err != nil {
		return err
	}
	if stash == nil {
		return &models.NotFoundError{Entity: "conflict_stash", ID: stashID}
	}
	if err := store.ResolveConflictStash(p.DB, stashID, resolution); err != nil {
		return err
	}
	if resolution == models.ResolutionAcceptProposed {
		return store.Transact(p.DB, func(tx *sql.Tx) error {
			return store.UpsertInvariantTx(tx, stash.User, stash.ConflictKey, stash.ProposedValue, 0.8)
		})
	}
	return nil
}

func namespaceOrDefault(ns string) string {
	if ns == "" {
		return models.DefaultNamespace
	}
	return ns
}

func preview(content string) string {
	const maxLen = 200
	if len(content) <= maxLen {
		return content
	}
	return content[:maxLen] + "..."
}
