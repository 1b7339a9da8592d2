// Package sleep implements the periodic maintenance job of spec.md §4.12:
// episodic re-ingestion for the day's unscened memories, SML->LML
// promotion, daily digest construction, decay + trace cascade, and stale
// reference cleanup. Grounded on vybe's internal/actions/retrospective_jobs.go
// shape — a plain function invoked by the host on a schedule, not an
// internal goroutine (spec.md §9 Design Note).
package sleep

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/engram-kernel/engram/internal/decay"
	"github.com/engram-kernel/engram/internal/episodic"
	"github.com/engram-kernel/engram/internal/models"
	"github.com/engram-kernel/engram/internal/store"
)

// Runner drives one sleep-cycle pass against the store and episodic store.
type Runner struct {
	DB       *sql.DB
	Episodic *episodic.Store
	Decay    decay.Config
}

// New returns a Runner wired to db and episodic, using default decay params.
func New(db *sql.DB, episodicStore *episodic.Store) *Runner {
	return &Runner{DB: db, Episodic: episodicStore, Decay: decay.DefaultConfig()}
}

// Options controls a single Run invocation.
type Options struct {
	User             string // empty runs every user with at least one memory
	Date             string // YYYY-MM-DD; empty defaults to today (UTC)
	ApplyDecay       bool
	CleanupStaleRefs bool
	DeepSleep        bool
}

// Report summarizes what one Run pass did, returned to the host/caller.
type Report struct {
	Date             string   `json:"date"`
	UsersProcessed   []string `json:"users_processed"`
	ScenesReingested int      `json:"scenes_reingested"`
	Promoted         int      `json:"promoted"`
	DecayedCount     int      `json:"decayed_count"`
	Forgotten        int      `json:"forgotten"`
	StaleRefsCleaned int      `json:"stale_refs_cleaned"`
}

// Run performs one sleep-cycle pass for the target date across every
// matching user, per spec.md §4.12's five numbered steps.
func (r *Runner) Run(ctx context.Context, opts Options) (*Report, error) {
	date := opts.Date
	if date == "" {
		date = time.Now().UTC().Format("2006-01-02")
	}
	dayStart, err := time.Parse("2006-01-02", date)
	if err != nil {
		return nil, &models.ValidationError{Field: "date", Reason: "must be YYYY-MM-DD"}
	}
	dayEnd := dayStart.Add(24 * time.Hour)

	users := []string{opts.User}
	if opts.User == "" {
		users, err = store.ListDistinctUsers(r.DB)
		if err != nil {
			return nil, err
		}
	}

	report := &Report{Date: date}
	for _, user := range users {
		if user == "" {
			continue
		}
		report.UsersProcessed = append(report.UsersProcessed, user)

		reingested, err := r.reingestUnscened(ctx, user, dayStart, dayEnd)
		if err != nil {
			return nil, err
		}
		report.ScenesReingested += reingested

		promoted, err := r.promote(user)
		if err != nil {
			return nil, err
		}
		report.Promoted += promoted

		if err := r.buildDigest(user, date, dayStart, dayEnd); err != nil {
			return nil, err
		}

		if opts.ApplyDecay {
			decayed, forgotten, err := r.applyDecay(user, opts.DeepSleep)
			if err != nil {
				return nil, err
			}
			report.DecayedCount += decayed
			report.Forgotten += forgotten
		}
	}

	if opts.CleanupStaleRefs {
		n, err := store.PurgeExpiredSubscribers(r.DB, time.Now())
		if err != nil {
			return nil, err
		}
		report.StaleRefsCleaned = n
	}

	return report, nil
}

// reingestUnscened step 1: re-run episodic ingestion for every memory
// created that day that never joined a scene (e.g. ingested before the
// episodic store was wired, or whose original ingestion failed silently).
func (r *Runner) reingestUnscened(ctx context.Context, user string, dayStart, dayEnd time.Time) (int, error) {
	if r.Episodic == nil {
		return 0, nil
	}
	mems, err := store.GetAllMemories(r.DB, store.MemoryFilters{Owner: user, CreatedAfter: &dayStart, CreatedBefore: &dayEnd})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, m := range mems {
		if m.SceneID != "" {
			continue
		}
		if _, err := r.Episodic.IngestMemoryAsView(ctx, m.Owner, m.Agent, m.ID, m.Content, m.Metadata, m.Namespace, m.CreatedAt); err != nil {
			return count, err
		}
		count++
	}
	return count, nil
}

// promote step 2: SML -> LML when importance >= 0.8 or strength >= 0.85,
// per spec.md §4.12 step 2 (a stricter, access-independent companion to
// the access-driven promotion internal/retrieval applies on read).
const (
	promotionImportanceThreshold = 0.8
	promotionStrengthThreshold   = 0.85
)

func (r *Runner) promote(user string) (int, error) {
	mems, err := store.GetAllMemories(r.DB, store.MemoryFilters{Owner: user, Tier: models.TierSML})
	if err != nil {
		return 0, err
	}
	count := 0
	for _, m := range mems {
		importance := echoImportance(m)
		if importance < promotionImportanceThreshold && m.Strength < promotionStrengthThreshold {
			continue
		}
		lml := models.TierLML
		ok, err := store.UpdateMemory(r.DB, m.ID, store.MemoryPatch{Tier: &lml})
		if err != nil {
			return count, err
		}
		if ok {
			count++
		}
	}
	return count, nil
}

func echoImportance(m *models.Memory) float64 {
	if m.Metadata == nil {
		return 0
	}
	var v float64
	_, _ = fmt.Sscanf(m.Metadata["echo_importance"], "%f", &v)
	return v
}

// buildDigest step 3: top unresolved conflicts, top pending commits, up to
// 10 scene highlights of the day, per spec.md §4.12 step 3.
func (r *Runner) buildDigest(user, date string, dayStart, dayEnd time.Time) error {
	conflicts, err := store.ListConflictStash(r.DB, user, models.ResolutionUnresolved, 10)
	if err != nil {
		return err
	}
	conflictKeys := make([]string, 0, len(conflicts))
	for _, c := range conflicts {
		conflictKeys = append(conflictKeys, c.ConflictKey)
	}

	pending, err := store.ListPendingCommits(r.DB, user, string(models.CommitPending), 10)
	if err != nil {
		return err
	}
	pendingIDs := make([]string, 0, len(pending))
	for _, c := range pending {
		pendingIDs = append(pendingIDs, c.ID)
	}

	scenes, err := store.ListScenesInRange(r.DB, user, dayStart, dayEnd, 10)
	if err != nil {
		return err
	}
	highlights := make([]string, 0, len(scenes))
	for _, s := range scenes {
		title := s.Title
		if title == "" {
			title = s.Topic
		}
		highlights = append(highlights, title)
	}

	return store.UpsertDailyDigest(r.DB, &models.DailyDigest{
		User: user, Date: date,
		TopConflicts:      conflictKeys,
		TopConsolidations: pendingIDs,
		SceneHighlights:   highlights,
	})
}

// applyDecay step 4 (+ step 5's forgetting half): decays every active
// memory's scalar strength and traces, cascades the trace fractions, and
// tombstones anything that falls below threshold without protection.
func (r *Runner) applyDecay(user string, deepSleep bool) (decayedCount, forgotten int, err error) {
	mems, err := store.GetAllMemories(r.DB, store.MemoryFilters{Owner: user})
	if err != nil {
		return 0, 0, err
	}
	now := time.Now()
	for _, m := range mems {
		ref, err := store.GetRefCount(r.DB, m.ID)
		if err != nil {
			return decayedCount, forgotten, err
		}
		weak := 0
		protectedByStrong := false
		if ref != nil {
			weak = ref.WeakCount
			protectedByStrong = ref.Protected()
		}

		newStrength := r.Decay.ApplyStrengthDecay(m.Strength, m.LastAccessed, m.AccessCount, m.Tier == models.TierLML, weak, now)
		traces := decay.Traces{Fast: m.TraceFast, Mid: m.TraceMid, Slow: m.TraceSlow}
		traces = r.Decay.DecayTraces(traces, m.LastAccessed, now, m.AccessCount)
		traces = r.Decay.CascadeTraces(traces, deepSleep)

		if r.Decay.ShouldForget(newStrength) && m.IsMutable() && !protectedByStrong {
			if _, err := store.DeleteMemory(r.DB, m.ID, true); err != nil {
				return decayedCount, forgotten, err
			}
			_ = store.LogDecay(r.DB, m.ID, m.Strength, 0, "forgotten")
			forgotten++
			continue
		}

		_, err = store.UpdateMemory(r.DB, m.ID, store.MemoryPatch{
			Strength: &newStrength, TraceFast: &traces.Fast, TraceMid: &traces.Mid, TraceSlow: &traces.Slow,
		})
		if err != nil {
			return decayedCount, forgotten, err
		}
		_ = store.LogDecay(r.DB, m.ID, m.Strength, newStrength, "sleep_cycle")
		decayedCount++
	}
	return decayedCount, forgotten, nil
}
