// Package engine runs the extraction pipeline: one browser session logs into
// the supplier portal, visits each insurer's context, harvests the claim
// tables, persists the batch and fans the claims out to Notion.
package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/anibalchinley/extractor-proveedores/internal/browser"
	"github.com/anibalchinley/extractor-proveedores/internal/config"
	"github.com/anibalchinley/extractor-proveedores/internal/notion"
	"github.com/anibalchinley/extractor-proveedores/internal/platform"
	"github.com/anibalchinley/extractor-proveedores/internal/scrape"
	"github.com/anibalchinley/extractor-proveedores/internal/store"
)

// ErrBusy is returned when a run is requested while another is in flight.
// The pipeline owns the single browser session, so runs never overlap.
var ErrBusy = errors.New("an extraction run is already in progress")

// Run status labels as persisted in the runs table.
const (
	statusRunning   = "running"
	statusCompleted = "completed"
	statusFailed    = "failed"
)

// Store is the slice of the persistence layer the engine needs.
type Store interface {
	SaveRun(ctx context.Context, r store.RunRecord) error
	PersistClaims(ctx context.Context, runID uuid.UUID, claims []scrape.Claim) error
}

// Syncer pushes one claim to Notion.
type Syncer interface {
	SyncClaim(ctx context.Context, claim scrape.Claim) (notion.SyncResult, error)
}

// Portal opens authenticated portal sessions.
type Portal interface {
	Open(ctx context.Context) (PortalSession, error)
}

// PortalSession is one live browser session bound to the portal flows.
type PortalSession interface {
	Login(ctx context.Context) error
	Ensure(ctx context.Context, target platform.Context) error
	Assigned(ctx context.Context, company string) ([]scrape.Claim, error)
	Settlement(ctx context.Context, company string) ([]scrape.Claim, error)
	History() []platform.TransitionRecord
	Close() error
}

// Engine orchestrates extraction runs. One run at a time.
type Engine struct {
	cfg    *config.Config
	log    *zap.Logger
	store  Store
	syncer Syncer
	portal Portal
	busy   atomic.Bool
}

// New wires the engine over the production portal. The store and syncer come
// in as interfaces so tests can substitute them; the portal is replaceable
// the same way through the unexported field.
func New(cfg *config.Config, logger *zap.Logger, st Store, syncer Syncer, manager *browser.Manager, solver scrape.TokenSolver) *Engine {
	log := logger.Named("engine")
	return &Engine{
		cfg:    cfg,
		log:    log,
		store:  st,
		syncer: syncer,
		portal: newBrowserPortal(manager, solver, cfg, log),
	}
}

// Run executes one full extraction. Progress events go to sink when one is
// given. The returned summary is non-nil whenever the run was admitted, even
// if it failed partway.
func (e *Engine) Run(ctx context.Context, sink Sink) (*RunSummary, error) {
	if !e.busy.CompareAndSwap(false, true) {
		return nil, ErrBusy
	}
	defer e.busy.Store(false)

	if e.cfg.Engine.RunTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.cfg.Engine.RunTimeout)
		defer cancel()
	}

	runID := uuid.New()
	started := time.Now()
	log := e.log.With(zap.String("run_id", runID.String()))
	log.Info("Extraction run starting")

	emit := func(stage, company, message string) {
		if sink != nil {
			sink(Progress{Stage: stage, Company: company, Message: message, At: time.Now()})
		}
	}

	summary := &RunSummary{RunID: runID, Status: statusRunning, StartedAt: started}

	if err := e.store.SaveRun(ctx, store.RunRecord{
		ID: runID, StartedAt: started, Status: statusRunning,
	}); err != nil {
		return summary, fmt.Errorf("record run start: %w", err)
	}

	claims, err := e.extract(ctx, log, emit, summary)
	if err != nil {
		e.finalize(log, summary, statusFailed, err)
		return summary, err
	}

	claims = scrape.Dedupe(claims)
	summary.TotalClaims = len(claims)
	emit(StagePersist, "", fmt.Sprintf("persisting %d claims", len(claims)))

	if err := e.store.PersistClaims(ctx, runID, claims); err != nil {
		err = fmt.Errorf("persist claims: %w", err)
		e.finalize(log, summary, statusFailed, err)
		return summary, err
	}

	emit(StageSync, "", fmt.Sprintf("syncing %d claims to Notion", len(claims)))
	summary.Created, summary.Skipped, summary.Failed = e.sync(ctx, log, claims)

	e.finalize(log, summary, statusCompleted, nil)
	emit(StageDone, "", fmt.Sprintf("run finished: %d claims, %d created, %d skipped, %d failed",
		summary.TotalClaims, summary.Created, summary.Skipped, summary.Failed))
	return summary, nil
}

// extract drives one browser session through login and both platforms. One
// platform failing is logged into the summary and skipped; the other still
// runs, matching how operators prefer a partial harvest over none.
func (e *Engine) extract(ctx context.Context, log *zap.Logger, emit func(stage, company, message string), summary *RunSummary) ([]scrape.Claim, error) {
	session, err := e.portal.Open(ctx)
	if err != nil {
		return nil, fmt.Errorf("open portal session: %w", err)
	}
	defer func() {
		if cerr := session.Close(); cerr != nil {
			log.Warn("Closing portal session", zap.Error(cerr))
		}
		summary.Transitions = summarizeTransitions(session.History())
	}()

	emit(StageLogin, "", "logging into supplier portal")
	if err := session.Login(ctx); err != nil {
		return nil, fmt.Errorf("login: %w", err)
	}

	var all []scrape.Claim
	for _, target := range []platform.Context{platform.BCI, platform.Zenit} {
		company := target.String()
		count := PlatformCount{Company: company}

		emit(StageExtract, company, "ensuring platform context")
		if err := session.Ensure(ctx, target); err != nil {
			if ctx.Err() != nil {
				summary.Platforms = append(summary.Platforms, count)
				return nil, fmt.Errorf("ensure %s: %w", company, err)
			}
			log.Error("Skipping platform, context could not be ensured",
				zap.String("company", company), zap.Error(err))
			count.Error = err.Error()
			summary.Platforms = append(summary.Platforms, count)
			continue
		}

		assigned, err := session.Assigned(ctx, company)
		if err != nil {
			if ctx.Err() != nil {
				summary.Platforms = append(summary.Platforms, count)
				return nil, fmt.Errorf("extract %s assigned claims: %w", company, err)
			}
			log.Error("Assigned tab harvest failed",
				zap.String("company", company), zap.Error(err))
			count.Error = err.Error()
		} else {
			count.Assigned = len(assigned)
			all = append(all, assigned...)
		}

		settlement, err := session.Settlement(ctx, company)
		if err != nil {
			if ctx.Err() != nil {
				summary.Platforms = append(summary.Platforms, count)
				return nil, fmt.Errorf("extract %s settlement claims: %w", company, err)
			}
			log.Error("Settlement tab harvest failed",
				zap.String("company", company), zap.Error(err))
			count.Error = err.Error()
		} else {
			count.Settlement = len(settlement)
			all = append(all, settlement...)
		}

		emit(StageExtract, company, fmt.Sprintf("%d assigned, %d settlement claims",
			count.Assigned, count.Settlement))
		summary.Platforms = append(summary.Platforms, count)
	}
	return all, nil
}

// sync fans the claims out to Notion under a bounded worker group. A claim
// failing to sync is counted and logged, never fatal; a canceled context
// stops the remaining work.
func (e *Engine) sync(ctx context.Context, log *zap.Logger, claims []scrape.Claim) (created, skipped, failed int) {
	workers := e.cfg.Notion.SyncWorkers
	if workers <= 0 {
		workers = 4
	}

	var mu sync.Mutex
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(workers)
	for _, claim := range claims {
		g.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := e.syncer.SyncClaim(ctx, claim)
			mu.Lock()
			defer mu.Unlock()
			switch {
			case err != nil:
				failed++
				log.Error("Notion sync failed for claim",
					zap.String("claim", claim.ClaimNumber), zap.Error(err))
			case res.Created:
				created++
			default:
				skipped++
			}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		log.Warn("Notion sync interrupted", zap.Error(err))
	}
	return created, skipped, failed
}

// finalize records the run's terminal row and completes the summary. The row
// must land even when the run context is already dead, so it gets a fresh
// bounded context.
func (e *Engine) finalize(log *zap.Logger, summary *RunSummary, status string, runErr error) {
	summary.Status = status
	summary.Duration = time.Since(summary.StartedAt)
	if runErr != nil {
		summary.Error = runErr.Error()
	}

	record := store.RunRecord{
		ID:           summary.RunID,
		StartedAt:    summary.StartedAt,
		FinishedAt:   time.Now(),
		Status:       status,
		ClaimCount:   summary.TotalClaims,
		CreatedCount: summary.Created,
		SkippedCount: summary.Skipped,
		FailedCount:  summary.Failed,
		Error:        summary.Error,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := e.store.SaveRun(ctx, record); err != nil {
		log.Error("Failed to record run outcome", zap.Error(err))
	}

	log.Info("Extraction run finished",
		zap.String("status", status),
		zap.Duration("duration", summary.Duration),
		zap.Int("claims", summary.TotalClaims),
		zap.Int("created", summary.Created),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed))
}
