// Package processor drains the move queue against the CRM. It is invoked by
// the cron schedule or the manual trigger endpoint, runs one batch
// sequentially to completion, and assumes it is the only active run: the
// store does no leasing, so concurrent runs could double-process a move.
package processor

import (
	"context"
	"fmt"
	"strings"

	"github.com/clinicops/dealsync/internal/config"
	"github.com/clinicops/dealsync/internal/ghl"
	"github.com/clinicops/dealsync/internal/models"
	"github.com/clinicops/dealsync/internal/notify"
	"github.com/clinicops/dealsync/internal/queue"
	"github.com/clinicops/dealsync/internal/stage"
	"github.com/clinicops/dealsync/internal/token"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Result summarizes one processor run.
type Result struct {
	Processed int   `json:"processed"`
	Failed    int   `json:"failed"`
	Remaining int64 `json:"remaining"`
}

// Processor reconciles queued moves with the CRM.
type Processor struct {
	db        *gorm.DB
	cfg       *config.Config
	store     *queue.Store
	overrides *queue.Overrides
	broker    *token.Broker
	client    *ghl.Client
	notifier  notify.Notifier
	logger    *zap.Logger
}

// New returns a Processor.
func New(db *gorm.DB, cfg *config.Config, store *queue.Store, overrides *queue.Overrides, broker *token.Broker, client *ghl.Client, notifier notify.Notifier, logger *zap.Logger) *Processor {
	if notifier == nil {
		notifier = notify.Noop{}
	}
	return &Processor{
		db:        db,
		cfg:       cfg,
		store:     store,
		overrides: overrides,
		broker:    broker,
		client:    client,
		notifier:  notifier,
		logger:    logger,
	}
}

// outcome describes a successful move for post-processing.
type outcome struct {
	// localOnly is set when the target super stage has no CRM equivalent in
	// this tenant and the move completed without a provider write.
	localOnly bool
	// stageName is the CRM display name of the stage written, for the local
	// opportunity mirror.
	stageName string
}

// Run claims one batch and processes it sequentially. Errors for one move
// are recorded on that move's row and never halt the batch; a tenant-wide
// CRM outage degrades to that tenant's moves accumulating as pending.
func (p *Processor) Run(ctx context.Context) (*Result, error) {
	batch, err := p.store.ClaimBatch(p.cfg.Sync.BatchSize)
	if err != nil {
		return nil, err
	}

	result := &Result{}
	// Live stage lists are fetched once per tenant per run; a tenant's
	// pipeline configuration does not change mid-batch.
	pipelines := make(map[string][]ghl.Pipeline)

	for _, move := range batch {
		out, err := p.processMove(ctx, &move, pipelines)
		if err != nil {
			p.recordFailure(ctx, &move, err)
			result.Failed++
			continue
		}
		p.recordSuccess(&move, out)
		result.Processed++
	}

	remaining, err := p.store.Remaining()
	if err != nil {
		return nil, err
	}
	result.Remaining = remaining

	p.logger.Info("sync_run_complete",
		zap.Int("processed", result.Processed),
		zap.Int("failed", result.Failed),
		zap.Int64("remaining", result.Remaining),
	)
	return result, nil
}

func (p *Processor) processMove(ctx context.Context, move *models.PendingMove, pipelines map[string][]ghl.Pipeline) (*outcome, error) {
	tenant := p.cfg.Tenant(move.TenantKey)
	if tenant == nil {
		return nil, fmt.Errorf("unknown tenant %q", move.TenantKey)
	}

	locToken, err := p.broker.LocationToken(ctx, tenant)
	if err != nil {
		return nil, err
	}

	switch move.Kind {
	case models.MoveKindField:
		if err := p.client.UpdateContactField(ctx, locToken, move.RecordID, move.FieldID, move.FieldValue); err != nil {
			return nil, fmt.Errorf("update contact field %s: %w", move.FieldID, err)
		}
		return &outcome{}, nil

	case models.MoveKindStage:
		return p.processStageMove(ctx, move, tenant, locToken, pipelines)

	default:
		return nil, fmt.Errorf("unknown move kind %q", move.Kind)
	}
}

func (p *Processor) processStageMove(ctx context.Context, move *models.PendingMove, tenant *config.TenantConfig, locToken string, pipelines map[string][]ghl.Pipeline) (*outcome, error) {
	live, ok := pipelines[tenant.Key]
	if !ok {
		var err error
		live, err = p.client.ListPipelines(ctx, locToken, tenant.LocationID)
		if err != nil {
			return nil, fmt.Errorf("list pipelines: %w", err)
		}
		pipelines[tenant.Key] = live
	}

	// A tenant may own several pipelines; only the configured sales pipeline
	// is tracked.
	pipeline := findPipeline(live, tenant.Pipeline)
	if pipeline == nil {
		return nil, fmt.Errorf("pipeline %q not found for tenant %q", tenant.Pipeline, tenant.Key)
	}

	stages := make([]stage.CRMStage, len(pipeline.Stages))
	for i, s := range pipeline.Stages {
		stages[i] = stage.CRMStage{ID: s.ID, Name: s.Name}
	}

	stageID, found := stage.ResolveID(move.ToStage, stages)
	if !found {
		if move.ToStage == stage.Archived {
			// No CRM equivalent in this tenant; the move completes locally.
			return &outcome{localOnly: true}, nil
		}
		return nil, fmt.Errorf("no stage in pipeline %q maps to %q (available: %s)",
			tenant.Pipeline, move.ToStage, stageNames(pipeline.Stages))
	}

	if err := p.client.MoveOpportunity(ctx, locToken, move.RecordID, pipeline.ID, stageID); err != nil {
		return nil, fmt.Errorf("move opportunity: %w", err)
	}

	return &outcome{stageName: stageNameByID(pipeline.Stages, stageID)}, nil
}

// recordSuccess marks the move synced and reconciles the local board state:
// once the CRM reflects the stage the override is redundant and the mirror
// can report the CRM's own stage name. Local-only archive moves keep their
// override, since it is the only record of the archive.
func (p *Processor) recordSuccess(move *models.PendingMove, out *outcome) {
	if err := p.store.MarkSynced(move.ID); err != nil {
		p.logger.Error("sync_mark_synced_failed", zap.String("move", move.ID), zap.Error(err))
		return
	}

	if move.Kind != models.MoveKindStage || out.localOnly {
		return
	}

	if err := p.overrides.Clear(move.RecordID); err != nil {
		p.logger.Error("sync_override_clear_failed", zap.String("record", move.RecordID), zap.Error(err))
	}

	if out.stageName != "" {
		err := p.db.Model(&models.Opportunity{}).
			Where("record_id = ?", move.RecordID).
			Update("stage_name", out.stageName).Error
		if err != nil {
			p.logger.Error("sync_mirror_update_failed", zap.String("record", move.RecordID), zap.Error(err))
		}
	}
}

// recordFailure increments attempts and records the cause. All failure
// classes retry identically up to the ceiling; ReauthRequired is surfaced to
// operators through the needs_reauth flag and the notifier rather than a
// separate retry policy.
func (p *Processor) recordFailure(ctx context.Context, move *models.PendingMove, cause error) {
	attempts := move.Attempts + 1
	msg := cause.Error()

	p.logger.Warn("sync_move_failed",
		zap.String("move", move.ID),
		zap.String("tenant", move.TenantKey),
		zap.String("record", move.RecordID),
		zap.Int("attempts", attempts),
		zap.String("cause", msg),
	)

	if err := p.store.MarkFailed(move.ID, attempts, msg); err != nil {
		p.logger.Error("sync_mark_failed_failed", zap.String("move", move.ID), zap.Error(err))
		return
	}

	if token.IsReauthRequired(cause) {
		p.notifier.Send(ctx, notify.Alert{
			Title:    "CRM credential needs re-authorization",
			Body:     msg,
			Severity: "warning",
			Tenant:   move.TenantKey,
		})
	}

	if attempts >= p.store.MaxAttempts() {
		p.notifier.Send(ctx, notify.Alert{
			Title:    fmt.Sprintf("Move for record %s failed permanently", move.RecordID),
			Body:     msg,
			Severity: "error",
			Tenant:   move.TenantKey,
		})
	}
}

func findPipeline(pipelines []ghl.Pipeline, name string) *ghl.Pipeline {
	for i := range pipelines {
		if strings.EqualFold(strings.TrimSpace(pipelines[i].Name), strings.TrimSpace(name)) {
			return &pipelines[i]
		}
	}
	return nil
}

func stageNames(stages []ghl.PipelineStage) string {
	names := make([]string, len(stages))
	for i, s := range stages {
		names[i] = s.Name
	}
	return strings.Join(names, ", ")
}

func stageNameByID(stages []ghl.PipelineStage, id string) string {
	for _, s := range stages {
		if s.ID == id {
			return s.Name
		}
	}
	return ""
}
