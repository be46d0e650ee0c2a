package processor

import (
	"context"
	"fmt"

	"github.com/clinicops/dealsync/internal/config"
	"github.com/clinicops/dealsync/internal/models"
	"go.uber.org/zap"
	"gorm.io/gorm/clause"
)

// RefreshMirror re-pulls every tenant's configured pipeline from the CRM and
// upserts the local opportunity rows the board reads. Tenants fail
// independently; the returned count is rows upserted across all tenants.
func (p *Processor) RefreshMirror(ctx context.Context) (int, error) {
	total := 0
	var lastErr error

	for i := range p.cfg.Tenants {
		tenant := &p.cfg.Tenants[i]
		n, err := p.refreshTenantMirror(ctx, tenant)
		if err != nil {
			p.logger.Warn("mirror_refresh_failed",
				zap.String("tenant", tenant.Key),
				zap.Error(err),
			)
			lastErr = err
			continue
		}
		total += n
	}

	p.logger.Info("mirror_refresh_complete", zap.Int("upserted", total))
	if total == 0 && lastErr != nil {
		return 0, lastErr
	}
	return total, nil
}

func (p *Processor) refreshTenantMirror(ctx context.Context, tenant *config.TenantConfig) (int, error) {
	locToken, err := p.broker.LocationToken(ctx, tenant)
	if err != nil {
		return 0, err
	}

	live, err := p.client.ListPipelines(ctx, locToken, tenant.LocationID)
	if err != nil {
		return 0, fmt.Errorf("list pipelines: %w", err)
	}
	pipeline := findPipeline(live, tenant.Pipeline)
	if pipeline == nil {
		return 0, fmt.Errorf("pipeline %q not found for tenant %q", tenant.Pipeline, tenant.Key)
	}

	nameByID := make(map[string]string, len(pipeline.Stages))
	for _, s := range pipeline.Stages {
		nameByID[s.ID] = s.Name
	}

	opps, err := p.client.ListOpportunities(ctx, locToken, tenant.LocationID, pipeline.ID)
	if err != nil {
		return 0, fmt.Errorf("list opportunities: %w", err)
	}

	for _, opp := range opps {
		row := models.Opportunity{
			RecordID:      opp.ID,
			TenantKey:     tenant.Key,
			Name:          opp.Name,
			ContactName:   opp.Contact.Name,
			MonetaryValue: opp.MonetaryValue,
			StageName:     nameByID[opp.StageID],
		}
		err := p.db.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "record_id"}},
			DoUpdates: clause.AssignmentColumns([]string{"tenant_key", "name", "contact_name", "monetary_value", "stage_name", "updated_at"}),
		}).Create(&row).Error
		if err != nil {
			return 0, fmt.Errorf("upsert opportunity %s: %w", opp.ID, err)
		}
	}
	return len(opps), nil
}
