package server

import (
	"github.com/clinicops/dealsync/internal/models"
	"github.com/clinicops/dealsync/internal/stage"
	"gorm.io/gorm"
)

// Card is one opportunity on the board.
type Card struct {
	RecordID      string  `json:"record_id"`
	Name          string  `json:"name"`
	ContactName   string  `json:"contact_name"`
	MonetaryValue float64 `json:"monetary_value"`
	Overridden    bool    `json:"overridden"`
}

// Column is one super-stage column of the board.
type Column struct {
	Stage string `json:"stage"`
	Cards []Card `json:"cards"`
}

// Board assembles the kanban columns. Each card's stage is the override when
// one exists, else the super stage mapped from the CRM's last-synced stage;
// cards whose CRM stage is out of scope and have no override are omitted.
func Board(db *gorm.DB, tenantKey string) ([]Column, error) {
	q := db.Order("updated_at DESC")
	if tenantKey != "" {
		q = q.Where("tenant_key = ?", tenantKey)
	}
	var opps []models.Opportunity
	if err := q.Find(&opps).Error; err != nil {
		return nil, err
	}

	var overrides []models.StageOverride
	if err := db.Find(&overrides).Error; err != nil {
		return nil, err
	}
	overrideFor := make(map[string]string, len(overrides))
	for _, o := range overrides {
		overrideFor[o.RecordID] = o.SuperStage
	}

	byStage := make(map[string][]Card)
	for _, opp := range opps {
		super, overridden := overrideFor[opp.RecordID]
		if !overridden {
			super = stage.Resolve(opp.StageName)
		}
		if super == "" {
			continue
		}
		byStage[super] = append(byStage[super], Card{
			RecordID:      opp.RecordID,
			Name:          opp.Name,
			ContactName:   opp.ContactName,
			MonetaryValue: opp.MonetaryValue,
			Overridden:    overridden,
		})
	}

	columns := make([]Column, 0, len(stage.All()))
	for _, super := range stage.All() {
		columns = append(columns, Column{Stage: super, Cards: byStage[super]})
	}
	return columns, nil
}
