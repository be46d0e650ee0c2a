// Package stage maps CRM stage names into the fixed super-stage taxonomy
// used across all tenants, and resolves super stages back to concrete CRM
// stage ids. Tenants name their pipeline stages slightly differently; the
// mapping tables absorb those differences.
package stage

import "strings"

// Super stages: the canonical, tenant-independent taxonomy.
const (
	Consult  = "consult"
	TxPlan   = "tx_plan"
	FollowUp = "follow_up"
	Closing  = "closing"
	Won      = "won"
	// Archived has no CRM equivalent in some tenants; moves into it are
	// completed locally without a provider write.
	Archived = "archived"
)

// All lists every super stage in board order.
func All() []string {
	return []string{Consult, TxPlan, FollowUp, Closing, Won, Archived}
}

// Valid reports whether s is a known super stage.
func Valid(s string) bool {
	switch s {
	case Consult, TxPlan, FollowUp, Closing, Won, Archived:
		return true
	}
	return false
}

// excluded holds stage names that are out of scope: too early in the funnel,
// lost deals, and post-close operational stages. Checked before the mapping
// table, so an excluded name never resolves even if it collides with a
// mapped one.
var excluded = map[string]bool{
	"new lead":           true,
	"unqualified":        true,
	"no show":            true,
	"lost":               true,
	"closed lost":        true,
	"dead":               true,
	"complete":           true,
	"treatment complete": true,
	"post op":            true,
}

// nameToSuper maps normalized CRM stage names to super stages.
var nameToSuper = map[string]string{
	"consult":                  Consult,
	"consultation":             Consult,
	"consult scheduled":        Consult,
	"consult booked":           Consult,
	"consultation scheduled":   Consult,
	"tx plan":                  TxPlan,
	"tx_plan":                  TxPlan,
	"treatment plan":           TxPlan,
	"tx plan presented":        TxPlan,
	"treatment plan presented": TxPlan,
	"follow up":                FollowUp,
	"follow-up":                FollowUp,
	"followup":                 FollowUp,
	"nurture":                  FollowUp,
	"closing":                  Closing,
	"ready to close":           Closing,
	"closing call":             Closing,
	"won":                      Won,
	"closed won":               Won,
	"deal won":                 Won,
	"signed":                   Won,
	"archive":                  Archived,
	"archived":                 Archived,
}

// targetNames lists, per super stage, the preferred CRM display names in
// order. ResolveID tries these exact names against a tenant's live stage
// list before falling back to the forward table.
var targetNames = map[string][]string{
	Consult:  {"Consultation", "Consult Scheduled", "Consult"},
	TxPlan:   {"Treatment Plan Presented", "Treatment Plan", "Tx Plan"},
	FollowUp: {"Follow Up", "Follow-Up", "Nurture"},
	Closing:  {"Closing", "Ready To Close"},
	Won:      {"Closed Won", "Won"},
	Archived: {"Archive", "Archived"},
}

func normalize(name string) string {
	return strings.ToLower(strings.TrimSpace(name))
}

// Resolve maps a CRM stage name to its super stage. It returns "" for
// excluded and unknown names.
func Resolve(name string) string {
	n := normalize(name)
	if excluded[n] {
		return ""
	}
	return nameToSuper[n]
}

// TargetNames returns the ordered candidate CRM display names for a super
// stage.
func TargetNames(super string) []string {
	return targetNames[super]
}

// CRMStage is one live stage from a tenant's pipeline.
type CRMStage struct {
	ID   string
	Name string
}

// ResolveID resolves a super stage to a concrete stage id within a tenant's
// live stage list. It first tries the ordered candidate names exactly, then
// scans every live stage through the forward table for one whose super stage
// matches. The fallback guarantees progress for tenants whose stage naming
// matches the table but not the preferred candidates.
func ResolveID(super string, live []CRMStage) (string, bool) {
	for _, want := range targetNames[super] {
		for _, s := range live {
			if strings.EqualFold(strings.TrimSpace(s.Name), want) {
				return s.ID, true
			}
		}
	}
	for _, s := range live {
		if sv := Resolve(s.Name); sv != "" && sv == super {
			return s.ID, true
		}
	}
	return "", false
}
