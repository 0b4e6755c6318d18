// Package policy resolves configuration keys through a scope hierarchy with a
// bounded-TTL read-through cache. The dispatch engine resolves a job's policy
// snapshot once at dispatch start; stale-within-TTL values are acceptable.
package policy

// Configuration keys consumed by the dispatch engine.
const (
	KeySLAAcceptMinutes = "SLA_ACCEPT_MINUTES"
	KeySLAScheduleHours = "SLA_SCHEDULE_HOURS"
	KeyEscalationSteps  = "DISPATCH_ESCALATION_STEPS"
	KeyMaxAttempts      = "MAX_DISPATCH_ATTEMPTS"
	KeySearchRadiusKm   = "DISPATCH_SEARCH_RADIUS_KM"
	KeyMaxCandidates    = "DISPATCH_MAX_CANDIDATES"
)

// ScopeType orders the fallback chain. Resolution checks the most specific
// scope first; GLOBAL is the final fallback before built-in defaults.
type ScopeType string

const (
	ScopeGlobal          ScopeType = "GLOBAL"
	ScopeRegion          ScopeType = "REGION"
	ScopeOrganization    ScopeType = "ORGANIZATION"
	ScopeServiceCategory ScopeType = "SERVICE_CATEGORY"
)

// Scope is one (type, id) pair in a chain. GLOBAL uses an empty ID.
type Scope struct {
	Type ScopeType
	ID   string
}

// Chain builds a scope chain from the identifiers a job carries. Empty
// identifiers are skipped. The returned order is most specific first.
func Chain(regionID, organizationID, serviceCategory string) []Scope {
	chain := make([]Scope, 0, 4)
	if serviceCategory != "" {
		chain = append(chain, Scope{Type: ScopeServiceCategory, ID: serviceCategory})
	}
	if organizationID != "" {
		chain = append(chain, Scope{Type: ScopeOrganization, ID: organizationID})
	}
	if regionID != "" {
		chain = append(chain, Scope{Type: ScopeRegion, ID: regionID})
	}
	return append(chain, Scope{Type: ScopeGlobal})
}
