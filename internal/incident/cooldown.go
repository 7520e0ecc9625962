package incident

import (
	"context"
	"fmt"
	"time"
)

// activeOrCompletedStates are the states whose presence within the cooldown
// window suppresses a new incident on the same resource (spec §4.3).
var activeOrCompletedStates = map[WorkflowState]bool{
	StateExecuting: true,
	StateVerifying: true,
	StateCompleted: true,
}

// Gate implements the Fingerprint & Cooldown Gate (spec §4.3). It is
// authoritative: once it suppresses or admits an incident, downstream agents
// never re-enter cooldown state.
type Gate struct {
	store           *Store
	cooldownWindow  time.Duration
}

func NewGate(store *Store, cooldownMinutes int) *Gate {
	return &Gate{store: store, cooldownWindow: time.Duration(cooldownMinutes) * time.Minute}
}

// Decision is the gate's verdict for one incoming incident.
type Decision struct {
	Suppressed     bool
	CooldownReason string
	SimilarPast    []*Incident
}

// Evaluate runs the cooldown check and, if not suppressed, the
// similar-incident fetch.
func (g *Gate) Evaluate(ctx context.Context, inc *Incident) (Decision, error) {
	since := inc.IncidentTimestamp.Add(-g.cooldownWindow)
	recent, err := g.store.QueryRecentByResource(ctx, inc.ResourceKey(), since, 20)
	if err != nil {
		return Decision{}, err
	}

	for _, prior := range recent {
		if prior.CorrelationID == inc.CorrelationID {
			continue
		}
		if activeOrCompletedStates[prior.WorkflowState] {
			return Decision{
				Suppressed:     true,
				CooldownReason: fmt.Sprintf("Recent incident: %s", prior.CorrelationID),
			}, nil
		}
	}

	similar, err := g.store.QueryByResourceType(ctx, inc.ResourceType, inc.Classification, StateCompleted, 5)
	if err != nil {
		return Decision{}, err
	}
	return Decision{SimilarPast: similar}, nil
}
