package playtime

import "strings"

// Enforcer turns today's totals into kick and broadcast requests.
type Enforcer struct {
	policy Policy
}

// NewEnforcer creates an enforcer for policy.
func NewEnforcer(policy Policy) *Enforcer {
	return &Enforcer{policy: policy}
}

// Policy returns the policy the enforcer applies.
func (e *Enforcer) Policy() Policy {
	return e.policy
}

// Ignored reports whether userID is exempt from the quota.
func (e *Enforcer) Ignored(userID string) bool {
	_, ok := e.policy.IgnoredUserIDs[userID]
	return ok
}

// Evaluate returns a kick for userID and a broadcast naming displayName once
// total reaches the daily limit. It returns nil otherwise.
func (e *Enforcer) Evaluate(userID, displayName string, total int64) []Action {
	if e.Ignored(userID) || total < e.policy.DailyLimitMinutes {
		return nil
	}
	return []Action{
		{Type: ActionKick, UserID: userID, Message: e.policy.KickMessage},
		{Type: ActionBroadcast, Message: strings.ReplaceAll(e.policy.BroadcastTemplate, PlayerPlaceholder, displayName)},
	}
}
