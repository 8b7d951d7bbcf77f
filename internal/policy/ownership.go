package policy

import "strings"

// EndSessionDecision is the outcome of checking who may end a session.
type EndSessionDecision struct {
	Allowed bool
	Audit   bool
	Reason  string
}

// DecideSessionEnd applies the allow-with-audit policy for ending a
// session: anyone may end a session, but a requester who is not the
// owner is flagged for audit logging. Anonymous sessions have no owner
// to mismatch.
func DecideSessionEnd(requesterID, ownerID string) EndSessionDecision {
	requesterID = strings.TrimSpace(requesterID)
	ownerID = strings.TrimSpace(ownerID)

	if ownerID == "" || ownerID == "anonymous" || requesterID == ownerID {
		return EndSessionDecision{Allowed: true}
	}
	return EndSessionDecision{
		Allowed: true,
		Audit:   true,
		Reason:  "requester does not own session",
	}
}
