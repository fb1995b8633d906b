// Package statemachine owns every job status change and pairs each one with
// an audit entry.
//
// Valid status graph:
//
//	null ──► DRAFT ──► SENT ──► READY_FOR_REVIEW ──► DEPLOY_REQUESTED ──► DEPLOYED
//	           │         │  ▲            │
//	           │         │  └── REVISION_REQUESTED ◄┤
//	           ▼         ▼                          ▼
//	      FAILED_SEND  FACTORY_FAILED            REJECTED
//
// FAILED_SEND, FACTORY_FAILED, DEPLOYED and REJECTED are terminal.
package statemachine

import "boss-office/internal/models"

// validTransitions lists every allowed (from → to) pair. StatusNone is the
// pseudo-state of a job that does not exist yet.
var validTransitions = map[models.Status][]models.Status{
	models.StatusNone:              {models.StatusDraft},
	models.StatusDraft:             {models.StatusSent, models.StatusFailedSend},
	models.StatusSent:              {models.StatusReadyForReview, models.StatusFactoryFailed},
	models.StatusReadyForReview:    {models.StatusDeployRequested, models.StatusRevisionRequested, models.StatusRejected},
	models.StatusDeployRequested:   {models.StatusDeployed},
	models.StatusRevisionRequested: {models.StatusSent},
	models.StatusFailedSend:        {},
	models.StatusFactoryFailed:     {},
	models.StatusDeployed:          {},
	models.StatusRejected:          {},
}

// IsAllowed reports whether moving from → to is permitted.
func IsAllowed(from, to models.Status) bool {
	targets, ok := validTransitions[from]
	if !ok {
		return false
	}
	for _, t := range targets {
		if t == to {
			return true
		}
	}
	return false
}

// AllowedFrom returns a copy of the targets reachable from a status.
func AllowedFrom(from models.Status) []models.Status {
	targets := validTransitions[from]
	out := make([]models.Status, len(targets))
	copy(out, targets)
	return out
}

// IsTerminal reports whether a status has no outgoing transitions.
func IsTerminal(s models.Status) bool {
	targets, ok := validTransitions[s]
	return ok && len(targets) == 0
}
