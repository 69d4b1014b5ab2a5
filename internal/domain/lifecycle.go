package domain

import (
	"time"

	"rentflow/internal/models"
)

type transitionRule struct {
	from []models.BookingStatus
	to   models.BookingStatus
}

func (r transitionRule) allows(s models.BookingStatus) bool {
	for _, f := range r.from {
		if f == s {
			return true
		}
	}
	return false
}

// transitions is the complete booking state graph. Anything absent is illegal.
var transitions = map[models.Action]transitionRule{
	models.ActionConfirm: {
		from: []models.BookingStatus{models.StatusPending},
		to:   models.StatusConfirmed,
	},
	models.ActionReject: {
		from: []models.BookingStatus{models.StatusPending},
		to:   models.StatusRejected,
	},
	models.ActionCancel: {
		from: []models.BookingStatus{models.StatusPending, models.StatusConfirmed},
		to:   models.StatusCancelled,
	},
	models.ActionComplete: {
		from: []models.BookingStatus{models.StatusConfirmed},
		to:   models.StatusCompleted,
	},
}

// CanTransition reports whether action is legal from status, ignoring date guards.
func CanTransition(status models.BookingStatus, action models.Action) bool {
	rule, ok := transitions[action]
	return ok && rule.allows(status)
}

// Transition applies action to b as of now and returns the status before and after.
// On error b is left untouched.
func Transition(b *models.Booking, action models.Action, now time.Time) (from, to models.BookingStatus, err error) {
	from = b.Status
	rule, ok := transitions[action]
	if !ok || !rule.allows(from) {
		return from, from, NewStateConflict(from, action, "")
	}

	today := models.DateOf(now)
	switch action {
	case models.ActionCancel:
		if !b.CanCancel(today) {
			return from, from, NewStateConflict(from, action, "cancellation deadline has passed")
		}
	case models.ActionComplete:
		if !models.DateOf(b.EndDate).Before(today) {
			return from, from, NewStateConflict(from, action, "booking has not ended yet")
		}
	}

	at := now
	b.Status = rule.to
	b.UpdatedAt = at
	switch rule.to {
	case models.StatusConfirmed:
		b.ConfirmedAt = &at
	case models.StatusCompleted:
		b.CompletedAt = &at
	}
	return from, rule.to, nil
}
