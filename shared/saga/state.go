// Package saga holds the transfer saga state machine and the coordinator
// that applies its transitions.
//
// A saga record is only created once the local withdraw commits, so FAILED
// never appears in storage: it is a response status for rejected requests.
// From STARTED a saga settles as COMPLETED or COMPENSATED. A failed
// notification moves a STARTED or COMPLETED saga to
// COMPLETED_WITH_NOTIFICATION_FAILURE, which keeps the result independent of
// whether the deposit or the notification signal arrives first.
package saga

import "github.com/eaglebank/transfer-saga/shared/models"

var transitions = map[models.SagaStatus][]models.SagaStatus{
	models.SagaStarted: {
		models.SagaCompleted,
		models.SagaCompensated,
		models.SagaCompletedWithNotificationFailure,
	},
	models.SagaCompleted: {
		models.SagaCompletedWithNotificationFailure,
	},
}

func CanTransition(from, to models.SagaStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// AllowedFrom lists every status that may move to target. Repositories use
// it as the guard of a conditional update.
func AllowedFrom(target models.SagaStatus) []models.SagaStatus {
	var from []models.SagaStatus
	for _, s := range []models.SagaStatus{models.SagaStarted, models.SagaCompleted} {
		if CanTransition(s, target) {
			from = append(from, s)
		}
	}
	return from
}

// IsFinal reports whether no further transition can leave s.
func IsFinal(s models.SagaStatus) bool {
	_, ok := transitions[s]
	return !ok
}

// IsSettled reports whether both legs of the transfer committed.
func IsSettled(s models.SagaStatus) bool {
	return s == models.SagaCompleted || s == models.SagaCompletedWithNotificationFailure
}

// StatusStrings converts statuses for driver array parameters.
func StatusStrings(statuses []models.SagaStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
