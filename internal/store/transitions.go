package store

import "clinic/reception-service/internal/models"

const (
	ActionCall       = "call"
	ActionStartVisit = "start_visit"
	ActionFinish     = "finish"
	ActionSkip       = "skip"
	ActionCancel     = "cancel"
	ActionMarkUrgent = "mark_urgent"
	ActionNoShow     = "no_show"
)

type transition struct {
	from []string
	to   string
}

var transitionMap = map[string]transition{
	ActionCall:       {from: []string{models.TicketWaiting, models.TicketSkipped}, to: models.TicketCalled},
	ActionStartVisit: {from: []string{models.TicketCalled}, to: models.TicketInVisit},
	ActionFinish:     {from: []string{models.TicketInVisit}, to: models.TicketCompleted},
	ActionSkip:       {from: []string{models.TicketWaiting, models.TicketCalled}, to: models.TicketSkipped},
	ActionCancel:     {from: []string{models.TicketWaiting, models.TicketCalled, models.TicketSkipped}, to: models.TicketCancelled},
	ActionMarkUrgent: {from: []string{models.TicketWaiting}, to: models.TicketWaiting},
	ActionNoShow:     {from: []string{models.TicketWaiting, models.TicketCalled}, to: models.TicketNoShow},
}

func ValidTransition(action, fromStatus string) bool {
	for _, status := range SourceStatuses(action) {
		if status == fromStatus {
			return true
		}
	}
	return false
}

// SourceStatuses lists the statuses an action may start from.
func SourceStatuses(action string) []string {
	t, ok := transitionMap[action]
	if !ok {
		return nil
	}
	out := make([]string, len(t.from))
	copy(out, t.from)
	return out
}

func TargetStatus(action string) (string, bool) {
	t, ok := transitionMap[action]
	if !ok {
		return "", false
	}
	return t.to, true
}
