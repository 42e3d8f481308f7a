package models

// BoardSession is the live view of one session: counters, the ticket being
// served and the waiting line in service order.
type BoardSession struct {
	SessionID      string   `json:"session_id"`
	DoctorID       *string  `json:"doctor_id,omitempty"`
	Active         bool     `json:"active"`
	WaitingCount   int      `json:"waiting_count"`
	CalledCount    int      `json:"called_count"`
	InVisitCount   int      `json:"in_visit_count"`
	CompletedCount int      `json:"completed_count"`
	CurrentTicket  *Ticket  `json:"current_ticket,omitempty"`
	WaitingTickets []Ticket `json:"waiting_tickets"`
}

type Board struct {
	Sessions []BoardSession `json:"sessions"`
}

func BuildBoardSession(session Session, tickets []Ticket) BoardSession {
	ordered := make([]Ticket, len(tickets))
	copy(ordered, tickets)
	SortTickets(ordered)

	board := BoardSession{
		SessionID:      session.SessionID,
		DoctorID:       session.DoctorID,
		Active:         session.Active,
		WaitingTickets: []Ticket{},
	}
	for i := range ordered {
		switch ordered[i].Status {
		case TicketWaiting:
			board.WaitingCount++
			board.WaitingTickets = append(board.WaitingTickets, ordered[i])
		case TicketCalled:
			board.CalledCount++
		case TicketInVisit:
			board.InVisitCount++
		case TicketCompleted:
			board.CompletedCount++
		}
		if board.CurrentTicket == nil && (ordered[i].Status == TicketInVisit || ordered[i].Status == TicketCalled) {
			current := ordered[i]
			board.CurrentTicket = &current
		}
	}
	return board
}
