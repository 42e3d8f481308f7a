package models

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseMoney(t *testing.T) {
	cases := []struct {
		raw   string
		want  Money
		valid bool
	}{
		{"200", 20000, true},
		{"200.00", 20000, true},
		{"120.5", 12050, true},
		{"0.01", 1, true},
		{".75", 75, true},
		{"-3.10", -310, true},
		{"1.234", 0, false},
		{"abc", 0, false},
		{"", 0, false},
		{"1.", 0, false},
		{"1e3", 0, false},
	}
	for _, tt := range cases {
		got, err := ParseMoney(tt.raw)
		if !tt.valid {
			assert.ErrorIs(t, err, ErrInvalidMoney, tt.raw)
			continue
		}
		require.NoError(t, err, tt.raw)
		assert.Equal(t, tt.want, got, tt.raw)
	}
}

func TestMoneyJSON(t *testing.T) {
	body, err := json.Marshal(struct {
		Amount Money `json:"amount"`
	}{Amount: 8000})
	require.NoError(t, err)
	assert.JSONEq(t, `{"amount": 80.00}`, string(body))
	assert.Equal(t, `{"amount":80.00}`, string(body))

	var decoded struct {
		Amount Money `json:"amount"`
	}
	require.NoError(t, json.Unmarshal([]byte(`{"amount": 120.5}`), &decoded))
	assert.Equal(t, Money(12050), decoded.Amount)
	require.NoError(t, json.Unmarshal([]byte(`{"amount": "0.99"}`), &decoded))
	assert.Equal(t, Money(99), decoded.Amount)
	assert.Error(t, json.Unmarshal([]byte(`{"amount": 1.001}`), &decoded))
	assert.Equal(t, "-0.05", Money(-5).String())
}

func TestSortTicketsUrgentFirstThenFIFO(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	tickets := []Ticket{
		{TicketID: "a", TicketNumber: 1, IssuedAt: base.Add(5 * time.Minute)},
		{TicketID: "b", TicketNumber: 2, IssuedAt: base.Add(6 * time.Minute), IsUrgent: true},
		{TicketID: "c", TicketNumber: 3, IssuedAt: base.Add(7 * time.Minute)},
		{TicketID: "d", TicketNumber: 4, IssuedAt: base.Add(1 * time.Minute), IsUrgent: true},
		{TicketID: "e", TicketNumber: 5, IssuedAt: base.Add(7 * time.Minute)},
	}
	SortTickets(tickets)

	var ids []string
	for _, ticket := range tickets {
		ids = append(ids, ticket.TicketID)
	}
	assert.Equal(t, []string{"d", "b", "a", "c", "e"}, ids)
}

func TestBuildBoardSession(t *testing.T) {
	base := time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)
	session := Session{SessionID: "s1", Active: true}
	tickets := []Ticket{
		{TicketID: "a", TicketNumber: 1, Status: TicketWaiting, IssuedAt: base.Add(5 * time.Minute)},
		{TicketID: "b", TicketNumber: 2, Status: TicketWaiting, IssuedAt: base.Add(6 * time.Minute), IsUrgent: true},
		{TicketID: "c", TicketNumber: 3, Status: TicketInVisit, IssuedAt: base.Add(1 * time.Minute)},
		{TicketID: "d", TicketNumber: 4, Status: TicketCompleted, IssuedAt: base},
		{TicketID: "e", TicketNumber: 5, Status: TicketCalled, IssuedAt: base.Add(2 * time.Minute)},
	}

	board := BuildBoardSession(session, tickets)

	assert.Equal(t, 2, board.WaitingCount)
	assert.Equal(t, 1, board.CalledCount)
	assert.Equal(t, 1, board.InVisitCount)
	assert.Equal(t, 1, board.CompletedCount)
	require.NotNil(t, board.CurrentTicket)
	assert.Equal(t, "c", board.CurrentTicket.TicketID)
	require.Len(t, board.WaitingTickets, 2)
	assert.Equal(t, "b", board.WaitingTickets[0].TicketID)
	assert.Equal(t, "a", board.WaitingTickets[1].TicketID)
	assert.Equal(t, "a", tickets[0].TicketID, "input slice must not be reordered")
}

func TestActiveTicketStatus(t *testing.T) {
	for _, status := range []string{TicketWaiting, TicketCalled, TicketInVisit} {
		assert.True(t, IsActiveTicketStatus(status), status)
	}
	for _, status := range []string{TicketSkipped, TicketCompleted, TicketCancelled, TicketNoShow} {
		assert.False(t, IsActiveTicketStatus(status), status)
	}
}
