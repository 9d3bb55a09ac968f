package gamedto

import (
	"time"

	"github.com/maxxNcode/MP-2048/internal/board"
)

// Status is the lifecycle state of a shared room.
type Status string

const (
	StatusWaiting  Status = "waiting"
	StatusActive   Status = "active"
	StatusFinished Status = "finished"
)

// Session is a snapshot of the authoritative room row. Clients never mutate it.
type Session struct {
	ID                  string      `json:"id"`
	Code                string      `json:"code"`
	CreatorID           string      `json:"creator_id"`
	JoinerID            string      `json:"joiner_id,omitempty"`
	CurrentTurnPlayerID string      `json:"current_turn,omitempty"`
	BoardState          board.Board `json:"board_state"`
	Status              Status      `json:"status"`
	WinnerID            string      `json:"winner_id,omitempty"`
	TurnDeadline        *time.Time  `json:"turn_deadline,omitempty"`
	MoveCount           int         `json:"move_count"`
	Revision            int64       `json:"revision"`
	CreatedAt           time.Time   `json:"created_at"`
	UpdatedAt           time.Time   `json:"updated_at"`
}

// Opponent returns the other participant of userID, or "" when unknown.
func (s *Session) Opponent(userID string) string {
	if s == nil {
		return ""
	}
	switch userID {
	case s.CreatorID:
		return s.JoinerID
	case s.JoinerID:
		return s.CreatorID
	}
	return ""
}

func (s *Session) IsParticipant(userID string) bool {
	return s != nil && userID != "" && (userID == s.CreatorID || userID == s.JoinerID)
}

// Clone returns a deep copy safe to hand to another goroutine.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.TurnDeadline != nil {
		d := *s.TurnDeadline
		c.TurnDeadline = &d
	}
	return &c
}
