package gamedto

import (
	"time"

	"github.com/maxxNcode/MP-2048/internal/board"
)

type Mode string

const (
	ModeSolo   Mode = "solo"
	ModeShared Mode = "shared"
)

type Outcome string

const (
	OutcomeNone Outcome = ""
	OutcomeWin  Outcome = "win"
	OutcomeLose Outcome = "lose"
	OutcomeDraw Outcome = "draw"
)

type TurnStatus string

const (
	TurnYours    TurnStatus = "your_turn"
	TurnOpponent TurnStatus = "opponent_turn"
	TurnWaiting  TurnStatus = "waiting"
)

// Phase is the controller state machine position.
type Phase string

const (
	PhaseIdle     Phase = "idle"
	PhaseActive   Phase = "active"
	PhaseFinished Phase = "finished"
)

// FinalStats summarises a finished solo run.
type FinalStats struct {
	Score    int
	MaxTile  int
	Moves    int
	Duration time.Duration
}

// View is the read model handed to the presentation layer.
type View struct {
	Mode         Mode
	Phase        Phase
	Board        board.Board
	Spawn        *board.Cell
	Score        int
	MaxTile      int
	Moves        int
	StartedAt    time.Time
	TurnStatus   TurnStatus
	TurnDeadline *time.Time
	RemainingMs  int64
	Outcome      Outcome
	Final        *FinalStats
	RoomID       string
	Code         string
	Online       bool
}

// SoloScore is a finished solo run sent to the score recorder.
type SoloScore struct {
	UserID   string `json:"user_id"`
	Score    int    `json:"score"`
	MaxTile  int    `json:"max_tile"`
	Moves    int    `json:"moves"`
	Duration int    `json:"duration"` // seconds
}
