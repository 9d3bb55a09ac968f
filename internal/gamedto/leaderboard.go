package gamedto

import "time"

// SoloScoreEntry is one stored solo run as listed on the leaderboard.
type SoloScoreEntry struct {
	UserID    string    `json:"user_id"`
	Score     int       `json:"score"`
	MaxTile   int       `json:"max_tile"`
	Moves     int       `json:"moves"`
	Duration  int       `json:"duration_seconds"`
	CreatedAt time.Time `json:"created_at"`
}

// Standing is a player's head-to-head record over finished matches.
type Standing struct {
	UserID string `json:"user_id"`
	Wins   int    `json:"wins"`
	Losses int    `json:"losses"`
	Draws  int    `json:"draws"`
}

type Leaderboard struct {
	Solo      []SoloScoreEntry `json:"solo"`
	Standings []Standing       `json:"standings"`
}
