package gamepresenter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/maxxNcode/MP-2048/internal/gamedto"
	"github.com/maxxNcode/MP-2048/internal/msgcat"
)

// Formatter renders controller views and failures into terminal text blocks.
type Formatter struct {
	cat *msgcat.Catalog
}

func NewFormatter(cat *msgcat.Catalog) *Formatter {
	if cat == nil {
		cat = msgcat.MustDefault()
	}
	return &Formatter{cat: cat}
}

func (f *Formatter) Catalog() *msgcat.Catalog { return f.cat }

// View renders the header, the grid and, once finished, the outcome block.
func (f *Formatter) View(v gamedto.View) string {
	var sb strings.Builder
	sb.WriteString(f.Header(v))
	sb.WriteString("\n\n")
	sb.WriteString(v.Board.String())
	if v.Phase == gamedto.PhaseFinished {
		sb.WriteString("\n\n")
		sb.WriteString(f.Outcome(v))
	}
	return sb.String()
}

func (f *Formatter) Header(v gamedto.View) string {
	parts := []string{fmt.Sprintf("Score %d", v.Score), fmt.Sprintf("Max %d", v.MaxTile)}
	if v.Mode == gamedto.ModeShared {
		if v.Code != "" {
			parts = append(parts, "Room "+v.Code)
		}
		if v.Phase != gamedto.PhaseFinished {
			parts = append(parts, f.Turn(v))
		}
		if !v.Online {
			parts = append(parts, "offline")
		}
	} else {
		parts = append(parts, fmt.Sprintf("Moves %d", v.Moves))
	}
	return strings.Join(parts, " | ")
}

func (f *Formatter) Turn(v gamedto.View) string {
	switch v.TurnStatus {
	case gamedto.TurnYours:
		return f.cat.Text("turn.your_turn", map[string]any{"Seconds": ceilSeconds(v.RemainingMs)})
	case gamedto.TurnOpponent:
		return f.cat.Text("turn.opponent_turn", nil)
	default:
		return f.cat.Text("turn.waiting", nil)
	}
}

func (f *Formatter) Outcome(v gamedto.View) string {
	var line string
	switch v.Outcome {
	case gamedto.OutcomeWin:
		line = f.cat.Text("outcome.win", nil)
	case gamedto.OutcomeLose:
		line = f.cat.Text("outcome.lose", nil)
	case gamedto.OutcomeDraw:
		line = f.cat.Text("outcome.draw", nil)
	}
	if v.Final == nil {
		return line
	}
	stats := f.cat.Text("final.stats", map[string]any{
		"Score":   v.Final.Score,
		"MaxTile": v.Final.MaxTile,
		"Moves":   v.Final.Moves,
		"Seconds": int(v.Final.Duration.Seconds()),
	})
	if line == "" {
		return stats
	}
	return line + "\n" + stats
}

// Leaderboard renders both ranked lists; empty lists get a placeholder line.
func (f *Formatter) Leaderboard(lb *gamedto.Leaderboard) string {
	if lb == nil {
		lb = &gamedto.Leaderboard{}
	}
	lines := []string{f.cat.Text("leaderboard.solo_header", nil)}
	for i, e := range lb.Solo {
		lines = append(lines, f.cat.Text("leaderboard.solo_row", map[string]any{
			"Rank":    i + 1,
			"User":    e.UserID,
			"Score":   e.Score,
			"MaxTile": e.MaxTile,
			"Moves":   e.Moves,
			"Seconds": e.Duration,
		}))
	}
	if len(lb.Solo) == 0 {
		lines = append(lines, f.cat.Text("leaderboard.empty", nil))
	}
	lines = append(lines, f.cat.Text("leaderboard.standings_header", nil))
	for i, st := range lb.Standings {
		lines = append(lines, f.cat.Text("leaderboard.standing_row", map[string]any{
			"Rank":   i + 1,
			"User":   st.UserID,
			"Wins":   st.Wins,
			"Losses": st.Losses,
			"Draws":  st.Draws,
		}))
	}
	if len(lb.Standings) == 0 {
		lines = append(lines, f.cat.Text("leaderboard.empty", nil))
	}
	return strings.Join(lines, "\n")
}

// Failure renders err under a notify.* key, preferring the authority's message when one was sent.
func (f *Formatter) Failure(key string, err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()
	var de gamedto.DomainError
	if errors.As(err, &de) {
		msg = de.Error()
	}
	return f.cat.Text("notify."+key, map[string]any{"Message": msg})
}

func ceilSeconds(ms int64) int64 {
	if ms <= 0 {
		return 0
	}
	return (ms + 999) / 1000
}
