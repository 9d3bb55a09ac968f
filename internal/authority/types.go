package authority

import (
	"context"

	"github.com/maxxNcode/MP-2048/internal/board"
	"github.com/maxxNcode/MP-2048/internal/gamedto"
)

// Authority is the remote service that validates and commits shared moves.
// Clients treat it as the source of truth and only ever ingest its snapshots.
type Authority interface {
	CreateRoom(ctx context.Context, creatorID string) (roomID string, err error)
	JoinRoom(ctx context.Context, code, userID string) (roomID string, err error)
	MakeMove(ctx context.Context, roomID, userID string, dir board.Direction) error
	FinishGame(ctx context.Context, roomID, winnerID string) error
	FetchSession(ctx context.Context, roomID string) (*gamedto.Session, error)
	// Subscribe delivers row-change notifications for one room. Deliveries may be
	// delayed, deduplicated or dropped; callers poll as a fallback.
	Subscribe(ctx context.Context, roomID string, h SubscribeHandler) (Subscription, error)
}

// ScoreRecorder stores finished solo runs.
type ScoreRecorder interface {
	RecordSoloScore(ctx context.Context, score gamedto.SoloScore) error
}

// LeaderboardReader lists stored results. Ratings are not computed here.
type LeaderboardReader interface {
	Leaderboard(ctx context.Context, limit int) (*gamedto.Leaderboard, error)
}

type SubscribeHandler struct {
	OnChange func(s *gamedto.Session)
	// OnState reports whether the push channel is currently connected.
	OnState func(online bool)
}

type Subscription interface {
	Close() error
}

func (h SubscribeHandler) change(s *gamedto.Session) {
	if h.OnChange != nil && s != nil {
		h.OnChange(s)
	}
}

func (h SubscribeHandler) state(online bool) {
	if h.OnState != nil {
		h.OnState(online)
	}
}
