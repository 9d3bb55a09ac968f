package authority

import (
    "context"
    "database/sql"
    "encoding/json"
    "fmt"
    "sort"
    "strings"
    "time"

    _ "github.com/lib/pq"
    "github.com/maxxNcode/MP-2048/internal/board"
    "github.com/maxxNcode/MP-2048/internal/gamedto"
)

// Schema creates the result tables. Safe to run on every start.
const Schema = `
CREATE TABLE IF NOT EXISTS mp2048_matches (
    room_id       TEXT PRIMARY KEY,
    code          TEXT NOT NULL,
    creator_id    TEXT NOT NULL,
    joiner_id     TEXT NOT NULL DEFAULT '',
    winner_id     TEXT NOT NULL DEFAULT '',
    result        TEXT NOT NULL,
    result_method TEXT NOT NULL,
    final_board   JSONB NOT NULL,
    final_score   INTEGER NOT NULL,
    max_tile      INTEGER NOT NULL,
    move_count    INTEGER NOT NULL,
    started_at    TIMESTAMPTZ NOT NULL,
    ended_at      TIMESTAMPTZ NOT NULL,
    duration_ms   BIGINT NOT NULL
);
CREATE TABLE IF NOT EXISTS mp2048_single_scores (
    id           BIGSERIAL PRIMARY KEY,
    user_id      TEXT NOT NULL,
    score        INTEGER NOT NULL,
    max_tile     INTEGER NOT NULL,
    moves        INTEGER NOT NULL,
    duration_sec INTEGER NOT NULL,
    created_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);`

type Repository struct {
    db *sql.DB
}

func NewRepository(databaseURL string) (*Repository, error) {
    if strings.TrimSpace(databaseURL) == "" {
        return nil, fmt.Errorf("DATABASE_URL is required")
    }
    db, err := sql.Open("postgres", databaseURL)
    if err != nil {
        return nil, err
    }
    db.SetMaxOpenConns(16)
    db.SetMaxIdleConns(8)
    db.SetConnMaxLifetime(30 * time.Minute)
    ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
    defer cancel()
    if err := db.PingContext(ctx); err != nil {
        return nil, err
    }
    return &Repository{db: db}, nil
}

func (r *Repository) Close() error {
    if r == nil || r.db == nil { return nil }
    return r.db.Close()
}

func (r *Repository) EnsureSchema(ctx context.Context) error {
    if r == nil || r.db == nil { return nil }
    _, err := r.db.ExecContext(ctx, Schema)
    return err
}

// SaveMatch upserts a finished room into mp2048_matches.
func (r *Repository) SaveMatch(ctx context.Context, s *gamedto.Session, method string) error {
    if r == nil || r.db == nil || s == nil {
        return nil
    }
    boardRaw, err := json.Marshal(s.BoardState)
    if err != nil { return fmt.Errorf("marshal final_board: %w", err) }
    duration := s.UpdatedAt.Sub(s.CreatedAt).Milliseconds()
    if duration < 0 { duration = 0 }

    q := `INSERT INTO mp2048_matches (
        room_id, code, creator_id, joiner_id, winner_id,
        result, result_method, final_board, final_score, max_tile, move_count,
        started_at, ended_at, duration_ms
      ) VALUES (
        $1,$2,$3,$4,$5,$6,$7,$8::jsonb,$9,$10,$11,$12,$13,$14
      ) ON CONFLICT (room_id) DO UPDATE SET
        winner_id=EXCLUDED.winner_id,
        result=EXCLUDED.result,
        result_method=EXCLUDED.result_method,
        final_board=EXCLUDED.final_board,
        final_score=EXCLUDED.final_score,
        max_tile=EXCLUDED.max_tile,
        move_count=EXCLUDED.move_count,
        ended_at=EXCLUDED.ended_at,
        duration_ms=EXCLUDED.duration_ms`

    _, err = r.db.ExecContext(ctx, q,
        s.ID, s.Code, s.CreatorID, s.JoinerID, s.WinnerID,
        matchResult(s), strings.TrimSpace(method), string(boardRaw),
        board.ScoreOfBoard(s.BoardState), board.MaxTile(s.BoardState), s.MoveCount,
        s.CreatedAt, s.UpdatedAt, duration,
    )
    if err != nil {
        return fmt.Errorf("upsert match: %w", err)
    }
    return nil
}

func (r *Repository) SaveSoloScore(ctx context.Context, score gamedto.SoloScore) error {
    if r == nil || r.db == nil {
        return nil
    }
    const q = `INSERT INTO mp2048_single_scores (user_id, score, max_tile, moves, duration_sec)
        VALUES ($1, $2, $3, $4, $5)`
    if _, err := r.db.ExecContext(ctx, q, score.UserID, score.Score, score.MaxTile, score.Moves, score.Duration); err != nil {
        return fmt.Errorf("insert solo score: %w", err)
    }
    return nil
}

const (
    defaultLeaderboardLimit = 20
    maxLeaderboardLimit     = 100
)

func clampLimit(n int) int {
    switch {
    case n <= 0:
        return defaultLeaderboardLimit
    case n > maxLeaderboardLimit:
        return maxLeaderboardLimit
    default:
        return n
    }
}

// TopSoloScores lists the best solo runs, highest score first.
func (r *Repository) TopSoloScores(ctx context.Context, limit int) ([]gamedto.SoloScoreEntry, error) {
    if r == nil || r.db == nil {
        return nil, nil
    }
    const q = `SELECT user_id, score, max_tile, moves, duration_sec, created_at
        FROM mp2048_single_scores
        ORDER BY score DESC, created_at ASC
        LIMIT $1`
    rows, err := r.db.QueryContext(ctx, q, clampLimit(limit))
    if err != nil {
        return nil, fmt.Errorf("query solo scores: %w", err)
    }
    defer rows.Close()

    var out []gamedto.SoloScoreEntry
    for rows.Next() {
        var e gamedto.SoloScoreEntry
        if err := rows.Scan(&e.UserID, &e.Score, &e.MaxTile, &e.Moves, &e.Duration, &e.CreatedAt); err != nil {
            return nil, fmt.Errorf("scan solo score: %w", err)
        }
        out = append(out, e)
    }
    return out, rows.Err()
}

type matchRow struct {
    creatorID string
    joinerID  string
    winnerID  string
}

// MatchStandings tallies wins, losses and draws per player over stored matches.
func (r *Repository) MatchStandings(ctx context.Context, limit int) ([]gamedto.Standing, error) {
    if r == nil || r.db == nil {
        return nil, nil
    }
    const q = `SELECT creator_id, joiner_id, winner_id FROM mp2048_matches WHERE joiner_id <> ''`
    rows, err := r.db.QueryContext(ctx, q)
    if err != nil {
        return nil, fmt.Errorf("query matches: %w", err)
    }
    defer rows.Close()

    var matches []matchRow
    for rows.Next() {
        var m matchRow
        if err := rows.Scan(&m.creatorID, &m.joinerID, &m.winnerID); err != nil {
            return nil, fmt.Errorf("scan match: %w", err)
        }
        matches = append(matches, m)
    }
    if err := rows.Err(); err != nil {
        return nil, err
    }
    return tallyStandings(matches, limit), nil
}

// tallyStandings orders by wins, then fewest losses, then user id.
func tallyStandings(matches []matchRow, limit int) []gamedto.Standing {
    byUser := map[string]*gamedto.Standing{}
    get := func(id string) *gamedto.Standing {
        st, ok := byUser[id]
        if !ok {
            st = &gamedto.Standing{UserID: id}
            byUser[id] = st
        }
        return st
    }
    for _, m := range matches {
        if m.creatorID == "" || m.joinerID == "" {
            continue
        }
        creator, joiner := get(m.creatorID), get(m.joinerID)
        switch m.winnerID {
        case "":
            creator.Draws++
            joiner.Draws++
        case m.creatorID:
            creator.Wins++
            joiner.Losses++
        case m.joinerID:
            joiner.Wins++
            creator.Losses++
        }
    }

    out := make([]gamedto.Standing, 0, len(byUser))
    for _, st := range byUser {
        out = append(out, *st)
    }
    sort.Slice(out, func(i, j int) bool {
        if out[i].Wins != out[j].Wins { return out[i].Wins > out[j].Wins }
        if out[i].Losses != out[j].Losses { return out[i].Losses < out[j].Losses }
        return out[i].UserID < out[j].UserID
    })
    if n := clampLimit(limit); len(out) > n {
        out = out[:n]
    }
    return out
}

// matchResult maps the winner to "creator", "joiner" or "draw".
func matchResult(s *gamedto.Session) string {
    switch {
    case s.WinnerID == "":
        return "draw"
    case s.WinnerID == s.CreatorID:
        return "creator"
    case s.WinnerID == s.JoinerID:
        return "joiner"
    default:
        return "unknown"
    }
}
