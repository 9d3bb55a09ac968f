package authority

import (
    "context"
    "crypto/rand"
    "encoding/json"
    "errors"
    "fmt"
    "net/url"
    "strconv"
    "strings"
    "sync"
    "time"

    "github.com/google/uuid"
    "github.com/maxxNcode/MP-2048/internal/board"
    "github.com/maxxNcode/MP-2048/internal/gamedto"
    "github.com/maxxNcode/MP-2048/internal/obslog"
    "github.com/redis/go-redis/v9"
    "go.uber.org/zap"
)

const (
    defaultRoomTTL     = 24 * time.Hour
    defaultTurnTimeout = 20 * time.Second
    codeAlphabet       = "ABCDEFGHJKLMNPQRSTUVWXYZ23456789"
    codeLength         = 6
)

// RedisAuthority keeps room rows in Redis and publishes every committed write.
type RedisAuthority struct {
    rdb         *redis.Client
    engine      *board.Engine
    repo        *Repository
    roomTTL     time.Duration
    turnTimeout time.Duration
    now         func() time.Time
    logger      *zap.Logger
}

type Option func(*RedisAuthority)

func WithEngine(e *board.Engine) Option { return func(a *RedisAuthority) { if e != nil { a.engine = e } } }
func WithRoomTTL(d time.Duration) Option { return func(a *RedisAuthority) { if d > 0 { a.roomTTL = d } } }
func WithTurnTimeout(d time.Duration) Option { return func(a *RedisAuthority) { if d > 0 { a.turnTimeout = d } } }
func WithClock(now func() time.Time) Option { return func(a *RedisAuthority) { if now != nil { a.now = now } } }
func WithLogger(l *zap.Logger) Option { return func(a *RedisAuthority) { if l != nil { a.logger = l } } }

func NewRedisAuthority(redisURL string, opts ...Option) (*RedisAuthority, error) {
    if strings.TrimSpace(redisURL) == "" {
        return nil, fmt.Errorf("REDIS_URL required for room authority")
    }
    ropts, err := ParseRedisURL(redisURL)
    if err != nil { return nil, err }
    rdb := redis.NewClient(ropts)
    if err := rdb.Ping(context.Background()).Err(); err != nil {
        return nil, fmt.Errorf("redis ping: %w", err)
    }
    return NewRedisAuthorityFromClient(rdb, opts...), nil
}

func NewRedisAuthorityFromClient(rdb *redis.Client, opts ...Option) *RedisAuthority {
    a := &RedisAuthority{
        rdb:         rdb,
        engine:      board.NewEngine(nil),
        roomTTL:     defaultRoomTTL,
        turnTimeout: defaultTurnTimeout,
        now:         time.Now,
    }
    for _, opt := range opts { opt(a) }
    if a.logger == nil { a.logger = obslog.L() }
    return a
}

func (a *RedisAuthority) Close() error {
    if a == nil || a.rdb == nil { return nil }
    return a.rdb.Close()
}

// AttachRepository wires a database repository for persisting results.
func (a *RedisAuthority) AttachRepository(r *Repository) {
    if a != nil {
        a.repo = r
    }
}

// CreateRoom allocates a join code and stores a waiting room with an empty board.
func (a *RedisAuthority) CreateRoom(ctx context.Context, creatorID string) (string, error) {
    creatorID = strings.TrimSpace(creatorID)
    if creatorID == "" { return "", gamedto.NewError(gamedto.CodeInvalidArgs, "creator id required") }

    for i := 0; i < 5; i++ {
        code, err := codeGen()
        if err != nil { return "", err }
        id := uuid.NewString()
        // optimistic: only claim the code if nobody holds it
        ok, err := a.rdb.SetNX(ctx, codeKey(code), id, a.roomTTL).Result()
        if err != nil { return "", err }
        if !ok { continue }

        now := a.now()
        s := &gamedto.Session{
            ID:        id,
            Code:      code,
            CreatorID: creatorID,
            Status:    gamedto.StatusWaiting,
            Revision:  1,
            CreatedAt: now,
            UpdatedAt: now,
        }
        if err := a.save(ctx, s); err != nil { return "", err }
        a.publish(ctx, s)
        a.logger.Info("room_create", zap.String("room_id", id), zap.String("code", code), zap.String("creator_id", creatorID))
        return id, nil
    }
    return "", fmt.Errorf("failed to allocate room code")
}

// JoinRoom seats the second player, deals the opening board and hands the first turn to the creator.
func (a *RedisAuthority) JoinRoom(ctx context.Context, code, userID string) (string, error) {
    code = strings.ToUpper(strings.TrimSpace(code))
    userID = strings.TrimSpace(userID)
    if code == "" || userID == "" { return "", gamedto.NewError(gamedto.CodeInvalidArgs, "code and user id required") }

    roomID, err := a.rdb.Get(ctx, codeKey(code)).Result()
    if err == redis.Nil { return "", gamedto.NewError(gamedto.CodeRoomNotFound, "room not found") }
    if err != nil { return "", err }

    s, err := a.mutate(ctx, roomID, func(cur *gamedto.Session) error {
        if cur.CreatorID == userID || cur.JoinerID == userID {
            return errNoWrite
        }
        if cur.Status != gamedto.StatusWaiting || cur.JoinerID != "" {
            return gamedto.NewError(gamedto.CodeRoomFull, "room already has two players")
        }
        cur.JoinerID = userID
        cur.Status = gamedto.StatusActive
        cur.BoardState = a.engine.CreateInitialBoard()
        cur.CurrentTurnPlayerID = cur.CreatorID
        cur.TurnDeadline = a.deadline()
        return nil
    })
    if err != nil {
        a.logger.Warn("room_join_error", zap.String("code", code), zap.String("user_id", userID), zap.Error(err))
        return "", err
    }
    a.logger.Info("room_join", zap.String("room_id", s.ID), zap.String("code", code), zap.String("user_id", userID))
    return s.ID, nil
}

// MakeMove applies dir for userID. A move that changes nothing is rejected and the turn is kept.
// When the resulting board is locked the mover wins: the opponent has no legal reply.
func (a *RedisAuthority) MakeMove(ctx context.Context, roomID, userID string, dir board.Direction) error {
    if !dir.Valid() { return gamedto.NewError(gamedto.CodeInvalidArgs, "unknown direction") }
    var gain int
    s, err := a.mutate(ctx, roomID, func(cur *gamedto.Session) error {
        if cur.Status != gamedto.StatusActive { return gamedto.NewError(gamedto.CodeNotActive, "game is not active") }
        if !cur.IsParticipant(userID) { return gamedto.NewError(gamedto.CodeNotParticipant, "user not in room") }
        if cur.CurrentTurnPlayerID != userID { return gamedto.NewError(gamedto.CodeNotYourTurn, "not your turn") }

        res := a.engine.ApplyMove(cur.BoardState, dir)
        if !res.Changed { return gamedto.NewError(gamedto.CodeNoChange, "move does not change the board") }
        gain = res.Gain
        cur.BoardState = res.Board
        cur.MoveCount++
        if !board.CanMoveAny(res.Board) {
            cur.Status = gamedto.StatusFinished
            cur.WinnerID = userID
            cur.CurrentTurnPlayerID = ""
            cur.TurnDeadline = nil
            return nil
        }
        cur.CurrentTurnPlayerID = cur.Opponent(userID)
        cur.TurnDeadline = a.deadline()
        return nil
    })
    if err != nil { return err }

    a.logger.Info("room_move",
        zap.String("room_id", s.ID),
        zap.String("user_id", userID),
        zap.String("direction", string(dir)),
        zap.Int("gain", gain),
        zap.Int("move_count", s.MoveCount),
        zap.String("status", string(s.Status)),
    )
    if s.Status == gamedto.StatusFinished {
        _ = a.persistIfFinal(ctx, s, "board_locked")
    }
    return nil
}

// FinishGame ends the room once. An empty winnerID records a draw.
func (a *RedisAuthority) FinishGame(ctx context.Context, roomID, winnerID string) error {
    winnerID = strings.TrimSpace(winnerID)
    s, err := a.mutate(ctx, roomID, func(cur *gamedto.Session) error {
        if cur.Status == gamedto.StatusFinished { return gamedto.NewError(gamedto.CodeAlreadyFinished, "game already finished") }
        if winnerID != "" && !cur.IsParticipant(winnerID) {
            return gamedto.NewError(gamedto.CodeNotParticipant, "winner not in room")
        }
        cur.Status = gamedto.StatusFinished
        cur.WinnerID = winnerID
        cur.CurrentTurnPlayerID = ""
        cur.TurnDeadline = nil
        return nil
    })
    if err != nil { return err }
    a.logger.Info("room_finish", zap.String("room_id", s.ID), zap.String("winner_id", winnerID))
    _ = a.persistIfFinal(ctx, s, "resignation")
    return nil
}

func (a *RedisAuthority) FetchSession(ctx context.Context, roomID string) (*gamedto.Session, error) {
    s, err := a.get(ctx, roomID)
    if err != nil { return nil, err }
    if s == nil { return nil, gamedto.NewError(gamedto.CodeRoomNotFound, "room not found") }
    return s, nil
}

// RecordSoloScore stores a solo run when a repository is attached.
func (a *RedisAuthority) RecordSoloScore(ctx context.Context, score gamedto.SoloScore) error {
    if strings.TrimSpace(score.UserID) == "" { return gamedto.NewError(gamedto.CodeInvalidArgs, "user id required") }
    if a.repo == nil {
        a.logger.Debug("solo_score_skip", zap.String("user_id", score.UserID), zap.Int("score", score.Score))
        return nil
    }
    if err := a.repo.SaveSoloScore(ctx, score); err != nil {
        a.logger.Error("solo_score_persist_error", zap.String("user_id", score.UserID), zap.Error(err))
        return err
    }
    a.logger.Info("solo_score_persist", zap.String("user_id", score.UserID), zap.Int("score", score.Score), zap.Int("max_tile", score.MaxTile))
    return nil
}

// Leaderboard reads top solo runs and head-to-head standings. Without a
// repository both lists are empty.
func (a *RedisAuthority) Leaderboard(ctx context.Context, limit int) (*gamedto.Leaderboard, error) {
    lb := &gamedto.Leaderboard{Solo: []gamedto.SoloScoreEntry{}, Standings: []gamedto.Standing{}}
    if a.repo == nil { return lb, nil }
    solo, err := a.repo.TopSoloScores(ctx, limit)
    if err != nil { return nil, err }
    standings, err := a.repo.MatchStandings(ctx, limit)
    if err != nil { return nil, err }
    if solo != nil { lb.Solo = solo }
    if standings != nil { lb.Standings = standings }
    return lb, nil
}

// Subscribe relays committed rows published on the room's Pub/Sub channel.
func (a *RedisAuthority) Subscribe(ctx context.Context, roomID string, h SubscribeHandler) (Subscription, error) {
    roomID = strings.TrimSpace(roomID)
    if roomID == "" { return nil, gamedto.NewError(gamedto.CodeInvalidArgs, "room id required") }
    ps := a.rdb.Subscribe(ctx, changesChannel(roomID))
    // wait for the subscribe confirmation so no publish after return is missed
    if _, err := ps.Receive(ctx); err != nil {
        _ = ps.Close()
        return nil, fmt.Errorf("subscribe %s: %w", roomID, err)
    }
    sub := &redisSubscription{ps: ps, done: make(chan struct{}), h: h}
    h.state(true)
    go sub.loop(a.logger)
    return sub, nil
}

type redisSubscription struct {
    ps   *redis.PubSub
    h    SubscribeHandler
    done chan struct{}
    once sync.Once
}

func (s *redisSubscription) loop(logger *zap.Logger) {
    defer close(s.done)
    defer s.h.state(false)
    for msg := range s.ps.Channel() {
        var row gamedto.Session
        if err := json.Unmarshal([]byte(msg.Payload), &row); err != nil {
            logger.Warn("room_push_decode_error", zap.String("channel", msg.Channel), zap.Error(err))
            continue
        }
        s.h.change(&row)
    }
}

func (s *redisSubscription) Close() error {
    var err error
    s.once.Do(func() {
        err = s.ps.Close()
        <-s.done
    })
    return err
}

// errNoWrite aborts a mutation without error when the row is already in the requested state.
var errNoWrite = errors.New("no write")

// mutate loads the row under WATCH, applies fn and commits with a bumped revision.
func (a *RedisAuthority) mutate(ctx context.Context, roomID string, fn func(cur *gamedto.Session) error) (*gamedto.Session, error) {
    roomID = strings.TrimSpace(roomID)
    if roomID == "" { return nil, gamedto.NewError(gamedto.CodeInvalidArgs, "room id required") }
    key := roomKey(roomID)
    var out *gamedto.Session
    unchanged := false
    err := a.rdb.Watch(ctx, func(tx *redis.Tx) error {
        raw, err := tx.Get(ctx, key).Bytes()
        if err == redis.Nil { return gamedto.NewError(gamedto.CodeRoomNotFound, "room not found") }
        if err != nil { return err }
        var cur gamedto.Session
        if jerr := json.Unmarshal(raw, &cur); jerr != nil { return jerr }

        if ferr := fn(&cur); ferr != nil {
            if errors.Is(ferr, errNoWrite) {
                out, unchanged = &cur, true
                return nil
            }
            return ferr
        }
        cur.Revision++
        cur.UpdatedAt = a.now()
        newRaw, err := json.Marshal(&cur)
        if err != nil { return err }
        pipe := tx.TxPipeline()
        pipe.Set(ctx, key, newRaw, a.roomTTL)
        if _, err := pipe.Exec(ctx); err != nil { return err }
        out = &cur
        return nil
    }, key)
    if err != nil {
        if errors.Is(err, redis.TxFailedErr) {
            return nil, gamedto.DomainError{Code: gamedto.CodeConflict, Message: "concurrent update detected, try again", Retryable: true}
        }
        return nil, err
    }
    if !unchanged { a.publish(ctx, out) }
    return out, nil
}

func (a *RedisAuthority) deadline() *time.Time {
    d := a.now().Add(a.turnTimeout)
    return &d
}

func (a *RedisAuthority) save(ctx context.Context, s *gamedto.Session) error {
    raw, err := json.Marshal(s)
    if err != nil { return err }
    return a.rdb.Set(ctx, roomKey(s.ID), raw, a.roomTTL).Err()
}

func (a *RedisAuthority) get(ctx context.Context, id string) (*gamedto.Session, error) {
    raw, err := a.rdb.Get(ctx, roomKey(id)).Bytes()
    if err == redis.Nil { return nil, nil }
    if err != nil { return nil, err }
    var s gamedto.Session
    if err := json.Unmarshal(raw, &s); err != nil { return nil, err }
    return &s, nil
}

func (a *RedisAuthority) publish(ctx context.Context, s *gamedto.Session) {
    raw, err := json.Marshal(s)
    if err != nil { return }
    if err := a.rdb.Publish(ctx, changesChannel(s.ID), raw).Err(); err != nil {
        a.logger.Warn("room_publish_error", zap.String("room_id", s.ID), zap.Error(err))
    }
}

// persistIfFinal saves the final room result to the repository if available.
func (a *RedisAuthority) persistIfFinal(ctx context.Context, s *gamedto.Session, method string) error {
    if a.repo == nil || s == nil || s.Status != gamedto.StatusFinished { return nil }
    if err := a.repo.SaveMatch(ctx, s, method); err != nil {
        a.logger.Error("room_result_persist_error", zap.String("room_id", s.ID), zap.Error(err))
        return err
    }
    a.logger.Info("room_result_persist", zap.String("room_id", s.ID), zap.String("winner_id", s.WinnerID), zap.String("method", method))
    return nil
}

func roomKey(id string) string       { return "mp2048:room:" + strings.TrimSpace(id) }
func codeKey(code string) string     { return "mp2048:code:" + strings.ToUpper(strings.TrimSpace(code)) }
func changesChannel(id string) string { return roomKey(id) + ":changes" }

// codeGen returns a short join code from an alphabet without look-alike characters.
func codeGen() (string, error) {
    b := make([]byte, codeLength)
    if _, err := rand.Read(b); err != nil {
        return "", err
    }
    for i := range b {
        b[i] = codeAlphabet[int(b[i])%len(codeAlphabet)]
    }
    return string(b), nil
}

func ParseRedisURL(raw string) (*redis.Options, error) {
    u, err := url.Parse(raw)
    if err != nil { return nil, err }
    if u.Scheme != "redis" && u.Scheme != "rediss" { return nil, fmt.Errorf("unsupported scheme: %s", u.Scheme) }
    db := 0
    if p := strings.TrimPrefix(u.Path, "/"); p != "" { if n, err := strconv.Atoi(p); err == nil { db = n } }
    pass, _ := u.User.Password()
    return &redis.Options{Addr: u.Host, Password: pass, DB: db}, nil
}
