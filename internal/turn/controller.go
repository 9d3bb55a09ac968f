package turn

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/maxxNcode/MP-2048/internal/authority"
	"github.com/maxxNcode/MP-2048/internal/board"
	"github.com/maxxNcode/MP-2048/internal/gamedto"
	"go.uber.org/zap"
)

const (
	DefaultTurnTimeout = 20 * time.Second
	minDisplayInterval = 100 * time.Millisecond
)

// Controller owns the local view of one match. Solo runs drive the board
// engine directly; shared matches only ingest authority snapshots and decide
// when to call the authority.
type Controller struct {
	mode    gamedto.Mode
	self    string
	roomID  string
	auth    authority.Authority
	scores  authority.ScoreRecorder
	engine  *board.Engine
	clock   Clock
	logger  *zap.Logger
	timeout time.Duration

	mu        sync.Mutex
	phase     gamedto.Phase
	board     board.Board
	spawn     *board.Cell
	moves     int
	startedAt time.Time
	session   *gamedto.Session
	revision  int64
	online    bool
	pending   bool
	closed    bool
	outcome   gamedto.Outcome
	final     *gamedto.FinalStats

	deadline  *time.Time
	turnMove  int
	timer     Timer
	timerGen  uint64
	afterMove func(ctx context.Context)
	listeners []func(gamedto.View)
	done      chan struct{}

	// resigned is the per-match resignation latch.
	resigned atomic.Bool
}

type Option func(*Controller)

func WithEngine(e *board.Engine) Option {
	return func(c *Controller) {
		if e != nil {
			c.engine = e
		}
	}
}

func WithClock(k Clock) Option {
	return func(c *Controller) {
		if k != nil {
			c.clock = k
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Controller) {
		if l != nil {
			c.logger = l
		}
	}
}

func WithTurnTimeout(d time.Duration) Option {
	return func(c *Controller) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithScoreRecorder stores finished solo runs. Without one solo scores are only shown.
func WithScoreRecorder(r authority.ScoreRecorder) Option {
	return func(c *Controller) { c.scores = r }
}

func newController(mode gamedto.Mode, self string, opts ...Option) *Controller {
	c := &Controller{
		mode:    mode,
		self:    strings.TrimSpace(self),
		engine:  board.NewEngine(nil),
		clock:   SystemClock,
		logger:  zap.NewNop(),
		timeout: DefaultTurnTimeout,
		phase:   gamedto.PhaseIdle,
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// NewSolo starts a local run with a fresh board.
func NewSolo(selfID string, opts ...Option) *Controller {
	c := newController(gamedto.ModeSolo, selfID, opts...)
	c.resetSoloLocked()
	return c
}

// NewShared mirrors the room roomID. It stays idle until a snapshot arrives.
func NewShared(auth authority.Authority, roomID, selfID string, opts ...Option) *Controller {
	c := newController(gamedto.ModeShared, selfID, opts...)
	c.auth = auth
	c.roomID = strings.TrimSpace(roomID)
	c.logger = c.logger.With(zap.String("room_id", c.roomID))
	return c
}

func (c *Controller) Mode() gamedto.Mode { return c.mode }
func (c *Controller) RoomID() string     { return c.roomID }
func (c *Controller) SelfID() string     { return c.self }

// OnChange registers cb for every state change. Callbacks run outside the lock.
func (c *Controller) OnChange(cb func(gamedto.View)) {
	if cb == nil {
		return
	}
	c.mu.Lock()
	c.listeners = append(c.listeners, cb)
	c.mu.Unlock()
}

// SetAfterMove installs the hook run after the authority accepts a move.
func (c *Controller) SetAfterMove(fn func(ctx context.Context)) {
	c.mu.Lock()
	c.afterMove = fn
	c.mu.Unlock()
}

// SetOnline records whether the push channel is connected.
func (c *Controller) SetOnline(online bool) {
	c.mu.Lock()
	if c.closed || c.online == online {
		c.mu.Unlock()
		return
	}
	c.online = online
	v, ls := c.viewLocked(), c.listenersLocked()
	c.mu.Unlock()
	notify(ls, v)
}

// View returns the current read model. RemainingMs is computed at call time.
func (c *Controller) View() gamedto.View {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.viewLocked()
}

// Watch publishes the view on a display cadence until ctx ends or the
// controller closes. Intervals under 100ms are raised to 100ms.
func (c *Controller) Watch(ctx context.Context, interval time.Duration, fn func(gamedto.View)) {
	if fn == nil {
		return
	}
	if interval < minDisplayInterval {
		interval = minDisplayInterval
	}
	t := time.NewTicker(interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.done:
			return
		case <-t.C:
			fn(c.View())
		}
	}
}

// RequestMove applies dir. Moves out of turn, while finished or while a
// submit is in flight are ignored. A shared move that the authority rejects
// leaves local state untouched and returns the error.
func (c *Controller) RequestMove(ctx context.Context, dir board.Direction) error {
	if !dir.Valid() {
		return board.ErrUnknownDirection
	}
	if c.mode == gamedto.ModeSolo {
		return c.soloMove(ctx, dir)
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase != gamedto.PhaseActive || !c.selfTurnLocked() || c.pending {
		c.mu.Unlock()
		return nil
	}
	c.pending = true
	c.mu.Unlock()

	err := c.auth.MakeMove(ctx, c.roomID, c.self, dir)

	c.mu.Lock()
	c.pending = false
	closed := c.closed
	hook := c.afterMove
	c.mu.Unlock()
	if closed {
		return nil
	}
	if err != nil {
		c.logger.Warn("move_submit_error", zap.String("direction", string(dir)), zap.String("code", gamedto.ErrorCode(err)), zap.Error(err))
		return fmt.Errorf("make move: %w", err)
	}
	c.logger.Info("move_submit", zap.String("direction", string(dir)))
	if hook != nil {
		hook(ctx)
	}
	return nil
}

func (c *Controller) soloMove(ctx context.Context, dir board.Direction) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.phase != gamedto.PhaseActive {
		c.mu.Unlock()
		return nil
	}
	res := c.engine.ApplyMove(c.board, dir)
	if !res.Changed {
		c.mu.Unlock()
		return nil
	}
	c.board = res.Board
	c.spawn = res.Spawn
	c.moves++
	var score *gamedto.SoloScore
	if !board.CanMoveAny(c.board) {
		score = c.finishSoloLocked()
	}
	v, ls := c.viewLocked(), c.listenersLocked()
	c.mu.Unlock()

	notify(ls, v)
	if score != nil {
		return c.recordScore(ctx, *score)
	}
	return nil
}

// NewGame resets a solo run.
func (c *Controller) NewGame() error {
	if c.mode != gamedto.ModeSolo {
		return ErrSoloOnly
	}
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	c.resetSoloLocked()
	v, ls := c.viewLocked(), c.listenersLocked()
	c.mu.Unlock()
	c.logger.Info("solo_new_game")
	notify(ls, v)
	return nil
}

// Resign ends the match as a loss. In shared mode the loss is applied locally
// first and then confirmed with the authority naming the opponent as winner;
// a failed confirmation returns ErrResignUnconfirmed and is not rolled back.
// Only the first resignation of a match reaches the authority.
func (c *Controller) Resign(ctx context.Context, auto bool) error {
	return c.resign(ctx, auto, false)
}

// resign with requireTurn set only proceeds while self still holds the turn,
// checked under the same lock that takes the latch.
func (c *Controller) resign(ctx context.Context, auto, requireTurn bool) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if requireTurn && c.mode == gamedto.ModeShared && !c.selfTurnLocked() {
		c.mu.Unlock()
		c.logger.Debug("resign_auto_skipped", zap.String("reason", "turn_passed"))
		return nil
	}
	if c.phase != gamedto.PhaseActive || !c.resigned.CompareAndSwap(false, true) {
		c.mu.Unlock()
		return nil
	}

	if c.mode == gamedto.ModeSolo {
		score := c.finishSoloLocked()
		v, ls := c.viewLocked(), c.listenersLocked()
		c.mu.Unlock()
		c.logger.Info("solo_resign", zap.Int("score", score.Score))
		notify(ls, v)
		return c.recordScore(ctx, *score)
	}

	opponent := ""
	if c.session != nil {
		opponent = c.session.Opponent(c.self)
	}
	c.phase = gamedto.PhaseFinished
	c.outcome = gamedto.OutcomeLose
	c.clearDeadlineLocked()
	c.final = c.finalStatsLocked()
	v, ls := c.viewLocked(), c.listenersLocked()
	c.mu.Unlock()
	notify(ls, v)

	event := "resign"
	if auto {
		event = "resign_auto"
	}
	if err := c.auth.FinishGame(ctx, c.roomID, opponent); err != nil {
		c.logger.Warn(event+"_error", zap.String("winner_id", opponent), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrResignUnconfirmed, err)
	}
	c.logger.Info(event, zap.String("winner_id", opponent))
	return nil
}

// Ingest merges an authority snapshot. Snapshots for other rooms, older
// revisions, and anything arriving after the match finished are dropped, as is
// a waiting status once the match has started. An all-zero board is treated as not yet dealt and never replaces the held board.
func (c *Controller) Ingest(s *gamedto.Session) {
	if s == nil || c.mode != gamedto.ModeShared {
		return
	}
	c.mu.Lock()
	if c.closed || s.ID != c.roomID || c.phase == gamedto.PhaseFinished {
		c.mu.Unlock()
		return
	}
	if s.Revision != 0 && s.Revision < c.revision {
		c.mu.Unlock()
		c.logger.Debug("snapshot_stale", zap.Int64("revision", s.Revision))
		return
	}
	if s.Status == gamedto.StatusWaiting && c.phase != gamedto.PhaseIdle {
		c.mu.Unlock()
		c.logger.Debug("snapshot_status_regression", zap.Int64("revision", s.Revision), zap.String("phase", string(c.phase)))
		return
	}
	if s.Revision > c.revision {
		c.revision = s.Revision
	}

	wasMine := c.selfTurnLocked()
	c.session = s.Clone()
	if !board.IsEmpty(s.BoardState) {
		c.board = s.BoardState
	}
	c.moves = s.MoveCount

	switch s.Status {
	case gamedto.StatusActive:
		if c.phase == gamedto.PhaseIdle {
			c.phase = gamedto.PhaseActive
			c.startedAt = c.clock.Now()
		}
		if c.selfTurnLocked() {
			c.enterTurnLocked(s, wasMine)
		} else {
			c.clearDeadlineLocked()
		}
	case gamedto.StatusFinished:
		c.clearDeadlineLocked()
		c.resigned.Store(true)
		c.phase = gamedto.PhaseFinished
		switch {
		case s.WinnerID == "":
			c.outcome = gamedto.OutcomeDraw
		case s.WinnerID == c.self:
			c.outcome = gamedto.OutcomeWin
		default:
			c.outcome = gamedto.OutcomeLose
		}
		c.final = c.finalStatsLocked()
		c.logger.Info("match_finished", zap.String("winner_id", s.WinnerID), zap.String("outcome", string(c.outcome)))
	}
	v, ls := c.viewLocked(), c.listenersLocked()
	c.mu.Unlock()
	notify(ls, v)
}

// Close stops the deadline timer. Results arriving afterwards are discarded.
func (c *Controller) Close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	c.clearDeadlineLocked()
	c.listeners = nil
	c.afterMove = nil
	close(c.done)
}

// enterTurnLocked sets the deadline for a turn held by self. The remote
// deadline wins; otherwise a running local deadline is kept for the same turn.
func (c *Controller) enterTurnLocked(s *gamedto.Session, wasMine bool) {
	var next time.Time
	switch {
	case s.TurnDeadline != nil:
		next = *s.TurnDeadline
	case wasMine && c.deadline != nil && c.turnMove == s.MoveCount:
		return
	default:
		next = c.clock.Now().Add(c.timeout)
	}
	if c.deadline != nil && c.deadline.Equal(next) && c.turnMove == s.MoveCount {
		return
	}
	c.turnMove = s.MoveCount
	c.armLocked(next)
}

func (c *Controller) armLocked(at time.Time) {
	if c.timer != nil {
		c.timer.Stop()
	}
	c.deadline = &at
	c.timerGen++
	gen := c.timerGen
	wait := at.Sub(c.clock.Now())
	if wait < 0 {
		wait = 0
	}
	c.timer = c.clock.AfterFunc(wait, func() { c.onDeadline(gen) })
}

func (c *Controller) clearDeadlineLocked() {
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
	c.timerGen++
	c.deadline = nil
}

// onDeadline fires once per armed deadline and resigns if self still holds the turn.
func (c *Controller) onDeadline(gen uint64) {
	c.mu.Lock()
	if c.closed || gen != c.timerGen || c.phase != gamedto.PhaseActive || !c.selfTurnLocked() || c.deadline == nil {
		c.mu.Unlock()
		return
	}
	if now := c.clock.Now(); now.Before(*c.deadline) {
		c.armLocked(*c.deadline)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()

	c.logger.Info("turn_deadline_expired")
	if err := c.resign(context.Background(), true, true); err != nil {
		c.logger.Warn("resign_auto_failed", zap.Error(err))
	}
}

func (c *Controller) selfTurnLocked() bool {
	return c.session != nil && c.session.Status == gamedto.StatusActive && c.session.CurrentTurnPlayerID == c.self
}

func (c *Controller) resetSoloLocked() {
	c.board = c.engine.CreateInitialBoard()
	c.spawn = nil
	c.moves = 0
	c.startedAt = c.clock.Now()
	c.phase = gamedto.PhaseActive
	c.outcome = gamedto.OutcomeNone
	c.final = nil
	c.resigned.Store(false)
}

// finishSoloLocked ends a solo run. Reaching the winning tile counts as a win.
func (c *Controller) finishSoloLocked() *gamedto.SoloScore {
	c.phase = gamedto.PhaseFinished
	c.final = c.finalStatsLocked()
	if c.final.MaxTile >= board.WinningTile {
		c.outcome = gamedto.OutcomeWin
	} else {
		c.outcome = gamedto.OutcomeLose
	}
	c.resigned.Store(true)
	c.logger.Info("solo_finished",
		zap.Int("score", c.final.Score),
		zap.Int("max_tile", c.final.MaxTile),
		zap.Int("moves", c.final.Moves),
		zap.Duration("duration", c.final.Duration),
	)
	return &gamedto.SoloScore{
		UserID:   c.self,
		Score:    c.final.Score,
		MaxTile:  c.final.MaxTile,
		Moves:    c.final.Moves,
		Duration: int(c.final.Duration.Round(time.Second) / time.Second),
	}
}

func (c *Controller) finalStatsLocked() *gamedto.FinalStats {
	var d time.Duration
	if !c.startedAt.IsZero() {
		d = c.clock.Now().Sub(c.startedAt)
	}
	return &gamedto.FinalStats{
		Score:    board.ScoreOfBoard(c.board),
		MaxTile:  board.MaxTile(c.board),
		Moves:    c.moves,
		Duration: d,
	}
}

func (c *Controller) recordScore(ctx context.Context, score gamedto.SoloScore) error {
	if c.scores == nil || score.UserID == "" {
		return nil
	}
	if err := c.scores.RecordSoloScore(ctx, score); err != nil {
		c.logger.Warn("solo_score_record_error", zap.Int("score", score.Score), zap.Error(err))
		return fmt.Errorf("%w: %w", ErrScoreUnrecorded, err)
	}
	return nil
}

func (c *Controller) viewLocked() gamedto.View {
	v := gamedto.View{
		Mode:       c.mode,
		Phase:      c.phase,
		Board:      c.board,
		Spawn:      c.spawn,
		Score:      board.ScoreOfBoard(c.board),
		MaxTile:    board.MaxTile(c.board),
		Moves:      c.moves,
		StartedAt:  c.startedAt,
		Outcome:    c.outcome,
		RoomID:     c.roomID,
		Online:     c.online,
		TurnStatus: gamedto.TurnWaiting,
	}
	if c.final != nil {
		f := *c.final
		v.Final = &f
	}
	if c.deadline != nil {
		d := *c.deadline
		v.TurnDeadline = &d
		if rem := d.Sub(c.clock.Now()).Milliseconds(); rem > 0 {
			v.RemainingMs = rem
		}
	}
	switch {
	case c.mode == gamedto.ModeSolo:
		if c.phase == gamedto.PhaseActive {
			v.TurnStatus = gamedto.TurnYours
		}
	case c.session != nil:
		v.Code = c.session.Code
		if c.phase == gamedto.PhaseActive {
			if c.selfTurnLocked() {
				v.TurnStatus = gamedto.TurnYours
			} else {
				v.TurnStatus = gamedto.TurnOpponent
			}
		}
	}
	return v
}

func (c *Controller) listenersLocked() []func(gamedto.View) {
	if len(c.listeners) == 0 {
		return nil
	}
	out := make([]func(gamedto.View), len(c.listeners))
	copy(out, c.listeners)
	return out
}

func notify(ls []func(gamedto.View), v gamedto.View) {
	for _, fn := range ls {
		fn(v)
	}
}
