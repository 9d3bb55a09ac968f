package turn

import (
	"context"
	"errors"
	"io"
	"math/rand/v2"
	"sync"
	"testing"
	"time"

	"github.com/maxxNcode/MP-2048/internal/authority"
	"github.com/maxxNcode/MP-2048/internal/board"
	"github.com/maxxNcode/MP-2048/internal/gamedto"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

type fakeTimer struct {
	at      time.Time
	f       func()
	stopped bool
	fired   bool
}

func (t *fakeTimer) Stop() bool {
	was := !t.stopped && !t.fired
	t.stopped = true
	return was
}

type fakeClock struct {
	mu     sync.Mutex
	now    time.Time
	timers []*fakeTimer
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2025, 1, 1, 12, 0, 0, 0, time.UTC)}
}

func (k *fakeClock) Now() time.Time {
	k.mu.Lock()
	defer k.mu.Unlock()
	return k.now
}

func (k *fakeClock) AfterFunc(d time.Duration, f func()) Timer {
	k.mu.Lock()
	defer k.mu.Unlock()
	t := &fakeTimer{at: k.now.Add(d), f: f}
	k.timers = append(k.timers, t)
	return t
}

// Advance moves time forward and runs every due timer.
func (k *fakeClock) Advance(d time.Duration) {
	k.mu.Lock()
	k.now = k.now.Add(d)
	var due []*fakeTimer
	for _, t := range k.timers {
		if !t.stopped && !t.fired && !t.at.After(k.now) {
			t.fired = true
			due = append(due, t)
		}
	}
	k.mu.Unlock()
	for _, t := range due {
		t.f()
	}
}

func (k *fakeClock) last() *fakeTimer {
	k.mu.Lock()
	defer k.mu.Unlock()
	if len(k.timers) == 0 {
		return nil
	}
	return k.timers[len(k.timers)-1]
}

type fakeAuthority struct {
	mu        sync.Mutex
	moves     []board.Direction
	finishes  []string
	scores    []gamedto.SoloScore
	moveErr   error
	finishErr error
	scoreErr  error
}

func (f *fakeAuthority) CreateRoom(context.Context, string) (string, error) { return "room-1", nil }
func (f *fakeAuthority) JoinRoom(context.Context, string, string) (string, error) {
	return "room-1", nil
}

func (f *fakeAuthority) MakeMove(_ context.Context, _, _ string, dir board.Direction) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.moveErr != nil {
		return f.moveErr
	}
	f.moves = append(f.moves, dir)
	return nil
}

func (f *fakeAuthority) FinishGame(_ context.Context, _, winnerID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.finishes = append(f.finishes, winnerID)
	return f.finishErr
}

func (f *fakeAuthority) FetchSession(context.Context, string) (*gamedto.Session, error) {
	return nil, gamedto.NewError(gamedto.CodeRoomNotFound, "room not found")
}

func (f *fakeAuthority) Subscribe(context.Context, string, authority.SubscribeHandler) (authority.Subscription, error) {
	return nil, errors.New("not supported")
}

func (f *fakeAuthority) RecordSoloScore(_ context.Context, s gamedto.SoloScore) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.scores = append(f.scores, s)
	return f.scoreErr
}

func (f *fakeAuthority) finishCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.finishes)
}

var openingBoard = board.Board{{2, 0, 0, 0}, {0, 0, 0, 0}, {0, 0, 2, 0}, {0, 0, 0, 0}}

// lockingBoard becomes terminal after one move right.
var lockingBoard = board.Board{
	{8, 16, 8, 0},
	{16, 32, 64, 32},
	{2, 4, 2, 4},
	{4, 2, 4, 2},
}

func activeSession(rev int64, turn string) *gamedto.Session {
	return &gamedto.Session{
		ID:                  "room-1",
		Code:                "ABC234",
		CreatorID:           "me",
		JoinerID:            "them",
		CurrentTurnPlayerID: turn,
		BoardState:          openingBoard,
		Status:              gamedto.StatusActive,
		Revision:            rev,
	}
}

func newSharedTest(t *testing.T) (*Controller, *fakeAuthority, *fakeClock) {
	t.Helper()
	auth := &fakeAuthority{}
	clock := newFakeClock()
	c := NewShared(auth, "room-1", "me", WithClock(clock), WithEngine(board.NewEngine(rand.NewPCG(3, 4))))
	t.Cleanup(c.Close)
	return c, auth, clock
}

func TestSoloMoveUpdatesBoardAndCounter(t *testing.T) {
	c := NewSolo("me", WithClock(newFakeClock()), WithEngine(board.NewEngine(rand.NewPCG(1, 1))))
	defer c.Close()
	v := c.View()
	if v.Phase != gamedto.PhaseActive || board.CountTiles(v.Board) != 2 || v.TurnStatus != gamedto.TurnYours {
		t.Fatalf("unexpected solo start: %+v", v)
	}
	var moved bool
	for _, d := range board.Directions {
		if _, changed, _ := board.Slide(v.Board, d); !changed {
			continue
		}
		if err := c.RequestMove(context.Background(), d); err != nil {
			t.Fatalf("RequestMove: %v", err)
		}
		moved = true
		break
	}
	if !moved {
		t.Fatalf("no legal opening move on\n%v", v.Board)
	}
	after := c.View()
	if after.Moves != 1 || after.Spawn == nil || after.Score != board.ScoreOfBoard(after.Board) {
		t.Fatalf("unexpected view after move: %+v", after)
	}
}

func TestSoloNoChangeMoveIsIgnored(t *testing.T) {
	c := NewSolo("me", WithClock(newFakeClock()))
	defer c.Close()
	c.mu.Lock()
	c.board = board.Board{{2, 4, 8, 16}}
	c.mu.Unlock()
	if err := c.RequestMove(context.Background(), board.Left); err != nil {
		t.Fatalf("RequestMove: %v", err)
	}
	if v := c.View(); v.Moves != 0 {
		t.Fatalf("no-op move counted: %d", v.Moves)
	}
}

func TestSoloTerminalMoveFinishesAndRecords(t *testing.T) {
	clock := newFakeClock()
	rec := &fakeAuthority{}
	c := NewSolo("me", WithClock(clock), WithScoreRecorder(rec))
	defer c.Close()
	c.mu.Lock()
	c.board = lockingBoard
	c.mu.Unlock()
	clock.Advance(90 * time.Second)

	if err := c.RequestMove(context.Background(), board.Right); err != nil {
		t.Fatalf("RequestMove: %v", err)
	}
	v := c.View()
	if v.Phase != gamedto.PhaseFinished || v.Outcome != gamedto.OutcomeLose || v.Final == nil {
		t.Fatalf("expected finished loss with stats: %+v", v)
	}
	if v.Final.Moves != 1 || v.Final.Duration != 90*time.Second || v.Final.MaxTile != 64 {
		t.Fatalf("unexpected final stats: %+v", v.Final)
	}
	if len(rec.scores) != 1 || rec.scores[0].UserID != "me" || rec.scores[0].Duration != 90 {
		t.Fatalf("expected one recorded score, got %+v", rec.scores)
	}
	// finished runs ignore input
	if err := c.RequestMove(context.Background(), board.Left); err != nil {
		t.Fatalf("RequestMove after finish: %v", err)
	}
	if c.View().Moves != 1 {
		t.Fatalf("move applied after finish")
	}
}

func TestSoloWinningTileCountsAsWin(t *testing.T) {
	c := NewSolo("", WithClock(newFakeClock()))
	defer c.Close()
	b := lockingBoard
	b[1][2] = 2048
	c.mu.Lock()
	c.board = b
	c.mu.Unlock()
	if err := c.RequestMove(context.Background(), board.Right); err != nil {
		t.Fatalf("RequestMove: %v", err)
	}
	if v := c.View(); v.Outcome != gamedto.OutcomeWin {
		t.Fatalf("expected win, got %+v", v)
	}
}

func TestSoloScoreFailureIsSurfaced(t *testing.T) {
	rec := &fakeAuthority{scoreErr: errors.New("db down")}
	c := NewSolo("me", WithClock(newFakeClock()), WithScoreRecorder(rec))
	defer c.Close()
	err := c.Resign(context.Background(), false)
	if !errors.Is(err, ErrScoreUnrecorded) {
		t.Fatalf("expected ErrScoreUnrecorded, got %v", err)
	}
	if v := c.View(); v.Phase != gamedto.PhaseFinished {
		t.Fatalf("solo resign should still finish the run")
	}
}

func TestNewGameResetsSolo(t *testing.T) {
	c := NewSolo("me", WithClock(newFakeClock()))
	defer c.Close()
	_ = c.Resign(context.Background(), false)
	if err := c.NewGame(); err != nil {
		t.Fatalf("NewGame: %v", err)
	}
	v := c.View()
	if v.Phase != gamedto.PhaseActive || v.Moves != 0 || v.Outcome != gamedto.OutcomeNone || v.Final != nil {
		t.Fatalf("unexpected view after reset: %+v", v)
	}
	shared, _, _ := newSharedTest(t)
	if err := shared.NewGame(); !errors.Is(err, ErrSoloOnly) {
		t.Fatalf("expected ErrSoloOnly, got %v", err)
	}
}

func TestSharedStaysIdleUntilActiveSnapshot(t *testing.T) {
	c, _, _ := newSharedTest(t)
	if v := c.View(); v.Phase != gamedto.PhaseIdle || v.TurnStatus != gamedto.TurnWaiting {
		t.Fatalf("unexpected initial view: %+v", v)
	}
	waiting := &gamedto.Session{ID: "room-1", Code: "ABC234", CreatorID: "me", Status: gamedto.StatusWaiting, Revision: 1}
	c.Ingest(waiting)
	if v := c.View(); v.Phase != gamedto.PhaseIdle || v.Code != "ABC234" {
		t.Fatalf("waiting room should stay idle: %+v", v)
	}
	c.Ingest(activeSession(2, "them"))
	if v := c.View(); v.Phase != gamedto.PhaseActive || v.TurnStatus != gamedto.TurnOpponent || v.TurnDeadline != nil {
		t.Fatalf("unexpected view on opponent turn: %+v", v)
	}
}

func TestOutOfTurnMoveIsNoop(t *testing.T) {
	c, auth, _ := newSharedTest(t)
	if err := c.RequestMove(context.Background(), board.Left); err != nil {
		t.Fatalf("idle move: %v", err)
	}
	c.Ingest(activeSession(2, "them"))
	if err := c.RequestMove(context.Background(), board.Left); err != nil {
		t.Fatalf("out of turn move: %v", err)
	}
	if len(auth.moves) != 0 {
		t.Fatalf("authority called out of turn: %v", auth.moves)
	}
}

func TestMoveErrorLeavesStateUnchanged(t *testing.T) {
	c, auth, _ := newSharedTest(t)
	auth.moveErr = gamedto.NewError(gamedto.CodeNotYourTurn, "not your turn")
	hooked := 0
	c.SetAfterMove(func(context.Context) { hooked++ })
	c.Ingest(activeSession(2, "me"))
	before := c.View()

	err := c.RequestMove(context.Background(), board.Left)
	if gamedto.ErrorCode(err) != gamedto.CodeNotYourTurn {
		t.Fatalf("expected surfaced domain error, got %v", err)
	}
	after := c.View()
	if after.Board != before.Board || after.Phase != before.Phase || after.TurnStatus != before.TurnStatus || after.Moves != before.Moves {
		t.Fatalf("state changed after failed move:\nbefore %+v\nafter  %+v", before, after)
	}
	if hooked != 0 {
		t.Fatalf("post-move fetch ran after failure")
	}
}

func TestMoveSuccessRunsAfterMoveHook(t *testing.T) {
	c, auth, _ := newSharedTest(t)
	hooked := 0
	c.SetAfterMove(func(context.Context) { hooked++ })
	c.Ingest(activeSession(2, "me"))
	if err := c.RequestMove(context.Background(), board.Down); err != nil {
		t.Fatalf("RequestMove: %v", err)
	}
	if len(auth.moves) != 1 || auth.moves[0] != board.Down || hooked != 1 {
		t.Fatalf("moves=%v hooked=%d", auth.moves, hooked)
	}
}

func TestLocalDeadlineFallback(t *testing.T) {
	c, _, clock := newSharedTest(t)
	c.Ingest(activeSession(2, "me"))
	v := c.View()
	if v.TurnStatus != gamedto.TurnYours || v.RemainingMs != DefaultTurnTimeout.Milliseconds() {
		t.Fatalf("expected full local countdown, got %+v", v)
	}
	clock.Advance(5 * time.Second)
	if rem := c.View().RemainingMs; rem != 15000 {
		t.Fatalf("remaining = %d, want 15000", rem)
	}
	// a repeated snapshot of the same turn keeps the running deadline
	c.Ingest(activeSession(2, "me"))
	if rem := c.View().RemainingMs; rem != 15000 {
		t.Fatalf("deadline restarted on duplicate snapshot: %d", rem)
	}
}

func TestRemoteDeadlineTakesPrecedence(t *testing.T) {
	c, _, clock := newSharedTest(t)
	s := activeSession(2, "me")
	d := clock.Now().Add(7 * time.Second)
	s.TurnDeadline = &d
	c.Ingest(s)
	if rem := c.View().RemainingMs; rem != 7000 {
		t.Fatalf("remaining = %d, want 7000", rem)
	}
	clock.Advance(10 * time.Second)
	if v := c.View(); v.RemainingMs != 0 || v.Outcome != gamedto.OutcomeLose {
		t.Fatalf("expected auto-resign at remote deadline: %+v", v)
	}
}

func TestDeadlineExpiryResignsExactlyOnce(t *testing.T) {
	c, auth, clock := newSharedTest(t)
	c.Ingest(activeSession(2, "me"))
	timer := clock.last()
	if timer == nil {
		t.Fatalf("no deadline timer armed")
	}

	clock.Advance(DefaultTurnTimeout)
	// stray re-entries of the expiry path
	timer.f()
	timer.f()
	_ = c.Resign(context.Background(), true)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_ = c.Resign(context.Background(), true)
		}()
	}
	wg.Wait()

	if n := auth.finishCount(); n != 1 {
		t.Fatalf("FinishGame called %d times, want 1", n)
	}
	if auth.finishes[0] != "them" {
		t.Fatalf("winner = %q, want opponent", auth.finishes[0])
	}
	v := c.View()
	if v.Outcome != gamedto.OutcomeLose || v.TurnDeadline != nil || v.Phase != gamedto.PhaseFinished {
		t.Fatalf("unexpected view after auto-resign: %+v", v)
	}
}

func TestDeadlineDoesNotFireOnOpponentTurn(t *testing.T) {
	c, auth, clock := newSharedTest(t)
	c.Ingest(activeSession(2, "me"))
	c.Ingest(activeSession(3, "them"))
	clock.Advance(time.Minute)
	if auth.finishCount() != 0 {
		t.Fatalf("resigned while opponent held the turn")
	}
}

func TestDeadlineExpiryYieldsToTurnPassedMeanwhile(t *testing.T) {
	auth := &fakeAuthority{}
	clock := newFakeClock()
	var c *Controller
	var once sync.Once
	// the opponent's snapshot lands between the expiry check and the resign
	logger := zap.New(
		zapcore.NewCore(zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig()), zapcore.AddSync(io.Discard), zap.DebugLevel),
		zap.Hooks(func(e zapcore.Entry) error {
			if e.Message == "turn_deadline_expired" {
				once.Do(func() { c.Ingest(activeSession(3, "them")) })
			}
			return nil
		}),
	)
	c = NewShared(auth, "room-1", "me", WithClock(clock), WithLogger(logger), WithEngine(board.NewEngine(rand.NewPCG(3, 4))))
	t.Cleanup(c.Close)

	c.Ingest(activeSession(2, "me"))
	clock.Advance(DefaultTurnTimeout)

	if n := auth.finishCount(); n != 0 {
		t.Fatalf("FinishGame called %d times after the turn passed", n)
	}
	v := c.View()
	if v.Phase != gamedto.PhaseActive || v.TurnStatus != gamedto.TurnOpponent || v.Outcome != gamedto.OutcomeNone {
		t.Fatalf("match should continue on the opponent's turn: %+v", v)
	}
	if err := c.Resign(context.Background(), false); err != nil || auth.finishCount() != 1 {
		t.Fatalf("manual resign should still go through: err=%v calls=%d", err, auth.finishCount())
	}
}

func TestWaitingSnapshotDoesNotRegressActiveMatch(t *testing.T) {
	c, auth, clock := newSharedTest(t)
	c.Ingest(activeSession(2, "me"))
	before := c.View()
	if before.Phase != gamedto.PhaseActive || before.TurnDeadline == nil {
		t.Fatalf("expected active turn: %+v", before)
	}

	clock.Advance(time.Second)
	waiting := activeSession(0, "")
	waiting.Status = gamedto.StatusWaiting
	waiting.JoinerID = ""
	c.Ingest(waiting)

	v := c.View()
	if v.Phase != gamedto.PhaseActive || v.TurnStatus != gamedto.TurnYours || v.TurnDeadline == nil {
		t.Fatalf("waiting snapshot regressed the match: %+v", v)
	}
	if !v.StartedAt.Equal(before.StartedAt) {
		t.Fatalf("started at moved: %v -> %v", before.StartedAt, v.StartedAt)
	}
	clock.Advance(DefaultTurnTimeout)
	if auth.finishCount() != 1 {
		t.Fatalf("deadline should still be armed after a regressed snapshot")
	}
}

func TestResignFailureIsNotRolledBack(t *testing.T) {
	c, auth, _ := newSharedTest(t)
	auth.finishErr = errors.New("network down")
	c.Ingest(activeSession(2, "me"))

	err := c.Resign(context.Background(), false)
	if !errors.Is(err, ErrResignUnconfirmed) {
		t.Fatalf("expected ErrResignUnconfirmed, got %v", err)
	}
	v := c.View()
	if v.Outcome != gamedto.OutcomeLose || v.Phase != gamedto.PhaseFinished || v.TurnDeadline != nil {
		t.Fatalf("optimistic loss was rolled back: %+v", v)
	}
}

func TestFinishedSnapshotResolvesOutcome(t *testing.T) {
	cases := []struct {
		winner string
		want   gamedto.Outcome
	}{
		{"me", gamedto.OutcomeWin},
		{"them", gamedto.OutcomeLose},
		{"", gamedto.OutcomeDraw},
	}
	for _, tc := range cases {
		c, _, _ := newSharedTest(t)
		c.Ingest(activeSession(2, "me"))
		s := activeSession(3, "")
		s.Status = gamedto.StatusFinished
		s.WinnerID = tc.winner
		c.Ingest(s)
		v := c.View()
		if v.Outcome != tc.want || v.Phase != gamedto.PhaseFinished || v.TurnDeadline != nil {
			t.Fatalf("winner %q: got %+v", tc.winner, v)
		}
	}
}

func TestFinishedIsNotReverted(t *testing.T) {
	c, auth, _ := newSharedTest(t)
	s := activeSession(5, "")
	s.Status = gamedto.StatusFinished
	s.WinnerID = "me"
	c.Ingest(s)

	c.Ingest(activeSession(6, "me"))
	c.Ingest(activeSession(0, "me"))
	v := c.View()
	if v.Outcome != gamedto.OutcomeWin || v.Phase != gamedto.PhaseFinished {
		t.Fatalf("finished match reopened: %+v", v)
	}
	if err := c.Resign(context.Background(), false); err != nil || auth.finishCount() != 0 {
		t.Fatalf("resign after finish should be a no-op: err=%v calls=%d", err, auth.finishCount())
	}
}

func TestEmptyBoardDoesNotOverwrite(t *testing.T) {
	c, _, _ := newSharedTest(t)
	c.Ingest(activeSession(2, "them"))
	blank := activeSession(3, "me")
	blank.BoardState = board.Board{}
	c.Ingest(blank)
	v := c.View()
	if v.Board != openingBoard {
		t.Fatalf("empty board overwrote held board:\n%v", v.Board)
	}
	if v.TurnStatus != gamedto.TurnYours {
		t.Fatalf("non-board fields should still merge: %+v", v)
	}
}

func TestStaleRevisionDiscarded(t *testing.T) {
	c, _, _ := newSharedTest(t)
	c.Ingest(activeSession(4, "me"))
	c.Ingest(activeSession(3, "them"))
	if v := c.View(); v.TurnStatus != gamedto.TurnYours {
		t.Fatalf("older revision applied: %+v", v)
	}
	other := activeSession(9, "them")
	other.ID = "room-2"
	c.Ingest(other)
	if v := c.View(); v.TurnStatus != gamedto.TurnYours {
		t.Fatalf("snapshot for another room applied")
	}
}

func TestOnChangeAndClose(t *testing.T) {
	c, auth, clock := newSharedTest(t)
	var views []gamedto.View
	c.OnChange(func(v gamedto.View) { views = append(views, v) })
	c.Ingest(activeSession(2, "me"))
	c.SetOnline(true)
	if len(views) != 2 || !views[1].Online {
		t.Fatalf("expected two notifications, got %d", len(views))
	}
	c.Close()
	c.Ingest(activeSession(3, "them"))
	clock.Advance(time.Minute)
	if len(views) != 2 || auth.finishCount() != 0 {
		t.Fatalf("activity after Close: views=%d finishes=%d", len(views), auth.finishCount())
	}
	if err := c.RequestMove(context.Background(), board.Left); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed, got %v", err)
	}
}

func TestWatchPublishesUntilCancelled(t *testing.T) {
	c := NewSolo("me")
	defer c.Close()
	ctx, cancel := context.WithTimeout(context.Background(), 350*time.Millisecond)
	defer cancel()
	n := 0
	c.Watch(ctx, time.Millisecond, func(gamedto.View) { n++ })
	if n < 1 || n > 4 {
		t.Fatalf("expected display cadence clamped to 100ms, got %d ticks", n)
	}
}
