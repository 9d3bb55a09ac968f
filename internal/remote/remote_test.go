package remote

import (
	"context"
	"errors"
	"net"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/maxxNcode/MP-2048/internal/authority"
	"github.com/maxxNcode/MP-2048/internal/board"
	"github.com/maxxNcode/MP-2048/internal/gamedto"
	"github.com/valyala/fasthttp"
)

func newLoopback(t *testing.T) (*Client, *miniredis.Miniredis) {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	auth, err := authority.NewRedisAuthority("redis://" + mr.Addr() + "/0")
	if err != nil {
		t.Fatalf("NewRedisAuthority: %v", err)
	}
	t.Cleanup(func() { _ = auth.Close() })

	srv := NewServer(auth, auth, nil)
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	hs := &fasthttp.Server{Handler: srv.Handler()}
	go func() { _ = hs.Serve(ln) }()
	t.Cleanup(func() { _ = hs.Shutdown() })

	ws := httptest.NewServer(srv.WSRouter())
	t.Cleanup(ws.Close)

	c := NewClient("http://"+ln.Addr().String(),
		WithWebSocketURL("ws"+strings.TrimPrefix(ws.URL, "http")),
		WithRetry(1),
	)
	return c, mr
}

func TestClientRoundTrip(t *testing.T) {
	c, _ := newLoopback(t)
	ctx := context.Background()

	if err := c.Health(ctx); err != nil {
		t.Fatalf("Health: %v", err)
	}
	roomID, err := c.CreateRoom(ctx, "alice")
	if err != nil || roomID == "" {
		t.Fatalf("CreateRoom: %q %v", roomID, err)
	}
	s, err := c.FetchSession(ctx, roomID)
	if err != nil {
		t.Fatalf("FetchSession: %v", err)
	}
	if s.Status != gamedto.StatusWaiting || s.CreatorID != "alice" || !board.IsEmpty(s.BoardState) {
		t.Fatalf("unexpected waiting row: %+v", s)
	}
	joined, err := c.JoinRoom(ctx, s.Code, "bob")
	if err != nil || joined != roomID {
		t.Fatalf("JoinRoom: %q %v", joined, err)
	}
	s, _ = c.FetchSession(ctx, roomID)

	var dir board.Direction
	for _, d := range board.Directions {
		if _, changed, _ := board.Slide(s.BoardState, d); changed {
			dir = d
			break
		}
	}
	if err := c.MakeMove(ctx, roomID, "alice", dir); err != nil {
		t.Fatalf("MakeMove: %v", err)
	}
	if err := c.FinishGame(ctx, roomID, "alice"); err != nil {
		t.Fatalf("FinishGame: %v", err)
	}
	s, _ = c.FetchSession(ctx, roomID)
	if s.Status != gamedto.StatusFinished || s.WinnerID != "alice" || s.MoveCount != 1 {
		t.Fatalf("unexpected finished row: %+v", s)
	}
	if err := c.RecordSoloScore(ctx, gamedto.SoloScore{UserID: "alice", Score: 128, MaxTile: 64, Moves: 40, Duration: 30}); err != nil {
		t.Fatalf("RecordSoloScore: %v", err)
	}
}

func TestClientDecodesDomainErrors(t *testing.T) {
	c, _ := newLoopback(t)
	ctx := context.Background()

	if _, err := c.FetchSession(ctx, "missing"); gamedto.ErrorCode(err) != gamedto.CodeRoomNotFound {
		t.Fatalf("expected room_not_found, got %v", err)
	}
	roomID, _ := c.CreateRoom(ctx, "alice")
	s, _ := c.FetchSession(ctx, roomID)
	_, _ = c.JoinRoom(ctx, s.Code, "bob")
	if _, err := c.JoinRoom(ctx, s.Code, "carol"); gamedto.ErrorCode(err) != gamedto.CodeRoomFull {
		t.Fatalf("expected room_full, got %v", err)
	}
	if err := c.MakeMove(ctx, roomID, "bob", board.Left); gamedto.ErrorCode(err) != gamedto.CodeNotYourTurn {
		t.Fatalf("expected not_your_turn, got %v", err)
	}
	if err := c.MakeMove(ctx, roomID, "alice", board.Direction("sideways")); gamedto.ErrorCode(err) != gamedto.CodeInvalidArgs {
		t.Fatalf("expected invalid_args, got %v", err)
	}
	if _, err := c.CreateRoom(ctx, " "); gamedto.ErrorCode(err) != gamedto.CodeInvalidArgs {
		t.Fatalf("expected invalid_args for blank creator, got %v", err)
	}
}

func TestSubscribeRelaysCommittedRows(t *testing.T) {
	c, mr := newLoopback(t)
	ctx := context.Background()
	roomID, _ := c.CreateRoom(ctx, "alice")
	s, _ := c.FetchSession(ctx, roomID)

	rows := make(chan *gamedto.Session, 8)
	states := make(chan bool, 8)
	sub, err := c.Subscribe(ctx, roomID, authority.SubscribeHandler{
		OnChange: func(r *gamedto.Session) { rows <- r },
		OnState:  func(online bool) { states <- online },
	})
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if !<-states {
		t.Fatalf("expected online first")
	}

	// the relay subscribes right after the handshake; wait for it before writing
	channel := "mp2048:room:" + roomID + ":changes"
	for i := 0; mr.PubSubNumSub(channel)[channel] == 0; i++ {
		if i > 200 {
			t.Fatalf("relay never subscribed")
		}
		time.Sleep(10 * time.Millisecond)
	}
	if _, err := c.JoinRoom(ctx, s.Code, "bob"); err != nil {
		t.Fatalf("JoinRoom: %v", err)
	}
	select {
	case row := <-rows:
		if row.ID != roomID || row.Status != gamedto.StatusActive {
			t.Fatalf("unexpected push: %+v", row)
		}
	case <-time.After(3 * time.Second):
		t.Fatalf("no push received")
	}
	if err := sub.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if online := <-states; online {
		t.Fatalf("expected offline after Close")
	}
}

func TestSubscribeUnknownRoomFails(t *testing.T) {
	c, _ := newLoopback(t)
	if _, err := c.Subscribe(context.Background(), "nope", authority.SubscribeHandler{}); err == nil {
		t.Fatalf("expected dial error for unknown room")
	}
}

func TestSubscribeWithoutWebSocketURL(t *testing.T) {
	c := NewClient("http://127.0.0.1:8080")
	_, err := c.Subscribe(context.Background(), "room-1", authority.SubscribeHandler{})
	if err == nil || !strings.Contains(err.Error(), "not configured") {
		t.Fatalf("expected missing websocket url error, got %v", err)
	}
}

func TestWithWebSocketURL(t *testing.T) {
	cases := map[string]string{
		"ws://relay:8081/":      "ws://relay:8081",
		"wss://relay.example":   "wss://relay.example",
		"http://localhost:8081": "ws://localhost:8081",
		"  ":                    "",
	}
	for in, want := range cases {
		if got := NewClient("http://localhost:8080", WithWebSocketURL(in)).wsURL; got != want {
			t.Fatalf("WithWebSocketURL(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestLeaderboardWithoutRepository(t *testing.T) {
	c, _ := newLoopback(t)
	ctx := context.Background()
	if err := c.RecordSoloScore(ctx, gamedto.SoloScore{UserID: "alice", Score: 64}); err != nil {
		t.Fatalf("RecordSoloScore: %v", err)
	}
	lb, err := c.Leaderboard(ctx, 5)
	if err != nil {
		t.Fatalf("Leaderboard: %v", err)
	}
	if len(lb.Solo) != 0 || len(lb.Standings) != 0 {
		t.Fatalf("expected empty leaderboard without a database: %+v", lb)
	}
}

// flakyAuthority rejects the first move with a retryable conflict.
type flakyAuthority struct {
	authority.Authority
	calls atomic.Int32
}

func (f *flakyAuthority) MakeMove(context.Context, string, string, board.Direction) error {
	if f.calls.Add(1) == 1 {
		return gamedto.DomainError{Code: gamedto.CodeConflict, Message: "concurrent update detected, try again", Retryable: true}
	}
	return nil
}

func (f *flakyAuthority) FinishGame(context.Context, string, string) error {
	f.calls.Add(1)
	return gamedto.NewError(gamedto.CodeAlreadyFinished, "already finished")
}

func TestRetryableConflictIsRetried(t *testing.T) {
	stub := &flakyAuthority{}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	hs := &fasthttp.Server{Handler: NewServer(stub, nil, nil).Handler()}
	go func() { _ = hs.Serve(ln) }()
	t.Cleanup(func() { _ = hs.Shutdown() })

	c := NewClient("http://"+ln.Addr().String(), WithRetry(3))
	if err := c.MakeMove(context.Background(), "room-1", "alice", board.Left); err != nil {
		t.Fatalf("MakeMove should succeed on retry: %v", err)
	}
	if n := stub.calls.Load(); n != 2 {
		t.Fatalf("MakeMove reached the server %d times, want 2", n)
	}

	stub.calls.Store(0)
	err = c.FinishGame(context.Background(), "room-1", "bob")
	var de gamedto.DomainError
	if !errors.As(err, &de) || de.Code != gamedto.CodeAlreadyFinished || stub.calls.Load() != 1 {
		t.Fatalf("non-retryable error should not repeat: err=%v calls=%d", err, stub.calls.Load())
	}
}

func TestWSFromHTTP(t *testing.T) {
	cases := map[string]string{
		"http://localhost:8080":   "ws://localhost:8080",
		"https://example.com/api": "wss://example.com/api",
		"localhost":               "",
	}
	for in, want := range cases {
		if got := wsFromHTTP(in); got != want {
			t.Fatalf("wsFromHTTP(%q) = %q, want %q", in, got, want)
		}
	}
}

func TestStatusFor(t *testing.T) {
	if statusFor(gamedto.CodeRoomNotFound) != 404 || statusFor(gamedto.CodeNotYourTurn) != 409 || statusFor("weird") != 500 {
		t.Fatalf("unexpected status mapping")
	}
}
