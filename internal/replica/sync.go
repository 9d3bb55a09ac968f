package replica

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/maxxNcode/MP-2048/internal/authority"
	"github.com/maxxNcode/MP-2048/internal/gamedto"
	"go.uber.org/zap"
)

const DefaultPollInterval = 1500 * time.Millisecond

// Sink receives snapshots. turn.Controller satisfies it.
type Sink interface {
	Ingest(s *gamedto.Session)
	SetOnline(online bool)
}

// Sync feeds one room into a Sink from three sources: push hints, a fixed
// poll and a fetch after each accepted move. Every source re-fetches the row
// and hands it to the same Ingest.
type Sync struct {
	auth     authority.Authority
	roomID   string
	sink     Sink
	interval time.Duration
	logger   *zap.Logger

	hints chan struct{}
	wg    sync.WaitGroup

	mu      sync.Mutex
	cancel  context.CancelFunc
	sub     authority.Subscription
	started bool
	stopped bool
}

type Option func(*Sync)

func WithPollInterval(d time.Duration) Option {
	return func(s *Sync) {
		if d > 0 {
			s.interval = d
		}
	}
}

func WithLogger(l *zap.Logger) Option {
	return func(s *Sync) {
		if l != nil {
			s.logger = l
		}
	}
}

func New(auth authority.Authority, roomID string, sink Sink, opts ...Option) *Sync {
	s := &Sync{
		auth:     auth,
		roomID:   strings.TrimSpace(roomID),
		sink:     sink,
		interval: DefaultPollInterval,
		logger:   zap.NewNop(),
		hints:    make(chan struct{}, 1),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With(zap.String("room_id", s.roomID))
	return s
}

// Start subscribes to the room and launches the poll. A failed subscription
// is logged and leaves the poll as the only background source.
func (s *Sync) Start(ctx context.Context) {
	s.mu.Lock()
	if s.started || s.stopped {
		s.mu.Unlock()
		return
	}
	s.started = true
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.mu.Unlock()

	sub, err := s.auth.Subscribe(ctx, s.roomID, authority.SubscribeHandler{
		OnChange: s.hint,
		OnState:  s.state,
	})
	if err != nil {
		s.logger.Warn("sync_subscribe_error", zap.Error(err))
		s.state(false)
	}

	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		if sub != nil {
			_ = sub.Close()
		}
		return
	}
	s.sub = sub
	s.wg.Add(2)
	s.mu.Unlock()

	go s.pushLoop(ctx)
	go s.pollLoop(ctx)
	s.logger.Info("sync_start", zap.Duration("poll_interval", s.interval), zap.Bool("push", sub != nil))
}

// AfterMove fetches once so the mover sees the committed row without waiting for push or poll.
func (s *Sync) AfterMove(ctx context.Context) {
	s.refresh(ctx, "post_move")
}

// Stop releases the subscription and waits for the background loops.
func (s *Sync) Stop() {
	s.mu.Lock()
	if s.stopped {
		s.mu.Unlock()
		return
	}
	s.stopped = true
	cancel, sub := s.cancel, s.sub
	s.sub = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if sub != nil {
		if err := sub.Close(); err != nil {
			s.logger.Debug("sync_unsubscribe_error", zap.Error(err))
		}
	}
	s.wg.Wait()
	s.logger.Info("sync_stop")
}

// hint coalesces push deliveries. The payload is never trusted as final.
func (s *Sync) hint(row *gamedto.Session) {
	if row == nil || row.ID != s.roomID {
		return
	}
	select {
	case s.hints <- struct{}{}:
	default:
	}
}

func (s *Sync) state(online bool) {
	if s.isStopped() {
		return
	}
	s.sink.SetOnline(online)
}

func (s *Sync) pushLoop(ctx context.Context) {
	defer s.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case <-s.hints:
			s.refresh(ctx, "push")
		}
	}
}

func (s *Sync) pollLoop(ctx context.Context) {
	defer s.wg.Done()
	s.refresh(ctx, "initial")
	t := time.NewTicker(s.interval)
	defer t.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-t.C:
			s.refresh(ctx, "poll")
		}
	}
}

func (s *Sync) refresh(ctx context.Context, source string) {
	if s.isStopped() {
		return
	}
	row, err := s.auth.FetchSession(ctx, s.roomID)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Debug("sync_fetch_error", zap.String("source", source), zap.Error(err))
		}
		return
	}
	if s.isStopped() {
		return
	}
	s.sink.Ingest(row)
}

func (s *Sync) isStopped() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stopped
}
