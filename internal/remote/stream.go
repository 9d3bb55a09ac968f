package remote

import (
    "context"
    "sync"
    "time"

    "github.com/maxxNcode/MP-2048/internal/authority"
    "github.com/maxxNcode/MP-2048/internal/gamedto"
    "go.uber.org/zap"
    "nhooyr.io/websocket"
    "nhooyr.io/websocket/wsjson"
)

// roomStream reads pushed rows for one room and reconnects after drops.
type roomStream struct {
    url    string
    h      authority.SubscribeHandler
    logger *zap.Logger

    connM sync.Mutex
    conn  *websocket.Conn

    maxReconnectAttempts int
    pingInterval         time.Duration

    stopCh   chan struct{}
    stopOnce sync.Once
    wg       sync.WaitGroup

    rootCtx    context.Context
    rootCancel context.CancelFunc
}

func newRoomStream(url string, h authority.SubscribeHandler, maxReconnect int, logger *zap.Logger) *roomStream {
    if logger == nil {
        logger = zap.NewNop()
    }
    ctx, cancel := context.WithCancel(context.Background())
    return &roomStream{
        url:                  url,
        h:                    h,
        logger:               logger,
        maxReconnectAttempts: maxReconnect,
        pingInterval:         30 * time.Second,
        stopCh:               make(chan struct{}),
        rootCtx:              ctx,
        rootCancel:           cancel,
    }
}

func (s *roomStream) connect(ctx context.Context) error {
    dialCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
    defer cancel()
    conn, err := s.dial(dialCtx)
    if err != nil {
        s.rootCancel()
        return err
    }
    s.attach(conn)
    return nil
}

func (s *roomStream) dial(ctx context.Context) (*websocket.Conn, error) {
    conn, _, err := websocket.Dial(ctx, s.url, &websocket.DialOptions{
        CompressionMode: websocket.CompressionNoContextTakeover,
    })
    return conn, err
}

func (s *roomStream) attach(conn *websocket.Conn) {
    s.connM.Lock()
    s.conn = conn
    s.connM.Unlock()
    s.state(true)
    s.logger.Debug("push_connected", zap.String("url", s.url))

    // connCtx ends when listen gives up on this connection
    connCtx, cancel := context.WithCancel(s.rootCtx)
    s.wg.Add(2)
    go s.listen(conn, cancel)
    go s.pingLoop(connCtx, conn)
}

func (s *roomStream) listen(conn *websocket.Conn, done context.CancelFunc) {
    defer s.wg.Done()
    defer done()
    for {
        var row gamedto.Session
        if err := wsjson.Read(s.rootCtx, conn, &row); err != nil {
            if s.isStopping() {
                return
            }
            s.logger.Warn("push_read_error", zap.String("url", s.url), zap.Error(err))
            s.state(false)
            s.closeConn(conn, websocket.StatusGoingAway, "reconnect")
            s.scheduleReconnect()
            return
        }
        if s.h.OnChange != nil {
            s.h.OnChange(&row)
        }
    }
}

func (s *roomStream) pingLoop(connCtx context.Context, conn *websocket.Conn) {
    defer s.wg.Done()
    t := time.NewTicker(s.pingInterval)
    defer t.Stop()
    failures := 0
    for {
        select {
        case <-s.stopCh:
            return
        case <-connCtx.Done():
            return
        case <-t.C:
            ctx, cancel := context.WithTimeout(connCtx, 3*time.Second)
            err := conn.Ping(ctx)
            cancel()
            if err == nil {
                failures = 0
                continue
            }
            failures++
            if failures >= 2 {
                // closing makes listen fail and take the reconnect path
                s.closeConn(conn, websocket.StatusGoingAway, "ping failure")
                return
            }
        }
    }
}

func (s *roomStream) scheduleReconnect() {
    if s.maxReconnectAttempts <= 0 {
        return
    }
    s.wg.Add(1)
    go func() {
        defer s.wg.Done()
        for attempt := 1; attempt <= s.maxReconnectAttempts; attempt++ {
            select {
            case <-s.stopCh:
                return
            case <-time.After(backoffDuration(attempt)):
            }
            dialCtx, cancel := context.WithTimeout(s.rootCtx, 10*time.Second)
            conn, err := s.dial(dialCtx)
            cancel()
            if err != nil {
                continue
            }
            if s.isStopping() {
                _ = conn.Close(websocket.StatusNormalClosure, "close")
                return
            }
            s.attach(conn)
            return
        }
        s.logger.Warn("push_reconnect_exhausted", zap.String("url", s.url), zap.Int("attempts", s.maxReconnectAttempts))
    }()
}

// Close stops the stream and waits for its goroutines.
func (s *roomStream) Close() error {
    stopped := false
    s.stopOnce.Do(func() {
        close(s.stopCh)
        stopped = true
    })
    if !stopped {
        return nil
    }
    s.connM.Lock()
    conn := s.conn
    s.conn = nil
    s.connM.Unlock()
    if conn != nil {
        _ = conn.Close(websocket.StatusNormalClosure, "close")
    }
    s.rootCancel()
    s.wg.Wait()
    s.state(false)
    return nil
}

func (s *roomStream) closeConn(conn *websocket.Conn, code websocket.StatusCode, reason string) {
    s.connM.Lock()
    if s.conn == conn {
        s.conn = nil
    }
    s.connM.Unlock()
    _ = conn.Close(code, reason)
}

func (s *roomStream) state(online bool) {
    if s.h.OnState != nil {
        s.h.OnState(online)
    }
}

func (s *roomStream) isStopping() bool {
    select {
    case <-s.stopCh:
        return true
    default:
        return false
    }
}
