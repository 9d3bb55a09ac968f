package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/maxxNcode/MP-2048/internal/authority"
	"github.com/maxxNcode/MP-2048/internal/board"
	"github.com/maxxNcode/MP-2048/internal/gamedto"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
)

// Client talks to a remote authority over JSON RPC. Pushes arrive over a
// websocket per room.
type Client struct {
	baseURL string
	wsURL   string
	http    *fasthttp.Client
	logger  *zap.Logger

	defaultTimeout time.Duration
	retryMax       int
	reconnectMax   int
}

type Option func(*Client)

func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.defaultTimeout = d }
}

func WithRetry(max int) Option {
	return func(c *Client) { c.retryMax = max }
}

// WithWebSocketURL sets the push relay base. An http(s) URL is converted to
// ws(s). Without it Subscribe fails and callers fall back to polling.
func WithWebSocketURL(u string) Option {
	return func(c *Client) {
		u = strings.TrimRight(strings.TrimSpace(u), "/")
		if u == "" {
			return
		}
		if strings.HasPrefix(u, "ws://") || strings.HasPrefix(u, "wss://") {
			c.wsURL = u
			return
		}
		c.wsURL = wsFromHTTP(u)
	}
}

func WithReconnect(max int) Option {
	return func(c *Client) { c.reconnectMax = max }
}

func WithLogger(l *zap.Logger) Option {
	return func(c *Client) {
		if l != nil {
			c.logger = l
		}
	}
}

func NewClient(baseURL string, opts ...Option) *Client {
	base := strings.TrimRight(baseURL, "/")
	c := &Client{
		baseURL:        base,
		http:           &fasthttp.Client{ReadTimeout: 10 * time.Second, WriteTimeout: 10 * time.Second, MaxConnsPerHost: 16},
		logger:         zap.NewNop(),
		defaultTimeout: 10 * time.Second,
		retryMax:       3,
		reconnectMax:   5,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

var (
	_ authority.Authority         = (*Client)(nil)
	_ authority.ScoreRecorder     = (*Client)(nil)
	_ authority.LeaderboardReader = (*Client)(nil)
)

func (c *Client) CreateRoom(ctx context.Context, creatorID string) (string, error) {
	var resp roomResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, pathCreateRoom, createRoomRequest{CreatorID: creatorID}, &resp, false); err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

func (c *Client) JoinRoom(ctx context.Context, code, userID string) (string, error) {
	var resp roomResponse
	if err := c.doJSON(ctx, fasthttp.MethodPost, pathJoinRoom, joinRoomRequest{Code: code, UserID: userID}, &resp, false); err != nil {
		return "", err
	}
	return resp.RoomID, nil
}

func (c *Client) MakeMove(ctx context.Context, roomID, userID string, dir board.Direction) error {
	req := makeMoveRequest{RoomID: roomID, UserID: userID, Direction: string(dir)}
	return c.doJSON(ctx, fasthttp.MethodPost, pathMakeMove, req, nil, false)
}

func (c *Client) FinishGame(ctx context.Context, roomID, winnerID string) error {
	req := finishGameRequest{RoomID: roomID, WinnerID: winnerID}
	return c.doJSON(ctx, fasthttp.MethodPost, pathFinishGame, req, nil, false)
}

// FetchSession reads the room row. Reads are retried on 5xx.
func (c *Client) FetchSession(ctx context.Context, roomID string) (*gamedto.Session, error) {
	var s gamedto.Session
	if err := c.doJSON(ctx, fasthttp.MethodGet, pathRooms+url.PathEscape(roomID), nil, &s, true); err != nil {
		return nil, err
	}
	return &s, nil
}

// Health probes the authority's liveness endpoint.
func (c *Client) Health(ctx context.Context) error {
	var resp okResponse
	if err := c.doJSON(ctx, fasthttp.MethodGet, pathHealth, nil, &resp, true); err != nil {
		return err
	}
	if !resp.OK {
		return errors.New("authority reported not ok")
	}
	return nil
}

// Leaderboard reads top solo runs and match standings. limit <= 0 uses the server default.
func (c *Client) Leaderboard(ctx context.Context, limit int) (*gamedto.Leaderboard, error) {
	path := pathLeaderboard
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var lb gamedto.Leaderboard
	if err := c.doJSON(ctx, fasthttp.MethodGet, path, nil, &lb, true); err != nil {
		return nil, err
	}
	return &lb, nil
}

func (c *Client) RecordSoloScore(ctx context.Context, score gamedto.SoloScore) error {
	req := recordScoreRequest{
		UserID:   score.UserID,
		Score:    score.Score,
		MaxTile:  score.MaxTile,
		Moves:    score.Moves,
		Duration: score.Duration,
	}
	return c.doJSON(ctx, fasthttp.MethodPost, pathRecordScore, req, nil, false)
}

// Subscribe dials the room's push socket. A failed first dial is returned so
// the caller can fall back to polling; later drops reconnect in the background.
func (c *Client) Subscribe(ctx context.Context, roomID string, h authority.SubscribeHandler) (authority.Subscription, error) {
	roomID = strings.TrimSpace(roomID)
	if roomID == "" {
		return nil, gamedto.NewError(gamedto.CodeInvalidArgs, "room id required")
	}
	if c.wsURL == "" {
		return nil, errors.New("websocket url not configured")
	}
	s := newRoomStream(c.wsURL+pathRooms+url.PathEscape(roomID)+"/subscribe", h, c.reconnectMax, c.logger)
	if err := s.connect(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (c *Client) doJSON(ctx context.Context, method, path string, in any, out any, retry bool) error {
	req := fasthttp.AcquireRequest()
	resp := fasthttp.AcquireResponse()
	defer func() {
		fasthttp.ReleaseRequest(req)
		fasthttp.ReleaseResponse(resp)
	}()

	req.Header.SetMethod(method)
	req.SetRequestURI(c.baseURL + path)
	req.Header.SetContentType("application/json")
	if in != nil {
		payload, err := json.Marshal(in)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		req.SetBody(payload)
	}

	// retry covers transport errors and 5xx and is only set for reads. A
	// retryable domain error means nothing was committed, so any call may
	// repeat it.
	attempts := 1
	if c.retryMax > 1 {
		attempts = c.retryMax
	}

	var lastErr error
	for attempt := 1; attempt <= attempts; attempt++ {
		if err := c.http.DoDeadline(req, resp, c.computeDeadline(ctx)); err != nil {
			lastErr = fmt.Errorf("request failed: %w", err)
			if !retry || attempt == attempts {
				return lastErr
			}
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		status := resp.StatusCode()
		if status < 200 || status >= 300 {
			lastErr = decodeError(status, resp.Body())
			if attempt == attempts || !(retry && shouldRetryStatus(status) || isRetryable(lastErr)) {
				return lastErr
			}
			c.logger.Debug("authority_retry", zap.String("path", path), zap.Int("status", status), zap.Int("attempt", attempt))
			if sleepErr := sleepWithContext(ctx, backoffDuration(attempt)); sleepErr != nil {
				return lastErr
			}
			continue
		}

		if out != nil {
			if err := json.Unmarshal(resp.Body(), out); err != nil {
				return fmt.Errorf("decode response: %w", err)
			}
		}
		return nil
	}
	if lastErr == nil {
		lastErr = errors.New("unknown error")
	}
	return lastErr
}

// decodeError turns an error body into a DomainError when it carries a code.
func decodeError(status int, body []byte) error {
	var de gamedto.DomainError
	if err := json.Unmarshal(body, &de); err == nil && de.Code != "" {
		return de
	}
	return fmt.Errorf("authority error: status=%d body=%s", status, truncate(string(body), 512))
}

func isRetryable(err error) bool {
	var de gamedto.DomainError
	return errors.As(err, &de) && de.Retryable
}

func (c *Client) computeDeadline(ctx context.Context) time.Time {
	clientDL := time.Now().Add(c.defaultTimeout)
	if dl, ok := ctx.Deadline(); ok && dl.Before(clientDL) {
		return dl
	}
	return clientDL
}

func sleepWithContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func backoffDuration(attempt int) time.Duration {
	if attempt < 1 {
		attempt = 1
	}
	if attempt > 6 {
		attempt = 6
	}
	return time.Duration(1<<uint(attempt-1)) * 100 * time.Millisecond
}

func shouldRetryStatus(code int) bool {
	switch code {
	case 500, 502, 503, 504:
		return true
	default:
		return false
	}
}

func wsFromHTTP(base string) string {
	switch {
	case strings.HasPrefix(base, "https://"):
		return "wss://" + strings.TrimPrefix(base, "https://")
	case strings.HasPrefix(base, "http://"):
		return "ws://" + strings.TrimPrefix(base, "http://")
	default:
		return ""
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
