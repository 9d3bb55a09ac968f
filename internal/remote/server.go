package remote

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/gorilla/mux"
	"github.com/maxxNcode/MP-2048/internal/authority"
	"github.com/maxxNcode/MP-2048/internal/board"
	"github.com/maxxNcode/MP-2048/internal/gamedto"
	"github.com/valyala/fasthttp"
	"go.uber.org/zap"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
)

// Server exposes an Authority: JSON RPC over fasthttp and per-room push over websocket.
type Server struct {
	auth   authority.Authority
	scores authority.ScoreRecorder
	logger *zap.Logger
}

// NewServer wraps auth. scores may be nil, in which case solo scores are accepted and dropped.
func NewServer(auth authority.Authority, scores authority.ScoreRecorder, logger *zap.Logger) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{auth: auth, scores: scores, logger: logger}
}

// Handler routes RPC and room reads.
func (s *Server) Handler() fasthttp.RequestHandler {
	return func(ctx *fasthttp.RequestCtx) {
		path := string(ctx.Path())
		method := string(ctx.Method())
		started := time.Now()
		defer func() {
			s.logger.Debug("http_request",
				zap.String("method", method),
				zap.String("path", path),
				zap.Int("status", ctx.Response.StatusCode()),
				zap.Duration("elapsed", time.Since(started)),
			)
		}()

		switch {
		case path == pathHealth:
			writeJSON(ctx, http.StatusOK, okResponse{OK: true})
		case method == fasthttp.MethodGet && path == pathLeaderboard:
			s.leaderboard(ctx)
		case method == fasthttp.MethodGet && strings.HasPrefix(path, pathRooms):
			s.fetchRoom(ctx, strings.TrimPrefix(path, pathRooms))
		case method != fasthttp.MethodPost:
			writeError(ctx, gamedto.NewError(gamedto.CodeInvalidArgs, "method not allowed"))
		case path == pathCreateRoom:
			s.createRoom(ctx)
		case path == pathJoinRoom:
			s.joinRoom(ctx)
		case path == pathMakeMove:
			s.makeMove(ctx)
		case path == pathFinishGame:
			s.finishGame(ctx)
		case path == pathRecordScore:
			s.recordScore(ctx)
		default:
			ctx.SetStatusCode(http.StatusNotFound)
		}
	}
}

func (s *Server) createRoom(ctx *fasthttp.RequestCtx) {
	var req createRoomRequest
	if !decode(ctx, &req) {
		return
	}
	id, err := s.auth.CreateRoom(ctx, req.CreatorID)
	if err != nil {
		s.fail(ctx, "create_room", err)
		return
	}
	writeJSON(ctx, http.StatusOK, roomResponse{RoomID: id})
}

func (s *Server) joinRoom(ctx *fasthttp.RequestCtx) {
	var req joinRoomRequest
	if !decode(ctx, &req) {
		return
	}
	id, err := s.auth.JoinRoom(ctx, req.Code, req.UserID)
	if err != nil {
		s.fail(ctx, "join_room", err)
		return
	}
	writeJSON(ctx, http.StatusOK, roomResponse{RoomID: id})
}

func (s *Server) makeMove(ctx *fasthttp.RequestCtx) {
	var req makeMoveRequest
	if !decode(ctx, &req) {
		return
	}
	dir, err := board.ParseDirection(req.Direction)
	if err != nil {
		writeError(ctx, gamedto.NewError(gamedto.CodeInvalidArgs, err.Error()))
		return
	}
	if err := s.auth.MakeMove(ctx, req.RoomID, req.UserID, dir); err != nil {
		s.fail(ctx, "make_move", err)
		return
	}
	writeJSON(ctx, http.StatusOK, okResponse{OK: true})
}

func (s *Server) finishGame(ctx *fasthttp.RequestCtx) {
	var req finishGameRequest
	if !decode(ctx, &req) {
		return
	}
	if err := s.auth.FinishGame(ctx, req.RoomID, req.WinnerID); err != nil {
		s.fail(ctx, "finish_game", err)
		return
	}
	writeJSON(ctx, http.StatusOK, okResponse{OK: true})
}

func (s *Server) recordScore(ctx *fasthttp.RequestCtx) {
	var req recordScoreRequest
	if !decode(ctx, &req) {
		return
	}
	if s.scores != nil {
		score := gamedto.SoloScore{UserID: req.UserID, Score: req.Score, MaxTile: req.MaxTile, Moves: req.Moves, Duration: req.Duration}
		if err := s.scores.RecordSoloScore(ctx, score); err != nil {
			s.fail(ctx, "record_single_player_score", err)
			return
		}
	}
	writeJSON(ctx, http.StatusOK, okResponse{OK: true})
}

// leaderboard answers with empty lists when the authority keeps no results.
func (s *Server) leaderboard(ctx *fasthttp.RequestCtx) {
	limit := ctx.QueryArgs().GetUintOrZero("limit")
	lb := &gamedto.Leaderboard{Solo: []gamedto.SoloScoreEntry{}, Standings: []gamedto.Standing{}}
	if r, ok := s.auth.(authority.LeaderboardReader); ok {
		got, err := r.Leaderboard(ctx, limit)
		if err != nil {
			s.fail(ctx, "leaderboard", err)
			return
		}
		lb = got
	}
	writeJSON(ctx, http.StatusOK, lb)
}

func (s *Server) fetchRoom(ctx *fasthttp.RequestCtx, rawID string) {
	id, err := url.PathUnescape(rawID)
	if err != nil || strings.TrimSpace(id) == "" || strings.Contains(id, "/") {
		writeError(ctx, gamedto.NewError(gamedto.CodeInvalidArgs, "room id required"))
		return
	}
	row, err := s.auth.FetchSession(ctx, id)
	if err != nil {
		s.fail(ctx, "fetch_session", err)
		return
	}
	writeJSON(ctx, http.StatusOK, row)
}

func (s *Server) fail(ctx *fasthttp.RequestCtx, op string, err error) {
	code := gamedto.ErrorCode(err)
	if code == "" {
		s.logger.Error("rpc_error", zap.String("op", op), zap.Error(err))
		err = gamedto.NewError(gamedto.CodeInternal, "internal error")
	} else {
		s.logger.Info("rpc_rejected", zap.String("op", op), zap.String("code", code), zap.String("message", err.Error()))
	}
	writeError(ctx, err)
}

func decode(ctx *fasthttp.RequestCtx, v any) bool {
	if err := json.Unmarshal(ctx.PostBody(), v); err != nil {
		writeError(ctx, gamedto.NewError(gamedto.CodeInvalidArgs, "invalid json body"))
		return false
	}
	return true
}

func writeError(ctx *fasthttp.RequestCtx, err error) {
	var de gamedto.DomainError
	if !errors.As(err, &de) {
		de = gamedto.DomainError{Code: gamedto.CodeInternal, Message: err.Error()}
	}
	writeJSON(ctx, statusFor(de.Code), de)
}

func writeJSON(ctx *fasthttp.RequestCtx, status int, v any) {
	raw, err := json.Marshal(v)
	if err != nil {
		ctx.SetStatusCode(http.StatusInternalServerError)
		return
	}
	ctx.SetStatusCode(status)
	ctx.SetContentType("application/json")
	ctx.SetBody(raw)
}

// WSRouter serves /rooms/{id}/subscribe. Each connection relays the room's
// committed rows until either side closes.
func (s *Server) WSRouter() http.Handler {
	r := mux.NewRouter()
	r.HandleFunc("/rooms/{id}/subscribe", s.handleSubscribe).Methods(http.MethodGet)
	return r
}

func (s *Server) handleSubscribe(w http.ResponseWriter, r *http.Request) {
	roomID := mux.Vars(r)["id"]
	if _, err := s.auth.FetchSession(r.Context(), roomID); err != nil {
		http.Error(w, "room not found", http.StatusNotFound)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
		CompressionMode:    websocket.CompressionNoContextTakeover,
	})
	if err != nil {
		s.logger.Warn("ws_accept_error", zap.String("room_id", roomID), zap.Error(err))
		return
	}
	defer conn.Close(websocket.StatusInternalError, "relay ended")

	// CloseRead cancels ctx once the client goes away
	ctx := conn.CloseRead(r.Context())
	rows := make(chan *gamedto.Session, 16)
	sub, err := s.auth.Subscribe(ctx, roomID, authority.SubscribeHandler{
		OnChange: func(row *gamedto.Session) {
			select {
			case rows <- row:
			default:
				// pushes are hints; clients poll for anything dropped here
			}
		},
	})
	if err != nil {
		s.logger.Warn("ws_subscribe_error", zap.String("room_id", roomID), zap.Error(err))
		conn.Close(websocket.StatusTryAgainLater, "subscribe failed")
		return
	}
	defer sub.Close()
	s.logger.Info("ws_subscribe", zap.String("room_id", roomID))

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("ws_unsubscribe", zap.String("room_id", roomID))
			conn.Close(websocket.StatusNormalClosure, "")
			return
		case row := <-rows:
			wctx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wsjson.Write(wctx, conn, row)
			cancel()
			if err != nil {
				s.logger.Debug("ws_write_error", zap.String("room_id", roomID), zap.Error(err))
				return
			}
		}
	}
}
