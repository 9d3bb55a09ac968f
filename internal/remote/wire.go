package remote

import (
	"net/http"

	"github.com/maxxNcode/MP-2048/internal/gamedto"
)

// RPC paths served by Server and called by Client.
const (
	pathCreateRoom  = "/rpc/create_room"
	pathJoinRoom    = "/rpc/join_room"
	pathMakeMove    = "/rpc/make_move"
	pathFinishGame  = "/rpc/finish_game"
	pathRecordScore = "/rpc/record_single_player_score"
	pathRooms       = "/rooms/"
	pathHealth      = "/healthz"
	pathLeaderboard = "/leaderboard"
)

type createRoomRequest struct {
	CreatorID string `json:"creator_id"`
}

type joinRoomRequest struct {
	Code   string `json:"p_code"`
	UserID string `json:"p_user_id"`
}

type makeMoveRequest struct {
	RoomID    string `json:"p_room_id"`
	UserID    string `json:"p_user_id"`
	Direction string `json:"p_direction"`
}

type finishGameRequest struct {
	RoomID   string `json:"p_room_id"`
	WinnerID string `json:"p_winner_id"`
}

type recordScoreRequest struct {
	UserID   string `json:"p_user_id"`
	Score    int    `json:"p_score"`
	MaxTile  int    `json:"p_max_tile"`
	Moves    int    `json:"p_moves"`
	Duration int    `json:"p_duration"`
}

type roomResponse struct {
	RoomID string `json:"room_id"`
}

type okResponse struct {
	OK bool `json:"ok"`
}

// statusFor maps a domain error code to the HTTP status the server answers with.
func statusFor(code string) int {
	switch code {
	case gamedto.CodeInvalidArgs:
		return http.StatusBadRequest
	case gamedto.CodeRoomNotFound:
		return http.StatusNotFound
	case gamedto.CodeNotParticipant:
		return http.StatusForbidden
	case gamedto.CodeRoomFull, gamedto.CodeNotYourTurn, gamedto.CodeNotActive,
		gamedto.CodeNoChange, gamedto.CodeAlreadyFinished, gamedto.CodeConflict:
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
