package turn

import "errors"

var (
	ErrSoloOnly = errors.New("turn: new game is only available in solo mode")
	ErrClosed   = errors.New("turn: controller closed")
	// ErrResignUnconfirmed wraps a failed finish-game call. The local loss stays applied.
	ErrResignUnconfirmed = errors.New("turn: resignation not confirmed by authority")
	ErrScoreUnrecorded   = errors.New("turn: solo score not recorded")
)
