package game

import "errors"

// 交互被拒绝的原因。界面层收到这些错误时只需把按钮视为不可用。
var (
	ErrNotYourTurn = errors.New("not your turn")
	ErrMatchOver   = errors.New("match is over")
	ErrBusy        = errors.New("roll already in progress")
	ErrNotCharging = errors.New("not charging")
	ErrNotClaimed  = errors.New("banker not claimed yet")
	ErrClosed      = errors.New("controller closed")
)
