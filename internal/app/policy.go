package app

import "github.com/dkeye/Campus/internal/core"

type BackpressureAction int

const (
	NoAction BackpressureAction = iota
	KickMember
	DropFrame
)

// Policy decides what happens to a session whose outbound buffer rejected a frame.
type Policy interface {
	OnBackPressure(room core.RoomID, sid core.SessionID) BackpressureAction
}

// KickPolicy disconnects slow sessions; the client reconnects and catches up
// through thread retrieval.
type KickPolicy struct{}

func (KickPolicy) OnBackPressure(core.RoomID, core.SessionID) BackpressureAction {
	return KickMember
}

// TolerantPolicy keeps slow sessions and only loses the frame.
type TolerantPolicy struct{}

func (TolerantPolicy) OnBackPressure(core.RoomID, core.SessionID) BackpressureAction {
	return DropFrame
}
