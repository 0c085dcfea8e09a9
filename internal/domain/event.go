package domain

// Channels and event names published on the SignalBus.
const (
	ChannelPositions = "positions"
	StreamPositions  = "stream:positions"

	EventPositionOpened     = "position_opened"
	EventPositionRefreshed  = "position_refreshed"
	EventPositionClosed     = "position_closed"
	EventPositionReconciled = "position_reconciled"
)
