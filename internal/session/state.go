package session

// State is the lifecycle phase of a conversation session.
type State string

const (
	// StateResolving means the conversation identity is not known yet.
	StateResolving State = "resolving"
	// StateLoading means the identity is known and the history fetch is
	// in flight.
	StateLoading State = "loading"
	// StateLive means the session renders merged messages and accepts
	// sends; the live channel may be in any connection sub-state.
	StateLive State = "live"
	// StateError means the history load failed. The session stays
	// interactive and the live channel is still attempted.
	StateError State = "error"
)

// ConnectionState tracks the live channel, driven purely by the
// channel's connect/disconnect notifications.
type ConnectionState string

const (
	ConnDisconnected ConnectionState = "disconnected"
	ConnConnecting   ConnectionState = "connecting"
	ConnConnected    ConnectionState = "connected"
	ConnReconnecting ConnectionState = "reconnecting"
)
