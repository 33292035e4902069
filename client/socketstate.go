package client

// SocketState is the control task's private connection state machine
// (spec §4.4), driven entirely from the control task goroutine.
type SocketState int

const (
	Disconnected SocketState = iota
	WaitForSocket
	WaitForWritable
	FirstMessage
	Connected
	ErrorDelay
)

func (s SocketState) String() string {
	switch s {
	case Disconnected:
		return "DISCONNECTED"
	case WaitForSocket:
		return "WAIT_FOR_SOCKET"
	case WaitForWritable:
		return "WAIT_FOR_WRITABLE"
	case FirstMessage:
		return "FIRST_MESSAGE"
	case Connected:
		return "CONNECTED"
	case ErrorDelay:
		return "ERROR_DELAY"
	default:
		return "UNKNOWN"
	}
}

// ConnStatus is the application-visible connection status (spec §4.4's
// connection callback), distinct from the finer-grained SocketState the
// control task tracks privately.
type ConnStatus int

const (
	StatusDisconnected ConnStatus = iota
	StatusConnected
	StatusFailed
)

func (s ConnStatus) String() string {
	switch s {
	case StatusDisconnected:
		return "DISCONNECTED"
	case StatusConnected:
		return "CONNECTED"
	case StatusFailed:
		return "FAILED"
	default:
		return "UNKNOWN"
	}
}
