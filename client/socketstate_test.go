package client

import "testing"

func TestSocketStateString(t *testing.T) {
	cases := map[SocketState]string{
		Disconnected:    "DISCONNECTED",
		WaitForSocket:   "WAIT_FOR_SOCKET",
		WaitForWritable: "WAIT_FOR_WRITABLE",
		FirstMessage:    "FIRST_MESSAGE",
		Connected:       "CONNECTED",
		ErrorDelay:      "ERROR_DELAY",
		SocketState(99): "UNKNOWN",
	}
	for state, want := range cases {
		if got := state.String(); got != want {
			t.Errorf("SocketState(%d).String() = %q, want %q", state, got, want)
		}
	}
}

func TestConnStatusString(t *testing.T) {
	cases := map[ConnStatus]string{
		StatusDisconnected: "DISCONNECTED",
		StatusConnected:    "CONNECTED",
		StatusFailed:       "FAILED",
		ConnStatus(99):     "UNKNOWN",
	}
	for status, want := range cases {
		if got := status.String(); got != want {
			t.Errorf("ConnStatus(%d).String() = %q, want %q", status, got, want)
		}
	}
}
