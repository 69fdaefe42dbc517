package api_test

import (
	"errors"
	"testing"

	"github.com/momentics/wsclient/api"
)

func TestTransportInterfaceCompliance(t *testing.T) {
	var _ api.Transport = (*api.MockTransport)(nil)
}

func TestMockTransportDefaults(t *testing.T) {
	m := &api.MockTransport{}
	if err := m.Send([][]byte{[]byte("x")}); err != nil {
		t.Errorf("Send: %v", err)
	}
	if _, err := m.Recv(); !errors.Is(err, api.ErrTransportClosed) {
		t.Errorf("Recv: %v", err)
	}
	_ = m.Close()
	_ = m.Close()
	if m.Closes() != 2 {
		t.Errorf("Closes = %d", m.Closes())
	}
}

func TestStructuredErrorUnwrap(t *testing.T) {
	err := api.NewError(api.ErrCodeInvalidArgument, "bad fragment size").WithContext("fragment_size", 0)
	if !errors.Is(err, api.ErrInvalidArgument) {
		t.Fatal("expected structured error to match ErrInvalidArgument")
	}
	if err.Error() == "bad fragment size" {
		t.Error("expected context to be rendered in the message")
	}
}

func TestConnStateString(t *testing.T) {
	cases := map[api.ConnState]string{
		api.StateConnecting: "connecting",
		api.StateOpen:       "open",
		api.StateClosing:    "closing",
		api.StateClosed:     "closed",
		api.ConnState(42):   "unknown",
	}
	for st, want := range cases {
		if got := st.String(); got != want {
			t.Errorf("ConnState(%d).String() = %q, want %q", st, got, want)
		}
	}
}
