package instance

import (
	"context"
	"errors"
	"syscall"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyDialErr(t *testing.T) {
	assert.Equal(t, PollTimedOut, classifyDialErr(context.DeadlineExceeded))
	assert.Equal(t, PollRefused, classifyDialErr(syscall.ECONNREFUSED))
}

func TestClassifyDialErr_Generic(t *testing.T) {
	assert.Equal(t, PollConnectionError, classifyDialErr(errors.New("something else")))
}

func TestConnectionStatus_String(t *testing.T) {
	assert.Equal(t, "DISCONNECTED", StatusDisconnected.String())
	assert.Equal(t, "CONNECTING", StatusConnecting.String())
	assert.Equal(t, "CONNECTED_AC", StatusConnectedAC.String())
	assert.Equal(t, "CONNECTED", StatusConnected.String())
	assert.Equal(t, "DISCONNECTING", StatusDisconnecting.String())
}

func TestPollResult_String(t *testing.T) {
	assert.Equal(t, "CONNECTED", PollConnected.String())
	assert.Equal(t, "REFUSED", PollRefused.String())
	assert.Equal(t, "TIMED_OUT", PollTimedOut.String())
}
