package mcpsdk

import (
	"testing"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/stretchr/testify/assert"
)

func newTestHeartbeat(mock *clock.Mock) *Heartbeat {
	return NewHeartbeat(HeartbeatConfig{
		PingInterval: 30 * time.Second,
		PingTimeout:  10 * time.Second,
		Clock:        mock,
		Logger:       discardLogger(),
	})
}

func TestHeartbeat_StartStop(t *testing.T) {
	hb := newTestHeartbeat(clock.NewMock())

	assert.False(t, hb.Running())

	hb.Start()
	assert.True(t, hb.Running())

	// A second Start must not spawn a second monitor.
	hb.Start()
	assert.True(t, hb.Running())

	hb.Stop()
	assert.False(t, hb.Running())

	hb.Stop()
	assert.False(t, hb.Running())
}

func TestHeartbeat_StalledAfterSilence(t *testing.T) {
	mock := clock.NewMock()
	hb := newTestHeartbeat(mock)

	hb.Start()
	defer hb.Stop()

	assert.False(t, hb.Stalled())

	// Threshold is 2 * (interval + timeout) = 80s.
	mock.Add(79 * time.Second)
	assert.False(t, hb.Stalled())

	mock.Add(2 * time.Second)
	assert.True(t, hb.Stalled())
}

func TestHeartbeat_ActivityResetsStall(t *testing.T) {
	mock := clock.NewMock()
	hb := newTestHeartbeat(mock)

	hb.Start()
	defer hb.Stop()

	mock.Add(81 * time.Second)
	assert.True(t, hb.Stalled())

	hb.NotifyActivity()
	assert.False(t, hb.Stalled())
}

func TestHeartbeat_MarkOffline(t *testing.T) {
	hb := newTestHeartbeat(clock.NewMock())

	hb.Start()
	hb.MarkOffline()

	assert.False(t, hb.Running())

	// A new session may restart the monitor.
	hb.Start()
	assert.True(t, hb.Running())
	hb.Stop()
}

func TestHeartbeat_NotStalledBeforeStart(t *testing.T) {
	hb := newTestHeartbeat(clock.NewMock())

	assert.False(t, hb.Stalled())
}
