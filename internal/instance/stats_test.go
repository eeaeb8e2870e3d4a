package instance

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestStats_SnapshotReflectsRecordedTraffic(t *testing.T) {
	s := NewStats()
	s.RecordTCPSend(10)
	s.RecordTCPRecv(20)
	s.RecordUDPSend(30)
	s.RecordUDPRecv(40)
	s.RecordDrop("memory_limit")
	s.RecordDrop("mode_filtered")

	snap := s.Snapshot()
	assert.Equal(t, uint64(1), snap.TCPPacketsSent)
	assert.Equal(t, uint64(10), snap.TCPBytesSent)
	assert.Equal(t, uint64(1), snap.TCPPacketsRecv)
	assert.Equal(t, uint64(20), snap.TCPBytesReceived)
	assert.Equal(t, uint64(1), snap.UDPPacketsSent)
	assert.Equal(t, uint64(30), snap.UDPBytesSent)
	assert.Equal(t, uint64(1), snap.UDPPacketsRecv)
	assert.Equal(t, uint64(40), snap.UDPBytesReceived)
	assert.Equal(t, uint64(2), snap.PacketsDropped)
}

func TestStats_SnapshotIsPointInTime(t *testing.T) {
	s := NewStats()
	s.RecordTCPSend(1)
	first := s.Snapshot()
	s.RecordTCPSend(1)
	second := s.Snapshot()

	assert.Equal(t, uint64(1), first.TCPPacketsSent)
	assert.Equal(t, uint64(2), second.TCPPacketsSent)
}
