package capture

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/bcrelay/internal/core"
)

func TestNewDevice_PcapDefaults(t *testing.T) {
	dev, err := NewDevice("", "eth0", nil)
	require.NoError(t, err)

	pd, ok := dev.(*PcapDevice)
	require.True(t, ok)
	assert.Equal(t, "eth0", pd.Name())
	assert.Equal(t, DefaultPcapOptions(), pd.opts)
}

func TestNewDevice_PcapOptions(t *testing.T) {
	dev, err := NewDevice(BackendPcap, "eth1", map[string]any{
		"snap_len":    "1500",
		"promiscuous": true,
		"timeout":     "250ms",
		"bpf_filter":  "udp",
	})
	require.NoError(t, err)

	pd := dev.(*PcapDevice)
	assert.Equal(t, 1500, pd.opts.SnapLen)
	assert.True(t, pd.opts.Promiscuous)
	assert.Equal(t, 250*time.Millisecond, pd.opts.Timeout)
	assert.Equal(t, "udp", pd.opts.BPFFilter)
}

func TestNewDevice_File(t *testing.T) {
	dev, err := NewDevice(BackendFile, "eth0", map[string]any{"path": "/tmp/trace.pcap"})
	require.NoError(t, err)

	fd := dev.(*FileDevice)
	assert.Equal(t, "eth0", fd.Name())
	assert.Equal(t, "/tmp/trace.pcap", fd.opts.Path)

	dev, err = NewDevice(BackendFile, "trace.pcap", nil)
	require.NoError(t, err)
	assert.Equal(t, "trace.pcap", dev.(*FileDevice).opts.Path)
}

func TestNewDevice_Errors(t *testing.T) {
	_, err := NewDevice(BackendPcap, "", nil)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = NewDevice("netmap", "eth0", nil)
	assert.ErrorIs(t, err, core.ErrUnknownBackend)

	_, err = NewDevice(BackendPcap, "eth0", map[string]any{"timeout": "soon"})
	assert.Error(t, err)
}

func TestDevice_StartBeforeOpen(t *testing.T) {
	pd := NewPcapDevice("eth0", PcapOptions{})
	assert.ErrorIs(t, pd.StartCapture(), core.ErrDeviceClosed)
	assert.NoError(t, pd.StopCapture())
	assert.NoError(t, pd.Close())

	fd := NewFileDevice("eth0", FileOptions{})
	assert.ErrorIs(t, fd.StartCapture(), core.ErrDeviceClosed)
	assert.NoError(t, fd.Close())
}
