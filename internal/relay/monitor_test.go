package relay

import (
	"errors"
	"net/netip"
	"sync/atomic"
	"testing"

	"github.com/google/gopacket/layers"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"firestige.xyz/bcrelay/internal/capture/capturetest"
	"firestige.xyz/bcrelay/internal/core"
	"firestige.xyz/bcrelay/internal/packet"
	"firestige.xyz/bcrelay/internal/packet/packettest"
)

var localSet = NewAddressSet(netip.MustParseAddr("192.168.1.2"))

// discovery is long enough that the Ethernet frame needs no padding.
var discovery = []byte("M-SEARCH * HTTP/1.1\r\nST: ssdp:all\r\n\r\n")

func broadcastFrame(src string) []byte {
	return packettest.UDPFrame{
		Src:     src,
		Dst:     "192.168.1.255",
		SrcPort: 54321,
		DstPort: 12345,
		Payload: discovery,
	}.Ethernet()
}

func countingHandler(n *atomic.Int32) PacketHandler {
	return func(*packet.Packet) error {
		n.Add(1)
		return nil
	}
}

func TestNewMonitor_InvalidArguments(t *testing.T) {
	dev := capturetest.NewDevice("eth0")
	h := func(*packet.Packet) error { return nil }

	_, err := NewMonitor(nil, localSet, h)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = NewMonitor(dev, nil, h)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	_, err = NewMonitor(dev, localSet, nil)
	assert.ErrorIs(t, err, core.ErrInvalidArgument)

	assert.Empty(t, dev.Order())
}

func TestNewMonitor_StartsCapture(t *testing.T) {
	dev := capturetest.NewDevice("eth0")

	m, err := NewMonitor(dev, localSet, func(*packet.Packet) error { return nil })
	require.NoError(t, err)
	defer m.Release()

	assert.Equal(t, []string{"Open", "StartCapture", "Subscribe"}, dev.Order())
	assert.True(t, dev.Capturing())
	assert.Equal(t, 1, dev.Subscribers())
}

func TestNewMonitor_OpenFailure(t *testing.T) {
	dev := capturetest.NewDevice("eth0")
	dev.OpenErr = errors.New("no such device")

	_, err := NewMonitor(dev, localSet, func(*packet.Packet) error { return nil })
	assert.ErrorIs(t, err, dev.OpenErr)
	assert.Equal(t, 0, dev.Subscribers())
	assert.Equal(t, 0, dev.Calls("StartCapture"))
}

func TestNewMonitor_StartFailureClosesDevice(t *testing.T) {
	dev := capturetest.NewDevice("eth0")
	dev.StartErr = errors.New("permission denied")

	_, err := NewMonitor(dev, localSet, func(*packet.Packet) error { return nil })
	assert.ErrorIs(t, err, dev.StartErr)
	assert.Equal(t, []string{"Open", "StartCapture", "Close"}, dev.Order())
	assert.Equal(t, 0, dev.Subscribers())
}

func TestMonitor_CallbackOnMatchOnly(t *testing.T) {
	dev := capturetest.NewDevice("eth0")
	var n atomic.Int32
	m, err := NewMonitor(dev, localSet, countingHandler(&n))
	require.NoError(t, err)
	defer m.Release()

	dev.Inject(broadcastFrame("192.168.1.2"))
	assert.Equal(t, int32(1), n.Load())

	dev.Inject(broadcastFrame("192.168.1.3"))
	dev.Inject(packettest.UDPFrame{Src: "192.168.1.2", Dst: "192.168.3.5"}.Ethernet())
	dev.Inject(packettest.TCP("192.168.1.2", "192.168.1.255"))
	dev.Inject(packettest.ARP("192.168.1.2"))
	dev.Inject([]byte{0xde, 0xad})
	dev.Inject(nil)
	assert.Equal(t, int32(1), n.Load())
}

func TestMonitor_NetworkLayerFirst(t *testing.T) {
	dev := capturetest.NewDevice("tun0")
	var n atomic.Int32
	m, err := NewMonitor(dev, localSet, countingHandler(&n))
	require.NoError(t, err)
	defer m.Release()

	raw := packettest.UDPFrame{Src: "192.168.1.2", Dst: "192.168.1.255"}.IPv4()
	dev.InjectLinkType(raw, layers.LinkTypeRaw)

	assert.Equal(t, int32(1), n.Load())
}

func TestMonitor_HandlerErrorKeepsMonitoring(t *testing.T) {
	dev := capturetest.NewDevice("eth0")
	var n atomic.Int32
	m, err := NewMonitor(dev, localSet, func(*packet.Packet) error {
		n.Add(1)
		return errors.New("network unreachable")
	})
	require.NoError(t, err)
	defer m.Release()

	dev.Inject(broadcastFrame("192.168.1.2"))
	dev.Inject(broadcastFrame("192.168.1.2"))

	assert.Equal(t, int32(2), n.Load())
}

func TestMonitor_Release(t *testing.T) {
	dev := capturetest.NewDevice("eth0")
	var n atomic.Int32
	m, err := NewMonitor(dev, localSet, countingHandler(&n))
	require.NoError(t, err)

	m.Release()
	m.Release()

	assert.Equal(t,
		[]string{"Open", "StartCapture", "Subscribe", "StopCapture", "Close"},
		dev.Order())
	assert.Equal(t, 0, dev.Subscribers())
	assert.False(t, dev.Capturing())

	dev.Inject(broadcastFrame("192.168.1.2"))
	assert.Equal(t, int32(0), n.Load())
}

func TestMonitor_ReleaseWhileHandlerRuns(t *testing.T) {
	dev := capturetest.NewDevice("eth0")
	var n atomic.Int32
	entered := make(chan struct{})
	unblock := make(chan struct{})
	m, err := NewMonitor(dev, localSet, func(*packet.Packet) error {
		n.Add(1)
		close(entered)
		<-unblock
		return nil
	})
	require.NoError(t, err)

	delivered := make(chan struct{})
	go func() {
		defer close(delivered)
		dev.Inject(broadcastFrame("192.168.1.2"))
	}()
	<-entered

	m.Release()
	close(unblock)
	<-delivered

	dev.Inject(broadcastFrame("192.168.1.2"))
	assert.Equal(t, int32(1), n.Load())
	assert.False(t, dev.Capturing())
}
