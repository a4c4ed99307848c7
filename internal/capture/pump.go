package capture

import (
	"errors"
	"io"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"

	"firestige.xyz/bcrelay/internal/core"
)

// readFunc reads the next frame. Returned data only needs to stay valid until
// the next call.
type readFunc func() ([]byte, gopacket.CaptureInfo, error)

// pump owns the delivery goroutine of one device. The read loop exits when
// halted, on io.EOF, or on a read error for which transient returns false.
type pump struct {
	name      string
	hub       *Hub
	transient func(error) bool

	mu      sync.Mutex
	stop    chan struct{}
	done    chan struct{}
	running bool

	received atomic.Uint64
}

func newPump(name string, hub *Hub, transient func(error) bool) *pump {
	return &pump{name: name, hub: hub, transient: transient}
}

// start launches the read loop unless it is already running.
func (p *pump) start(read readFunc, linkType layers.LinkType) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.running {
		return
	}
	p.stop = make(chan struct{})
	p.done = make(chan struct{})
	p.running = true
	go p.loop(read, linkType, p.stop, p.done)
}

// halt stops the read loop and waits for it to exit. Calling it from a
// subscriber, which runs on the loop goroutine, deadlocks.
func (p *pump) halt() {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return
	}
	close(p.stop)
	done := p.done
	p.running = false
	p.mu.Unlock()

	<-done
}

func (p *pump) loop(read readFunc, linkType layers.LinkType, stop, done chan struct{}) {
	defer close(done)
	slog.Debug("capture loop started", "device", p.name, "link_type", linkType)

	for {
		select {
		case <-stop:
			slog.Debug("capture loop stopped", "device", p.name)
			return
		default:
		}

		data, ci, err := read()
		if err != nil {
			if errors.Is(err, io.EOF) {
				slog.Info("capture source exhausted", "device", p.name)
				return
			}
			if p.transient != nil && p.transient(err) {
				continue
			}
			slog.Error("capture read failed", "device", p.name, "error", err)
			select {
			case <-stop:
				return
			case <-time.After(100 * time.Millisecond):
			}
			continue
		}

		p.received.Add(1)
		ts := ci.Timestamp
		if ts.IsZero() {
			ts = time.Now()
		}
		p.hub.Publish(core.Frame{
			Data:      data,
			LinkType:  linkType,
			Timestamp: ts,
			Device:    p.name,
		})
	}
}
