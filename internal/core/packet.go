// Package core defines core data structures shared by capture, packet and relay.
package core

import (
	"time"

	"github.com/google/gopacket/layers"
)

// Frame is one captured link-layer frame. Data is owned by the delivery call
// and must be copied if retained past it.
type Frame struct {
	Data      []byte
	LinkType  layers.LinkType
	Timestamp time.Time
	Device    string
}
