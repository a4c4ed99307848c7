package capture

import (
	"fmt"

	"github.com/mitchellh/mapstructure"

	"firestige.xyz/bcrelay/internal/core"
)

// Capture backends.
const (
	BackendPcap     = "pcap"
	BackendAFPacket = "afpacket"
	BackendFile     = "file"
)

// Backends lists every backend name NewDevice accepts.
var Backends = []string{BackendPcap, BackendAFPacket, BackendFile}

// NewDevice builds an unopened device for interface name. options is the
// loosely typed backend section of the configuration, decoded onto the
// backend's defaults.
func NewDevice(backend, name string, options map[string]any) (Device, error) {
	if name == "" {
		return nil, fmt.Errorf("device name is empty: %w", core.ErrInvalidArgument)
	}

	switch backend {
	case BackendPcap, "":
		opts := DefaultPcapOptions()
		if err := decodeOptions(options, &opts); err != nil {
			return nil, err
		}
		return NewPcapDevice(name, opts), nil

	case BackendAFPacket:
		var opts AFPacketOptions
		if err := decodeOptions(options, &opts); err != nil {
			return nil, err
		}
		return NewAFPacketDevice(name, opts)

	case BackendFile:
		var opts FileOptions
		if err := decodeOptions(options, &opts); err != nil {
			return nil, err
		}
		return NewFileDevice(name, opts), nil

	default:
		return nil, fmt.Errorf("%q: %w", backend, core.ErrUnknownBackend)
	}
}

func decodeOptions(options map[string]any, out any) error {
	if len(options) == 0 {
		return nil
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook:       mapstructure.StringToTimeDurationHookFunc(),
		WeaklyTypedInput: true,
		Result:           out,
	})
	if err != nil {
		return fmt.Errorf("build options decoder: %w", err)
	}
	if err := dec.Decode(options); err != nil {
		return fmt.Errorf("decode capture options: %w", err)
	}
	return nil
}
