package capture

import (
	"fmt"

	"github.com/google/gopacket/pcap"
)

// DeviceInfo describes an interface that can be captured on.
type DeviceInfo struct {
	Name        string   `json:"name"`
	Description string   `json:"description,omitempty"`
	Addresses   []string `json:"addresses,omitempty"`
}

// ListDevices enumerates capturable interfaces with their IPv4 addresses.
func ListDevices() ([]DeviceInfo, error) {
	devs, err := pcap.FindAllDevs()
	if err != nil {
		return nil, fmt.Errorf("list capture devices: %w", err)
	}

	out := make([]DeviceInfo, 0, len(devs))
	for _, d := range devs {
		info := DeviceInfo{Name: d.Name, Description: d.Description}
		for _, a := range d.Addresses {
			if ip4 := a.IP.To4(); ip4 != nil {
				info.Addresses = append(info.Addresses, ip4.String())
			}
		}
		out = append(out, info)
	}
	return out, nil
}
