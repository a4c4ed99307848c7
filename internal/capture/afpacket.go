package capture

import (
	"fmt"
	"time"
)

const defaultBufferSizeMB = 32

// AFPacketOptions configures an AF_PACKET ring. The frame and block geometry
// is derived from BufferSizeMB and SnapLen.
type AFPacketOptions struct {
	SnapLen      int           `mapstructure:"snap_len"`
	BufferSizeMB int           `mapstructure:"buffer_size_mb"`
	Timeout      time.Duration `mapstructure:"timeout"`
	BPFFilter    string        `mapstructure:"bpf_filter"`
}

func (o AFPacketOptions) withDefaults() AFPacketOptions {
	if o.SnapLen <= 0 {
		o.SnapLen = defaultSnapLen
	}
	if o.BufferSizeMB <= 0 {
		o.BufferSizeMB = defaultBufferSizeMB
	}
	if o.Timeout <= 0 {
		o.Timeout = defaultTimeout
	}
	return o
}

// recomputeSize derives an AF_PACKET ring geometry for a memory budget:
//   - frameSize is snapLen plus the TPACKET header, aligned to TPACKET_ALIGNMENT
//   - blockSize is the least common multiple of the page size and frameSize
//   - numBlocks fills ringBufferSizeMB, at least one block
func recomputeSize(ringBufferSizeMB, snapLen, pageSize int) (frameSize, blockSize, numBlocks int, err error) {
	const tpacketAlignment = 16
	const tpacketHdrLen = 52

	if ringBufferSizeMB <= 0 {
		return 0, 0, 0, fmt.Errorf("ringBufferSizeMB must be positive, got %d", ringBufferSizeMB)
	}
	if snapLen <= 0 {
		return 0, 0, 0, fmt.Errorf("snapLen must be positive, got %d", snapLen)
	}
	if pageSize <= 0 || pageSize%tpacketAlignment != 0 {
		return 0, 0, 0, fmt.Errorf("pageSize must be positive and multiple of %d, got %d", tpacketAlignment, pageSize)
	}

	targetBytes := ringBufferSizeMB * 1024 * 1024

	frameSize = ((tpacketHdrLen + snapLen + tpacketAlignment - 1) / tpacketAlignment) * tpacketAlignment

	blockSize = lcm(pageSize, frameSize)

	numBlocks = targetBytes / blockSize
	if numBlocks < 1 {
		numBlocks = 1
	}
	return frameSize, blockSize, numBlocks, nil
}

func gcd(a, b int) int {
	for b != 0 {
		a, b = b, a%b
	}
	return a
}

func lcm(a, b int) int {
	if a == 0 || b == 0 {
		return 0
	}
	return (a * b) / gcd(a, b)
}
