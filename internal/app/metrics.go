package app

import (
	"fmt"
	"sync/atomic"
)

// Metrics counts client activity for the /stats command.
type Metrics struct {
	Sent      atomic.Uint64
	Received  atomic.Uint64
	Edited    atomic.Uint64
	Deleted   atomic.Uint64
	Downloads atomic.Uint64
	Streams   atomic.Uint64
	Failures  atomic.Uint64
}

func (m *Metrics) String() string {
	return fmt.Sprintf("sent=%d received=%d edited=%d deleted=%d downloads=%d streams=%d failures=%d",
		m.Sent.Load(), m.Received.Load(), m.Edited.Load(), m.Deleted.Load(),
		m.Downloads.Load(), m.Streams.Load(), m.Failures.Load())
}
