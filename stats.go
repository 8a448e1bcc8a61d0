package dispatch

import "fmt"

// Stats is a snapshot of a session's registries and dispatch counters.
type Stats struct {
	Backend     string
	Buffers     int
	BufferBytes int64
	Pipelines   int
	Kernels     int
	Submitted   uint64
	Failed      uint64
	InFlight    int64
}

// Stats returns the current counters. It works on a closed session.
func (s *Session) Stats() Stats {
	return Stats{
		Backend:     s.info.Backend,
		Buffers:     s.buffers.Len(),
		BufferBytes: s.buffers.Bytes(),
		Pipelines:   s.pipelines.Len(),
		Kernels:     s.kernels.Len(),
		Submitted:   s.dispatcher.submitted.Load(),
		Failed:      s.dispatcher.failed.Load(),
		InFlight:    s.dispatcher.inFlight.Load(),
	}
}

func (st Stats) String() string {
	return fmt.Sprintf("%s: %d buffers (%s), %d pipelines, %d kernels, %d dispatches (%d failed, %d in flight)",
		st.Backend, st.Buffers, formatBytes(st.BufferBytes), st.Pipelines, st.Kernels,
		st.Submitted, st.Failed, st.InFlight)
}

func formatBytes(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for m := n / unit; m >= unit; m /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}
