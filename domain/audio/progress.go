package audio

// ProgressFunc receives extraction progress as a fraction in [0.0, 1.0].
// It is called synchronously from the extracting goroutine.
type ProgressFunc func(fraction float64)

// ProgressFraction returns processed/total clamped to [0.0, 1.0]. ok is false
// when total is zero or unknown, in which case no progress should be reported.
func ProgressFraction(processed, total int64) (fraction float64, ok bool) {
	if total <= 0 {
		return 0, false
	}
	if processed <= 0 {
		return 0, true
	}
	if processed >= total {
		return 1, true
	}
	return float64(processed) / float64(total), true
}

// ProgressTracker accumulates transferred bytes against the total size of the
// source container (not the size of the extracted stream) and forwards the
// resulting fraction to a sink after every transferred sample.
type ProgressTracker struct {
	total     int64
	processed int64
	reports   int
	sink      ProgressFunc
}

// NewProgressTracker creates a tracker for a source of totalBytes. A nil sink
// disables reporting but still tracks bytes.
func NewProgressTracker(totalBytes int64, sink ProgressFunc) *ProgressTracker {
	return &ProgressTracker{total: totalBytes, sink: sink}
}

// Add records n transferred bytes and reports the new fraction
func (p *ProgressTracker) Add(n int) {
	if n > 0 {
		p.processed += int64(n)
	}
	fraction, ok := ProgressFraction(p.processed, p.total)
	if !ok || p.sink == nil {
		return
	}
	p.reports++
	p.sink(fraction)
}

// Processed returns the cumulative number of transferred bytes
func (p *ProgressTracker) Processed() int64 {
	return p.processed
}

// Total returns the source size used as denominator
func (p *ProgressTracker) Total() int64 {
	return p.total
}

// Reports returns how many times the sink has been invoked
func (p *ProgressTracker) Reports() int {
	return p.reports
}
