package logging

// ProgressSampler suppresses repetitive progress logs, emitting only when the
// fraction crosses into a new bucket.
type ProgressSampler struct {
	bucketSize float64
	lastBucket int
}

// NewProgressSampler constructs a sampler with the given bucket width as a
// fraction of the whole (default 0.1).
func NewProgressSampler(bucketSize float64) *ProgressSampler {
	if bucketSize <= 0 || bucketSize > 1 {
		bucketSize = 0.1
	}
	return &ProgressSampler{bucketSize: bucketSize, lastBucket: -1}
}

// ShouldLog reports whether a progress fraction should be logged. Negative
// fractions mean "unknown" and are never logged.
func (s *ProgressSampler) ShouldLog(fraction float64) bool {
	if s == nil {
		return true
	}
	if fraction < 0 {
		return false
	}
	bucket := int(fraction / s.bucketSize)
	if fraction >= 1 {
		bucket = int(1 / s.bucketSize)
	}
	if bucket > s.lastBucket {
		s.lastBucket = bucket
		return true
	}
	return false
}

// Reset clears the sampler state (e.g. when a new job starts).
func (s *ProgressSampler) Reset() {
	if s == nil {
		return
	}
	s.lastBucket = -1
}
