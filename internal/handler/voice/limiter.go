package voice

import "time"

// audioLimiter is a token bucket over both fragment count and payload
// bytes. A nil limiter allows everything.
type audioLimiter struct {
	now          func() time.Time
	fpsRate      float64
	fpsTokens    float64
	bpsRate      float64
	bpsTokens    float64
	bpsCapacity  float64
	burstSeconds float64
	lastRefill   time.Time
}

// newAudioLimiter builds the bucket. The byte bucket always holds at least
// maxFrameBytes so a single frame the read limit accepts can pass once the
// bucket is full.
func newAudioLimiter(now func() time.Time, fps float64, bps int64, burstSeconds int, maxFrameBytes int64) *audioLimiter {
	if fps <= 0 && bps <= 0 {
		return nil
	}
	if now == nil {
		now = time.Now
	}
	if burstSeconds <= 0 {
		burstSeconds = 1
	}

	l := &audioLimiter{
		now:          now,
		fpsRate:      fps,
		bpsRate:      float64(bps),
		burstSeconds: float64(burstSeconds),
		lastRefill:   now(),
	}
	if l.fpsRate > 0 {
		l.fpsTokens = l.fpsRate * l.burstSeconds
	}
	if l.bpsRate > 0 {
		l.bpsCapacity = max(l.bpsRate*l.burstSeconds, float64(maxFrameBytes))
		l.bpsTokens = l.bpsCapacity
	}
	return l
}

// Allow reports whether one more fragment of frameBytes fits the budget and
// spends it if so.
func (l *audioLimiter) Allow(frameBytes int) bool {
	if l == nil {
		return true
	}
	l.refill()

	if frameBytes < 0 {
		frameBytes = 0
	}
	if l.fpsRate > 0 && l.fpsTokens < 1 {
		return false
	}
	if l.bpsRate > 0 && l.bpsTokens < float64(frameBytes) {
		return false
	}
	if l.fpsRate > 0 {
		l.fpsTokens--
	}
	if l.bpsRate > 0 {
		l.bpsTokens -= float64(frameBytes)
	}
	return true
}

func (l *audioLimiter) refill() {
	now := l.now()
	elapsed := now.Sub(l.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	l.lastRefill = now

	if l.fpsRate > 0 {
		l.fpsTokens = min(l.fpsTokens+elapsed*l.fpsRate, l.fpsRate*l.burstSeconds)
	}
	if l.bpsRate > 0 {
		l.bpsTokens = min(l.bpsTokens+elapsed*l.bpsRate, l.bpsCapacity)
	}
}
