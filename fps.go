package vkframe

import "time"

// FrameCounter measures frames per second over one second windows.
type FrameCounter struct {
	now    func() time.Time
	start  time.Time
	frames int
	fps    int
}

// NewFrameCounter uses time.Now when now is nil.
func NewFrameCounter(now func() time.Time) *FrameCounter {
	if now == nil {
		now = time.Now
	}
	return &FrameCounter{now: now, start: now()}
}

// Tick counts one frame. Once a second has passed since the window opened it
// returns the frame count of that window and true, and starts a new window.
func (c *FrameCounter) Tick() (int, bool) {
	c.frames++
	now := c.now()
	elapsed := now.Sub(c.start)
	if elapsed < time.Second {
		return 0, false
	}
	c.fps = int(float64(c.frames) / elapsed.Seconds())
	c.frames = 0
	c.start = now
	return c.fps, true
}

// FPS is the last reported value.
func (c *FrameCounter) FPS() int { return c.fps }
