package rates

// Window is a fixed tick window counter. A zero Limit or Ticks disables it.
type Window struct {
	Ticks uint64
	Limit int

	start uint64
	count int
}

func NewWindow(ticks uint64, limit int) *Window {
	return &Window{Ticks: ticks, Limit: limit}
}

// Allow counts one event at tick now. When the window is exhausted it
// reports false and the number of ticks until the window reopens.
func (w *Window) Allow(now uint64) (bool, uint64) {
	if w.Ticks == 0 || w.Limit <= 0 {
		return true, 0
	}
	if now < w.start || now-w.start >= w.Ticks {
		w.start = now
		w.count = 0
	}
	w.count++
	if w.count <= w.Limit {
		return true, 0
	}
	return false, w.start + w.Ticks - now
}

// Remaining is how many more events fit in the current window at tick now.
func (w *Window) Remaining(now uint64) int {
	if w.Ticks == 0 || w.Limit <= 0 {
		return -1
	}
	if now < w.start || now-w.start >= w.Ticks {
		return w.Limit
	}
	if w.count >= w.Limit {
		return 0
	}
	return w.Limit - w.count
}
