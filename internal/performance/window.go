package performance

// Window keeps a bounded history of the most recent closed trades and derives
// the rolling statistics that drive adaptive behavior: recent win rate,
// recent average R, and the current win/loss streaks.
type Window struct {
	capacity   int
	streakSpan int
	results    []TradeResult
}

// NewWindow creates a rolling window over the last capacity trades
// (default 50). Streaks are computed over the most recent streakSpan trades
// (fixed at 10) so one old run cannot dominate current behavior.
func NewWindow(capacity int) *Window {
	if capacity <= 0 {
		capacity = 50
	}
	return &Window{capacity: capacity, streakSpan: 10}
}

// Add appends a closed trade, evicting the oldest past capacity.
func (w *Window) Add(result TradeResult) {
	w.results = append(w.results, result)
	if len(w.results) > w.capacity {
		w.results = w.results[len(w.results)-w.capacity:]
	}
}

// Len returns the number of retained results.
func (w *Window) Len() int {
	return len(w.results)
}

// WinRate returns the fraction of wins over the retained window, 0 when
// empty.
func (w *Window) WinRate() float64 {
	if len(w.results) == 0 {
		return 0
	}
	wins := 0
	for _, r := range w.results {
		if r.Won {
			wins++
		}
	}
	return float64(wins) / float64(len(w.results))
}

// AvgR returns the mean R-multiple over the retained window, 0 when empty.
func (w *Window) AvgR() float64 {
	if len(w.results) == 0 {
		return 0
	}
	sum := 0.0
	for _, r := range w.results {
		sum += r.RMultiple
	}
	return sum / float64(len(w.results))
}

// Streaks returns the current consecutive win and loss runs counted backward
// from the most recent trade, limited to the streak span. Exactly one of the
// two is nonzero when the window is nonempty.
func (w *Window) Streaks() (winStreak, lossStreak int) {
	span := w.streakSpan
	if len(w.results) < span {
		span = len(w.results)
	}
	for i := len(w.results) - 1; i >= len(w.results)-span; i-- {
		if w.results[i].Won {
			if lossStreak > 0 {
				return
			}
			winStreak++
		} else {
			if winStreak > 0 {
				return
			}
			lossStreak++
		}
	}
	return
}
