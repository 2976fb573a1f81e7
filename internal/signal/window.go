package signal

// Window is a read-only, chronologically ordered slice of bars for one instrument.
// Bars[0] has absolute per-instrument index Offset.
type Window struct {
	Bars   []Bar
	Offset int
}

// Len returns the number of bars in the window.
func (w Window) Len() int { return len(w.Bars) }

// LastIndex returns the absolute index of the newest bar, or -1 when empty.
func (w Window) LastIndex() int {
	if len(w.Bars) == 0 {
		return -1
	}
	return w.Offset + len(w.Bars) - 1
}

// Last returns the newest bar.
func (w Window) Last() Bar {
	if len(w.Bars) == 0 {
		return Bar{}
	}
	return w.Bars[len(w.Bars)-1]
}

// At returns the bar with the given absolute index.
func (w Window) At(index int) (Bar, bool) {
	i := index - w.Offset
	if i < 0 || i >= len(w.Bars) {
		return Bar{}, false
	}
	return w.Bars[i], true
}

// Closes extracts close prices in order.
func (w Window) Closes() []float64 {
	out := make([]float64, len(w.Bars))
	for i, b := range w.Bars {
		out[i] = b.Close
	}
	return out
}
