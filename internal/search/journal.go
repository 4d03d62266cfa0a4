package search

// SimFrame is one journal entry: a measured point and its value.
type SimFrame struct {
	Index  int
	Params *FrameParams
	Value  float64
}

// X returns the first coordinate of the frame's point.
func (f SimFrame) X() float64 {
	return f.Params.Value(0)
}

// SimFrameJournal is the append-only history of a search.
//
// Frames are indexed 0, 1, 2, ... in the order they were recorded and
// are never rewritten or removed. The journal is not safe for concurrent
// use; the optimizer owns it from a single goroutine.
type SimFrameJournal struct {
	frames []SimFrame
}

// NewSimFrameJournal creates an empty journal.
func NewSimFrameJournal() *SimFrameJournal {
	return &SimFrameJournal{}
}

// Record appends a frame and returns it.
func (j *SimFrameJournal) Record(params *FrameParams, value float64) SimFrame {
	frame := SimFrame{
		Index:  len(j.frames),
		Params: params,
		Value:  value,
	}
	j.frames = append(j.frames, frame)
	return frame
}

// Last returns the most recently recorded frame.
func (j *SimFrameJournal) Last() (SimFrame, error) {
	if len(j.frames) == 0 {
		return SimFrame{}, ErrEmptyJournal
	}
	return j.frames[len(j.frames)-1], nil
}

// BestRun returns the frame with the highest value; the earliest frame
// wins ties.
func (j *SimFrameJournal) BestRun() (SimFrame, error) {
	if len(j.frames) == 0 {
		return SimFrame{}, ErrEmptyJournal
	}
	best := j.frames[0]
	for _, f := range j.frames[1:] {
		if f.Value > best.Value {
			best = f
		}
	}
	return best, nil
}

// Frames returns a copy of the recorded frames in index order.
func (j *SimFrameJournal) Frames() []SimFrame {
	out := make([]SimFrame, len(j.frames))
	copy(out, j.frames)
	return out
}

// Len returns the number of recorded frames.
func (j *SimFrameJournal) Len() int {
	return len(j.frames)
}
