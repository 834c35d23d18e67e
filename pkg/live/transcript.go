package live

import "sync"

// TranscriptAggregator merges streaming transcript deltas into speaker turns.
type TranscriptAggregator struct {
	mu    sync.RWMutex
	turns []TranscriptTurn
}

func NewTranscriptAggregator() *TranscriptAggregator {
	return &TranscriptAggregator{}
}

// Apply appends text to the last turn if it is open and spoken by the same
// role; otherwise it closes the last turn and opens a new one.
func (t *TranscriptAggregator) Apply(role Role, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if n := len(t.turns); n > 0 {
		last := &t.turns[n-1]
		if last.Open && last.Role == role {
			last.Text += text
			return
		}
		last.Open = false
	}
	t.turns = append(t.turns, TranscriptTurn{Role: role, Text: text, Open: true})
}

// AppendClosed records a complete turn that never merges with deltas.
func (t *TranscriptAggregator) AppendClosed(role Role, text string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
	t.turns = append(t.turns, TranscriptTurn{Role: role, Text: text})
}

// CloseAll freezes the log; later deltas start new turns.
func (t *TranscriptAggregator) CloseAll() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closeLocked()
}

func (t *TranscriptAggregator) closeLocked() {
	if n := len(t.turns); n > 0 {
		t.turns[n-1].Open = false
	}
}

// Turns returns a copy of the log.
func (t *TranscriptAggregator) Turns() []TranscriptTurn {
	t.mu.RLock()
	defer t.mu.RUnlock()
	turns := make([]TranscriptTurn, len(t.turns))
	copy(turns, t.turns)
	return turns
}
