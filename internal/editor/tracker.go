// Package editor implements the live note-editing engine: per-block
// modification tracking, visible-text decay, and debounced persistence
// of the full buffer content.
package editor

import "time"

// Block is one tracked unit of typed text. The text itself is kept even
// after the block decays; decay only affects what is displayed.
type Block struct {
	Key          string
	Text         string
	LastModified time.Time
	Decayed      bool
}

// BlockEdit is one entry of the ordered block list a client submits.
// Keys identify blocks across edits; a key the tracker has not seen
// starts a new block with a fresh timestamp.
type BlockEdit struct {
	Key  string `json:"key"`
	Text string `json:"text"`
}

// BlockView is the display form of a block. Text is blanked once the
// block has decayed.
type BlockView struct {
	Key     string `json:"key"`
	Text    string `json:"text"`
	Decayed bool   `json:"decayed"`
}

// Tracker maintains the ordered set of blocks for one open note and the
// per-block modification timestamps that drive decay. It is not safe
// for concurrent use; the owning session serializes access.
type Tracker struct {
	blocks []Block
	index  map[string]int
}

// NewTracker returns an empty tracker.
func NewTracker() *Tracker {
	return &Tracker{index: make(map[string]int)}
}

// Apply reconciles the tracker against a full ordered block list.
// Existing blocks keep their timestamp unless their text changed;
// changed or new blocks are stamped with now and un-decayed. Blocks
// absent from the list are dropped.
func (t *Tracker) Apply(edits []BlockEdit, now time.Time) {
	next := make([]Block, 0, len(edits))
	for _, e := range edits {
		if i, ok := t.index[e.Key]; ok {
			b := t.blocks[i]
			if b.Text != e.Text {
				b.Text = e.Text
				b.LastModified = now
				b.Decayed = false
			}
			next = append(next, b)
			continue
		}
		next = append(next, Block{Key: e.Key, Text: e.Text, LastModified: now})
	}

	t.blocks = next
	t.index = make(map[string]int, len(next))
	for i, b := range next {
		t.index[b.Key] = i
	}
}

// Sweep marks every block older than fadeDelay as decayed. It reports
// whether any block changed state.
func (t *Tracker) Sweep(now time.Time, fadeDelay time.Duration) bool {
	changed := false
	for i := range t.blocks {
		b := &t.blocks[i]
		if !b.Decayed && now.Sub(b.LastModified) >= fadeDelay {
			b.Decayed = true
			changed = true
		}
	}
	return changed
}

// Texts returns the typed text of every block in order, including
// blocks whose display has decayed.
func (t *Tracker) Texts() []string {
	out := make([]string, len(t.blocks))
	for i, b := range t.blocks {
		out[i] = b.Text
	}
	return out
}

// Views returns the display form of every block. Decayed blocks carry
// empty text so clients never render faded content.
func (t *Tracker) Views() []BlockView {
	out := make([]BlockView, len(t.blocks))
	for i, b := range t.blocks {
		v := BlockView{Key: b.Key, Text: b.Text, Decayed: b.Decayed}
		if b.Decayed {
			v.Text = ""
		}
		out[i] = v
	}
	return out
}

// Len returns the number of tracked blocks.
func (t *Tracker) Len() int {
	return len(t.blocks)
}
