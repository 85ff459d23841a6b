package editor

import (
	"testing"
	"time"
)

func TestApplyTracksNewAndChangedBlocks(t *testing.T) {
	tr := NewTracker()
	t0 := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

	tr.Apply([]BlockEdit{{Key: "a", Text: "hello"}, {Key: "b", Text: "world"}}, t0)
	if tr.Len() != 2 {
		t.Fatalf("expected 2 blocks, got %d", tr.Len())
	}

	// Unchanged text keeps its timestamp; changed text gets a new one.
	t1 := t0.Add(30 * time.Second)
	tr.Apply([]BlockEdit{{Key: "a", Text: "hello"}, {Key: "b", Text: "world!"}}, t1)

	if got := tr.blocks[0].LastModified; !got.Equal(t0) {
		t.Errorf("unchanged block restamped: got %v want %v", got, t0)
	}
	if got := tr.blocks[1].LastModified; !got.Equal(t1) {
		t.Errorf("changed block not restamped: got %v want %v", got, t1)
	}
}

func TestApplyDropsMissingKeys(t *testing.T) {
	tr := NewTracker()
	now := time.Now()

	tr.Apply([]BlockEdit{{Key: "a", Text: "one"}, {Key: "b", Text: "two"}, {Key: "c", Text: "three"}}, now)
	tr.Apply([]BlockEdit{{Key: "a", Text: "one"}, {Key: "c", Text: "three"}}, now)

	if tr.Len() != 2 {
		t.Fatalf("expected 2 blocks after drop, got %d", tr.Len())
	}
	texts := tr.Texts()
	if texts[0] != "one" || texts[1] != "three" {
		t.Errorf("unexpected texts after drop: %v", texts)
	}
}

func TestSweepMarksOldBlocksDecayed(t *testing.T) {
	tr := NewTracker()
	t0 := time.Now()

	tr.Apply([]BlockEdit{{Key: "old", Text: "stale"}}, t0)
	tr.Apply([]BlockEdit{{Key: "old", Text: "stale"}, {Key: "new", Text: "fresh"}}, t0.Add(90*time.Second))

	changed := tr.Sweep(t0.Add(2*time.Minute), 2*time.Minute)
	if !changed {
		t.Fatal("expected sweep to report a change")
	}

	views := tr.Views()
	if !views[0].Decayed {
		t.Error("expected old block to be decayed")
	}
	if views[1].Decayed {
		t.Error("did not expect fresh block to be decayed")
	}

	// A second sweep at the same instant changes nothing.
	if tr.Sweep(t0.Add(2*time.Minute), 2*time.Minute) {
		t.Error("repeated sweep should be a no-op")
	}
}

func TestTypingRevivesDecayedBlock(t *testing.T) {
	tr := NewTracker()
	t0 := time.Now()

	tr.Apply([]BlockEdit{{Key: "a", Text: "fading"}}, t0)
	tr.Sweep(t0.Add(3*time.Minute), 2*time.Minute)
	if !tr.Views()[0].Decayed {
		t.Fatal("expected block to decay first")
	}

	tr.Apply([]BlockEdit{{Key: "a", Text: "fading more"}}, t0.Add(4*time.Minute))
	if tr.Views()[0].Decayed {
		t.Error("typing into a decayed block should revive it")
	}
}

func TestViewsBlankDecayedText(t *testing.T) {
	tr := NewTracker()
	t0 := time.Now()

	tr.Apply([]BlockEdit{{Key: "a", Text: "secret ink"}}, t0)
	tr.Sweep(t0.Add(3*time.Minute), 2*time.Minute)

	v := tr.Views()[0]
	if v.Text != "" {
		t.Errorf("decayed view should carry no text, got %q", v.Text)
	}

	// The typed text still flows into the combined content.
	if got := tr.Texts()[0]; got != "secret ink" {
		t.Errorf("typed text lost after decay: %q", got)
	}
}
