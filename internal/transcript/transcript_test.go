package transcript

import (
	"testing"
	"time"
)

func TestCompleteTurnFlushesAndClears(t *testing.T) {
	var tr Transcript
	now := time.Unix(100, 0)

	tr.AddInput("my furnace ")
	tr.AddInput("is leaking")
	tr.AddOutput("Let me get Mike.")
	added := tr.CompleteTurn(now)

	if len(added) != 2 {
		t.Fatalf("len(added) = %d, want 2", len(added))
	}
	if added[0].Speaker != SpeakerUser || added[0].Text != "my furnace is leaking" {
		t.Fatalf("unexpected user entry: %+v", added[0])
	}
	if added[1].Speaker != SpeakerAgent || added[1].Text != "Let me get Mike." {
		t.Fatalf("unexpected agent entry: %+v", added[1])
	}

	in, out := tr.Partial()
	if in != "" || out != "" {
		t.Fatalf("Partial() = %q/%q, want empty", in, out)
	}

	// next turn must not carry fragments of the previous one
	tr.AddOutput("Hi")
	next := tr.CompleteTurn(now)
	if len(next) != 1 || next[0].Text != "Hi" {
		t.Fatalf("unexpected second turn: %+v", next)
	}
	if tr.Len() != 3 {
		t.Fatalf("Len() = %d, want 3", tr.Len())
	}
}

func TestCompleteTurnWithNothingAccumulated(t *testing.T) {
	var tr Transcript
	if added := tr.CompleteTurn(time.Now()); len(added) != 0 {
		t.Fatalf("len(added) = %d, want 0", len(added))
	}
}

func TestClear(t *testing.T) {
	var tr Transcript
	tr.System("Handing over to Mike...", time.Now())
	tr.AddInput("partial")
	tr.Clear()
	if tr.Len() != 0 {
		t.Fatalf("Len() = %d, want 0", tr.Len())
	}
	if in, _ := tr.Partial(); in != "" {
		t.Fatalf("input partial = %q, want empty", in)
	}
}

func TestEntriesReturnsCopy(t *testing.T) {
	var tr Transcript
	tr.System("a", time.Now())
	entries := tr.Entries()
	entries[0].Text = "mutated"
	if tr.Entries()[0].Text != "a" {
		t.Fatalf("Entries() exposed internal slice")
	}
	if got := tr.Text(); got != "system: a\n" {
		t.Fatalf("Text() = %q", got)
	}
}
