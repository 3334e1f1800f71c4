package transcript

import (
	"strings"
	"time"
)

type Speaker string

const (
	SpeakerUser   Speaker = "user"
	SpeakerAgent  Speaker = "agent"
	SpeakerSystem Speaker = "system"
)

type Entry struct {
	Speaker Speaker   `json:"speaker"`
	Text    string    `json:"text"`
	At      time.Time `json:"at"`
}

// Transcript is an append-only log of completed utterances and system notes.
// It is not safe for concurrent use; the owning controller serializes access.
type Transcript struct {
	entries []Entry
	input   string
	output  string
}

func (t *Transcript) Append(e Entry) {
	t.entries = append(t.entries, e)
}

func (t *Transcript) System(text string, at time.Time) {
	t.Append(Entry{Speaker: SpeakerSystem, Text: text, At: at})
}

// AddInput accumulates a streaming fragment of the caller's speech.
func (t *Transcript) AddInput(fragment string) {
	t.input += fragment
}

// AddOutput accumulates a streaming fragment of the agent's speech.
func (t *Transcript) AddOutput(fragment string) {
	t.output += fragment
}

// Partial returns the text accumulated for the turn in progress.
func (t *Transcript) Partial() (input, output string) {
	return t.input, t.output
}

// CompleteTurn appends the accumulated input then output as entries, skipping
// empty sides, and clears both accumulators. It returns the entries added.
func (t *Transcript) CompleteTurn(at time.Time) []Entry {
	var added []Entry
	if in := t.input; in != "" {
		added = append(added, Entry{Speaker: SpeakerUser, Text: in, At: at})
	}
	if out := t.output; out != "" {
		added = append(added, Entry{Speaker: SpeakerAgent, Text: out, At: at})
	}
	t.entries = append(t.entries, added...)
	t.DiscardPartial()
	return added
}

// DiscardPartial drops fragments of the unfinished turn.
func (t *Transcript) DiscardPartial() {
	t.input, t.output = "", ""
}

// Clear empties the log and the accumulators for a fresh call.
func (t *Transcript) Clear() {
	t.entries = nil
	t.DiscardPartial()
}

func (t *Transcript) Len() int { return len(t.entries) }

// Entries returns a copy of the log.
func (t *Transcript) Entries() []Entry {
	out := make([]Entry, len(t.entries))
	copy(out, t.entries)
	return out
}

// Text renders the log one "speaker: text" line per entry.
func (t *Transcript) Text() string {
	var b strings.Builder
	for _, e := range t.entries {
		b.WriteString(string(e.Speaker))
		b.WriteString(": ")
		b.WriteString(e.Text)
		b.WriteByte('\n')
	}
	return b.String()
}
