package persona

import (
	"errors"
	"strings"
	"testing"
)

func TestParseIsCaseInsensitive(t *testing.T) {
	for _, raw := range []string{"mike", " MIKE ", "Mike"} {
		id, err := Parse(raw)
		if err != nil {
			t.Fatalf("Parse(%q) error = %v", raw, err)
		}
		if id != Mike {
			t.Fatalf("Parse(%q) = %q, want %q", raw, id, Mike)
		}
	}
	if _, err := Parse("bob"); !errors.Is(err, ErrUnknownPersona) {
		t.Fatalf("Parse(bob) error = %v, want ErrUnknownPersona", err)
	}
}

func TestCatalogHandoffsPointAtEachOther(t *testing.T) {
	for _, p := range All() {
		target, ok := Lookup(p.HandoffTo)
		if !ok {
			t.Fatalf("%s hands off to unknown persona %q", p.Name, p.HandoffTo)
		}
		if target.ID == p.ID {
			t.Fatalf("%s hands off to itself", p.Name)
		}
		if !strings.Contains(p.Instruction, "switchAgent(targetAgent='"+string(target.ID)+"')") {
			t.Fatalf("%s instruction does not name its handoff target", p.Name)
		}
	}
}

func TestVoices(t *testing.T) {
	sarah, _ := Lookup(Sarah)
	mike, _ := Lookup(Mike)
	if sarah.Voice != "Kore" || mike.Voice != "Puck" {
		t.Fatalf("voices = %q/%q, want Kore/Puck", sarah.Voice, mike.Voice)
	}
}
