package persona

import (
	"errors"
	"fmt"
	"strings"
)

// ID names one of the two desk agents.
type ID string

const (
	Sarah ID = "SARAH"
	Mike  ID = "MIKE"
)

var ErrUnknownPersona = errors.New("unknown persona")

type Theme struct {
	Background string `json:"background"`
	Accent     string `json:"accent"`
}

// Persona is the static configuration the live model embodies for a call.
type Persona struct {
	ID              ID     `json:"id"`
	Name            string `json:"name"`
	Role            string `json:"role"`
	Instruction     string `json:"instruction"`
	Voice           string `json:"voice"`
	Theme           Theme  `json:"theme"`
	HandoffTo       ID     `json:"handoff_to"`
	HandoffCriteria string `json:"handoff_criteria"`
}

var catalog = map[ID]Persona{
	Sarah: {
		ID:   Sarah,
		Name: "Sarah",
		Role: "Reception Specialist",
		Instruction: "Role: You are Sarah, Reception Specialist for Dr. HVAC. Tone: Warm, professional, helpful. " +
			"Focus: General inquiries, furnace/AC quotes, and identifying $7,500 rebate eligibility. " +
			"HANDOVER PROTOCOL: If the user has an emergency (leaks, no heat, urgent repair), tell them " +
			"'I'm handing you over to Mike, our emergency coordinator' and call switchAgent(targetAgent='MIKE').",
		Voice:           "Kore",
		Theme:           Theme{Background: "#004a99", Accent: "#f37021"},
		HandoffTo:       Mike,
		HandoffCriteria: "emergencies: leaks, no heat, urgent repair",
	},
	Mike: {
		ID:   Mike,
		Name: "Mike",
		Role: "Emergency Dispatch",
		Instruction: "Role: You are Mike, Emergency Dispatcher for Dr. HVAC. Tone: Calm, decisive, urgent. " +
			"Focus: Handling critical failures (no heat in winter, leaks). Emphasize the 4-hour response guarantee. " +
			"HANDOVER PROTOCOL: If the user wants a general quote or to check if they qualify for the $7,500 energy rebate, " +
			"tell them 'Sarah is our rebate specialist, let me connect you with her' and call switchAgent(targetAgent='SARAH').",
		Voice:           "Puck",
		Theme:           Theme{Background: "#1a2333", Accent: "#ef4444"},
		HandoffTo:       Sarah,
		HandoffCriteria: "general quotes and $7,500 rebate qualification",
	},
}

// All returns the personas in display order.
func All() []Persona {
	return []Persona{catalog[Sarah], catalog[Mike]}
}

// IDs returns the closed set of identifiers, used as the switchAgent enum.
func IDs() []string {
	return []string{string(Sarah), string(Mike)}
}

func Lookup(id ID) (Persona, bool) {
	p, ok := catalog[id]
	return p, ok
}

// Parse resolves a case-insensitive identifier such as "mike" or " SARAH ".
func Parse(raw string) (ID, error) {
	id := ID(strings.ToUpper(strings.TrimSpace(raw)))
	if _, ok := catalog[id]; !ok {
		return "", fmt.Errorf("%w: %q", ErrUnknownPersona, raw)
	}
	return id, nil
}

func (id ID) Valid() bool {
	_, ok := catalog[id]
	return ok
}

func (id ID) String() string { return string(id) }
