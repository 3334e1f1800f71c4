package toolcall

import (
	"errors"
	"testing"

	"github.com/drhvac/voicedesk/internal/persona"
)

func TestParseRebateUpdate(t *testing.T) {
	call := Parse("c1", NameUpdateRebateDisplay, map[string]any{"amount": float64(7500), "sourceType": "Electric"})
	rebate, ok := call.(RebateUpdate)
	if !ok {
		t.Fatalf("call type = %T, want RebateUpdate", call)
	}
	if rebate.Amount != 7500 || rebate.SourceType != "Electric" || rebate.CallID() != "c1" {
		t.Fatalf("unexpected rebate: %+v", rebate)
	}
}

func TestParseRebateAmountFromString(t *testing.T) {
	call := Parse("c1", NameUpdateRebateDisplay, map[string]any{"amount": " $7,500", "sourceType": "Gas"})
	rebate, ok := call.(RebateUpdate)
	if !ok {
		t.Fatalf("call type = %T, want RebateUpdate", call)
	}
	if rebate.Amount != 7500 {
		t.Fatalf("Amount = %v, want 7500", rebate.Amount)
	}
}

func TestParseRebateBadAmountIsUnknown(t *testing.T) {
	call := Parse("c1", NameUpdateRebateDisplay, map[string]any{"sourceType": "Gas"})
	unknown, ok := call.(Unknown)
	if !ok {
		t.Fatalf("call type = %T, want Unknown", call)
	}
	if !errors.Is(unknown.Err, ErrInvalidArgs) {
		t.Fatalf("Err = %v, want ErrInvalidArgs", unknown.Err)
	}
	if unknown.ToolName() != NameUpdateRebateDisplay {
		t.Fatalf("ToolName() = %q", unknown.ToolName())
	}
}

func TestParseSwitchAgent(t *testing.T) {
	call := Parse("c2", NameSwitchAgent, map[string]any{"targetAgent": "mike", "reason": "emergency detected"})
	sw, ok := call.(SwitchAgent)
	if !ok {
		t.Fatalf("call type = %T, want SwitchAgent", call)
	}
	if sw.Target != persona.Mike || sw.Reason != "emergency detected" {
		t.Fatalf("unexpected switch: %+v", sw)
	}

	bad := Parse("c3", NameSwitchAgent, map[string]any{"targetAgent": "BOB"}).(SwitchAgent)
	if bad.Target != "" || bad.Raw != "BOB" {
		t.Fatalf("unexpected switch for unknown target: %+v", bad)
	}
}

func TestParseUnknownName(t *testing.T) {
	call := Parse("c9", "launchRocket", nil)
	if _, ok := call.(Unknown); !ok {
		t.Fatalf("call type = %T, want Unknown", call)
	}
}

func TestAckCarriesCallID(t *testing.T) {
	call := Parse("c4", NameConfirmEmergencyBooking, map[string]any{"issue": "no heat", "guaranteeTime": "4 hours"})
	resp := Ack(call, ResultOK)
	if resp.ID != "c4" || resp.Name != NameConfirmEmergencyBooking || resp.Result["result"] != "OK" {
		t.Fatalf("unexpected response: %+v", resp)
	}
}

func TestManifestSwitchAgentEnum(t *testing.T) {
	var found bool
	for _, d := range Manifest() {
		if d.Name != NameSwitchAgent {
			continue
		}
		found = true
		if len(d.Params[0].Enum) != 2 {
			t.Fatalf("targetAgent enum = %v, want two personas", d.Params[0].Enum)
		}
	}
	if !found {
		t.Fatalf("manifest is missing %s", NameSwitchAgent)
	}
	if got := len(Manifest()); got != 3 {
		t.Fatalf("len(Manifest()) = %d, want 3", got)
	}
}
