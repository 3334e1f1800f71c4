package toolcall

import (
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"github.com/drhvac/voicedesk/internal/persona"
)

const (
	NameUpdateRebateDisplay     = "updateRebateDisplay"
	NameConfirmEmergencyBooking = "confirmEmergencyBooking"
	NameSwitchAgent             = "switchAgent"

	ResultOK                = "OK"
	ResultTransferInitiated = "Transfer initiated."
)

var ErrInvalidArgs = errors.New("invalid tool arguments")

type ParamType string

const (
	TypeNumber ParamType = "number"
	TypeString ParamType = "string"
)

type Param struct {
	Name        string
	Type        ParamType
	Description string
	Enum        []string
}

// Declaration describes one callable function independent of any transport.
type Declaration struct {
	Name        string
	Description string
	Params      []Param
	Required    []string
}

// Manifest returns the functions every live session is configured with.
func Manifest() []Declaration {
	return []Declaration{
		{
			Name:        NameUpdateRebateDisplay,
			Description: "Update the visual display with the qualified rebate amount and heating source.",
			Params: []Param{
				{Name: "amount", Type: TypeNumber, Description: "The rebate amount in dollars."},
				{Name: "sourceType", Type: TypeString, Description: "The customer heating source (Gas, Oil, or Electric)."},
			},
			Required: []string{"amount", "sourceType"},
		},
		{
			Name:        NameConfirmEmergencyBooking,
			Description: "Visually confirm an emergency repair booking on the interface.",
			Params: []Param{
				{Name: "issue", Type: TypeString, Description: "Brief description of the HVAC issue."},
				{Name: "guaranteeTime", Type: TypeString, Description: "The promised response window (4 hours)."},
			},
			Required: []string{"issue", "guaranteeTime"},
		},
		{
			Name:        NameSwitchAgent,
			Description: "Transfer the call to the other specialist (e.g., Sarah to Mike for emergencies, or Mike to Sarah for rebates).",
			Params: []Param{
				{Name: "targetAgent", Type: TypeString, Description: "The agent to hand over to.", Enum: persona.IDs()},
				{Name: "reason", Type: TypeString, Description: "Brief reason for the handover."},
			},
			Required: []string{"targetAgent"},
		},
	}
}

// Call is one of RebateUpdate, EmergencyBooking, SwitchAgent or Unknown.
type Call interface {
	CallID() string
	ToolName() string
	isCall()
}

type RebateUpdate struct {
	ID         string
	Amount     float64
	SourceType string
}

type EmergencyBooking struct {
	ID            string
	Issue         string
	GuaranteeTime string
}

type SwitchAgent struct {
	ID     string
	Target persona.ID
	// Raw keeps the requested target as sent; Target is empty when it did not parse.
	Raw    string
	Reason string
}

// Unknown is a call with an unrecognized name or unusable arguments.
type Unknown struct {
	ID   string
	Name string
	Err  error
}

func (c RebateUpdate) CallID() string     { return c.ID }
func (c EmergencyBooking) CallID() string { return c.ID }
func (c SwitchAgent) CallID() string      { return c.ID }
func (c Unknown) CallID() string          { return c.ID }

func (RebateUpdate) ToolName() string     { return NameUpdateRebateDisplay }
func (EmergencyBooking) ToolName() string { return NameConfirmEmergencyBooking }
func (SwitchAgent) ToolName() string      { return NameSwitchAgent }
func (c Unknown) ToolName() string        { return c.Name }

func (RebateUpdate) isCall()     {}
func (EmergencyBooking) isCall() {}
func (SwitchAgent) isCall()      {}
func (Unknown) isCall()          {}

// Parse turns a raw function call into a typed Call. It never fails: malformed
// arguments on a known tool come back as Unknown with Err set.
func Parse(id, name string, args map[string]any) Call {
	switch name {
	case NameUpdateRebateDisplay:
		amount, err := number(args, "amount")
		if err != nil {
			return Unknown{ID: id, Name: name, Err: err}
		}
		return RebateUpdate{ID: id, Amount: amount, SourceType: str(args, "sourceType")}
	case NameConfirmEmergencyBooking:
		return EmergencyBooking{ID: id, Issue: str(args, "issue"), GuaranteeTime: str(args, "guaranteeTime")}
	case NameSwitchAgent:
		raw := str(args, "targetAgent")
		call := SwitchAgent{ID: id, Raw: raw, Reason: str(args, "reason")}
		if target, err := persona.Parse(raw); err == nil {
			call.Target = target
		}
		return call
	default:
		return Unknown{ID: id, Name: name}
	}
}

// Response acknowledges a call by its correlation id.
type Response struct {
	ID     string
	Name   string
	Result map[string]any
}

func Ack(c Call, result string) Response {
	return Response{ID: c.CallID(), Name: c.ToolName(), Result: map[string]any{"result": result}}
}

func Reject(c Call, reason string) Response {
	return Response{ID: c.CallID(), Name: c.ToolName(), Result: map[string]any{"error": reason}}
}

func str(args map[string]any, key string) string {
	switch v := args[key].(type) {
	case string:
		return strings.TrimSpace(v)
	case nil:
		return ""
	default:
		return strings.TrimSpace(fmt.Sprint(v))
	}
}

func number(args map[string]any, key string) (float64, error) {
	var f float64
	switch v := args[key].(type) {
	case float64:
		f = v
	case float32:
		f = float64(v)
	case int:
		f = float64(v)
	case int64:
		f = float64(v)
	case string:
		clean := strings.TrimPrefix(strings.TrimSpace(strings.ReplaceAll(v, ",", "")), "$")
		parsed, err := strconv.ParseFloat(clean, 64)
		if err != nil {
			return 0, fmt.Errorf("%w: %s=%q", ErrInvalidArgs, key, v)
		}
		f = parsed
	default:
		return 0, fmt.Errorf("%w: %s missing", ErrInvalidArgs, key)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) {
		return 0, fmt.Errorf("%w: %s not finite", ErrInvalidArgs, key)
	}
	return f, nil
}
