package protocol

import (
	"encoding/json"
	"errors"
	"strings"
	"testing"
)

func TestParseClientMessageAudioBlock(t *testing.T) {
	raw := []byte(`{"type":"client_audio_block","seq":3,"f32_base64":"AAAAAA==","sample_rate":16000}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	block, ok := msg.(ClientAudioBlock)
	if !ok {
		t.Fatalf("message type = %T, want ClientAudioBlock", msg)
	}
	if block.Seq != 3 || block.SampleRate != 16000 {
		t.Fatalf("unexpected audio block: %+v", block)
	}
}

func TestParseClientMessageRejectsUnknownType(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"wat"}`))
	if !errors.Is(err, ErrUnsupportedType) {
		t.Fatalf("error = %v, want ErrUnsupportedType", err)
	}
}

func TestParseClientMessageControl(t *testing.T) {
	raw := []byte(`{"type":"client_control","action":"connect","persona":"MIKE"}`)
	msg, err := ParseClientMessage(raw)
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}

	control, ok := msg.(ClientControl)
	if !ok {
		t.Fatalf("message type = %T, want ClientControl", msg)
	}
	if control.Action != ActionConnect || control.Persona != "MIKE" {
		t.Fatalf("unexpected client control: %+v", control)
	}
}

func TestParseClientMessageControlValidation(t *testing.T) {
	cases := []string{
		`{"type":"client_control","action":"connect"}`,
		`{"type":"client_control","action":"reboot"}`,
		`{"type":"client_control"}`,
	}
	for _, raw := range cases {
		if _, err := ParseClientMessage([]byte(raw)); err == nil {
			t.Fatalf("ParseClientMessage(%s) expected validation error", raw)
		}
	}
	if _, err := ParseClientMessage([]byte(`{"type":"client_control","action":"dismiss_error"}`)); err != nil {
		t.Fatalf("dismiss_error rejected: %v", err)
	}
}

func TestParseClientMessageMicResult(t *testing.T) {
	msg, err := ParseClientMessage([]byte(`{"type":"client_mic_result","granted":false,"error_name":"NotAllowedError","error_message":"Permission denied"}`))
	if err != nil {
		t.Fatalf("ParseClientMessage() error = %v", err)
	}
	res, ok := msg.(ClientMicResult)
	if !ok {
		t.Fatalf("message type = %T, want ClientMicResult", msg)
	}
	if res.Granted || res.ErrorName != "NotAllowedError" {
		t.Fatalf("unexpected mic result: %+v", res)
	}

	if _, err := ParseClientMessage([]byte(`{"type":"client_mic_result","granted":true}`)); err == nil {
		t.Fatalf("expected error for granted result without sample_rate")
	}
}

func TestParseClientMessageRejectsInvalidAudioBlock(t *testing.T) {
	_, err := ParseClientMessage([]byte(`{"type":"client_audio_block","f32_base64":"","sample_rate":0}`))
	if err == nil {
		t.Fatalf("expected validation error")
	}
}

func TestAgentAudioWireNames(t *testing.T) {
	raw, err := json.Marshal(AgentAudio{Type: TypeAgentAudio, SourceID: "s", StartAt: 1.5, SampleRate: 24000})
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, key := range []string{`"type":"agent_audio"`, `"source_id":"s"`, `"start_at":1.5`, `"server_now"`, `"pcm16_base64"`} {
		if !strings.Contains(string(raw), key) {
			t.Fatalf("encoded agent_audio %s missing %s", raw, key)
		}
	}
}

func BenchmarkParseClientMessageAudioBlock(b *testing.B) {
	raw := []byte(`{"type":"client_audio_block","seq":7,"f32_base64":"AQIDBAUGBwgJCgsMDQ4P","sample_rate":16000}`)
	b.ReportAllocs()
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		msg, err := ParseClientMessage(raw)
		if err != nil {
			b.Fatalf("ParseClientMessage() error = %v", err)
		}
		if _, ok := msg.(ClientAudioBlock); !ok {
			b.Fatalf("message type = %T, want ClientAudioBlock", msg)
		}
	}
}
