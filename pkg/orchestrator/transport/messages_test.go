package transport

import (
	"encoding/json"
	"testing"
)

func TestAudioDataMessage_DecodesWireFields(t *testing.T) {
	raw := []byte(`{
		"type": "audio_data",
		"timestamp": 123456,
		"data": [0.1, -0.2, 0.3],
		"sample_rate": 16000,
		"vad": {"isSpeaking": true, "energy": 0.4, "confidence": 0.9}
	}`)

	var msg audioDataMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if msg.Type != inAudioData {
		t.Fatalf("expected type %q, got %q", inAudioData, msg.Type)
	}
	if len(msg.Data) != 3 || msg.SampleRate != 16000 {
		t.Fatalf("unexpected decoded message: %+v", msg)
	}
	if !msg.VAD.IsSpeaking || msg.VAD.Energy != 0.4 {
		t.Fatalf("unexpected VAD payload: %+v", msg.VAD)
	}
}

func TestInboundEnvelope_ReadsTypeBeforeFullDecode(t *testing.T) {
	raw := []byte(`{"type": "heartbeat", "timestamp": 1}`)
	var env inboundEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if env.Type != inHeartbeat {
		t.Fatalf("expected heartbeat, got %q", env.Type)
	}
}

func TestErrorMessage_EncodesKindAndMessage(t *testing.T) {
	msg := errorMessage{Type: outError, Kind: "timeout", Message: "stt deadline exceeded"}
	data, err := json.Marshal(msg)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var decoded map[string]string
	if err := json.Unmarshal(data, &decoded); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if decoded["kind"] != "timeout" || decoded["message"] != "stt deadline exceeded" {
		t.Fatalf("unexpected encoded error message: %+v", decoded)
	}
}
