package transport

// Inbound message kinds, client -> server.
const (
	inAudioData             = "audio_data"
	inVADState               = "vad_state"
	inVoiceAssistantStart    = "voice_assistant_start"
	inVoiceAssistantStop     = "voice_assistant_stop"
	inScreenShareStart       = "screen_share_start"
	inScreenShareStop        = "screen_share_stop"
	inScreenCaptureResponse  = "screen_capture_response"
	inHeartbeat              = "heartbeat"
)

// Outbound message kinds, server -> client.
const (
	outSpeechActive        = "speech_active"
	outTranscriptionResult = "transcription_result"
	outAIResponse          = "ai_response"
	outAudioResponse       = "audio_response"
	outScreenCaptureReq    = "screen_capture_request"
	outError               = "error"
	outHeartbeatAck        = "heartbeat_ack"
	outHeartbeat           = "heartbeat"
)

// inboundEnvelope is decoded once per frame to read type/timestamp before
// dispatching to a type-specific struct.
type inboundEnvelope struct {
	Type      string `json:"type"`
	Timestamp int64  `json:"timestamp"`
}

type vadPayload struct {
	IsSpeaking bool    `json:"isSpeaking"`
	Energy     float64 `json:"energy"`
	Confidence float64 `json:"confidence"`
}

type audioDataMessage struct {
	Type        string     `json:"type"`
	Timestamp   int64      `json:"timestamp"`
	Data        []float32  `json:"data"`
	SampleRate  int        `json:"sample_rate"`
	VAD         vadPayload `json:"vad"`
	ScreenImage string     `json:"screen_image,omitempty"`
}

type vadStateMessage struct {
	Type      string     `json:"type"`
	Timestamp int64      `json:"timestamp"`
	VAD       vadPayload `json:"vad"`
}

type screenCaptureResponseMessage struct {
	Type        string `json:"type"`
	Timestamp   int64  `json:"timestamp"`
	ScreenImage string `json:"screen_image"`
	RequestData string `json:"request_data"`
}

// outbound payloads.

type speechActiveMessage struct {
	Type string `json:"type"`
}

type transcriptionResultMessage struct {
	Type           string  `json:"type"`
	Text           string  `json:"text"`
	Confidence     float64 `json:"confidence,omitempty"`
	ProcessingTime int64   `json:"processing_time"`
}

type aiResponseMessage struct {
	Type           string `json:"type"`
	Text           string `json:"text"`
	ProcessingTime int64  `json:"processing_time"`
}

type audioResponseMessage struct {
	Type       string    `json:"type"`
	AudioData  []float32 `json:"audio_data"`
	SampleRate int       `json:"sample_rate"`
	Duration   float64   `json:"duration"`
}

type screenCaptureRequestMessage struct {
	Type         string `json:"type"`
	Reason       string `json:"reason"`
	OriginalText string `json:"original_text"`
}

type errorMessage struct {
	Type    string `json:"type"`
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

type heartbeatAckMessage struct {
	Type string `json:"type"`
}

// heartbeatMessage is the server-initiated idle ping, distinct from
// heartbeatAckMessage which only ever replies to an inbound heartbeat.
type heartbeatMessage struct {
	Type string `json:"type"`
}
