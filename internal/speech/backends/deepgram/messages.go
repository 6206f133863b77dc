package deepgram

import (
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// Control message types sent to the server as JSON text frames.
const (
	controlKeepAlive   = "KeepAlive"
	controlFinalize    = "Finalize"
	controlCloseStream = "CloseStream"
)

// Server message types received as JSON text frames.
const (
	msgMetadata      = "Metadata"
	msgResults       = "Results"
	msgSpeechStarted = "SpeechStarted"
	msgUtteranceEnd  = "UtteranceEnd"
	msgError         = "Error"
)

type controlMessage struct {
	Type string `json:"type"`
}

func encodeControl(typ string) []byte {
	raw, _ := json.Marshal(controlMessage{Type: typ})
	return raw
}

// serverMessage is the superset of the live API's inbound frames; Type
// decides which fields are meaningful.
type serverMessage struct {
	Type string `json:"type"`

	// Results
	IsFinal      bool `json:"is_final"`
	SpeechFinal  bool `json:"speech_final"`
	FromFinalize bool `json:"from_finalize"`
	Channel      struct {
		Alternatives []struct {
			Transcript string  `json:"transcript"`
			Confidence float32 `json:"confidence"`
		} `json:"alternatives"`
	} `json:"channel"`

	// Metadata
	RequestID string `json:"request_id"`

	// Error
	Description string `json:"description"`
	Message     string `json:"message"`
	Variant     string `json:"variant"`
}

// parseServerMessage decodes one inbound text frame. Unknown types are
// returned as-is so the caller can log and drop them.
func parseServerMessage(raw []byte) (*serverMessage, error) {
	var msg serverMessage
	if err := json.Unmarshal(raw, &msg); err != nil {
		return nil, fmt.Errorf("malformed server frame: %w", err)
	}
	if msg.Type == "" {
		return nil, fmt.Errorf("server frame without type")
	}
	return &msg, nil
}

// transcript returns the top alternative's text, or "" when absent.
func (m *serverMessage) transcript() (string, float32) {
	if len(m.Channel.Alternatives) == 0 {
		return "", 0
	}
	alt := m.Channel.Alternatives[0]
	return alt.Transcript, alt.Confidence
}

// serverError converts an Error frame into a typed error.
func (m *serverMessage) serverError() *ServerError {
	desc := m.Description
	if desc == "" {
		desc = m.Message
	}
	return &ServerError{
		Description: desc,
		Variant:     m.Variant,
		Auth:        looksLikeAuthFailure(desc) || looksLikeAuthFailure(m.Variant),
	}
}

func looksLikeAuthFailure(s string) bool {
	s = strings.ToLower(s)
	for _, marker := range []string{"auth", "credential", "unauthorized", "401", "token"} {
		if strings.Contains(s, marker) {
			return true
		}
	}
	return false
}

// ServerError is an error frame from the recognition service.
type ServerError struct {
	Description string
	Variant     string
	// Auth marks failures that invalidate the cached credential.
	Auth bool
}

func (e *ServerError) Error() string {
	if e.Variant != "" {
		return fmt.Sprintf("recognition service error (%s): %s", e.Variant, e.Description)
	}
	return "recognition service error: " + e.Description
}

// buildURL assembles the websocket endpoint with streaming parameters.
func buildURL(endpoint string, o Options) (string, error) {
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", fmt.Errorf("parse endpoint: %w", err)
	}

	q := u.Query()
	q.Set("model", o.Model)
	q.Set("encoding", "linear16")
	q.Set("sample_rate", strconv.Itoa(o.SampleRate))
	q.Set("channels", "1")
	if o.Language != "" {
		q.Set("language", o.Language)
	} else {
		q.Set("detect_language", "true")
	}
	if o.Punctuate {
		q.Set("punctuate", "true")
		q.Set("smart_format", "true")
	}
	if o.InterimResults {
		q.Set("interim_results", "true")
	}
	for _, term := range o.Keyterms {
		q.Add("keyterm", term)
	}
	u.RawQuery = q.Encode()
	return u.String(), nil
}
