package deepgram

import (
	"net/url"
	"strings"
	"testing"
)

func TestParseResultsMessage(t *testing.T) {
	raw := []byte(`{
		"type": "Results",
		"is_final": true,
		"speech_final": true,
		"from_finalize": false,
		"channel": {"alternatives": [{"transcript": "hello world", "confidence": 0.97}]}
	}`)
	msg, err := parseServerMessage(raw)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if msg.Type != msgResults {
		t.Errorf("type = %q, want %q", msg.Type, msgResults)
	}
	text, conf := msg.transcript()
	if text != "hello world" {
		t.Errorf("transcript = %q, want %q", text, "hello world")
	}
	if conf != 0.97 {
		t.Errorf("confidence = %f, want 0.97", conf)
	}
	if !msg.IsFinal {
		t.Error("is_final not parsed")
	}
}

func TestParseMalformedFrame(t *testing.T) {
	if _, err := parseServerMessage([]byte("not json")); err == nil {
		t.Error("expected error for malformed frame")
	}
	if _, err := parseServerMessage([]byte(`{"foo": 1}`)); err == nil {
		t.Error("expected error for frame without type")
	}
}

func TestServerErrorAuthClassification(t *testing.T) {
	cases := []struct {
		desc string
		auth bool
	}{
		{"Invalid credentials supplied", true},
		{"unauthorized", true},
		{"project token expired", true},
		{"internal server error", false},
		{"unsupported encoding", false},
	}
	for _, c := range cases {
		msg := &serverMessage{Type: msgError, Description: c.desc}
		if got := msg.serverError().Auth; got != c.auth {
			t.Errorf("auth(%q) = %v, want %v", c.desc, got, c.auth)
		}
	}
}

func TestEncodeControl(t *testing.T) {
	got := string(encodeControl(controlCloseStream))
	if got != `{"type":"CloseStream"}` {
		t.Errorf("control frame = %s", got)
	}
}

func TestBuildURL(t *testing.T) {
	raw, err := buildURL("wss://api.deepgram.com/v1/listen", Options{
		Model:          "nova-2",
		Language:       "en",
		SampleRate:     16000,
		Punctuate:      true,
		InterimResults: true,
		Keyterms:       []string{"hushtype", "dictation"},
	})
	if err != nil {
		t.Fatalf("buildURL: %v", err)
	}
	u, err := url.Parse(raw)
	if err != nil {
		t.Fatalf("parse built url: %v", err)
	}
	q := u.Query()
	checks := map[string]string{
		"model":           "nova-2",
		"language":        "en",
		"encoding":        "linear16",
		"sample_rate":     "16000",
		"channels":        "1",
		"punctuate":       "true",
		"interim_results": "true",
	}
	for key, want := range checks {
		if got := q.Get(key); got != want {
			t.Errorf("%s = %q, want %q", key, got, want)
		}
	}
	if terms := q["keyterm"]; len(terms) != 2 {
		t.Errorf("keyterm values = %v, want 2 entries", terms)
	}
}

func TestBuildURLDetectsLanguageWhenUnset(t *testing.T) {
	raw, err := buildURL("wss://api.deepgram.com/v1/listen", Options{Model: "nova-2", SampleRate: 16000})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(raw, "detect_language=true") {
		t.Errorf("url %q missing detect_language", raw)
	}
	if strings.Contains(raw, "language=") && !strings.Contains(raw, "detect_language=") {
		t.Error("language param set without a configured language")
	}
}
