package whisper

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"
)

var httpClient = &http.Client{}

// inferenceTimeout bounds one batch request. Long utterances on slow
// hardware still finish well inside this.
const inferenceTimeout = 2 * time.Minute

// healthCheck hits the server root; whisper.cpp answers 200 once the model
// is loaded.
func healthCheck(ctx context.Context, port int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet,
		fmt.Sprintf("http://127.0.0.1:%d/", port), nil)
	if err != nil {
		return err
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	_, _ = io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("health endpoint returned %d", resp.StatusCode)
	}
	return nil
}

type inferenceResponse struct {
	Text  string `json:"text"`
	Error string `json:"error"`
}

// inference posts one utterance of PCM16 audio as a WAV attachment to the
// whisper.cpp /inference endpoint.
func inference(ctx context.Context, port int, pcm []byte, language, prompt string) (string, error) {
	var body bytes.Buffer
	mw := multipart.NewWriter(&body)

	part, err := mw.CreateFormFile("file", "audio.wav")
	if err != nil {
		return "", err
	}
	if err := writeWAV(part, pcm); err != nil {
		return "", fmt.Errorf("encode wav: %w", err)
	}
	if language != "" {
		if err := mw.WriteField("language", language); err != nil {
			return "", err
		}
	}
	if prompt != "" {
		if err := mw.WriteField("prompt", prompt); err != nil {
			return "", err
		}
	}
	if err := mw.WriteField("response_format", "json"); err != nil {
		return "", err
	}
	if err := mw.Close(); err != nil {
		return "", err
	}

	reqCtx, cancel := context.WithTimeout(ctx, inferenceTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodPost,
		fmt.Sprintf("http://127.0.0.1:%d/inference", port), &body)
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := httpClient.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	if resp.StatusCode != http.StatusOK {
		return "", fmt.Errorf("inference returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var out inferenceResponse
	if err := json.Unmarshal(raw, &out); err != nil {
		return "", fmt.Errorf("decode inference response: %w", err)
	}
	if out.Error != "" {
		return "", fmt.Errorf("inference error: %s", out.Error)
	}
	return strings.TrimSpace(out.Text), nil
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
