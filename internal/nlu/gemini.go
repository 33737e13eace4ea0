package nlu

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/mvail/frontdesk/internal/domain"
	"github.com/mvail/frontdesk/internal/logging"
)

// GeminiClassifier is a direct HTTP client for the Gemini API, asked to
// emit one JSON object per utterance.
type GeminiClassifier struct {
	apiKey string
	model  string
	client *http.Client
	log    *logging.Logger
}

// NewGemini creates a Gemini-backed classifier.
func NewGemini(apiKey, model string, log *logging.Logger) *GeminiClassifier {
	return &GeminiClassifier{
		apiKey: apiKey,
		model:  model,
		client: &http.Client{Timeout: 30 * time.Second},
		log:    log.Sub("nlu"),
	}
}

// Name returns the provider name.
func (g *GeminiClassifier) Name() string {
	return "gemini"
}

const systemPrompt = `You are the intent classifier for a medical clinic's phone agent.
Read the caller utterance and reply with ONLY a JSON object, no prose:
{
  "intent": "book" | "reschedule" | "cancel" | "followup" | "faq" | "unknown",
  "doctor": "doctor name or id if mentioned, else empty",
  "windowStart": "RFC3339 timestamp if a time preference is mentioned, else empty",
  "windowEnd": "RFC3339 timestamp closing the preference, else empty",
  "reason": "visit reason if mentioned, else empty",
  "relation": "self | child | parent | spouse | other, if mentioned, else empty",
  "relatedAppointmentId": "appointment id if the caller names one, else empty",
  "patientName": "caller's stated name, else empty",
  "affirmation": "yes" | "no" | "",
  "goodbye": true | false
}
Set fields only when the utterance states them. Never invent values.`

// Classify sends one utterance to Gemini and decodes the JSON verdict.
// Network and HTTP failures are transient; a malformed verdict is not.
func (g *GeminiClassifier) Classify(ctx context.Context, utterance, promptContext string) (*Result, error) {
	start := time.Now()

	prompt := systemPrompt
	if promptContext != "" {
		prompt += "\n\nClinic context:\n" + promptContext
	}
	prompt += "\n\nUtterance: " + utterance

	body := map[string]interface{}{
		"contents": []map[string]interface{}{
			{
				"role": "user",
				"parts": []map[string]string{
					{"text": prompt},
				},
			},
		},
		"generationConfig": map[string]interface{}{
			"maxOutputTokens":  512,
			"temperature":      0.0,
			"responseMimeType": "application/json",
		},
	}

	payload, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("https://generativelanguage.googleapis.com/v1beta/models/%s:generateContent?key=%s",
		g.model, url.QueryEscape(g.apiKey))

	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, domain.Transient("nlu classify", err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, domain.Transient("nlu classify", err)
	}

	if resp.StatusCode != http.StatusOK {
		err := fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return nil, domain.Transient("nlu classify", err)
		}
		return nil, err
	}

	var apiResp geminiResponse
	if err := json.Unmarshal(respBody, &apiResp); err != nil {
		return nil, fmt.Errorf("failed to parse response: %w", err)
	}

	text := apiResp.text()
	result, err := decodeVerdict(text, utterance)
	if err != nil {
		g.log.Warn().Str("raw", text).Err(err).Msg("unparseable nlu verdict, treating as unknown")
		return &Result{Intent: domain.IntentUnknown, Question: utterance}, nil
	}

	g.log.Debug().
		Str("intent", string(result.Intent)).
		Dur("duration", time.Since(start)).
		Msg("utterance classified")
	return result, nil
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []struct {
				Text string `json:"text"`
			} `json:"parts"`
		} `json:"content"`
	} `json:"candidates"`
}

func (r *geminiResponse) text() string {
	var sb strings.Builder
	for _, c := range r.Candidates {
		for _, p := range c.Content.Parts {
			sb.WriteString(p.Text)
		}
	}
	return sb.String()
}

// verdict is the wire shape the model is asked to produce.
type verdict struct {
	Intent               string `json:"intent"`
	Doctor               string `json:"doctor"`
	WindowStart          string `json:"windowStart"`
	WindowEnd            string `json:"windowEnd"`
	Reason               string `json:"reason"`
	Relation             string `json:"relation"`
	RelatedAppointmentID string `json:"relatedAppointmentId"`
	PatientName          string `json:"patientName"`
	Affirmation          string `json:"affirmation"`
	Goodbye              bool   `json:"goodbye"`
}

// decodeVerdict parses the model's JSON reply into a Result. Models
// sometimes wrap JSON in markdown fences despite instructions.
func decodeVerdict(text, utterance string) (*Result, error) {
	text = stripFences(text)

	var v verdict
	if err := json.Unmarshal([]byte(text), &v); err != nil {
		return nil, fmt.Errorf("decoding verdict: %w", err)
	}

	res := &Result{
		Intent:      parseIntent(v.Intent),
		PatientName: v.PatientName,
		Goodbye:     v.Goodbye,
		Question:    utterance,
	}
	switch v.Affirmation {
	case "yes":
		res.Affirmation = AffirmYes
	case "no":
		res.Affirmation = AffirmNo
	}

	res.Slots = domain.SlotUpdates{
		Intent:               res.Intent,
		PreferredDoctor:      v.Doctor,
		Reason:               v.Reason,
		Relation:             v.Relation,
		RelatedAppointmentID: v.RelatedAppointmentID,
	}
	if v.WindowStart != "" && v.WindowEnd != "" {
		start, err1 := time.Parse(time.RFC3339, v.WindowStart)
		end, err2 := time.Parse(time.RFC3339, v.WindowEnd)
		if err1 == nil && err2 == nil && end.After(start) {
			res.Slots.PreferredWindow = &domain.TimeWindow{Start: start, End: end}
		}
	}
	return res, nil
}

func stripFences(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(s, "```json")
	s = strings.TrimPrefix(s, "```")
	s = strings.TrimSuffix(s, "```")
	return strings.TrimSpace(s)
}

func parseIntent(s string) domain.Intent {
	switch domain.Intent(s) {
	case domain.IntentBook, domain.IntentReschedule, domain.IntentCancel,
		domain.IntentFollowup, domain.IntentFAQ:
		return domain.Intent(s)
	}
	return domain.IntentUnknown
}
