package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/mvail/frontdesk/internal/domain"
	"github.com/mvail/frontdesk/internal/logging"
)

// PlivoMessenger is a direct HTTP client for the Plivo Message API,
// used for WhatsApp and SMS reminder delivery.
type PlivoMessenger struct {
	authID     string
	authToken  string
	fromNumber string
	baseURL    string
	client     *http.Client
	log        *logging.Logger
}

// NewPlivo creates a Plivo messenger.
func NewPlivo(authID, authToken, fromNumber string, log *logging.Logger) *PlivoMessenger {
	return &PlivoMessenger{
		authID:     authID,
		authToken:  authToken,
		fromNumber: fromNumber,
		baseURL:    "https://api.plivo.com/v1",
		client:     &http.Client{Timeout: 30 * time.Second},
		log:        log.Sub("messaging"),
	}
}

func (p *PlivoMessenger) Name() string { return "plivo" }

// Send posts one message. Network and 5xx failures are transient.
func (p *PlivoMessenger) Send(ctx context.Context, to, body string) error {
	payload, err := json.Marshal(map[string]string{
		"src":  p.fromNumber,
		"dst":  to,
		"text": body,
	})
	if err != nil {
		return fmt.Errorf("failed to marshal request: %w", err)
	}

	endpoint := fmt.Sprintf("%s/Account/%s/Message/", p.baseURL, p.authID)
	httpReq, err := http.NewRequestWithContext(ctx, "POST", endpoint, strings.NewReader(string(payload)))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.SetBasicAuth(p.authID, p.authToken)

	resp, err := p.client.Do(httpReq)
	if err != nil {
		return domain.Transient("message send", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(resp.Body)
		err := fmt.Errorf("API error (%d): %s", resp.StatusCode, string(respBody))
		if resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests {
			return domain.Transient("message send", err)
		}
		return err
	}

	p.log.Debug().Str("to", to).Msg("message sent")
	return nil
}
