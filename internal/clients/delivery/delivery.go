// Package delivery hands rendered emails to the transactional email service.
package delivery

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"

	"github.com/relaycrm/relay-go/internal/domain"
	"github.com/relaycrm/relay-go/internal/failure"
)

const (
	serviceName = "email delivery"
	maxBodySize = 1 << 20

	HeaderIdempotencyKey = "Idempotency-Key"
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

func New(cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  cfg.APIKey,
		http:    &http.Client{Timeout: cfg.Timeout},
	}, nil
}

type address struct {
	Email string `json:"email"`
	Name  string `json:"name,omitempty"`
}

type sendMetadata struct {
	ExecutionID string `json:"execution_id"`
	MemberID    string `json:"member_id"`
}

type sendRequest struct {
	To       address      `json:"to"`
	From     address      `json:"from"`
	Subject  string       `json:"subject"`
	HTML     string       `json:"html"`
	Metadata sendMetadata `json:"metadata"`
}

type sendResponse struct {
	MessageID string `json:"messageId"`
	ID        string `json:"id"`
}

// Send posts one email. The execution id doubles as the idempotency key so a
// provider that honours it collapses accidental resends.
//
// Once the provider answered 2xx the email is out: an unreadable response
// body yields an empty receipt rather than an error.
func (c *Client) Send(ctx context.Context, email domain.OutboundEmail) (domain.SendReceipt, error) {
	if strings.TrimSpace(email.To.Email) == "" {
		return domain.SendReceipt{}, failure.New(failure.KindPermanent, "email delivery: recipient address is empty")
	}
	payload, err := json.Marshal(sendRequest{
		To:      address{Email: email.To.Email, Name: email.To.Name()},
		From:    address{Email: email.From.Email, Name: email.From.Name},
		Subject: email.Subject,
		HTML:    email.HTML,
		Metadata: sendMetadata{
			ExecutionID: email.ExecutionID,
			MemberID:    email.MemberID,
		},
	})
	if err != nil {
		return domain.SendReceipt{}, failure.Permanent(err, "marshal send request")
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/send", bytes.NewReader(payload))
	if err != nil {
		return domain.SendReceipt{}, failure.Permanent(err, "build send request")
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+c.apiKey)
	if email.ExecutionID != "" {
		req.Header.Set(HeaderIdempotencyKey, email.ExecutionID)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return domain.SendReceipt{}, failure.Transient(err, "call email delivery")
	}
	defer resp.Body.Close()

	body, readErr := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.SendReceipt{}, failure.HTTPError(serviceName, resp.StatusCode, string(body))
	}
	if readErr != nil {
		return domain.SendReceipt{}, nil
	}

	var out sendResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.SendReceipt{}, nil
	}
	id := strings.TrimSpace(out.MessageID)
	if id == "" {
		id = strings.TrimSpace(out.ID)
	}
	return domain.SendReceipt{MessageID: id}, nil
}
