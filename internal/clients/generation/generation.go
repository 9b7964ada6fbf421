// Package generation calls the content generation service that drafts
// outreach emails.
package generation

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"

	"golang.org/x/oauth2"
	"golang.org/x/oauth2/clientcredentials"

	"github.com/relaycrm/relay-go/internal/domain"
	"github.com/relaycrm/relay-go/internal/failure"
)

const (
	serviceName = "content generation"
	modeEmail   = "generate_email"
	maxBodySize = 1 << 20
)

type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
}

// New builds a client. With client credentials configured, ctx bounds the
// token requests for the lifetime of the client.
func New(ctx context.Context, cfg Config) (*Client, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	hc := &http.Client{Timeout: cfg.Timeout}
	if cfg.TokenURL != "" {
		cc := clientcredentials.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			TokenURL:     cfg.TokenURL,
			Scopes:       cfg.Scopes,
		}
		hc = cc.Client(context.WithValue(ctx, oauth2.HTTPClient, &http.Client{Timeout: cfg.Timeout}))
		hc.Timeout = cfg.Timeout
	}
	return &Client{
		baseURL: strings.TrimRight(strings.TrimSpace(cfg.BaseURL), "/"),
		apiKey:  cfg.APIKey,
		http:    hc,
	}, nil
}

type contactPayload struct {
	Name    string `json:"name"`
	Email   string `json:"email"`
	Company string `json:"company"`
}

type generateRequest struct {
	Prompt      string         `json:"prompt"`
	Mode        string         `json:"mode"`
	Instruction string         `json:"instruction"`
	Subject     string         `json:"subject,omitempty"`
	Contact     contactPayload `json:"contact"`
}

type generateResponse struct {
	Subject   string `json:"subject"`
	Body      string `json:"body"`
	Rationale string `json:"rationale"`
}

func (c *Client) Generate(ctx context.Context, req domain.GenerationRequest) (domain.GeneratedContent, error) {
	payload, err := json.Marshal(generateRequest{
		Prompt:      req.Prompt,
		Mode:        modeEmail,
		Instruction: req.Instruction,
		Subject:     req.Subject,
		Contact: contactPayload{
			Name:    req.Contact.Name(),
			Email:   req.Contact.Email,
			Company: req.Contact.Company,
		},
	})
	if err != nil {
		return domain.GeneratedContent{}, failure.Permanent(err, "marshal generation request")
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL+"/generate", bytes.NewReader(payload))
	if err != nil {
		return domain.GeneratedContent{}, failure.Permanent(err, "build generation request")
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Accept", "application/json")
	if c.apiKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)
	}

	resp, err := c.http.Do(httpReq)
	if err != nil {
		return domain.GeneratedContent{}, failure.Transient(err, "call content generation")
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return domain.GeneratedContent{}, failure.Transient(err, "read generation response")
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return domain.GeneratedContent{}, failure.HTTPError(serviceName, resp.StatusCode, string(body))
	}

	var out generateResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return domain.GeneratedContent{}, failure.Transient(fmt.Errorf("decode generation response: %w", err), "call content generation")
	}
	if strings.TrimSpace(out.Body) == "" {
		return domain.GeneratedContent{}, failure.New(failure.KindTransient, "content generation returned no body")
	}
	return domain.GeneratedContent{
		Subject:   strings.TrimSpace(out.Subject),
		Body:      out.Body,
		Rationale: strings.TrimSpace(out.Rationale),
	}, nil
}
