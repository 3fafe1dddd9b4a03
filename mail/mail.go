// Package mail delivers verification codes to users. The engine only
// depends on the [Sender] interface; [Resend] is a ready-made
// implementation backed by the Resend HTTP API.
package mail

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"html"
	"io"
	"net/http"
	"time"
)

// ErrSendFailed is returned when the provider rejects or fails the
// delivery request.
var ErrSendFailed = errors.New("email send failed")

// Sender delivers a verification code to the given address.
type Sender interface {
	Send(ctx context.Context, to, code string) error
}

const (
	resendEndpoint = "https://api.resend.com/emails"
	defaultTimeout = 10 * time.Second
)

// Resend sends verification emails through the Resend API.
type Resend struct {
	apiKey  string
	from    string
	subject string
	client  *http.Client
}

// NewResend creates a Resend sender. from is the From header
// (e.g. "Acme <no-reply@acme.example>").
func NewResend(apiKey, from string) (*Resend, error) {
	if apiKey == "" {
		return nil, errors.New("mail: api key required")
	}
	if from == "" {
		return nil, errors.New("mail: from address required")
	}
	return &Resend{
		apiKey:  apiKey,
		from:    from,
		subject: "Your verification code",
		client:  &http.Client{Timeout: defaultTimeout},
	}, nil
}

type resendRequest struct {
	From    string   `json:"from"`
	To      []string `json:"to"`
	Subject string   `json:"subject"`
	HTML    string   `json:"html"`
}

// Send posts the verification email. Any non-2xx response maps to
// ErrSendFailed; the provider's body is not surfaced to callers.
func (r *Resend) Send(ctx context.Context, to, code string) error {
	body, err := json.Marshal(resendRequest{
		From:    r.from,
		To:      []string{to},
		Subject: r.subject,
		HTML: fmt.Sprintf(
			"<p>Your verification code is <strong>%s</strong>.</p><p>It expires in 10 minutes.</p>",
			html.EscapeString(code),
		),
	})
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, resendEndpoint, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	req.Header.Set("Authorization", "Bearer "+r.apiKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := r.client.Do(req)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrSendFailed, err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, io.LimitReader(resp.Body, 4096))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: provider returned %d", ErrSendFailed, resp.StatusCode)
	}
	return nil
}
