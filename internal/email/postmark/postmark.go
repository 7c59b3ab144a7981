package postmark

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"

	"github.com/willemschots/dreambig/internal/email"
	"github.com/willemschots/dreambig/internal/krypto"
)

// Settings contains the settings for the Postmark API.
type Settings struct {
	// APIURL is the base url of the API, emails are posted to its /email path.
	APIURL        *url.URL
	ServerToken   krypto.Secret
	MessageStream string
}

// Sender is an email sender that sends emails using the Postmark API.
type Sender struct {
	client   *http.Client
	settings Settings
}

// NewSender creates a new sender.
func NewSender(client *http.Client, s Settings) *Sender {
	return &Sender{
		client:   client,
		settings: s,
	}
}

type emailJSON struct {
	From          string
	To            string
	Subject       string
	TextBody      string
	MessageStream string
}

type response struct {
	ErrorCode int
	Message   string
	MessageID string
}

// maxResponseBytes bounds how much of a response is read.
const maxResponseBytes = 64 << 10

// Postmark error codes for recipients that will never receive our emails.
// See https://postmarkapp.com/developer/api/overview#error-codes
const (
	codeInvalidTo         = 300
	codeInactiveRecipient = 406
)

// APIError is returned when Postmark did not accept an email.
type APIError struct {
	StatusCode int
	ErrorCode  int
	Message    string
}

func (e *APIError) Error() string {
	return fmt.Sprintf("postmark: status %d, error code %d: %s", e.StatusCode, e.ErrorCode, e.Message)
}

// Undeliverable reports whether the recipient can't receive emails,
// sending again won't help.
func (e *APIError) Undeliverable() bool {
	return e.ErrorCode == codeInvalidTo || e.ErrorCode == codeInactiveRecipient
}

// Send sends an email using the Postmark API.
func (s *Sender) Send(ctx context.Context, from, recipient email.Address, subject, body string) error {
	data := emailJSON{
		From:          string(from),
		To:            string(recipient),
		Subject:       subject,
		TextBody:      body,
		MessageStream: s.settings.MessageStream,
	}

	var b bytes.Buffer
	err := json.NewEncoder(&b).Encode(data)
	if err != nil {
		return fmt.Errorf("failed to encode email json: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.settings.APIURL.JoinPath("email").String(), &b)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Postmark-Server-Token", string(s.settings.ServerToken.SecretValue()))

	resp, err := s.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send request: %w", err)
	}

	defer resp.Body.Close()

	var res response
	err = json.NewDecoder(io.LimitReader(resp.Body, maxResponseBytes)).Decode(&res)
	if err != nil {
		return &APIError{
			StatusCode: resp.StatusCode,
			Message:    fmt.Sprintf("undecodable response: %v", err),
		}
	}

	if res.ErrorCode != 0 || resp.StatusCode != http.StatusOK {
		return &APIError{
			StatusCode: resp.StatusCode,
			ErrorCode:  res.ErrorCode,
			Message:    res.Message,
		}
	}

	return nil
}
