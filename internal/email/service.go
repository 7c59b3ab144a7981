package email

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"strings"
)

// TemplateElement is used by a renderer to identify the different parts of an email template.
type TemplateElement string

const (
	ElementSubject TemplateElement = "subject"
	ElementBody    TemplateElement = "body"
)

// Renderer is responsible for rendering email templates.
type Renderer interface {
	Render(w io.Writer, name string, element TemplateElement, data any) error
}

// Sender is responsible for actually sending an email.
type Sender interface {
	Send(ctx context.Context, sender, recipient Address, subject, body string) error
}

// TemplateData is what templates are rendered with.
type TemplateData struct {
	// BaseURL is the public url of the application, without trailing slash.
	BaseURL string
	Data    any
}

// Service renders templated emails and hands them to a sender.
type Service struct {
	renderer Renderer
	sender   Sender
	from     Address
	baseURL  string
}

// NewService creates a new service that sends emails from the provided address.
func NewService(renderer Renderer, sender Sender, from Address, baseURL string) *Service {
	return &Service{
		renderer: renderer,
		sender:   sender,
		from:     from,
		baseURL:  strings.TrimRight(baseURL, "/"),
	}
}

// Send renders the named template with data and sends the result to the recipient.
func (s *Service) Send(ctx context.Context, name string, recipient Address, data any) error {
	td := TemplateData{
		BaseURL: s.baseURL,
		Data:    data,
	}

	var buf bytes.Buffer
	err := s.renderer.Render(&buf, name, ElementSubject, td)
	if err != nil {
		return fmt.Errorf("failed to render subject of %s: %w", name, err)
	}

	// Subjects are single line.
	subject := strings.Join(strings.Fields(buf.String()), " ")

	buf.Reset()
	err = s.renderer.Render(&buf, name, ElementBody, td)
	if err != nil {
		return fmt.Errorf("failed to render body of %s: %w", name, err)
	}

	err = s.sender.Send(ctx, s.from, recipient, subject, strings.TrimSpace(buf.String()))
	if err != nil {
		return fmt.Errorf("failed to send %s: %w", name, err)
	}

	return nil
}
