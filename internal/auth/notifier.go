package auth

import (
	"context"
	"sync"
	"time"

	"github.com/willemschots/dreambig/internal/email"
)

const (
	TemplateWelcome      = "welcome"
	TemplateVerification = "email-verification"
	TemplateReset        = "password-reset"
)

// Emailer is used to send templated emails.
type Emailer interface {
	Send(ctx context.Context, template string, to email.Address, data any) error
}

// ErrFunc is a function that handles errors.
type ErrFunc func(error)

// WelcomeEmail is the data for the welcome template.
type WelcomeEmail struct {
	Name string
}

// VerificationEmail is the data for the email verification template.
type VerificationEmail struct {
	Name      string
	Token     string
	ExpiresIn time.Duration
}

// ResetEmail is the data for the password reset template.
type ResetEmail struct {
	Name      string
	Token     string
	ExpiresIn time.Duration
}

// Notifier runs work in worker goroutines that outlive the request that
// started them. Delivery is best effort: failures are reported to the
// error handler and never reach the caller.
type Notifier struct {
	emailer    Emailer
	wg         *sync.WaitGroup
	errHandler ErrFunc
	timeout    time.Duration
}

// NewNotifier creates a notifier. timeout is the max duration a worker
// goroutine is allowed to take before it is cancelled.
func NewNotifier(emailer Emailer, errHandler ErrFunc, timeout time.Duration) *Notifier {
	return &Notifier{
		emailer:    emailer,
		wg:         &sync.WaitGroup{},
		errHandler: errHandler,
		timeout:    timeout,
	}
}

// Send sends a templated email in a worker goroutine.
func (n *Notifier) Send(template string, to email.Address, data any) {
	n.Go(func(ctx context.Context) error {
		return n.emailer.Send(ctx, template, to, data)
	})
}

// Go runs f in a worker goroutine with its own timeout.
func (n *Notifier) Go(f func(ctx context.Context) error) {
	n.wg.Add(1)
	go func() {
		defer n.wg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), n.timeout)
		defer cancel()

		err := f(ctx)
		if err != nil {
			n.errHandler(err)
		}
	}()
}

// Wait waits for all open workers to finish.
func (n *Notifier) Wait() {
	n.wg.Wait()
}
