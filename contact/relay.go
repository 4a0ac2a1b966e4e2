// Package contact relays contact form messages to the site owner by mail after a bot check.
package contact

import (
	"context"
	"strings"
	"time"

	"github.com/jellydator/ttlcache/v3"
	"github.com/kenshi-labs/unchained-dashboard/domain"
	"github.com/kenshi-labs/unchained-dashboard/metrics"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

const (
	ReasonMissingArguments   = "Missing arguments"
	ReasonVerificationFailed = "Verification failed"
)

var ErrTooManyRequests = errors.New("too many requests")

type Message struct {
	Subject string `json:"subject"`
	Body    string `json:"body"`
	Topic   string `json:"topic"`
	Name    string `json:"name"`
	Email   string `json:"email"`
	Token   string `json:"token"`
}

func (m Message) complete() bool {
	for _, field := range []string{m.Subject, m.Body, m.Topic, m.Name, m.Email, m.Token} {
		if strings.TrimSpace(field) == "" {
			return false
		}
	}
	return true
}

// Text renders the plain text mail body.
func (m Message) Text() string {
	return strings.Join([]string{
		"Subject: " + m.Subject,
		"Topic: " + m.Topic,
		"Name: " + m.Name,
		"Email: " + m.Email,
		"Body:",
		"",
		m.Body,
	}, "\n")
}

type Verification struct {
	Success bool
	Score   float64
}

type Verifier interface {
	Verify(ctx context.Context, token string) (*Verification, error)
}

type Mailer interface {
	Send(ctx context.Context, subject, text string) error
}

type Relay struct {
	verifier Verifier
	mailer   Mailer
	minScore float64
	senders  *ttlcache.Cache[string, struct{}]
	metrics  *metrics.Metrics
	logger   *zap.SugaredLogger
}

// NewRelay creates a relay that sends at most one message per sender address and throttle duration.
// Call Start to evict expired senders and Stop when done.
func NewRelay(verifier Verifier, mailer Mailer, minScore float64, throttle time.Duration, m *metrics.Metrics, logger *zap.SugaredLogger) *Relay {
	senders := ttlcache.New[string, struct{}](
		ttlcache.WithTTL[string, struct{}](throttle),
		ttlcache.WithDisableTouchOnHit[string, struct{}](),
	)
	return &Relay{
		verifier: verifier,
		mailer:   mailer,
		minScore: minScore,
		senders:  senders,
		metrics:  m,
		logger:   logger,
	}
}

func (r *Relay) Start() {
	go r.senders.Start()
}

func (r *Relay) Stop() {
	r.senders.Stop()
}

// Relay validates, verifies and sends the message. Rejections are returned as
// domain.ValidationError or ErrTooManyRequests, nothing is sent in that case.
func (r *Relay) Relay(ctx context.Context, message Message) error {
	if !message.complete() {
		return r.reject(&domain.ValidationError{Reason: ReasonMissingArguments}, "missing_arguments")
	}

	// the slot is held while the message is in flight and only kept if it was sent
	sender := strings.ToLower(strings.TrimSpace(message.Email))
	_, found := r.senders.GetOrSet(sender, struct{}{})
	if found {
		return r.reject(ErrTooManyRequests, "throttled")
	}

	verification, err := r.verifier.Verify(ctx, message.Token)
	if err != nil {
		r.senders.Delete(sender)
		r.logger.Warnw("Verification request failed.", "error", err)
		return r.reject(&domain.ValidationError{Reason: ReasonVerificationFailed}, "verification_failed")
	}
	if !verification.Success || verification.Score < r.minScore {
		r.senders.Delete(sender)
		r.logger.Infow("Verification rejected.", "success", verification.Success, "score", verification.Score)
		return r.reject(&domain.ValidationError{Reason: ReasonVerificationFailed}, "verification_failed")
	}

	err = r.mailer.Send(ctx, message.Subject, message.Text())
	if err != nil {
		r.senders.Delete(sender)
		r.metrics.IncContactRejected("mail_failed")
		return errors.Wrap(err, "sending mail")
	}
	r.metrics.IncContactSent()
	r.logger.Infow("Relayed contact message.", "topic", message.Topic)
	return nil
}

func (r *Relay) reject(err error, reason string) error {
	r.metrics.IncContactRejected(reason)
	return err
}
