package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	stripe "github.com/stripe/stripe-go/v74"
	"github.com/stripe/stripe-go/v74/paymentintent"
	"github.com/stripe/stripe-go/v74/webhook"

	"github.com/example/ride-dispatch/internal/models"
)

var (
	ErrNotConfigured = errors.New("payments not configured")
	ErrSignature     = errors.New("invalid webhook signature")
)

const (
	metaRideID  = "ride_id"
	metaRiderID = "rider_id"
)

// Intent is what a rider's client needs to confirm a card payment.
type Intent struct {
	ID           string `json:"id"`
	ClientSecret string `json:"client_secret"`
	Amount       int64  `json:"amount"`
	Currency     string `json:"currency"`
}

// Confirmation is a verified payment_intent.succeeded event for a ride.
type Confirmation struct {
	IntentID string
	RideID   string
	RiderID  string
}

// StripeClient wraps stripe-go PaymentIntents and webhook verification.
type StripeClient struct {
	intents       paymentintent.Client
	webhookSecret string
}

func NewStripeClient(apiKey, webhookSecret string) *StripeClient {
	return NewStripeClientWithBackend(apiKey, webhookSecret, stripe.GetBackend(stripe.APIBackend))
}

func NewStripeClientWithBackend(apiKey, webhookSecret string, b stripe.Backend) *StripeClient {
	return &StripeClient{
		intents:       paymentintent.Client{B: b, Key: apiKey},
		webhookSecret: webhookSecret,
	}
}

// CreateRideIntent opens an automatic-capture PaymentIntent for the ride fare.
// The ride and rider ids travel in metadata so the webhook can complete the ride.
func (s *StripeClient) CreateRideIntent(ctx context.Context, r models.Ride) (Intent, error) {
	if s == nil || s.intents.Key == "" {
		return Intent{}, ErrNotConfigured
	}
	params := &stripe.PaymentIntentParams{
		Amount:   stripe.Int64(r.Fare.Amount),
		Currency: stripe.String(strings.ToLower(r.Fare.Currency)),
	}
	params.Context = ctx
	params.AddMetadata(metaRideID, r.ID)
	params.AddMetadata(metaRiderID, r.RiderID)
	params.SetIdempotencyKey("ride-" + r.ID)
	pi, err := s.intents.New(params)
	if err != nil {
		return Intent{}, fmt.Errorf("create payment intent: %w", err)
	}
	return Intent{ID: pi.ID, ClientSecret: pi.ClientSecret, Amount: pi.Amount, Currency: string(pi.Currency)}, nil
}

// CancelIntent releases the PaymentIntent of a ride that will not be paid for.
func (s *StripeClient) CancelIntent(ctx context.Context, intentID string) error {
	if s == nil || s.intents.Key == "" {
		return ErrNotConfigured
	}
	params := &stripe.PaymentIntentCancelParams{
		CancellationReason: stripe.String(string(stripe.PaymentIntentCancellationReasonAbandoned)),
	}
	params.Context = ctx
	if _, err := s.intents.Cancel(intentID, params); err != nil {
		return fmt.Errorf("cancel payment intent %s: %w", intentID, err)
	}
	return nil
}

// ParseWebhook verifies the Stripe-Signature header and extracts a ride confirmation.
// ok is false for verified events that do not confirm a ride payment.
func (s *StripeClient) ParseWebhook(payload []byte, signature string) (c Confirmation, ok bool, err error) {
	if s == nil || s.webhookSecret == "" {
		return Confirmation{}, false, ErrNotConfigured
	}
	ev, err := webhook.ConstructEventWithOptions(payload, signature, s.webhookSecret,
		webhook.ConstructEventOptions{IgnoreAPIVersionMismatch: true})
	if err != nil {
		return Confirmation{}, false, fmt.Errorf("%w: %v", ErrSignature, err)
	}
	if string(ev.Type) != "payment_intent.succeeded" {
		return Confirmation{}, false, nil
	}
	var pi stripe.PaymentIntent
	if err := json.Unmarshal(ev.Data.Raw, &pi); err != nil {
		return Confirmation{}, false, fmt.Errorf("decode payment intent: %w", err)
	}
	c = Confirmation{IntentID: pi.ID, RideID: pi.Metadata[metaRideID], RiderID: pi.Metadata[metaRiderID]}
	if c.RideID == "" || c.RiderID == "" {
		return Confirmation{}, false, nil
	}
	return c, true, nil
}
