package httpapi

import (
	"context"
	"net/http"
)

// Delivery kinds.
const (
	DeliveryPasswordReset     = "password_reset"
	DeliveryEmailVerification = "email_verification"
)

// Delivery is an out-of-band token for a user, typically sent by email.
type Delivery struct {
	Kind   string
	Email  string
	UserID string
	Token  string
}

// Deliverer sends challenge tokens to users. Failures are logged and do
// not change the HTTP response.
type Deliverer interface {
	Deliver(ctx context.Context, d Delivery) error
}

// DelivererFunc adapts a function to Deliverer.
type DelivererFunc func(ctx context.Context, d Delivery) error

func (f DelivererFunc) Deliver(ctx context.Context, d Delivery) error {
	return f(ctx, d)
}

func (a *API) deliver(r *http.Request, d Delivery) {
	if a.deliverer == nil {
		a.logger.Warn("no deliverer configured, token dropped", "kind", d.Kind, "user_id", d.UserID)
		return
	}
	if err := a.deliverer.Deliver(r.Context(), d); err != nil {
		a.logger.Error("token delivery failed", "kind", d.Kind, "user_id", d.UserID, "error", err)
	}
}
