// Package services defines the business logic of the settlement engine:
// the quote lifecycle (RFQ → Quote → Order) and the negotiation lifecycle
// (Negotiation → messages → Order). This file centralizes common
// service-level error values so that they can be consistently returned by
// service methods and checked by callers.
//
// These errors are intended for internal use by the service layer;
// translation into user-facing messages or HTTP status codes is performed
// at the handler layer.
package services

import "errors"

// Lookup errors.
var (
	// ErrRFQNotFound indicates that the referenced RFQ does not exist.
	ErrRFQNotFound = errors.New("rfq not found")

	// ErrQuoteNotFound indicates that the referenced quote does not exist.
	ErrQuoteNotFound = errors.New("quote not found")

	// ErrNegotiationNotFound indicates that the referenced negotiation
	// does not exist.
	ErrNegotiationNotFound = errors.New("negotiation not found")

	// ErrProductNotFound indicates that the referenced product does not
	// exist or is inactive.
	ErrProductNotFound = errors.New("product not found")

	// ErrOrderNotFound indicates that the referenced order does not exist.
	ErrOrderNotFound = errors.New("order not found")
)

// Authorization and state-transition errors.
var (
	// ErrForbidden is returned when the actor is not a participant of the
	// negotiation or RFQ it is trying to act on.
	ErrForbidden = errors.New("not authorized for this resource")

	// ErrRFQNotOpen is returned when an operation requires an RFQ that is
	// still accepting quotes.
	ErrRFQNotOpen = errors.New("rfq is not open for quotes")

	// ErrQuoteAlreadyAccepted marks the idempotent no-op path of
	// AcceptQuote: the quote already settled and the existing settlement
	// is returned alongside this error.
	ErrQuoteAlreadyAccepted = errors.New("quote already accepted")

	// ErrNegotiationClosed is returned when posting to or settling a
	// negotiation whose isActive flag is already false. For repeated
	// accepts the existing order is returned alongside.
	ErrNegotiationClosed = errors.New("negotiation is closed")
)

// Validation errors.
var (
	// ErrInvalidPrice is returned when a price is missing, zero, or
	// negative.
	ErrInvalidPrice = errors.New("price must be a positive decimal")

	// ErrInvalidQuantity is returned when a quantity is missing or not a
	// positive integer.
	ErrInvalidQuantity = errors.New("quantity must be a positive integer")

	// ErrInvalidStatus is returned when a requested status transition is
	// not part of the lifecycle state machine.
	ErrInvalidStatus = errors.New("invalid status transition")

	// ErrEmptyMessage is returned when a negotiation message carries
	// neither text nor an offer.
	ErrEmptyMessage = errors.New("message or offer required")
)

// ErrAIDisabled is returned by AI-backed operations when no text
// generator is configured (AI_API_KEY unset).
var ErrAIDisabled = errors.New("ai provider is not configured")
