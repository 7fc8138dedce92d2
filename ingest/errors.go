package ingest

import "errors"

var (
	// ErrBadSignature indicates the payload signature did not verify.
	// Fails closed: the payload is never inspected.
	ErrBadSignature = errors.New("webhook signature verification failed")

	// ErrMissingEmail indicates a completed-checkout event carried no
	// customer email in any known field.
	ErrMissingEmail = errors.New("event has no customer email")

	// ErrMalformedEvent indicates a verified event whose payload did not
	// decode into the expected object shape. The sender authenticated,
	// but what it sent is unusable.
	ErrMalformedEvent = errors.New("event payload is malformed")

	// ErrSecretMissing indicates the processor was built without a
	// signing secret. Refusing to start beats accepting unsigned events.
	ErrSecretMissing = errors.New("webhook signing secret not configured")
)
