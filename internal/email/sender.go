// Package email delivers onboarding notifications to employees: wallet
// provisioned, credential offered. The portal treats delivery as best-effort;
// a failed notification never fails the operation that triggered it.
package email

import "context"

// Sender delivers transactional email.
type Sender interface {
	Send(ctx context.Context, to, subject, body string) error
}
