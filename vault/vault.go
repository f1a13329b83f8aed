// Package vault is the reserved surface for server-side encrypted entry
// storage. The authentication service only brokers handshakes and
// credentials; entry content stays client-side encrypted, so every vault
// operation is an explicitly unavailable capability rather than a dead
// route.
package vault

import "errors"

// ErrUnavailable is returned for every vault operation.
var ErrUnavailable = errors.New("vault service is not available")

// Service is the placeholder vault capability. All operations fail with
// ErrUnavailable.
type Service struct{}

// NewService returns the unavailable vault capability.
func NewService() *Service { return &Service{} }

// Available reports whether the vault capability is enabled. It never is in
// this deployment.
func (s *Service) Available() bool { return false }
