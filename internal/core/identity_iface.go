package core

import "github.com/dkeye/echomeet/internal/domain"

// IdentityProvider reports who the current user is.
type IdentityProvider interface {
	// CurrentIdentity returns nil when nobody is signed in.
	CurrentIdentity() *domain.Identity
	// OnIdentityChange registers fn for sign-in, sign-out and expiry. A nil
	// identity means the user is gone. The returned function unregisters fn.
	OnIdentityChange(fn func(*domain.Identity)) (unsubscribe func())
}
