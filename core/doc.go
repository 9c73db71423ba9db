// Package core implements the credential lifecycle for a mail provider
// OAuth2 authorization-code-with-PKCE integration: configuration, the
// token and account domain model, error classification, pending-state
// and token stores, refresh serialization, and observability plumbing.
//
// The authorization flow itself lives in the auth package; the generic
// retry executor lives in the retry package. Both build on the contracts
// defined here.
package core
