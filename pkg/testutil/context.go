package testutil

import (
	"net/http"

	"trustledger/pkg/requestcontext"
)

// WithAuth puts an authenticated actor on the request, as the bearer token
// middleware would.
func WithAuth(req *http.Request, actorID, sessionID string) *http.Request {
	return req.WithContext(requestcontext.WithActor(req.Context(), actorID, sessionID))
}

// WithClient sets the client address and user agent seen by audit records.
func WithClient(req *http.Request, ip, userAgent string) *http.Request {
	return req.WithContext(requestcontext.WithClientMetadata(req.Context(), ip, userAgent))
}
