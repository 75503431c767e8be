package apiclient

import (
	"context"
	"net/http"

	"golang.org/x/oauth2"
)

// Authenticator supplies bearer tokens and reacts to rejected ones.
// *sessionauth.Engine implements it.
type Authenticator interface {
	Token(ctx context.Context) (*oauth2.Token, bool)
	HandleUnauthorized(ctx context.Context)
}

// Transport is an http.RoundTripper that authenticates requests.
//
// Requests go out without an Authorization header when no token is
// available; the API decides what anonymous callers may see.
type Transport struct {
	Auth Authenticator
	// Base is the underlying transport. Nil means http.DefaultTransport.
	Base http.RoundTripper
}

func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	ctx := req.Context()

	out := req
	if t.Auth != nil {
		if tok, ok := t.Auth.Token(ctx); ok {
			// RoundTrippers must not modify the caller's request.
			out = req.Clone(ctx)
			tok.SetAuthHeader(out)
		}
	}

	resp, err := t.base().RoundTrip(out)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusUnauthorized && t.Auth != nil {
		t.Auth.HandleUnauthorized(ctx)
	}
	return resp, nil
}

func (t *Transport) base() http.RoundTripper {
	if t.Base != nil {
		return t.Base
	}
	return http.DefaultTransport
}
