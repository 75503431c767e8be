package sessionauth

import (
	"context"
	"time"

	"golang.org/x/oauth2"
)

const tokenFlightKey = "access-token"

// CurrentToken returns the bearer credential for authenticated calls.
//
// Every call asks the provider again since tokens rotate; concurrent
// callers share one in-flight request. Any failure, including an expired
// token or a panicking provider, yields ("", false). CurrentToken never
// returns an error.
func (e *Engine) CurrentToken(ctx context.Context) (string, bool) {
	tok := e.fetchToken(ctx)
	if tok == nil {
		e.metricInc(MetricTokenMiss)
		return "", false
	}
	e.metricInc(MetricTokenIssued)
	return tok.AccessToken, true
}

// Token is CurrentToken returning the oauth2 form, with the token type
// preserved for header construction.
func (e *Engine) Token(ctx context.Context) (*oauth2.Token, bool) {
	tok := e.fetchToken(ctx)
	if tok == nil {
		e.metricInc(MetricTokenMiss)
		return nil, false
	}
	e.metricInc(MetricTokenIssued)
	return tok, true
}

func (e *Engine) fetchToken(ctx context.Context) *oauth2.Token {
	v, _, _ := e.tokens.Do(tokenFlightKey, func() (out any, err error) {
		defer func() {
			if r := recover(); r != nil {
				e.logger.Error().Interface("panic", r).Msg("token provider panicked")
				out, err = (*oauth2.Token)(nil), nil
			}
		}()

		start := time.Now()
		tok, err := e.provider.AccessToken(ctx)
		e.observeProvider(start)
		if err != nil {
			e.logger.Debug().Err(classifyProviderError(err)).Msg("no access token")
			return (*oauth2.Token)(nil), nil
		}
		if tok == nil || !tok.Valid() {
			return (*oauth2.Token)(nil), nil
		}
		return tok, nil
	})

	tok, _ := v.(*oauth2.Token)
	if tok == nil {
		return nil
	}
	cp := *tok
	return &cp
}
