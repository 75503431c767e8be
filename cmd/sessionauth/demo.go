package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"

	"github.com/reviewpulse/sessionauth"
	"github.com/reviewpulse/sessionauth/apiclient"
	"github.com/reviewpulse/sessionauth/provider/memory"
	"github.com/reviewpulse/sessionauth/session"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

const (
	demoEmail    = "viewer@brand.test"
	demoPassword = "correct horse battery"
)

func demoCmd() *cobra.Command {
	var interactive bool

	cmd := &cobra.Command{
		Use:   "demo",
		Short: "Walk through sign-in, a one-time code and a revoked session against an in-process provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd.Flags())
			if err != nil {
				return err
			}
			logger := newLogger(cmd.ErrOrStderr(), cfg.Logging.Level)
			return runDemo(cmd.Context(), cfg, logger, cmd.InOrStdin(), cmd.OutOrStdout(), interactive)
		},
	}
	cmd.Flags().BoolVarP(&interactive, "interactive", "i", false, "type the code yourself")
	return cmd
}

func runDemo(ctx context.Context, cfg cliConfig, logger zerolog.Logger, stdin io.Reader, out io.Writer, interactive bool) error {
	provider, err := memory.New(memory.Config{
		Users: []memory.User{
			{Email: demoEmail, Password: demoPassword, Role: "viewer", TenantID: "brand-1", MFA: sessionauth.MediumSMS, Phone: "+15550104567"},
			{Email: "ops@reviewpulse.test", Password: demoPassword, Role: "superadmin"},
		},
		Deliver: func(d memory.Delivery) {
			if interactive {
				fmt.Fprintf(out, "  [sms to %s] your code is %s\n", d.Destination, d.Code)
			}
		},
	})
	if err != nil {
		return err
	}

	step := func(format string, args ...any) { fmt.Fprintf(out, "==> "+format+"\n", args...) }

	rt := &runtime{cfg: cfg, logger: logger}
	defer rt.Close()
	if err := rt.build(ctx, provider, session.NewMemoryBackend()); err != nil {
		return err
	}
	engine := rt.engine
	routes := engine.Routes()

	step("started as %s", engine.State())
	step("gate for %s: %s", routes.Dashboard(), sessionauth.Decide(engine.State(), routes.Dashboard(), routes))

	step("signing in as %s", demoEmail)
	var id sessionauth.Identity
	if interactive {
		id, err = signIn(ctx, engine, demoEmail, demoPassword, bufio.NewScanner(stdin), out)
		if err != nil {
			return fmt.Errorf("sign in: %s", sessionauth.UserMessage(err))
		}
	} else {
		id, err = scriptedChallenge(ctx, engine, provider, step)
		if err != nil {
			return err
		}
	}
	step("signed in as %s, landing on %s", describe(id), sessionauth.LandingPath(id, "", routes))
	step("gate for %s: %s", routes.Superadmin(), sessionauth.Decide(engine.State(), routes.Superadmin(), routes))

	api := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attrs, ok := provider.Authorize(strings.TrimPrefix(r.Header.Get("Authorization"), "Bearer "))
		if !ok {
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]any{"tenant": attrs.TenantID, "products": []string{"p-1", "p-2"}})
	}))
	defer api.Close()

	client, err := apiclient.New(sessionauth.APIConfig{BaseURL: api.URL, Timeout: cfg.API.Timeout}, engine)
	if err != nil {
		return err
	}
	screen := sessionauth.WithCurrentPath(ctx, routes.Dashboard())

	var products map[string]any
	if err := client.GetJSON(screen, "/products", &products); err != nil {
		return err
	}
	step("API answered %v", products)

	step("an administrator revokes the session")
	provider.Revoke(demoEmail)
	err = client.GetJSON(screen, "/products", nil)
	step("API call now fails with %q; state is %s", sessionauth.UserMessage(err), engine.State())

	engine.Logout(ctx)
	snap := engine.MetricsSnapshot()
	step("done: %d code(s) accepted, %d rejected, %d session(s) revoked",
		snap.Counters[sessionauth.MetricMFASuccess],
		snap.Counters[sessionauth.MetricMFAFailure],
		snap.Counters[sessionauth.MetricSessionRevoked])
	return nil
}

// scriptedChallenge answers the code screen the way a hurried user would:
// a wrong guess, an early resend, then the delivered code.
func scriptedChallenge(ctx context.Context, engine *sessionauth.Engine, provider *memory.Provider, step func(string, ...any)) (sessionauth.Identity, error) {
	res, err := engine.Submit(ctx, demoEmail, demoPassword)
	if err != nil {
		return sessionauth.Identity{}, err
	}
	if !res.RequiresMFA {
		return res.Identity, nil
	}
	ch := res.Challenge
	step("code sent by %s to %s; state is %s", res.Medium, res.Destination, engine.State())

	if _, err := ch.Paste(ctx, "000000"); err != nil {
		step("typed 000000: %s", sessionauth.UserMessage(err))
	}
	if err := ch.Resend(ctx); err != nil {
		step("resend refused, %s of cooldown left", ch.Cooldown())
	}

	d, ok := provider.LastDelivery(demoEmail)
	if !ok {
		return sessionauth.Identity{}, fmt.Errorf("no code delivered")
	}
	step("pasting the delivered code")
	return ch.Paste(ctx, d.Code)
}
