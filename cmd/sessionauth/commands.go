package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/reviewpulse/sessionauth"
	"github.com/reviewpulse/sessionauth/apiclient"
	"github.com/reviewpulse/sessionauth/metrics/export/prometheus"
	"github.com/reviewpulse/sessionauth/middleware"
	"github.com/spf13/cobra"
)

// withRuntime loads config, opens the configured engine and runs fn.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) error) error {
	cfg, err := loadConfig(cmd.Flags())
	if err != nil {
		return err
	}
	logger := newLogger(cmd.ErrOrStderr(), cfg.Logging.Level)

	ctx := cmd.Context()
	rt, err := openRuntime(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer rt.Close()
	return fn(ctx, rt)
}

func loginCmd() *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in, answering a one-time code if one is sent",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				in := bufio.NewScanner(cmd.InOrStdin())
				out := cmd.OutOrStdout()

				if email == "" {
					email = prompt(in, out, "Email: ")
				}
				if password == "" {
					password = os.Getenv("SESSIONAUTH_PASSWORD")
				}
				if password == "" {
					password = prompt(in, out, "Password: ")
				}

				id, err := signIn(ctx, rt.engine, email, password, in, out)
				if err != nil {
					return errors.New(sessionauth.UserMessage(err))
				}
				fmt.Fprintf(out, "Signed in as %s\n", describe(id))
				fmt.Fprintf(out, "Landing page: %s\n", sessionauth.LandingPath(id, "", rt.engine.Routes()))
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&email, "email", "e", "", "account email")
	cmd.Flags().StringVarP(&password, "password", "p", "", "account password (or SESSIONAUTH_PASSWORD)")
	return cmd
}

// signIn submits credentials and, when a code is required, reads it from in.
// Typing "resend" asks for a new code.
func signIn(ctx context.Context, engine *sessionauth.Engine, email, password string, in *bufio.Scanner, out io.Writer) (sessionauth.Identity, error) {
	res, err := engine.Submit(ctx, email, password)
	if err != nil {
		return sessionauth.Identity{}, err
	}
	if !res.RequiresMFA {
		return res.Identity, nil
	}

	ch := res.Challenge
	dest := res.Destination
	if dest == "" {
		dest = "your " + strings.ToLower(res.Medium.String())
	}
	fmt.Fprintf(out, "A code was sent to %s.\n", dest)

	for {
		line, ok := readLine(in, out, "Code (or \"resend\"): ")
		if !ok {
			ch.Close()
			return sessionauth.Identity{}, sessionauth.ErrChallengeDiscarded
		}
		if strings.EqualFold(line, "resend") {
			if err := ch.Resend(ctx); err != nil {
				if errors.Is(err, sessionauth.ErrResendCooldown) {
					fmt.Fprintf(out, "You can resend in %s.\n", ch.Cooldown().Round(time.Second))
					continue
				}
				fmt.Fprintln(out, sessionauth.UserMessage(err))
				continue
			}
			fmt.Fprintln(out, "A new code is on its way.")
			continue
		}

		id, err := ch.Paste(ctx, line)
		if err == nil {
			return id, nil
		}
		if errors.Is(err, sessionauth.ErrChallengeDiscarded) {
			return sessionauth.Identity{}, err
		}
		fmt.Fprintln(out, sessionauth.UserMessage(err))
	}
}

func prompt(in *bufio.Scanner, out io.Writer, label string) string {
	line, _ := readLine(in, out, label)
	return line
}

// readLine reports false once input is exhausted.
func readLine(in *bufio.Scanner, out io.Writer, label string) (string, bool) {
	fmt.Fprint(out, label)
	if !in.Scan() {
		return "", false
	}
	return strings.TrimSpace(in.Text()), true
}

func whoamiCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Show the restored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				id, ok := rt.engine.Identity()
				if !ok {
					fmt.Fprintln(cmd.OutOrStdout(), "Not signed in")
					return nil
				}
				fmt.Fprintln(cmd.OutOrStdout(), describe(id))
				return nil
			})
		},
	}
}

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "End the session here and at the provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				rt.engine.Logout(ctx)
				fmt.Fprintln(cmd.OutOrStdout(), "Signed out")
				return nil
			})
		},
	}
}

func tokenCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "token",
		Short: "Print the current bearer token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				tok, ok := rt.engine.CurrentToken(ctx)
				if !ok {
					return errors.New("no token available")
				}
				fmt.Fprintln(cmd.OutOrStdout(), tok)
				return nil
			})
		},
	}
}

func routeCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "route <path>",
		Short: "Show what the access gate decides for a path",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				d := sessionauth.Decide(rt.engine.State(), args[0], rt.engine.Routes())
				fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", args[0], d)
				return nil
			})
		},
	}
}

func apiCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "api",
		Short: "Call the protected API",
	}

	var screen string
	get := &cobra.Command{
		Use:   "get <path>",
		Short: "GET a path below the API base URL and print the JSON",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				client, err := apiclient.New(rt.cfg.API, rt.engine)
				if err != nil {
					return err
				}
				if screen == "" {
					screen = rt.engine.Routes().Dashboard()
				}
				var body json.RawMessage
				if err := client.GetJSON(sessionauth.WithCurrentPath(ctx, screen), args[0], &body); err != nil {
					return err
				}
				return printJSON(cmd.OutOrStdout(), body)
			})
		},
	}
	get.Flags().StringVar(&screen, "screen", "", "screen the call is made from (defaults to the dashboard)")

	cmd.AddCommand(get)
	return cmd
}

func printJSON(w io.Writer, raw json.RawMessage) error {
	if len(raw) == 0 {
		return nil
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func serveCmd() *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve gated screens and /metrics for the local session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				handler, err := newServeMux(rt.engine)
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: addr, Handler: handler, ReadHeaderTimeout: 5 * time.Second}

				go func() {
					<-ctx.Done()
					shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					_ = srv.Shutdown(shutdown)
				}()

				rt.logger.Info().Str("addr", addr).Msg("serving")
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	return cmd
}

// newServeMux puts every screen behind the gate and exposes /metrics.
func newServeMux(engine *sessionauth.Engine) (http.Handler, error) {
	metrics, err := prometheus.Handler(engine)
	if err != nil {
		return nil, err
	}

	screens := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/plain; charset=utf-8")
		if id, ok := middleware.IdentityFromContext(r.Context()); ok {
			fmt.Fprintf(w, "%s\nsigned in as %s\n", r.URL.Path, describe(id))
			return
		}
		fmt.Fprintf(w, "%s\n", r.URL.Path)
	})

	mux := http.NewServeMux()
	mux.Handle("/metrics", metrics)
	mux.Handle("/", middleware.Gate(engine)(screens))
	return middleware.RequestID(mux), nil
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Report store health and session counters",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) error {
				out := cmd.OutOrStdout()
				h := rt.engine.Health(ctx)
				fmt.Fprintf(out, "state:   %s\n", h.State)
				fmt.Fprintf(out, "store:   %s (available=%v, %s)\n", rt.cfg.Store, h.StoreAvailable, h.StoreLatency.Round(time.Microsecond))
				for kind, n := range h.AuditDroppedByType {
					fmt.Fprintf(out, "audit dropped %s: %d\n", kind, n)
				}
				snap := rt.engine.MetricsSnapshot()
				for _, id := range sessionauth.MetricIDs() {
					if v := snap.Counters[id]; v > 0 {
						fmt.Fprintf(out, "%-24s %d\n", id.String()+":", v)
					}
				}
				return nil
			})
		},
	}
}
