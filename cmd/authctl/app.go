package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/storefront/authsession/internal/clientstore"
	"github.com/storefront/authsession/internal/guard"
	"github.com/storefront/authsession/internal/handlers"
	"github.com/storefront/authsession/internal/jwtpayload"
	"github.com/storefront/authsession/internal/models"
)

// keyRefreshToken sits next to the snapshot keys in the same backend. It is
// only needed by this client, so the snapshot itself does not carry it.
const keyRefreshToken = "auth.refreshToken"

// sessionTTL bounds session-scope entries kept in Redis.
const sessionTTL = 24 * time.Hour

var errNotSignedIn = errors.New("not signed in")

type options struct {
	server      string
	storePath   string
	sessionPath string
	redisAddr   string
	clientID    string
	scope       string
	timeout     time.Duration
}

type app struct {
	opts     options
	store    *clientstore.Store
	backends map[clientstore.Scope]clientstore.Backend
	http     *http.Client
	logger   *logrus.Logger
}

func defaultStorePath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		return ".authsession.json"
	}
	return filepath.Join(dir, "authsession", "session.json")
}

// defaultSessionPath is keyed by the parent shell, so a session-scope login
// lasts as long as the shell that ran it.
func defaultSessionPath() string {
	dir := os.Getenv("XDG_RUNTIME_DIR")
	if dir == "" {
		dir = os.TempDir()
	}
	return filepath.Join(dir, "authsession", fmt.Sprintf("shell-%d.json", os.Getppid()))
}

func (o options) parseScope() (clientstore.Scope, error) {
	switch o.scope {
	case "persistent", "":
		return clientstore.ScopePersistent, nil
	case "session":
		return clientstore.ScopeSession, nil
	default:
		return 0, fmt.Errorf("unknown scope %q (want persistent or session)", o.scope)
	}
}

func newApp(opts options) *app {
	backends := map[clientstore.Scope]clientstore.Backend{
		clientstore.ScopePersistent: clientstore.NewFileBackend(opts.storePath),
		clientstore.ScopeSession:    clientstore.NewFileBackend(opts.sessionPath),
	}
	if opts.redisAddr != "" {
		client := redis.NewClient(&redis.Options{Addr: opts.redisAddr})
		backends[clientstore.ScopePersistent] = clientstore.NewRedisBackend(client, opts.clientID, 0)
		backends[clientstore.ScopeSession] = clientstore.NewRedisBackend(
			client, fmt.Sprintf("%s:shell-%d", opts.clientID, os.Getppid()), sessionTTL)
	}

	logger := logrus.New()
	logger.SetOutput(io.Discard)

	return &app{
		opts: opts,
		store: clientstore.New(
			clientstore.WithBackend(clientstore.ScopePersistent, backends[clientstore.ScopePersistent]),
			clientstore.WithBackend(clientstore.ScopeSession, backends[clientstore.ScopeSession]),
		),
		backends: backends,
		http:     &http.Client{Timeout: opts.timeout},
		logger:   logger,
	}
}

func rootCmd() *cobra.Command {
	opts := options{}

	cmd := &cobra.Command{
		Use:           "authctl",
		Short:         "Manage a local session against the auth API",
		SilenceUsage:  true,
		SilenceErrors: true,
	}

	cmd.PersistentFlags().StringVar(&opts.server, "server", "http://localhost:8080", "Auth API base URL")
	cmd.PersistentFlags().StringVar(&opts.storePath, "store", defaultStorePath(), "Session file for persistent scope")
	cmd.PersistentFlags().StringVar(&opts.sessionPath, "session-store", defaultSessionPath(), "Session file for session scope (one per shell)")
	cmd.PersistentFlags().StringVar(&opts.redisAddr, "redis", "", "Keep sessions in Redis at this address instead of files")
	cmd.PersistentFlags().StringVar(&opts.clientID, "client-id", "default", "Client namespace when using Redis")
	cmd.PersistentFlags().StringVar(&opts.scope, "scope", "persistent", "Storage scope: persistent or session")
	cmd.PersistentFlags().DurationVar(&opts.timeout, "timeout", 10*time.Second, "HTTP timeout")

	cmd.AddCommand(
		loginCmd(&opts),
		refreshCmd(&opts),
		statusCmd(&opts),
		whoamiCmd(&opts),
		logoutCmd(&opts),
	)
	return cmd
}

func loginCmd(opts *options) *cobra.Command {
	var email, password string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Sign in and store the session",
		RunE: func(cmd *cobra.Command, args []string) error {
			if password == "" {
				password = os.Getenv("AUTHCTL_PASSWORD")
			}
			return newApp(*opts).login(cmd.Context(), cmd.OutOrStdout(), email, password)
		},
	}

	cmd.Flags().StringVar(&email, "email", "", "Account email")
	cmd.Flags().StringVar(&password, "password", "", "Account password (or AUTHCTL_PASSWORD)")
	cmd.MarkFlagRequired("email")
	return cmd
}

func refreshCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "refresh",
		Short: "Rotate the stored refresh token and renew the access token",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newApp(*opts).refresh(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func statusCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newApp(*opts).status(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func whoamiCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "whoami",
		Short: "Ask the server who the stored token belongs to",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newApp(*opts).whoami(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func logoutCmd(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "logout",
		Short: "Sign out and clear the stored session",
		RunE: func(cmd *cobra.Command, args []string) error {
			return newApp(*opts).logout(cmd.Context(), cmd.OutOrStdout())
		},
	}
}

func (a *app) login(ctx context.Context, out io.Writer, email, password string) error {
	scope, err := a.opts.parseScope()
	if err != nil {
		return err
	}

	body, _ := json.Marshal(handlers.LoginRequest{Email: email, Password: password})
	var resp handlers.SessionResponse
	if err := a.call(ctx, http.MethodPost, "/api/v1/auth/login", "", body, &resp); err != nil {
		return err
	}
	if err := a.saveSession(ctx, scope, &resp); err != nil {
		return err
	}

	fmt.Fprintf(out, "Signed in as %s (expires %s)\n", resp.User.Email, resp.AccessTokenExpiresAt)
	return nil
}

func (a *app) refresh(ctx context.Context, out io.Writer) error {
	scope, err := a.opts.parseScope()
	if err != nil {
		return err
	}

	refreshToken, err := a.storedRefreshToken(ctx, scope)
	if err != nil {
		return err
	}

	body, _ := json.Marshal(handlers.RefreshTokenRequest{RefreshToken: refreshToken})
	var resp handlers.SessionResponse
	if err := a.call(ctx, http.MethodPost, "/api/v1/auth/refresh", "", body, &resp); err != nil {
		return err
	}
	if err := a.saveSession(ctx, scope, &resp); err != nil {
		return err
	}

	fmt.Fprintf(out, "Session renewed (expires %s)\n", resp.AccessTokenExpiresAt)
	return nil
}

func (a *app) saveSession(ctx context.Context, scope clientstore.Scope, resp *handlers.SessionResponse) error {
	if resp.User == nil {
		return fmt.Errorf("session response carried no user")
	}

	snap := clientstore.Snapshot{
		AccessToken:          &resp.AccessToken,
		AccessTokenExpiresAt: &resp.AccessTokenExpiresAt,
		User:                 resp.User,
	}
	if err := a.store.Write(ctx, snap, scope); err != nil {
		return fmt.Errorf("store session: %w", err)
	}
	if err := a.backends[scope].Set(ctx, keyRefreshToken, resp.RefreshToken); err != nil {
		return fmt.Errorf("store refresh token: %w", err)
	}
	return nil
}

func (a *app) status(ctx context.Context, out io.Writer) error {
	scope, err := a.opts.parseScope()
	if err != nil {
		return err
	}

	snap, err := a.store.Read(ctx, scope)
	if err != nil {
		return err
	}
	if snap == nil {
		fmt.Fprintf(out, "No %s storage available\n", scope)
		return nil
	}

	g := guard.New(guard.NewStoredSessionState(a.store, scope), "login", a.logger)
	if d := g.CanActivate(ctx, "status"); !d.Allow {
		fmt.Fprintf(out, "Not signed in; run `authctl %s`\n", d.Redirect)
		return nil
	}

	if snap.User != nil {
		fmt.Fprintf(out, "User:    %s %s\n", snap.User.Email, roleOf(snap.User))
	}
	fmt.Fprintf(out, "Expires: %s\n", *snap.AccessTokenExpiresAt)

	if claims, ok := jwtpayload.Decode[jwtpayload.Claims](*snap.AccessToken).Value(); ok {
		fmt.Fprintf(out, "Subject: %s\nType:    %s\n", claims.Sub, claims.Type)
	} else {
		fmt.Fprintln(out, "Token:   (unreadable)")
	}
	return nil
}

func (a *app) whoami(ctx context.Context, out io.Writer) error {
	scope, err := a.opts.parseScope()
	if err != nil {
		return err
	}
	token, err := a.storedAccessToken(ctx, scope)
	if err != nil {
		return err
	}

	var user models.AuthUser
	if err := a.call(ctx, http.MethodGet, "/api/v1/me", token, nil, &user); err != nil {
		return err
	}

	fmt.Fprintf(out, "%s %s\n", user.Email, roleOf(&user))
	return nil
}

// logout revokes the refresh token on the server, then clears local state
// even if the server call fails.
func (a *app) logout(ctx context.Context, out io.Writer) error {
	scope, err := a.opts.parseScope()
	if err != nil {
		return err
	}

	token, tokenErr := a.storedAccessToken(ctx, scope)
	refreshToken, _ := a.storedRefreshToken(ctx, scope)
	if tokenErr == nil {
		body, _ := json.Marshal(handlers.RefreshTokenRequest{RefreshToken: refreshToken})
		if err := a.call(ctx, http.MethodPost, "/api/v1/auth/logout", token, body, nil); err != nil {
			fmt.Fprintf(out, "Server logout failed: %v\n", err)
		}
	}

	if err := a.store.Clear(ctx, scope); err != nil {
		return err
	}
	if err := a.backends[scope].Remove(ctx, keyRefreshToken); err != nil {
		return err
	}
	fmt.Fprintln(out, "Signed out")
	return nil
}

func (a *app) storedAccessToken(ctx context.Context, scope clientstore.Scope) (string, error) {
	snap, err := a.store.Read(ctx, scope)
	if err != nil {
		return "", err
	}
	if snap == nil || snap.AccessToken == nil {
		return "", errNotSignedIn
	}
	return *snap.AccessToken, nil
}

func (a *app) storedRefreshToken(ctx context.Context, scope clientstore.Scope) (string, error) {
	token, ok, err := a.backends[scope].Get(ctx, keyRefreshToken)
	if err != nil {
		return "", err
	}
	if !ok || token == "" {
		return "", errNotSignedIn
	}
	return token, nil
}

func (a *app) call(ctx context.Context, method, path, token string, body []byte, out interface{}) error {
	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(a.opts.server, "/")+path, reader)
	if err != nil {
		return err
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := a.http.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		var apiErr handlers.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error.Message != "" {
			return fmt.Errorf("%s: %s", apiErr.Error.Code, apiErr.Error.Message)
		}
		return fmt.Errorf("unexpected status %d", resp.StatusCode)
	}

	if out == nil {
		return nil
	}
	return json.NewDecoder(resp.Body).Decode(out)
}

func roleOf(u *models.AuthUser) string {
	if u.Role == nil {
		return ""
	}
	return "(" + string(*u.Role) + ")"
}
