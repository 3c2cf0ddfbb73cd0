package main

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/urfave/cli/v3"
	"golang.org/x/oauth2"

	"github.com/desertthunder/songbird/internal/models"
	"github.com/desertthunder/songbird/internal/server"
	"github.com/desertthunder/songbird/internal/services"
	"github.com/desertthunder/songbird/internal/shared"
)

// accountRow is the JSON shape of `accounts list --json`. Secrets are never printed.
type accountRow struct {
	Index       int    `json:"index"`
	DisplayName string `json:"display_name"`
	ClientID    string `json:"client_id"`
	UserID      string `json:"user_id,omitempty"`
	Active      bool   `json:"active"`
	LoggedIn    bool   `json:"logged_in"`
}

// AccountsList prints every account, marking the active one.
func (r *Runner) AccountsList(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	list, err := r.store.List()
	if err != nil {
		return err
	}

	projection := r.store.Projection()
	rows := make([]accountRow, len(list))
	for i, a := range list {
		rows[i] = accountRow{
			Index:       i + 1,
			DisplayName: a.DisplayName,
			ClientID:    a.ClientID,
			UserID:      a.User(),
			Active:      a.IsActive,
			LoggedIn:    shared.FileExists(projection.CachePath(a)),
		}
	}

	if cmd.Bool("json") {
		return r.writeJSON(rows, true)
	}

	if len(rows) == 0 {
		r.writePlain("No accounts yet. Add one with: songbird accounts add\n")
		return nil
	}

	r.writePlainHeader("Accounts")
	for _, row := range rows {
		marker := " "
		if row.Active {
			marker = "●"
		}
		login := "not logged in"
		if row.LoggedIn {
			login = "logged in"
		}
		r.writePlain("%s %d. %s  [%s]", marker, row.Index, row.DisplayName, login)
		if row.UserID != "" {
			r.writePlain("  user %s", row.UserID)
		}
		r.writePlain("\n")
	}
	return nil
}

// AccountsAdd registers an account. The first account added becomes active.
func (r *Runner) AccountsAdd(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	a := models.NewAccount(cmd.String("name"), cmd.String("client-id"), cmd.String("client-secret"))
	if err := a.Validate(); err != nil {
		return err
	}

	if cmd.Bool("verify") {
		if err := r.verify(ctx, a); err != nil {
			return err
		}
	}

	index, err := r.store.Add(a)
	if err != nil {
		return err
	}

	r.writePlain("✓ Added %s as account %d\n", a.DisplayName, index+1)
	if _, active, err := r.store.Active(); err == nil && active == index {
		r.writePlain("It is now the active account.\n")
	}
	r.writePlain("Next: songbird accounts login %q\n", a.DisplayName)
	return nil
}

// AccountsRemove deletes an account and its cached login.
func (r *Runner) AccountsRemove(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	index, a, err := r.resolveAccount(cmd.StringArg("account"))
	if err != nil {
		return err
	}
	if err := r.store.Remove(index); err != nil {
		return err
	}

	r.writePlain("✓ Removed %s\n", a.DisplayName)
	r.writePlain("%s\n", r.store.CurrentAccountInfo())
	return nil
}

// AccountsUse activates an account and projects its credentials for the downloader.
func (r *Runner) AccountsUse(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	index, _, err := r.resolveAccount(cmd.StringArg("account"))
	if err != nil {
		return err
	}

	a, err := r.switcher.Switch(index)
	if err != nil {
		return err
	}

	r.writePlain("✓ Switched to %s\n", a.DisplayName)
	return nil
}

// AccountsCurrent prints the active account.
func (r *Runner) AccountsCurrent(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	if _, _, err := r.switcher.Current(); err != nil && !errors.Is(err, shared.ErrNoActiveAccount) {
		return err
	}
	return r.writePlain("%s\n", r.store.CurrentAccountInfo())
}

// AccountsVerify checks an account's client credentials with a client-credentials token request.
func (r *Runner) AccountsVerify(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	_, a, err := r.resolveAccount(cmd.StringArg("account"))
	if err != nil {
		return err
	}
	if err := r.verify(ctx, a); err != nil {
		return err
	}

	r.writePlain("✓ Credentials for %s are valid\n", a.DisplayName)
	return nil
}

func (r *Runner) verify(ctx context.Context, a models.Account) error {
	auth, err := services.NewSpotifyAuth(a, r.config.Server.RedirectURI, nil)
	if err != nil {
		return err
	}

	r.logger.Info("verifying credentials", "account", a.DisplayName)
	if err := auth.VerifyCredentials(ctx); err != nil {
		r.logger.Error("credential check failed", "account", a.DisplayName, "err", err)
		return err
	}
	return nil
}

// AccountsLogin runs the authorization code flow for an account and stores the token as its cache.
//
// Starts a local HTTP server on the redirect URI, opens the browser for user authorization, and waits for the
// callback.
func (r *Runner) AccountsLogin(ctx context.Context, cmd *cli.Command) error {
	if err := r.open(); err != nil {
		return err
	}

	index, a, err := r.resolveAccount(cmd.StringArg("account"))
	if err != nil {
		return err
	}

	auth, err := services.NewSpotifyAuth(a, r.config.Server.RedirectURI, nil)
	if err != nil {
		return err
	}

	token, err := r.doOAuth(ctx, auth, a.DisplayName, cmd.Duration("timeout"))
	if err != nil {
		return err
	}

	blob, err := services.EncodeTokenCache(token, services.SpotifyScopes)
	if err != nil {
		return err
	}
	if err := r.store.StoreCache(index, blob); err != nil {
		return err
	}

	if user, err := auth.CurrentUser(ctx, token); err != nil {
		r.logger.Warn("failed to fetch user profile", "account", a.DisplayName, "err", err)
	} else if err := r.store.SetUserID(index, user.ID); err != nil {
		r.logger.Warn("failed to record user id", "account", a.DisplayName, "err", err)
	} else {
		r.writePlain("✓ Logged in as %s\n", user.ID)
	}

	r.writePlain("✓ Token cached for %s\n", a.DisplayName)
	return nil
}

func (r *Runner) doOAuth(ctx context.Context, auth *services.SpotifyAuth, account string, timeout time.Duration) (*oauth2.Token, error) {
	addr, err := server.CallbackAddr(auth.Config().RedirectURL)
	if err != nil {
		return nil, err
	}

	oauthHandler := server.NewOAuthHandler(auth.Config())
	router := server.NewBasicRouter()
	router.Handler(oauthHandler)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("%w: failed to listen on %s: %v", shared.ErrNetwork, addr, err)
	}

	httpServer := &http.Server{Handler: router}
	serverErrors := make(chan error, 1)
	go func() {
		r.logger.Infof("starting OAuth callback server for %s at %v", account, addr)
		if err := httpServer.Serve(ln); err != nil && err != http.ErrServerClosed {
			serverErrors <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			r.logger.Warn("error shutting down server", "error", err)
		}
	}()

	authURL := auth.AuthURL(oauthHandler.State())
	r.writePlain("→ Opening browser to authorize %s...\n", account)
	if err := shared.OpenBrowser(authURL); err != nil {
		r.logger.Warnf("failed to open browser automatically %v", err)
		r.writePlainln("⚠ Could not open browser automatically.")
		r.writePlain("Please open this URL in your browser:\n%s\n\n", authURL)
	}

	if timeout <= 0 {
		timeout = 2 * time.Minute
	}
	r.writePlain("→ Waiting for authorization (%s timeout)...\n", timeout)

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	var result server.OAuthResult
	select {
	case result = <-oauthHandler.Result():
	case err := <-serverErrors:
		return nil, fmt.Errorf("%w: callback server: %v", shared.ErrNetwork, err)
	case <-timer.C:
		return nil, fmt.Errorf("%w: authorization timed out after %s", shared.ErrTimeout, timeout)
	case <-ctx.Done():
		return nil, ctx.Err()
	}

	if result.Error() != nil {
		return nil, result.Error()
	}
	if result.Token == nil {
		return nil, fmt.Errorf("%w: no token received", shared.ErrInvalidCredentials)
	}
	return result.Token, nil
}
