package session

import (
	"context"
	"time"

	"github.com/sirupsen/logrus"

	"github.com/palmoil/agent/internal/apperror"
	"github.com/palmoil/agent/internal/model"
	"github.com/palmoil/agent/internal/secret"
	"github.com/palmoil/agent/internal/wire"
)

// DefaultAuthTimeout bounds each step of the auth sequence.
const DefaultAuthTimeout = 10 * time.Second

// TokenRefresher refreshes an OAuth access token ahead of expiry. The real
// implementation is an HTTP call to the broker's OAuth token endpoint; it is
// injected so auth sequencing can be tested without network access.
type TokenRefresher interface {
	Refresh(ctx context.Context, creds model.Credentials) (accessToken string, deadline time.Time, err error)
}

// Authenticator runs the strictly-ordered auth sequence: each
// step awaits its response before proceeding, and the connection is only
// flagged Ready after both app-auth and account-auth responses are in
// -- this is the fix for the historical "set
// authenticated=true before awaiting AccountAuthRes" bug class).
type Authenticator struct {
	router    *Router
	refresher TokenRefresher
	logger    *logrus.Entry
	timeout   time.Duration
}

// NewAuthenticator constructs an Authenticator. refresher may be nil in
// Demo-only deployments that never refresh.
func NewAuthenticator(router *Router, refresher TokenRefresher, logger *logrus.Entry) *Authenticator {
	if logger == nil {
		logger = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Authenticator{
		router:    router,
		refresher: refresher,
		logger:    logger.WithField("subsystem", "auth"),
		timeout:   DefaultAuthTimeout,
	}
}

// Authenticate runs the full sequence and returns the (possibly refreshed)
// credentials, or an error. It never mutates a "ready" flag itself --
// callers drive the ConnStateMachine transition only on a nil error return.
func (a *Authenticator) Authenticate(ctx context.Context, creds model.Credentials) (model.Credentials, error) {
	if err := a.appAuth(ctx, creds); err != nil {
		return creds, err
	}

	if creds.Environment.RequiresOAuthRefresh() && a.refresher != nil {
		creds = a.maybeRefresh(ctx, creds)
	}

	if err := a.accountAuth(ctx, creds); err != nil {
		return creds, err
	}

	return creds, nil
}

func (a *Authenticator) appAuth(ctx context.Context, creds model.Credentials) error {
	req := wire.ApplicationAuthReq{
		ClientID:     creds.ClientID.Reveal(),
		ClientSecret: creds.ClientSecret.Reveal(),
	}
	if err := a.router.Send(wire.Envelope{
		PayloadType: uint32(wire.PayloadApplicationAuthReq),
		Payload:     req.Marshal(),
	}); err != nil {
		return err
	}

	_, err := a.router.WaitFor(ctx, wire.PayloadApplicationAuthRes, a.timeout)
	if err != nil {
		return classifyAuthError(err)
	}
	return nil
}

// maybeRefresh refreshes the OAuth token if within the refresh window; on
// network failure it falls back to the existing token and logs a warning
// rather than aborting the auth sequence.
func (a *Authenticator) maybeRefresh(ctx context.Context, creds model.Credentials) model.Credentials {
	const refreshWindow = 5 * time.Minute
	if !creds.NeedsRefresh(time.Now(), refreshWindow) {
		return creds
	}

	token, deadline, err := a.refresher.Refresh(ctx, creds)
	if err != nil {
		a.logger.WithError(err).Warn("OAuth refresh failed; falling back to existing access token")
		return creds
	}

	creds.AccessToken = secret.New(token)
	creds.RefreshDeadline = deadline
	return creds
}

func (a *Authenticator) accountAuth(ctx context.Context, creds model.Credentials) error {
	req := wire.AccountAuthReq{
		AccessToken: creds.AccessToken.Reveal(),
		AccountID:   creds.AccountID.Reveal(),
	}
	if err := a.router.Send(wire.Envelope{
		PayloadType: uint32(wire.PayloadAccountAuthReq),
		Payload:     req.Marshal(),
	}); err != nil {
		return err
	}

	_, err := a.router.WaitFor(ctx, wire.PayloadAccountAuthRes, a.timeout)
	if err != nil {
		if _, code := errorCode(err); code == wire.CodeAlreadyLoggedIn {
			a.logger.Warn("account already logged in on broker side; accepting as success")
			return nil
		}
		return classifyAuthError(err)
	}
	return nil
}

// classifyAuthError turns a raw WaitFor error into the protocol-level kinds
// the broker enumerates.
func classifyAuthError(err error) error {
	if apperror.Is(err, apperror.KindTimeout) {
		return err
	}
	if e, ok := err.(*apperror.Error); ok && e.Kind == apperror.KindAPIError {
		if e.Code == wire.CodeClientNotAuthenticated {
			return apperror.New(apperror.KindNotAuthenticated, e.Message)
		}
		return apperror.New(apperror.KindAuthFailed, e.Message)
	}
	return err
}

func errorCode(err error) (apperror.Kind, string) {
	if e, ok := err.(*apperror.Error); ok {
		return e.Kind, e.Code
	}
	return 0, ""
}
