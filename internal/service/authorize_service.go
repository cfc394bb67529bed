package service

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"slices"
	"time"

	"github.com/dlddu/tiny-oidc/internal/crypto"
	"github.com/dlddu/tiny-oidc/internal/domain"
	"github.com/dlddu/tiny-oidc/internal/logger"
	"github.com/dlddu/tiny-oidc/internal/repository"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

const (
	responseTypeCode = "code"
	promptNone       = "none"
	promptConsent    = "consent"
	codeBytes        = 32
)

// AuthorizeRequest holds the query parameters of an authorization request
type AuthorizeRequest struct {
	ResponseType        string
	ClientID            string
	RedirectURI         string
	Scope               string
	State               string
	CodeChallenge       string
	CodeChallengeMethod string
	Nonce               string
	Prompt              string
}

// ConsentPrompt describes what the consent screen must show
type ConsentPrompt struct {
	ConsentID       string           `json:"consent_id"`
	Client          ClientPublicInfo `json:"client"`
	RequestedScopes []string         `json:"requested_scopes"`
	NewScopes       []string         `json:"new_scopes"`
	ExpiresAt       time.Time        `json:"expires_at"`
}

// AuthorizationResult is either a redirect (code or error) or a consent prompt
type AuthorizationResult struct {
	RedirectURL string
	Consent     *ConsentPrompt
}

// AuthorizeService runs the authorization endpoint. Errors returned from its
// methods must be sent as a direct response; errors for a trusted client and
// redirect URI are delivered in AuthorizationResult.RedirectURL instead.
type AuthorizeService struct {
	clients  *ClientService
	consents *ConsentService
	codes    repository.AuthCodeRepository
	users    repository.UserDirectory
	pending  *PendingStore
	issuer   string
	codeTTL  time.Duration
	now      func() time.Time
}

// NewAuthorizeService creates a new AuthorizeService instance
func NewAuthorizeService(
	clients *ClientService,
	consents *ConsentService,
	stores *repository.Stores,
	pending *PendingStore,
	issuer string,
	codeTTL time.Duration,
) *AuthorizeService {
	return &AuthorizeService{
		clients:  clients,
		consents: consents,
		codes:    stores.Codes,
		users:    stores.Users,
		pending:  pending,
		issuer:   issuer,
		codeTTL:  codeTTL,
		now:      time.Now,
	}
}

// Authorize validates an authorization request for the signed-in userID
func (s *AuthorizeService) Authorize(ctx context.Context, userID string, req AuthorizeRequest) (*AuthorizationResult, error) {
	client, err := s.trustedClient(ctx, req.ClientID, req.RedirectURI)
	if err != nil {
		return nil, err
	}

	fail := func(e *OAuthError) (*AuthorizationResult, error) {
		logger.From(ctx).Info("authorization request rejected",
			logger.ClientID(client.ClientID),
			logger.UserID(userID),
			zap.String("error", e.Code),
		)
		return s.errorRedirect(req.RedirectURI, req.State, e), nil
	}

	if req.ResponseType != responseTypeCode {
		return fail(NewUnsupportedResponseTypeError("response_type must be code"))
	}
	if req.CodeChallenge == "" {
		return fail(NewInvalidRequestError("code_challenge is required"))
	}
	if req.CodeChallengeMethod != "" && req.CodeChallengeMethod != PKCEMethodS256 {
		return fail(NewInvalidRequestError("code_challenge_method must be S256"))
	}
	if !validChallenge(req.CodeChallenge) {
		return fail(NewInvalidRequestError("code_challenge is malformed"))
	}

	scopes := ParseScopes(req.Scope)
	if !slices.Contains(scopes, domain.ScopeOpenID) {
		return fail(NewInvalidScopeError("scope must include openid"))
	}
	if _, denied := s.clients.ValidateScopes(client, scopes); len(denied) > 0 {
		return fail(NewInvalidScopeError("scope not allowed for this client: " + JoinScopes(denied)))
	}

	if err := s.requireActiveUser(ctx, userID); err != nil {
		var oe *OAuthError
		if errors.As(err, &oe) {
			return fail(oe)
		}
		return nil, err
	}

	check, err := s.consents.CheckConsentNeeded(ctx, userID, client.ClientID, scopes, client.IsFirstParty)
	if err != nil {
		return nil, err
	}
	needConsent := check.Needed || (req.Prompt == promptConsent && !client.IsFirstParty)

	if needConsent && req.Prompt == promptNone {
		return fail(NewConsentRequiredError("user consent is required"))
	}

	pa := &PendingAuthorization{
		UserID:              userID,
		ClientID:            client.ClientID,
		RedirectURI:         req.RedirectURI,
		Scopes:              scopes,
		State:               req.State,
		CodeChallenge:       req.CodeChallenge,
		CodeChallengeMethod: PKCEMethodS256,
		Nonce:               req.Nonce,
	}

	if needConsent {
		pa.ExpiresAt = s.now().Add(s.pending.TTL())
		consentID, err := s.pending.Save(ctx, pa)
		if err != nil {
			return nil, err
		}
		newScopes := check.MissingScopes
		if newScopes == nil {
			newScopes = []string{}
		}
		return &AuthorizationResult{Consent: &ConsentPrompt{
			ConsentID:       consentID,
			Client:          PublicInfo(client),
			RequestedScopes: scopes,
			NewScopes:       newScopes,
			ExpiresAt:       pa.ExpiresAt,
		}}, nil
	}

	return s.issueCode(ctx, pa)
}

// ApproveConsent completes a pending authorization the user agreed to
func (s *AuthorizeService) ApproveConsent(ctx context.Context, userID, consentID string) (*AuthorizationResult, error) {
	pa, err := s.popPending(ctx, userID, consentID)
	if err != nil {
		return nil, err
	}

	client, err := s.trustedClient(ctx, pa.ClientID, pa.RedirectURI)
	if err != nil {
		return nil, err
	}
	if _, denied := s.clients.ValidateScopes(client, pa.Scopes); len(denied) > 0 {
		return s.errorRedirect(pa.RedirectURI, pa.State, NewInvalidScopeError("scope no longer allowed for this client")), nil
	}
	if err := s.requireActiveUser(ctx, userID); err != nil {
		var oe *OAuthError
		if errors.As(err, &oe) {
			return s.errorRedirect(pa.RedirectURI, pa.State, oe), nil
		}
		return nil, err
	}

	if _, err := s.consents.GrantConsent(ctx, userID, client.ClientID, pa.Scopes); err != nil {
		return nil, err
	}
	return s.issueCode(ctx, pa)
}

// DenyConsent ends a pending authorization with access_denied
func (s *AuthorizeService) DenyConsent(ctx context.Context, userID, consentID string) (*AuthorizationResult, error) {
	pa, err := s.popPending(ctx, userID, consentID)
	if err != nil {
		return nil, err
	}

	logger.From(ctx).Info("consent denied", logger.UserID(userID), logger.ClientID(pa.ClientID))
	return s.errorRedirect(pa.RedirectURI, pa.State, NewAccessDeniedError("the user denied the request")), nil
}

func (s *AuthorizeService) popPending(ctx context.Context, userID, consentID string) (*PendingAuthorization, error) {
	pa, err := s.pending.Pop(ctx, consentID)
	if err != nil {
		if errors.Is(err, ErrPendingNotFound) {
			return nil, NewInvalidRequestError("consent request is unknown or expired")
		}
		return nil, err
	}
	if pa.UserID != userID {
		logger.From(ctx).Warn("consent decision by a different user",
			logger.UserID(userID),
			logger.ClientID(pa.ClientID),
		)
		return nil, NewInvalidRequestError("consent request is unknown or expired")
	}
	return pa, nil
}

// trustedClient resolves the client and redirect URI. Until both are
// verified, errors must not be sent to the redirect URI.
func (s *AuthorizeService) trustedClient(ctx context.Context, clientID, redirectURI string) (*domain.Client, error) {
	if clientID == "" {
		return nil, NewInvalidRequestError("client_id is required")
	}
	if redirectURI == "" {
		return nil, NewInvalidRequestError("redirect_uri is required")
	}

	client, err := s.clients.LookupClient(ctx, clientID)
	if err != nil {
		if errors.Is(err, ErrClientNotFound) {
			return nil, NewInvalidRequestError("unknown client_id")
		}
		return nil, err
	}
	if !s.clients.ValidateRedirectURI(client, redirectURI) {
		return nil, NewInvalidRequestError("redirect_uri does not match a registered redirect URI")
	}
	if !client.IsApproved() {
		return nil, NewUnauthorizedClientError("client is not approved")
	}
	return client, nil
}

func (s *AuthorizeService) requireActiveUser(ctx context.Context, userID string) error {
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			return NewAccessDeniedError("user account is not available")
		}
		return fmt.Errorf("failed to load user: %w", err)
	}
	if !user.IsActive() {
		return NewAccessDeniedError("user account is not active")
	}
	return nil
}

func (s *AuthorizeService) issueCode(ctx context.Context, pa *PendingAuthorization) (*AuthorizationResult, error) {
	raw, err := crypto.RandomToken(codeBytes)
	if err != nil {
		return nil, err
	}

	now := s.now()
	code := &domain.AuthorizationCode{
		ID:                  uuid.NewString(),
		CodeHash:            crypto.HashToken(raw),
		ClientID:            pa.ClientID,
		UserID:              pa.UserID,
		RedirectURI:         pa.RedirectURI,
		Scopes:              pa.Scopes,
		CodeChallenge:       pa.CodeChallenge,
		CodeChallengeMethod: pa.CodeChallengeMethod,
		Nonce:               pa.Nonce,
		State:               pa.State,
		ExpiresAt:           now.Add(s.codeTTL),
		CreatedAt:           now,
	}
	if err := s.codes.Create(ctx, code); err != nil {
		return nil, fmt.Errorf("failed to store authorization code: %w", err)
	}

	logger.From(ctx).Info("authorization code issued",
		logger.ClientID(pa.ClientID),
		logger.UserID(pa.UserID),
	)
	return &AuthorizationResult{RedirectURL: s.redirect(pa.RedirectURI, url.Values{
		"code":  {raw},
		"state": {pa.State},
	})}, nil
}

func (s *AuthorizeService) errorRedirect(redirectURI, state string, e *OAuthError) *AuthorizationResult {
	params := url.Values{"error": {e.Code}, "state": {state}}
	if e.ErrorDescription != "" {
		params.Set("error_description", e.ErrorDescription)
	}
	return &AuthorizationResult{RedirectURL: s.redirect(redirectURI, params)}
}

// redirect appends params and the RFC 9207 iss parameter to redirectURI,
// keeping any query it already has. Empty values are dropped.
func (s *AuthorizeService) redirect(redirectURI string, params url.Values) string {
	u, err := url.Parse(redirectURI)
	if err != nil {
		return redirectURI
	}
	q := u.Query()
	for k, vs := range params {
		if len(vs) > 0 && vs[0] != "" {
			q.Set(k, vs[0])
		}
	}
	q.Set("iss", s.issuer)
	u.RawQuery = q.Encode()
	return u.String()
}
