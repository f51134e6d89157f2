package hub

import (
	"context"

	"github.com/goliatone/go-auth-hub/social"
	"github.com/goliatone/hashid/pkg/hashid"
)

// CallbackRequest carries the query of a provider callback. SessionUser is
// the authenticated caller, when the callback arrived with a session.
type CallbackRequest struct {
	Provider    string
	Code        string
	State       string
	SessionUser string
}

// CallbackResult describes a completed login or link flow. Token is only
// set for login flows.
type CallbackResult struct {
	Flow      Flow   `json:"flow"`
	Provider  string `json:"provider"`
	UserID    string `json:"user_id"`
	Token     string `json:"token,omitempty"`
	IsNewUser bool   `json:"is_new_user"`
}

// LoginHint names the user a login should resolve to when the provider
// subject is not mapped yet. Only a trusted hint may resolve to a user that
// already exists; an untrusted one can only name a new user.
type LoginHint struct {
	UserID string
	// Trusted is set when the caller authenticated as a service or holds a
	// session for UserID.
	Trusted bool
}

type pendingFlow struct {
	flow   Flow
	hint   LoginHint
	userID string
	nonce  string
}

// SetProviderCredentials stores a per user client registration. Saving new
// credentials drops any previously linked tokens.
func (o *Orchestrator) SetProviderCredentials(ctx context.Context, userID, provider string, creds social.Credentials) (*LinkedAccount, error) {
	if _, err := o.exchanger(provider); err != nil {
		return nil, err
	}
	if _, err := o.RequireUser(ctx, userID); err != nil {
		return nil, err
	}
	if creds.ClientID == "" || creds.ClientSecret == "" {
		return nil, withMetadata(ErrMissingClientInfo, map[string]any{"provider": provider})
	}
	if creds.RedirectURI == "" {
		creds.RedirectURI = o.callbackURL(provider)
	}

	account := &LinkedAccount{
		UserID:       userID,
		Provider:     provider,
		ClientID:     creds.ClientID,
		ClientSecret: creds.ClientSecret,
		RedirectURI:  creds.RedirectURI,
	}
	if err := o.store.UpsertLinkedAccount(ctx, account); err != nil {
		return nil, err
	}
	return account, nil
}

// BeginLogin returns the provider authorization URL for a login flow.
func (o *Orchestrator) BeginLogin(ctx context.Context, provider string, hint LoginHint) (string, error) {
	ex, err := o.exchanger(provider)
	if err != nil {
		return "", err
	}

	creds, err := o.credentialsFor(nil, provider)
	if err != nil {
		return "", err
	}

	state, err := social.NewState()
	if err != nil {
		return "", withMetadata(ErrInternal, map[string]any{"cause": err.Error()})
	}

	var nonce string
	now := o.now().UTC()

	switch ex.Family() {
	case social.FamilyOIDC:
		if nonce, err = social.NewNonce(); err != nil {
			return "", withMetadata(ErrInternal, map[string]any{"cause": err.Error()})
		}
		err = o.store.SaveOIDCState(ctx, &OIDCState{
			State:     state,
			Nonce:       nonce,
			Provider:    provider,
			UserID:      hint.UserID,
			HintTrusted: hint.Trusted,
			CreatedAt:   now,
		})
	default:
		err = o.store.SaveAuthorizationState(ctx, &AuthorizationState{
			State:       state,
			UserID:      hint.UserID,
			HintTrusted: hint.Trusted,
			Provider:    provider,
			Flow:        FlowLogin,
			CreatedAt:   now,
		})
	}
	if err != nil {
		return "", err
	}

	return ex.AuthCodeURL(ctx, creds, state, nonce)
}

// BeginLink returns the provider authorization URL that attaches tokens to
// an existing user.
func (o *Orchestrator) BeginLink(ctx context.Context, provider, userID string) (string, error) {
	ex, err := o.exchanger(provider)
	if err != nil {
		return "", err
	}
	if ex.Family() != social.FamilyOAuth2 {
		return "", withMetadata(ErrInvalidRequest, map[string]any{
			"provider": provider,
			"fields":   "provider does not support linking",
		})
	}

	if _, err := o.RequireUser(ctx, userID); err != nil {
		return "", err
	}

	account, err := o.loadAccount(ctx, userID, provider)
	if err != nil {
		return "", err
	}

	creds, err := o.credentialsFor(account, provider)
	if err != nil {
		return "", err
	}

	state, err := social.NewState()
	if err != nil {
		return "", withMetadata(ErrInternal, map[string]any{"cause": err.Error()})
	}

	err = o.store.SaveAuthorizationState(ctx, &AuthorizationState{
		State:     state,
		UserID:    userID,
		Provider:  provider,
		Flow:      FlowLink,
		CreatedAt: o.now().UTC(),
	})
	if err != nil {
		return "", err
	}

	return ex.AuthCodeURL(ctx, creds, state, "")
}

// HandleCallback consumes the state and completes the flow it was issued
// for. The state is consumed even when the exchange fails.
func (o *Orchestrator) HandleCallback(ctx context.Context, req CallbackRequest) (*CallbackResult, error) {
	if req.Code == "" || req.State == "" {
		return nil, ErrMissingCodeOrState
	}

	ex, err := o.exchanger(req.Provider)
	if err != nil {
		return nil, err
	}

	pending, err := o.popState(ctx, ex, req)
	if err != nil {
		return nil, err
	}

	switch pending.flow {
	case FlowLogin:
		result, err := o.completeLogin(ctx, ex, req, pending)
		if err != nil {
			o.recordActivity(ctx, ActivityEvent{
				EventType: ActivityEventLoginFailure,
				UserID:    pending.userID,
				Provider:  req.Provider,
				Metadata:  map[string]any{"error": err.Error()},
			})
		}
		return result, err
	case FlowLink:
		if req.SessionUser != "" && req.SessionUser != pending.userID {
			return nil, withMetadata(ErrForbidden, map[string]any{"provider": req.Provider})
		}
		return o.completeLink(ctx, ex, req, pending)
	default:
		return nil, ErrInvalidState
	}
}

func (o *Orchestrator) popState(ctx context.Context, ex social.Exchanger, req CallbackRequest) (*pendingFlow, error) {
	invalid := func(err error) error {
		if HasTextCode(err, TextCodeNotFound) {
			return withMetadata(ErrInvalidState, map[string]any{"provider": req.Provider})
		}
		return err
	}

	if ex.Family() == social.FamilyOIDC {
		st, err := o.store.PopOIDCState(ctx, req.State)
		if err != nil {
			return nil, invalid(err)
		}
		if st.Provider != req.Provider {
			return nil, withMetadata(ErrInvalidState, map[string]any{"provider": req.Provider})
		}
		return &pendingFlow{
			flow:   FlowLogin,
			hint:   LoginHint{UserID: st.UserID, Trusted: st.HintTrusted},
			userID: st.UserID,
			nonce:  st.Nonce,
		}, nil
	}

	st, err := o.store.PopAuthorizationState(ctx, req.State)
	if err != nil {
		return nil, invalid(err)
	}
	if st.Provider != req.Provider {
		return nil, withMetadata(ErrInvalidState, map[string]any{"provider": req.Provider})
	}
	if st.Flow == FlowLink && st.UserID == "" {
		return nil, withMetadata(ErrInvalidState, map[string]any{"provider": req.Provider})
	}
	return &pendingFlow{
		flow:   st.Flow,
		hint:   LoginHint{UserID: st.UserID, Trusted: st.HintTrusted},
		userID: st.UserID,
	}, nil
}

func (o *Orchestrator) completeLogin(ctx context.Context, ex social.Exchanger, req CallbackRequest, pending *pendingFlow) (*CallbackResult, error) {
	creds, err := o.credentialsFor(nil, req.Provider)
	if err != nil {
		return nil, err
	}

	pctx, cancel := o.providerContext(ctx)
	defer cancel()

	token, err := ex.Exchange(pctx, creds, req.Code, req.State)
	if err != nil {
		return nil, upstreamError(req.Provider, "exchange", err)
	}

	subject, err := ex.Subject(pctx, token, pending.nonce)
	if err != nil {
		return nil, upstreamError(req.Provider, "subject", err)
	}

	userID, isNew, err := o.resolveUser(ctx, req.Provider, subject, pending.hint)
	if err != nil {
		return nil, err
	}

	now := o.now().UTC()
	err = o.store.UpsertIdentityMapping(ctx, &IdentityMapping{
		Provider:  req.Provider,
		Subject:   subject,
		UserID:    userID,
		CreatedAt: now,
		UpdatedAt: now,
	})
	if err != nil {
		return nil, err
	}

	err = o.saveTokens(ctx, userID, req.Provider, creds, token)
	if err != nil {
		return nil, err
	}

	session, err := o.sessions.Issue(userID, 0)
	if err != nil {
		return nil, err
	}

	o.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventLoginSuccess,
		UserID:    userID,
		Provider:  req.Provider,
		Metadata:  map[string]any{"is_new_user": isNew},
	})

	return &CallbackResult{
		Flow:      FlowLogin,
		Provider:  req.Provider,
		UserID:    userID,
		Token:     session,
		IsNewUser: isNew,
	}, nil
}

// resolveUser picks the hub user for a provider subject. An existing
// mapping always wins over the login hint, and an untrusted hint is
// ignored when it names a user that already exists.
func (o *Orchestrator) resolveUser(ctx context.Context, provider, subject string, hint LoginHint) (string, bool, error) {
	mapping, err := o.store.GetIdentityMapping(ctx, provider, subject)
	if err == nil {
		return mapping.UserID, false, nil
	}
	if !HasTextCode(err, TextCodeNotFound) {
		return "", false, err
	}

	userID := hint.UserID
	if userID != "" {
		_, err := o.store.GetUser(ctx, userID)
		switch {
		case err == nil && hint.Trusted:
			return userID, false, nil
		case err == nil:
			o.logger.Info("login hint %q ignored for %s subject: hint not trusted", userID, provider)
			userID = ""
		case !HasTextCode(err, TextCodeNotFound):
			return "", false, err
		}
	}

	if !o.config.GetAllowNewUsers() {
		return "", false, withMetadata(ErrRegistrationClosed, map[string]any{"provider": provider})
	}

	if userID == "" {
		id, err := hashid.NewUUID(provider + ":" + subject)
		if err != nil {
			return "", false, withMetadata(ErrInternal, map[string]any{"cause": err.Error()})
		}
		userID = id.String()
	}

	user, err := o.store.CreateUser(ctx, &User{ID: userID})
	if err != nil {
		return "", false, err
	}

	o.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventUserRegistered,
		UserID:    user.ID,
		Provider:  provider,
	})

	return user.ID, true, nil
}

func (o *Orchestrator) completeLink(ctx context.Context, ex social.Exchanger, req CallbackRequest, pending *pendingFlow) (*CallbackResult, error) {
	if _, err := o.RequireUser(ctx, pending.userID); err != nil {
		return nil, err
	}

	account, err := o.loadAccount(ctx, pending.userID, req.Provider)
	if err != nil {
		return nil, err
	}

	creds, err := o.credentialsFor(account, req.Provider)
	if err != nil {
		return nil, err
	}

	pctx, cancel := o.providerContext(ctx)
	defer cancel()

	token, err := ex.Exchange(pctx, creds, req.Code, req.State)
	if err != nil {
		return nil, upstreamError(req.Provider, "exchange", err)
	}

	if err := o.saveTokens(ctx, pending.userID, req.Provider, creds, token); err != nil {
		return nil, err
	}

	o.recordActivity(ctx, ActivityEvent{
		EventType: ActivityEventAccountLinked,
		UserID:    pending.userID,
		Provider:  req.Provider,
	})

	return &CallbackResult{
		Flow:     FlowLink,
		Provider: req.Provider,
		UserID:   pending.userID,
	}, nil
}

func (o *Orchestrator) saveTokens(ctx context.Context, userID, provider string, creds social.Credentials, token *social.Token) error {
	return o.store.UpsertLinkedAccount(ctx, &LinkedAccount{
		UserID:         userID,
		Provider:       provider,
		ClientID:       creds.ClientID,
		ClientSecret:   creds.ClientSecret,
		RedirectURI:    creds.RedirectURI,
		AccessToken:    token.AccessToken,
		RefreshToken:   token.RefreshToken,
		TokenExpiresAt: token.ExpiresAt,
	})
}

// loadAccount returns nil without error when the user never linked provider.
func (o *Orchestrator) loadAccount(ctx context.Context, userID, provider string) (*LinkedAccount, error) {
	account, err := o.store.GetLinkedAccount(ctx, userID, provider)
	if err != nil {
		if HasTextCode(err, TextCodeNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return account, nil
}

type logoutURLer interface {
	LogoutURL(ctx context.Context, idTokenHint string) (string, error)
}

// LogoutURL returns the end session redirect of the first provider that
// has one, or the frontend URL.
func (o *Orchestrator) LogoutURL(ctx context.Context, idTokenHint string) (string, error) {
	for _, ex := range o.exchangers {
		lo, ok := ex.(logoutURLer)
		if !ok {
			continue
		}

		pctx, cancel := o.providerContext(ctx)
		target, err := lo.LogoutURL(pctx, idTokenHint)
		cancel()
		if err != nil {
			return "", upstreamError(ex.Name(), "logout", err)
		}
		if target != "" {
			return target, nil
		}
	}
	return o.config.GetFrontendBaseURL(), nil
}
