package hub

import (
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/gofiber/fiber/v2"
	"github.com/goliatone/go-auth-hub/social"
)

const defaultListLimit = 20

// HTTPControllerOption customizes the controller.
type HTTPControllerOption func(*HTTPController)

// WithControllerLogger sets the logger.
func WithControllerLogger(logger Logger) HTTPControllerOption {
	return func(h *HTTPController) {
		if logger != nil {
			h.Logger = logger
		}
	}
}

// WithRouteAuthenticator overrides the guards built from the orchestrator.
func WithRouteAuthenticator(auth *RouteAuthenticator) HTTPControllerOption {
	return func(h *HTTPController) {
		if auth != nil {
			h.auth = auth
		}
	}
}

// HTTPController exposes the hub over HTTP.
type HTTPController struct {
	orch     *Orchestrator
	jobs     JobQueue
	posts    PostStore
	auth     *RouteAuthenticator
	register *RegisterUserHandler
	Logger   Logger
}

// NewHTTPController wires the orchestrator and the stores into handlers.
func NewHTTPController(orch *Orchestrator, jobs JobQueue, posts PostStore, opts ...HTTPControllerOption) *HTTPController {
	h := &HTTPController{
		orch:     orch,
		jobs:     jobs,
		posts:    posts,
		register: NewRegisterUserHandler(orch),
		Logger:   orch.logger,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(h)
		}
	}

	if h.auth == nil {
		h.auth = NewRouteAuthenticator(orch)
	}

	return h
}

// Auth returns the route guards.
func (h *HTTPController) Auth() *RouteAuthenticator {
	return h.auth
}

// RegisterRoutes mounts every hub route on r.
func (h *HTTPController) RegisterRoutes(r fiber.Router) {
	service := h.auth.ServiceRequired()
	internal := h.auth.InternalRequired()
	session := h.auth.SessionRequired()
	optional := h.auth.SessionOptional()
	either := h.auth.ServiceOrSession()
	caller := h.auth.ServiceOrOptionalSession()

	r.Get("/health", h.Health)

	// service
	r.Post("/register", service, h.Register)
	r.Post("/jobs", service, h.CreateJob)
	r.Get("/jobs/next", service, h.NextJob)
	r.Get("/jobs/:id", service, h.GetJob)
	r.Post("/jobs/:id/result", service, h.CompleteJob)
	r.Post("/telegram/verify/complete", service, h.CompleteChallenge)

	// shared by service callers and sessions
	r.Post("/posts", either, h.SavePost)
	r.Get("/posts/latest", either, h.LatestPost)
	r.Get("/posts", session, h.ListPosts)

	// internal
	r.Post("/internal/posts", internal, h.SavePost)
	r.Get("/internal/posts/latest", internal, h.LatestPost)
	r.Get("/internal/posts", internal, h.ListPosts)

	// session
	r.Get("/profile", session, h.Profile)
	r.Patch("/profile", session, h.UpdateProfile)
	r.Delete("/profile/telegram", session, h.DetachHandle)
	r.Post("/profile/telegram/challenge", session, h.CreateChallenge)

	// login
	r.Get("/auth/logout", h.Logout)
	r.Get("/auth/:provider/login", caller, h.BeginLogin)

	for _, name := range h.providerNames() {
		ex := h.orch.exchangers[name]
		r.Get("/"+name+"/callback", optional, h.callback(name))

		if ex.Family() != social.FamilyOAuth2 {
			continue
		}
		r.Post("/"+name+"/set", service, h.setCredentials(name))
		r.Get("/"+name+"/link", service, h.linkURL(name))
		r.Get("/auth/"+name+"/link", session, h.beginSessionLink(name))

		if _, ok := ex.(social.Publisher); ok {
			r.Post("/"+name+"/publish", service, h.publish(name))
		}
	}
}

func (h *HTTPController) providerNames() []string {
	names := h.orch.Providers()
	sort.Strings(names)
	return names
}

func (h *HTTPController) Health(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"ok":   true,
		"time": h.orch.now().UTC().Format(time.RFC3339),
	})
}

func (h *HTTPController) fail(c *fiber.Ctx, err error) error {
	return h.auth.ErrorHandler(c, err)
}

func (h *HTTPController) bind(c *fiber.Ctx, payload any) error {
	if len(c.Body()) == 0 {
		return nil
	}
	if err := c.BodyParser(payload); err != nil {
		return withMetadata(ErrInvalidRequest, map[string]any{"reason": err.Error()})
	}
	return nil
}

// RegisterPayload is the body of POST /register
type RegisterPayload struct {
	UserID string `json:"user_id"`
}

func (h *HTTPController) Register(c *fiber.Ctx) error {
	payload := new(RegisterPayload)
	if err := h.bind(c, payload); err != nil {
		return h.fail(c, err)
	}

	result := &RegisterUserResult{}
	msg := RegisterUserMessage{UserID: payload.UserID, Result: result}
	if err := h.register.Execute(c.UserContext(), msg); err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"ok":      true,
		"user_id": result.User.ID,
		"created": result.Created,
	})
}

// JobPayload is the body of POST /jobs
type JobPayload struct {
	UserID  string         `json:"user_id"`
	Payload map[string]any `json:"payload"`
}

// Validate will validate the payload
func (p JobPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.UserID, validation.Required),
	)
}

func (h *HTTPController) CreateJob(c *fiber.Ctx) error {
	payload := new(JobPayload)
	if err := h.bind(c, payload); err != nil {
		return h.fail(c, err)
	}
	if err := payload.Validate(); err != nil {
		return h.fail(c, validationError(err))
	}

	ctx := c.UserContext()
	if _, err := h.orch.RequireUser(ctx, payload.UserID); err != nil {
		return h.fail(c, err)
	}

	job, err := h.jobs.Create(ctx, &Job{UserID: payload.UserID, Payload: payload.Payload})
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"ok": true, "job_id": job.ID})
}

func (h *HTTPController) NextJob(c *fiber.Ctx) error {
	job, err := h.jobs.ClaimNext(c.UserContext())
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"ok": true, "job": job})
}

func (h *HTTPController) GetJob(c *fiber.Ctx) error {
	job, err := h.jobs.Get(c.UserContext(), c.Params("id"))
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"ok": true, "job": job})
}

// JobResultPayload is the body of POST /jobs/:id/result
type JobResultPayload struct {
	Result string `json:"result"`
}

func (h *HTTPController) CompleteJob(c *fiber.Ctx) error {
	payload := new(JobResultPayload)
	if err := h.bind(c, payload); err != nil {
		return h.fail(c, err)
	}

	if err := h.jobs.Complete(c.UserContext(), c.Params("id"), payload.Result); err != nil {
		return h.fail(c, err)
	}
	return c.JSON(fiber.Map{"ok": true})
}

// PostPayload is the body of the post routes. UserID is required for
// service callers and optional for sessions.
type PostPayload struct {
	UserID  string `json:"user_id"`
	Title   string `json:"title"`
	Content string `json:"content"`
}

// Validate will validate the payload
func (p PostPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.Title, validation.Length(0, 300)),
		validation.Field(&p.Content, validation.Required),
	)
}

// owner resolves whose data a post route works on. Session callers act
// on their own data; service callers name the user explicitly.
func (h *HTTPController) owner(c *fiber.Ctx, requested string) (string, error) {
	if sessionUser, ok := LocalUserID(c); ok {
		if err := h.orch.Authorize(sessionUser, requested); err != nil {
			return "", err
		}
		return sessionUser, nil
	}

	if requested == "" {
		return "", withMetadata(ErrInvalidRequest, map[string]any{"fields": "user_id: cannot be blank"})
	}
	if _, err := h.orch.RequireUser(c.UserContext(), requested); err != nil {
		return "", err
	}
	return requested, nil
}

func (h *HTTPController) SavePost(c *fiber.Ctx) error {
	payload := new(PostPayload)
	if err := h.bind(c, payload); err != nil {
		return h.fail(c, err)
	}

	userID, err := h.owner(c, payload.UserID)
	if err != nil {
		return h.fail(c, err)
	}

	if err := payload.Validate(); err != nil {
		return h.fail(c, validationError(err))
	}

	post, err := h.posts.Create(c.UserContext(), &Post{
		UserID:  userID,
		Title:   payload.Title,
		Content: payload.Content,
	})
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"ok": true, "post_id": post.ID})
}

func (h *HTTPController) LatestPost(c *fiber.Ctx) error {
	userID, err := h.owner(c, c.Query("user_id"))
	if err != nil {
		return h.fail(c, err)
	}

	post, err := h.posts.Latest(c.UserContext(), userID)
	if err != nil {
		if HasTextCode(err, TextCodeNotFound) {
			return c.JSON(fiber.Map{"ok": true, "post": nil})
		}
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"ok": true, "post": post})
}

func (h *HTTPController) ListPosts(c *fiber.Ctx) error {
	userID, err := h.owner(c, c.Query("user_id"))
	if err != nil {
		return h.fail(c, err)
	}

	limit := defaultListLimit
	if raw := c.Query("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n <= 0 || n > 100 {
			return h.fail(c, withMetadata(ErrInvalidRequest, map[string]any{"fields": "limit: must be between 1 and 100"}))
		}
		limit = n
	}

	posts, err := h.posts.ListRecent(c.UserContext(), userID, limit)
	if err != nil {
		return h.fail(c, err)
	}
	if posts == nil {
		posts = []*Post{}
	}

	return c.JSON(fiber.Map{"ok": true, "posts": posts})
}

func profileResponse(user *User) fiber.Map {
	return fiber.Map{
		"ok":                true,
		"user_id":           user.ID,
		"created_at":        user.CreatedAt,
		"telegram_id":       nullable(user.MessagingID),
		"telegram_username": nullable(user.MessagingUsername),
	}
}

func nullable(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func (h *HTTPController) Profile(c *fiber.Ctx) error {
	userID, _ := LocalUserID(c)
	user, err := h.orch.Profile(c.UserContext(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(profileResponse(user))
}

func (h *HTTPController) UpdateProfile(c *fiber.Ctx) error {
	payload := new(ProfileUpdate)
	if err := h.bind(c, payload); err != nil {
		return h.fail(c, err)
	}

	userID, _ := LocalUserID(c)
	user, err := h.orch.UpdateProfile(c.UserContext(), userID, *payload)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(profileResponse(user))
}

func (h *HTTPController) DetachHandle(c *fiber.Ctx) error {
	userID, _ := LocalUserID(c)
	user, err := h.orch.DetachHandle(c.UserContext(), userID)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(profileResponse(user))
}

// ChallengePayload is the body of POST /profile/telegram/challenge
type ChallengePayload struct {
	BotUsername string `json:"bot_username"`
}

func (h *HTTPController) CreateChallenge(c *fiber.Ctx) error {
	payload := new(ChallengePayload)
	if err := h.bind(c, payload); err != nil {
		return h.fail(c, err)
	}

	userID, _ := LocalUserID(c)
	ticket, err := h.orch.CreateChallenge(c.UserContext(), userID, strings.TrimPrefix(payload.BotUsername, "@"))
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{
		"ok":            true,
		"nonce":         ticket.Nonce,
		"expires_in":    ticket.ExpiresIn,
		"start_command": ticket.StartCommand,
		"bot_link":      nullable(ticket.BotLink),
	})
}

func (h *HTTPController) CompleteChallenge(c *fiber.Ctx) error {
	payload := new(ChallengeCompletion)
	if err := h.bind(c, payload); err != nil {
		return h.fail(c, err)
	}

	userID, err := h.orch.CompleteChallenge(c.UserContext(), *payload)
	if err != nil {
		return h.fail(c, err)
	}

	return c.JSON(fiber.Map{"ok": true, "user_id": userID})
}

// BeginLogin trusts the user_id hint only from service callers and from a
// session for that same user.
func (h *HTTPController) BeginLogin(c *fiber.Ctx) error {
	hint := LoginHint{UserID: strings.TrimSpace(c.Query("user_id"))}
	if hint.UserID != "" {
		sessionUser, _ := LocalUserID(c)
		hint.Trusted = IsServiceCaller(c) || sessionUser == hint.UserID
	}

	target, err := h.orch.BeginLogin(c.UserContext(), c.Params("provider"), hint)
	if err != nil {
		return h.fail(c, err)
	}
	return c.Redirect(target, fiber.StatusFound)
}

func (h *HTTPController) Logout(c *fiber.Ctx) error {
	target, err := h.orch.LogoutURL(c.UserContext(), c.Query("id_token_hint"))
	if err != nil {
		return h.fail(c, err)
	}
	if target == "" {
		return c.JSON(fiber.Map{"ok": true})
	}
	return c.Redirect(target, fiber.StatusFound)
}

func (h *HTTPController) callback(provider string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		sessionUser, _ := LocalUserID(c)
		result, err := h.orch.HandleCallback(c.UserContext(), CallbackRequest{
			Provider:    provider,
			Code:        c.Query("code"),
			State:       c.Query("state"),
			SessionUser: sessionUser,
		})
		if err != nil {
			return h.fail(c, err)
		}

		frontend := strings.TrimRight(h.orch.config.GetFrontendBaseURL(), "/")

		if result.Flow == FlowLink {
			if frontend != "" {
				return c.Redirect(frontend+"#linked="+url.QueryEscape(provider), fiber.StatusFound)
			}
			return c.JSON(fiber.Map{"ok": true, "linked": true, "provider": provider, "user_id": result.UserID})
		}

		if frontend != "" {
			fragment := url.Values{}
			fragment.Set("token", result.Token)
			return c.Redirect(frontend+"#"+fragment.Encode(), fiber.StatusFound)
		}

		return c.JSON(fiber.Map{
			"ok":          true,
			"token":       result.Token,
			"user_id":     result.UserID,
			"is_new_user": result.IsNewUser,
		})
	}
}

// CredentialsPayload is the body of POST /<provider>/set
type CredentialsPayload struct {
	UserID       string `json:"user_id"`
	ClientID     string `json:"client_id"`
	ClientSecret string `json:"client_secret"`
	RedirectURI  string `json:"redirect_uri"`
}

// Validate will validate the payload
func (p CredentialsPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.UserID, validation.Required),
		validation.Field(&p.ClientID, validation.Required),
		validation.Field(&p.ClientSecret, validation.Required),
		validation.Field(&p.RedirectURI, is.URL),
	)
}

func (h *HTTPController) setCredentials(provider string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := new(CredentialsPayload)
		if err := h.bind(c, payload); err != nil {
			return h.fail(c, err)
		}
		if err := payload.Validate(); err != nil {
			return h.fail(c, validationError(err))
		}

		account, err := h.orch.SetProviderCredentials(c.UserContext(), payload.UserID, provider, social.Credentials{
			ClientID:     payload.ClientID,
			ClientSecret: payload.ClientSecret,
			RedirectURI:  payload.RedirectURI,
		})
		if err != nil {
			return h.fail(c, err)
		}

		return c.JSON(fiber.Map{
			"ok":           true,
			"user_id":      account.UserID,
			"provider":     provider,
			"redirect_uri": account.RedirectURI,
		})
	}
}

func (h *HTTPController) linkURL(provider string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		target, err := h.orch.BeginLink(c.UserContext(), provider, c.Query("user_id"))
		if err != nil {
			return h.fail(c, err)
		}
		return c.JSON(fiber.Map{"ok": true, "auth_url": target})
	}
}

func (h *HTTPController) beginSessionLink(provider string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		userID, _ := LocalUserID(c)
		target, err := h.orch.BeginLink(c.UserContext(), provider, userID)
		if err != nil {
			return h.fail(c, err)
		}
		return c.Redirect(target, fiber.StatusFound)
	}
}

// PublishPayload is the body of POST /<provider>/publish
type PublishPayload struct {
	UserID string `json:"user_id"`
	PostID string `json:"post_id"`
	Title  string `json:"title"`
}

// Validate will validate the payload
func (p PublishPayload) Validate() error {
	return validation.ValidateStruct(&p,
		validation.Field(&p.UserID, validation.Required),
		validation.Field(&p.Title, validation.Length(0, 300)),
	)
}

func (h *HTTPController) publish(provider string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := new(PublishPayload)
		if err := h.bind(c, payload); err != nil {
			return h.fail(c, err)
		}
		if err := payload.Validate(); err != nil {
			return h.fail(c, validationError(err))
		}

		result, err := h.orch.Publish(c.UserContext(), PublishRequest{
			UserID:   payload.UserID,
			Provider: provider,
			PostID:   payload.PostID,
			Title:    payload.Title,
		})
		if err != nil {
			return h.fail(c, err)
		}

		return c.JSON(fiber.Map{"ok": true, "result": result})
	}
}
