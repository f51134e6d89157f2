// Package hub is an identity and integration hub. It logs users in through
// external OAuth2 and OpenID Connect providers, issues its own signed
// session tokens, keeps per user provider credentials, and publishes stored
// posts to linked provider accounts.
//
// Orchestrator:
//   - Orchestrator owns the login, link, publish and handle verification
//     flows. It depends on a CredentialStore, a PostStore and one
//     social.Exchanger per provider, all injected through options.
//   - Authorization states are single use. Popping a state removes it, so a
//     replayed callback fails with invalid_state.
//   - A login hint resolves to an existing user only when it is trusted,
//     that is, when the login was started by a service caller or by a
//     session for the hinted user.
//   - Expired provider tokens are refreshed before publishing. A rejected
//     refresh leaves the stored account untouched and reports refresh_failed.
//
// Linking:
//   - LinkVerifier issues one pending challenge per user. Creating a new one
//     replaces the previous nonce. Consuming a challenge deletes it, and
//     failed attempts count against a fixed budget.
//
// Sessions:
//   - SessionIssuer signs HS256 tokens carrying only the user id. Sessions
//     are stateless and remain valid until they expire.
//
// Activity sinks:
//   - ActivitySink receives login, registration, link, refresh and publish
//     events. Sinks run best-effort: errors are logged and never fail the
//     flow that emitted them.
//
// HTTP:
//   - HTTPController mounts the routes on a fiber.Router. RouteAuthenticator
//     provides the session, service and internal guards and renders every
//     error as {"ok": false, "error": "<code>"}.
package hub
