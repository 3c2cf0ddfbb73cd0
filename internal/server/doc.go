// Package server provides the conversion microservice and the account login callback.
//
// # Router Infrastructure
//
// The [Router] interface defines HTTP routing with middleware support.
//
// [Middleware] wraps handlers in reverse order (last added executes first), following the standard Go pattern.
//
// The [BasicRouter] implementation uses [http.ServeMux] internally with method filtering. Method checks run inside
// the middleware chain so CORS preflights and request logging see every request.
//
// # Conversion Endpoints
//
//   - GET /health, GET /api/health: readiness body with the transcoder path
//   - POST /convert, POST /api/convert: raw audio in, audio/mpeg attachment out
//   - GET /: service description
//
// Convert failures map to JSON errors: 400 for an empty body, 413 over the size cap, 415 for a non-audio content
// type, 429 when rate limited, 500 with the transcoder's diagnostic details, 503 when no conversion slot frees up.
//
// # OAuth Callback Handler
//
// [OAuthHandler] implements the OAuth2 authorization code callback on the redirect URI's path. It validates the
// state parameter, exchanges the code, and sends the result through a channel. It only processes one callback.
//
// # Handler Interface
//
// Custom handlers implement the [Handler] interface, which wraps the stdlib handler interface and adds routes.
// A [MethodHandler] additionally names its method.
package server
