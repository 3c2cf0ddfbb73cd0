// Package services implements the HTTP clients used by the download side.
//
// # Raw API Client
//
// [APIService] wraps an [http.Client] and a base URL. Every call returns an [APIResponse] with the status, headers,
// body, and a best-effort JSON decode. Transport failures wrap [shared.ErrServiceUnavailable]; a canceled or
// expired context additionally wraps [shared.ErrTimeout].
//
// # Conversion Server Client
//
// [ConverterService] calls the conversion server: [ConverterService.Health] for readiness probes (falling back to
// the legacy /api/health path on 404) and [ConverterService.Convert] for uploads. Upload content types are sniffed
// with mimetype.
//
// # Spotify OAuth
//
// [SpotifyAuth] holds the authorization code config for one account plus a client-credentials config.
// [SpotifyAuth.VerifyCredentials] requests a client-credentials token to check an account's id and secret before
// they are stored. The login flow exchanges a code, resolves the user with [SpotifyAuth.CurrentUser], and stores
// [EncodeTokenCache] output as the account's cache blob.
package services
