// Package transport is the HTTP transport of the portal client.
//
// It resolves request paths beneath a fixed API base URL, carries the session
// cookies in a jar, mirrors the CSRF cookie into its header on unsafe methods,
// and turns every non-2xx response into a typed *APIError.
//
// A Recoverer may be installed to handle failures (the refresh coordinator is
// the only implementation). Callers of Client.Do never see the intermediate
// 401/refresh mechanics: they get either a successful Response or the final
// error once recovery is exhausted.
package transport
