// Package refresh recovers requests that failed with an expired access token.
//
// A Coordinator serialises session refresh attempts: at most one refresh call
// is in flight at any time, every request that fails with a 401 while it is in
// flight waits for that single outcome, and each waiting request is replayed
// exactly once when the refresh succeeds. When the refresh fails every waiter
// gets the failure and the client is sent to the login entry point.
//
// The refresh state (in-flight flag and waiter list) is owned by the
// Coordinator value. Build one per API client; tests build one per case.
package refresh
