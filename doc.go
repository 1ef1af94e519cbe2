// Package authsync keeps a client's view of "is this user logged in" in step
// with the bearer credential, the server tracked session and the session
// cookie the server sets.
//
// Auth state:
//   - Machine owns the {status, user, token, session id} tuple. Status
//     authenticated always comes with all three set; every other status comes
//     with none. Each committed transition publishes exactly one Event.
//   - CheckAuthStatus and ForceAuthCheck coalesce: concurrent callers share a
//     single backend call and observe the same result.
//
// Liveness:
//   - Heartbeat probes the backend on a timer and when the client becomes
//     visible again. Network failures are counted; 401/403 ask for an
//     authoritative re-check instead.
//   - CookieMonitor polls the session cookie and reports creation, changes
//     and removal. ValidateCookieIntegrity scores the cookie against the
//     in-memory session; identity mismatches weigh more than expiry.
//
// Recovery:
//   - Recovery is the only component that turns a disagreement into a logout.
//     Concurrent triggers join one attempt; the attempt either revalidates the
//     session or logs out exactly once, with reason session-expired or
//     integrity-violation.
//
// Guard wires all of the above for one client and runs the heartbeat and the
// cookie monitor only while authenticated.
package authsync
