// Package rate provides Redis fixed-window counters used to throttle login,
// refresh, password reset and email verification.
//
// # Window semantics
//
// INCR plus EXPIRE on the first hit of a window. Keys look like
// {prefix}:rl:{kind}:{id} where kind is one of login, login-ip, refresh,
// reset, reset-ip or verify. Identifiers are case-folded. Only refresh
// windows carry a tenant, since every other key names a global identity
// or an IP.
//
// Login is two-phase: CheckLogin only reads the counter and IncrementLogin
// counts a failure, so successful logins never consume budget. The other
// checks count every call.
package rate
