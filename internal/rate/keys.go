package rate

import "strings"

func (l *Limiter) key(kind, id string) string {
	return l.config.Prefix + ":rl:" + kind + ":" + id
}

func (l *Limiter) loginUserKey(identifier string) string {
	return l.key("login", foldKey(identifier))
}

func (l *Limiter) loginIPKey(ip string) string {
	return l.key("login-ip", ip)
}

// refreshKey is the only tenant-scoped window: session ids are minted per
// tenant and carried in a signed token.
func (l *Limiter) refreshKey(tenantID, sessionID string) string {
	if tenantID == "" {
		tenantID = "0"
	}
	return l.key("refresh", tenantID+":"+sessionID)
}

func (l *Limiter) resetKey(identifier string) string {
	return l.key("reset", foldKey(identifier))
}

func (l *Limiter) resetIPKey(ip string) string {
	return l.key("reset-ip", ip)
}

func (l *Limiter) verificationKey(userID string) string {
	return l.key("verify", userID)
}

func foldKey(identifier string) string {
	return strings.ToLower(strings.TrimSpace(identifier))
}
