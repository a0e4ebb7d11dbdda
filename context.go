package authgate

import "context"

type clientIPContextKey struct{}

// WithClientIP attaches the caller's origin address to ctx. When
// Config.RateLimit.ThrottleByIP is set, login and registration budgets are
// additionally enforced per origin, and audit events carry the address.
func WithClientIP(ctx context.Context, ip string) context.Context {
	return context.WithValue(ctx, clientIPContextKey{}, ip)
}

func clientIPFromContext(ctx context.Context) string {
	if ctx == nil {
		return ""
	}

	ip, _ := ctx.Value(clientIPContextKey{}).(string)
	return ip
}
