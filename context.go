package pjutsauth

import "context"

// requestMeta is the caller information engine operations read from ctx.
type requestMeta struct {
	ip        string
	userAgent string
}

type requestMetaKey struct{}

func metaFrom(ctx context.Context) requestMeta {
	if ctx == nil {
		return requestMeta{}
	}
	m, _ := ctx.Value(requestMetaKey{}).(requestMeta)
	return m
}

// WithClientIP records the caller's IP on ctx. Share-code verification is
// budgeted per IP, and audit events carry it.
func WithClientIP(ctx context.Context, ip string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	m := metaFrom(ctx)
	m.ip = ip
	return context.WithValue(ctx, requestMetaKey{}, m)
}

// WithUserAgent records the HTTP User-Agent for audit metadata.
func WithUserAgent(ctx context.Context, userAgent string) context.Context {
	if ctx == nil {
		ctx = context.Background()
	}
	m := metaFrom(ctx)
	m.userAgent = userAgent
	return context.WithValue(ctx, requestMetaKey{}, m)
}

func clientIPFromContext(ctx context.Context) string { return metaFrom(ctx).ip }

func userAgentFromContext(ctx context.Context) string { return metaFrom(ctx).userAgent }
