package identity

import (
	"context"
	"log/slog"
	"net/http"
	"net/url"
)

// Jar is an http.CookieJar that only tracks the device cookie and keeps it
// in a Backend, so a server-issued token survives restarts. Other cookies
// are dropped.
type Jar struct {
	backend Backend
}

func NewJar(backend Backend) *Jar {
	return &Jar{backend: backend}
}

func (j *Jar) SetCookies(_ *url.URL, cookies []*http.Cookie) {
	ctx := context.Background()
	for _, c := range cookies {
		if c.Name != CookieName || c.Value == "" || c.MaxAge < 0 {
			continue
		}
		// The server never overwrites an existing cookie, so neither do we.
		if current, ok, err := j.backend.Read(ctx); err == nil && ok && current != "" {
			continue
		}
		if err := j.backend.Write(ctx, c.Value); err != nil {
			slog.Warn("Failed to store device cookie", "error", err)
		}
	}
}

func (j *Jar) Cookies(*url.URL) []*http.Cookie {
	v, ok, err := j.backend.Read(context.Background())
	if err != nil || !ok || v == "" {
		return nil
	}
	return []*http.Cookie{{Name: CookieName, Value: v}}
}
