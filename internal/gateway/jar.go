package gateway

import (
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"sync"
)

// Cookie jar that can drop everything it holds at once
// Refresh credential lives here, so dropping the jar ends the remote session locally
type jar struct {
	mu    sync.RWMutex
	inner *cookiejar.Jar
}

func newJar() (*jar, error) {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	return &jar{inner: inner}, nil
}

func (j *jar) SetCookies(u *url.URL, cookies []*http.Cookie) {
	j.mu.RLock()
	inner := j.inner
	j.mu.RUnlock()
	inner.SetCookies(u, cookies)
}

func (j *jar) Cookies(u *url.URL) []*http.Cookie {
	j.mu.RLock()
	inner := j.inner
	j.mu.RUnlock()
	return inner.Cookies(u)
}

func (j *jar) reset() error {
	inner, err := cookiejar.New(nil)
	if err != nil {
		return err
	}
	j.mu.Lock()
	j.inner = inner
	j.mu.Unlock()
	return nil
}
