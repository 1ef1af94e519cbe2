package httpbackend

import (
	"net/http"
	"net/url"
)

// JarCookies reads cookies the backend set for base. The engine only reads
// through Cookie; Delete and Set exist for tests and tooling that simulate
// out-of-band tampering.
type JarCookies struct {
	jar  http.CookieJar
	base *url.URL
}

// NewJarCookies returns a CookieSource over jar for base.
func NewJarCookies(jar http.CookieJar, base *url.URL) *JarCookies {
	return &JarCookies{jar: jar, base: base}
}

// Cookie implements authsync.CookieSource.
func (j *JarCookies) Cookie(name string) (string, bool) {
	if j == nil || j.jar == nil {
		return "", false
	}
	for _, c := range j.jar.Cookies(j.base) {
		if c.Name == name {
			return c.Value, true
		}
	}
	return "", false
}

// Delete removes a cookie from the jar.
func (j *JarCookies) Delete(name string) {
	j.jar.SetCookies(j.base, []*http.Cookie{{
		Name:   name,
		Value:  "",
		Path:   "/",
		MaxAge: -1,
	}})
}

// Set overwrites a cookie value in the jar.
func (j *JarCookies) Set(name, value string) {
	j.jar.SetCookies(j.base, []*http.Cookie{{
		Name:  name,
		Value: value,
		Path:  "/",
	}})
}
