package http1

import (
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"
)

// SessionCookie es el nombre de la cookie que transporta el SID.
const SessionCookie = "sid"

// Cookie es inmutable salvo por el flag http-only.
type Cookie struct {
	name     string
	value    string
	domain   string
	path     string
	maxAge   *int
	httpOnly bool
}

// CookieOption configura atributos opcionales de la cookie.
type CookieOption func(*Cookie)

func WithDomain(d string) CookieOption { return func(c *Cookie) { c.domain = d } }
func WithPath(p string) CookieOption   { return func(c *Cookie) { c.path = p } }
func WithHTTPOnly() CookieOption       { return func(c *Cookie) { c.httpOnly = true } }

// WithMaxAge fija Max-Age en segundos.
func WithMaxAge(sec int) CookieOption {
	return func(c *Cookie) { c.maxAge = &sec }
}

// NewCookie crea una cookie; el nombre es obligatorio y no puede contener
// separadores, el valor no puede contener comillas dobles.
func NewCookie(name, value string, opts ...CookieOption) (Cookie, error) {
	if name == "" || strings.ContainsAny(name, "=;, \t\r\n\"") {
		return Cookie{}, errors.Newf("invalid cookie name %q", name)
	}
	if strings.ContainsAny(value, "\"\r\n") {
		return Cookie{}, errors.Newf("invalid cookie value for %q", name)
	}
	c := Cookie{name: name, value: value}
	for _, o := range opts {
		o(&c)
	}
	return c, nil
}

func (c Cookie) Name() string   { return c.name }
func (c Cookie) Value() string  { return c.value }
func (c Cookie) Domain() string { return c.domain }
func (c Cookie) Path() string   { return c.path }
func (c Cookie) HTTPOnly() bool { return c.httpOnly }

// MaxAge devuelve (segundos, true) si fue fijado.
func (c Cookie) MaxAge() (int, bool) {
	if c.maxAge == nil {
		return 0, false
	}
	return *c.maxAge, true
}

// SetHTTPOnly es el único mutador permitido.
func (c *Cookie) SetHTTPOnly(v bool) { c.httpOnly = v }

// headerValue produce el valor de Set-Cookie:
// name="value"[; Domain=d][; Path=p][; Max-Age=n][; Http-Only]
func (c Cookie) headerValue() string {
	var b strings.Builder
	b.WriteString(c.name)
	b.WriteString("=\"")
	b.WriteString(c.value)
	b.WriteString("\"")
	if c.domain != "" {
		b.WriteString("; Domain=")
		b.WriteString(c.domain)
	}
	if c.path != "" {
		b.WriteString("; Path=")
		b.WriteString(c.path)
	}
	if c.maxAge != nil {
		b.WriteString("; Max-Age=")
		b.WriteString(strconv.Itoa(*c.maxAge))
	}
	if c.httpOnly {
		b.WriteString("; Http-Only")
	}
	return b.String()
}

// SessionID busca sid="..." (o sid=... sin comillas) en una cabecera Cookie.
func SessionID(header string) (string, bool) {
	for _, part := range strings.Split(header, ";") {
		kv := strings.SplitN(strings.TrimSpace(part), "=", 2)
		if len(kv) != 2 || strings.TrimSpace(kv[0]) != SessionCookie {
			continue
		}
		v := strings.TrimSpace(kv[1])
		if len(v) >= 2 && strings.HasPrefix(v, "\"") && strings.HasSuffix(v, "\"") {
			v = v[1 : len(v)-1]
		}
		if v == "" {
			return "", false
		}
		return v, true
	}
	return "", false
}
