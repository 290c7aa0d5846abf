package http1

import "maps"

// Persistent es el almacén clave/valor de la sesión tal como lo ve una
// petición. Lo implementa session.Record.
type Persistent interface {
	ID() string
	Get(key string) (string, bool)
	Set(key, value string)
	Keys() []string
	// Update lee y reescribe key de forma atómica y devuelve el valor nuevo.
	Update(key string, f func(old string, ok bool) string) string
}

// RequestView es la vista inmutable de una petición ya parseada.
// Los parámetros temporales se descartan al cerrar la conexión; los
// persistentes son un alias de los datos de la sesión.
type RequestView struct {
	method     string
	path       string
	version    string
	host       string
	temp       map[string]string
	persistent Persistent
	cookies    []Cookie
}

func (v *RequestView) Method() string         { return v.method }
func (v *RequestView) Path() string           { return v.path }
func (v *RequestView) Version() string        { return v.version }
func (v *RequestView) Host() string           { return v.host }
func (v *RequestView) Persistent() Persistent { return v.persistent }

// Param devuelve un parámetro temporal (query string).
func (v *RequestView) Param(key string) (string, bool) {
	s, ok := v.temp[key]
	return s, ok
}

// Params devuelve una copia de los parámetros temporales.
func (v *RequestView) Params() map[string]string { return maps.Clone(v.temp) }

// Cookies devuelve las cookies que deben emitirse en la respuesta.
func (v *RequestView) Cookies() []Cookie {
	out := make([]Cookie, len(v.cookies))
	copy(out, v.cookies)
	return out
}

// Lookup busca primero en los parámetros temporales y luego en la sesión.
func (v *RequestView) Lookup(key string) (string, bool) {
	if s, ok := v.temp[key]; ok {
		return s, true
	}
	if v.persistent != nil {
		return v.persistent.Get(key)
	}
	return "", false
}

// Builder acumula los pasos del parseo y produce un RequestView al final.
type Builder struct {
	v RequestView
}

// NewBuilder arranca desde la cabecera cruda.
func NewBuilder(r *Request) *Builder {
	b := &Builder{}
	b.v.method = r.Method
	b.v.version = r.Version
	b.v.host = r.Host()
	b.v.path, _ = SplitTarget(r.Target)
	return b
}

func (b *Builder) Path(p string) *Builder {
	b.v.path = p
	return b
}

func (b *Builder) Temp(m map[string]string) *Builder {
	b.v.temp = m
	return b
}

func (b *Builder) Session(p Persistent) *Builder {
	b.v.persistent = p
	return b
}

func (b *Builder) AddCookie(c Cookie) *Builder {
	b.v.cookies = append(b.v.cookies, c)
	return b
}

// Build congela la vista; el builder no debe reutilizarse.
func (b *Builder) Build() *RequestView {
	v := b.v
	if v.temp == nil {
		v.temp = map[string]string{}
	}
	v.cookies = append([]Cookie(nil), b.v.cookies...)
	return &v
}
