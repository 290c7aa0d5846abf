package http1

import "strings"

// SplitTarget separa path y query string de un target (p. ej., "/path?x=1&y=2").
// Sólo corta en el primer '?'. No realiza decodificación.
func SplitTarget(t string) (path string, query string) {
	path = t
	if i := strings.IndexByte(t, '?'); i >= 0 {
		path = t[:i]
		query = t[i+1:]
	}
	return
}

// ParseQuery transforma "a=1&b=2" en un mapa simple sin percent-decoding.
// Los pares que no tienen exactamente un '=' se descartan en silencio.
func ParseQuery(q string) map[string]string {
	m := make(map[string]string)
	if q == "" {
		return m
	}
	for _, kv := range strings.Split(q, "&") {
		p := strings.Split(kv, "=")
		if len(p) != 2 {
			continue
		}
		m[p[0]] = p[1]
	}
	return m
}
