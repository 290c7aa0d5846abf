// Package script implementa el delegado para archivos .script: plantillas
// de texto línea a línea con sustitución de parámetros.
//
// Directivas (al inicio de línea):
//
//	@include /ruta   re-despacha internamente (puede llegar a /private)
//	@set clave=valor fija un parámetro persistente de la sesión
//
// En las demás líneas ${nombre} se reemplaza por el parámetro temporal,
// si no por el persistente, si no por vacío.
package script

import (
	"bufio"
	"context"
	"os"
	"regexp"
	"strings"

	"github.com/cockroachdb/errors"

	"so-appserver/internal/router"
)

// MimeType es el tipo con el que sale una página renderizada.
const MimeType = "text/html"

var placeholder = regexp.MustCompile(`\$\{([A-Za-z0-9_.\-]+)\}`)

// Delegate es el ScriptDelegate por defecto.
type Delegate struct {
	// MaxDepth limita los @include anidados.
	MaxDepth int
}

var _ router.ScriptDelegate = (*Delegate)(nil)

func New() *Delegate { return &Delegate{MaxDepth: 8} }

type depthKey struct{}

func (d *Delegate) Render(ctx context.Context, hc *router.Context, file string) error {
	depth, _ := ctx.Value(depthKey{}).(int)
	if d.MaxDepth > 0 && depth >= d.MaxDepth {
		return errors.Newf("script: include depth exceeded at %s", file)
	}
	ctx = context.WithValue(ctx, depthKey{}, depth+1)

	f, err := os.Open(file)
	if err != nil {
		return errors.Wrap(err, "script: open")
	}
	defer f.Close()

	rc := hc.Response
	if !rc.Committed() {
		if err := rc.SetMimeType(MimeType); err != nil {
			return err
		}
	}

	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimRight(sc.Text(), "\r")
		switch {
		case strings.HasPrefix(line, "@include "):
			path := strings.TrimSpace(strings.TrimPrefix(line, "@include "))
			if err := hc.Dispatcher.Dispatch(ctx, path); err != nil {
				return errors.Wrapf(err, "script: include %s", path)
			}
		case strings.HasPrefix(line, "@set "):
			k, v, ok := strings.Cut(strings.TrimSpace(strings.TrimPrefix(line, "@set ")), "=")
			if !ok || k == "" {
				return errors.Newf("script: malformed @set in %s", file)
			}
			if p := hc.Request.Persistent(); p != nil {
				p.Set(k, Expand(hc, v))
			}
		default:
			if _, err := rc.WriteString(Expand(hc, line) + "\n"); err != nil {
				return err
			}
		}
	}
	if err := sc.Err(); err != nil {
		return errors.Wrap(err, "script: read")
	}
	// plantilla vacía o sólo directivas
	return rc.Commit()
}

// Expand reemplaza ${nombre} usando los parámetros de la petición.
func Expand(hc *router.Context, s string) string {
	return placeholder.ReplaceAllStringFunc(s, func(m string) string {
		name := placeholder.FindStringSubmatch(m)[1]
		v, _ := hc.Request.Lookup(name)
		return v
	})
}
