package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"sort"
	"strconv"
	"strings"

	"github.com/cockroachdb/errors"

	"so-appserver/internal/http1"
	"so-appserver/internal/metrics"
	"so-appserver/internal/resp"
	"so-appserver/internal/router"
	"so-appserver/internal/session"
)

// ErrNoSession: el handler necesita la sesión y la petición no trae una.
var ErrNoSession = errors.New("handlers: request has no session")

// Deps son los colaboradores que algunos handlers necesitan.
type Deps struct {
	// Status arma el cuerpo de /status; se serializa a JSON.
	Status func(ctx context.Context) any
	// Metrics habilita /metrics cuando no es nil.
	Metrics *metrics.Metrics
}

// simple eleva un wrapper de parámetros a router.Handler.
func simple(fn func(map[string]string) resp.Result) router.Handler {
	return router.HandlerFunc(func(_ context.Context, hc *router.Context) error {
		return resp.Send(hc.Response, fn(hc.Request.Params()))
	})
}

// Builtins devuelve los handlers incorporados indexados por nombre.
func Builtins(deps Deps) map[string]router.Handler {
	out := map[string]router.Handler{
		"help":      simple(Help),
		"timestamp": simple(Timestamp),
		"reverse":   simple(Reverse),
		"toupper":   simple(ToUpper),
		"hash":      simple(Hash),
		"random":    simple(Random),
		"fibonacci": simple(Fibonacci),
		"counter":   router.HandlerFunc(Counter),
		"forward":   router.HandlerFunc(Forward),
		"echo":      router.HandlerFunc(Echo),
		"session":   router.HandlerFunc(SessionDump),
	}
	if deps.Status != nil {
		out["status"] = statusHandler(deps.Status)
	}
	if deps.Metrics != nil {
		out["metrics"] = metricsHandler(deps.Metrics)
	}
	return out
}

// DefaultRoutes asocia paths de nombre exacto con handlers incorporados.
func DefaultRoutes() map[string]string {
	return map[string]string{
		"/help":      "help",
		"/status":    "status",
		"/metrics":   "metrics",
		"/timestamp": "timestamp",
		"/reverse":   "reverse",
		"/toupper":   "toupper",
		"/hash":      "hash",
		"/random":    "random",
		"/fibonacci": "fibonacci",
		"/counter":   "counter",
		"/forward":   "forward",
	}
}

// DefaultExternal asocia nombres bajo /ext/ con handlers incorporados.
func DefaultExternal() map[string]string {
	return map[string]string{
		"echo":    "echo",
		"session": "session",
	}
}

// Populate registra en reg cada entrada de routes (clave -> nombre de
// handler). Las entradas cuyo handler no está disponible (status o
// metrics apagados) se omiten; un nombre desconocido es error.
func Populate(reg *router.Registry, builtins map[string]router.Handler, routes map[string]string) error {
	keys := make([]string, 0, len(routes))
	for k := range routes {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, key := range keys {
		name := routes[key]
		h, ok := builtins[name]
		if !ok {
			if name == "status" || name == "metrics" {
				continue
			}
			return errors.Newf("unknown handler %q for %q", name, key)
		}
		if err := reg.Register(key, h); err != nil {
			return err
		}
	}
	return nil
}

// Counter incrementa el contador persistente de la sesión y lo imprime.
func Counter(_ context.Context, hc *router.Context) error {
	p := hc.Request.Persistent()
	if p == nil {
		return ErrNoSession
	}
	v := p.Update(session.CounterKey, func(old string, _ bool) string {
		n, err := strconv.Atoi(old)
		if err != nil {
			n = 0
		}
		return strconv.Itoa(n + 1)
	})
	return resp.Send(hc.Response, resp.PlainOK("counter="+v+"\n"))
}

// Forward re-despacha internamente a ?to=/ruta.
func Forward(ctx context.Context, hc *router.Context) error {
	to, ok := hc.Request.Param("to")
	if !ok || !strings.HasPrefix(to, "/") {
		return resp.Send(hc.Response, resp.BadReq("to=/path is required"))
	}
	return hc.Dispatcher.Dispatch(ctx, to)
}

// Echo imprime los parámetros temporales ordenados.
func Echo(_ context.Context, hc *router.Context) error {
	return resp.Send(hc.Response, resp.PlainOK(dump(hc.Request.Params())))
}

// SessionDump imprime el id y los datos persistentes de la sesión.
func SessionDump(_ context.Context, hc *router.Context) error {
	p := hc.Request.Persistent()
	if p == nil {
		return ErrNoSession
	}
	data := make(map[string]string)
	for _, k := range p.Keys() {
		v, _ := p.Get(k)
		data[k] = v
	}
	return resp.Send(hc.Response, resp.PlainOK("sid="+p.ID()+"\n"+dump(data)))
}

func dump(m map[string]string) string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		b.WriteString(k)
		b.WriteString("=")
		b.WriteString(m[k])
		b.WriteString("\n")
	}
	return b.String()
}

func statusHandler(status func(context.Context) any) router.Handler {
	return router.HandlerFunc(func(ctx context.Context, hc *router.Context) error {
		b, err := json.Marshal(status(ctx))
		if err != nil {
			return errors.Wrap(err, "marshal status")
		}
		return resp.Send(hc.Response, resp.JSONOK(string(b)))
	})
}

func metricsHandler(m *metrics.Metrics) router.Handler {
	return router.HandlerFunc(func(_ context.Context, hc *router.Context) error {
		var buf bytes.Buffer
		if err := m.WriteText(&buf); err != nil {
			return err
		}
		rc := hc.Response
		if err := rc.SetMimeType(metrics.ContentType); err != nil {
			return err
		}
		if err := rc.SetEncoding(http1.DefaultEncoding); err != nil {
			return err
		}
		if err := rc.SetByteLength(int64(buf.Len())); err != nil {
			return err
		}
		if _, err := rc.Write(buf.Bytes()); err != nil {
			return err
		}
		return rc.Commit()
	})
}
