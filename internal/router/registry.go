package router

import (
	"context"
	"sort"

	"github.com/cockroachdb/errors"

	"so-appserver/internal/http1"
	"so-appserver/internal/logger"
)

// Context es lo que recibe un handler: la respuesta viva, la petición y
// la capacidad de re-despachar internamente.
type Context struct {
	Response   *http1.ResponseContext
	Request    *http1.RequestView
	Dispatcher Dispatcher
	Log        logger.Logger
}

// Handler procesa una petición escribiendo sobre hc.Response.
type Handler interface {
	Process(ctx context.Context, hc *Context) error
}

// HandlerFunc adapta una función a Handler.
type HandlerFunc func(ctx context.Context, hc *Context) error

func (f HandlerFunc) Process(ctx context.Context, hc *Context) error { return f(ctx, hc) }

// Dispatcher re-entra al router marcando la petición como interna.
type Dispatcher interface {
	Dispatch(ctx context.Context, path string) error
}

// ScriptDelegate atiende los archivos .script.
type ScriptDelegate interface {
	Render(ctx context.Context, hc *Context, file string) error
}

// Registry mapea nombres (o paths) a handlers. Se llena al arrancar y
// después sólo se lee.
type Registry struct {
	handlers map[string]Handler
}

func NewRegistry() *Registry {
	return &Registry{handlers: make(map[string]Handler)}
}

// Register falla si el nombre está vacío o ya existe.
func (r *Registry) Register(name string, h Handler) error {
	if name == "" || h == nil {
		return errors.New("router: empty handler registration")
	}
	if _, ok := r.handlers[name]; ok {
		return errors.Newf("router: handler %q already registered", name)
	}
	r.handlers[name] = h
	return nil
}

// MustRegister es Register para tablas fijas en el arranque.
func (r *Registry) MustRegister(name string, h Handler) {
	if err := r.Register(name, h); err != nil {
		panic(err)
	}
}

func (r *Registry) Lookup(name string) (Handler, bool) {
	if r == nil {
		return nil, false
	}
	h, ok := r.handlers[name]
	return h, ok
}

// Names devuelve los nombres registrados, ordenados.
func (r *Registry) Names() []string {
	if r == nil {
		return nil
	}
	out := make([]string, 0, len(r.handlers))
	for k := range r.handlers {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func (r *Registry) Len() int {
	if r == nil {
		return 0
	}
	return len(r.handlers)
}
