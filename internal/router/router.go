package router

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/cockroachdb/errors"

	"so-appserver/internal/http1"
	"so-appserver/internal/logger"
	"so-appserver/internal/resp"
)

// ErrNotFound se devuelve cuando hay que responder 404 pero la respuesta
// ya estaba comprometida.
var ErrNotFound = errors.New("router: not found")

// ErrDispatchDepth se devuelve cuando los despachos internos anidados
// superan el límite (p.ej. /forward?to=/forward).
var ErrDispatchDepth = errors.New("router: internal dispatch depth exceeded")

// DefaultMaxDispatchDepth acota los re-despachos internos de una petición.
const DefaultMaxDispatchDepth = 16

// Kind es el tipo de handler que atiende un path.
type Kind int

const (
	KindNone Kind = iota
	KindStatic
	KindScript
	KindNamed
	KindExternal
)

func (k Kind) String() string {
	switch k {
	case KindStatic:
		return "static"
	case KindScript:
		return "script"
	case KindNamed:
		return "named"
	case KindExternal:
		return "external"
	default:
		return "none"
	}
}

// ExtPrefix es el prefijo de los handlers externos.
const ExtPrefix = "/ext/"

// DefaultReservedPrefix sólo es alcanzable por despacho interno.
const DefaultReservedPrefix = "/private"

// ScriptExt marca los archivos que van al ScriptDelegate.
const ScriptExt = ".script"

// Config agrupa lo que el router necesita; se arma una vez al arrancar.
type Config struct {
	DocumentRoot     string
	ReservedPrefixes []string
	MIME             MIMETable
	Named            *Registry
	External         *Registry
	Script           ScriptDelegate
	Log              logger.Logger
	// MaxDispatchDepth <= 0 usa DefaultMaxDispatchDepth.
	MaxDispatchDepth int
}

// Router decide qué handler atiende cada path. Es de sólo lectura tras New
// y puede compartirse entre conexiones.
type Router struct {
	root     string
	reserved []string
	mime     MIMETable
	named    *Registry
	external *Registry
	script   ScriptDelegate
	log      logger.Logger
	maxDepth int
}

func New(cfg Config) (*Router, error) {
	if cfg.DocumentRoot == "" {
		return nil, errors.New("router: document root required")
	}
	root, err := filepath.Abs(cfg.DocumentRoot)
	if err != nil {
		return nil, errors.Wrap(err, "router: document root")
	}
	reserved := cfg.ReservedPrefixes
	if len(reserved) == 0 {
		reserved = []string{DefaultReservedPrefix}
	}
	mime := cfg.MIME
	if mime == nil {
		mime = NewMIMETable(nil)
	}
	maxDepth := cfg.MaxDispatchDepth
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDispatchDepth
	}
	log := cfg.Log
	if log == nil {
		log = logger.NewNop()
	}
	named := cfg.Named
	if named == nil {
		named = NewRegistry()
	}
	external := cfg.External
	if external == nil {
		external = NewRegistry()
	}
	return &Router{
		root:     root,
		reserved: append([]string(nil), reserved...),
		mime:     mime,
		named:    named,
		external: external,
		script:   cfg.Script,
		log:      log,
		maxDepth: maxDepth,
	}, nil
}

func (r *Router) Named() *Registry    { return r.named }
func (r *Router) External() *Registry { return r.external }

// Reserved indica si path cae bajo un prefijo reservado.
func (r *Router) Reserved(path string) bool {
	for _, p := range r.reserved {
		if strings.HasPrefix(path, p) {
			return true
		}
	}
	return false
}

// Route atiende path sobre rc. internal=false para peticiones que vienen
// directo del cliente.
func (r *Router) Route(ctx context.Context, rc *http1.ResponseContext, req *http1.RequestView, path string, internal bool) error {
	hc := &Context{Response: rc, Request: req, Log: r.log}
	hc.Dispatcher = &dispatcher{r: r, hc: hc}
	return r.route(ctx, hc, path, internal)
}

func (r *Router) route(ctx context.Context, hc *Context, path string, internal bool) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	// 1) prefijo reservado: 404 indistinguible
	if !internal && r.Reserved(path) {
		r.log.Debug("reserved path %s refused", path)
		return r.notFound(hc, path)
	}
	// 2) /ext/<nombre>
	if name, ok := extName(path); ok {
		h, found := r.external.Lookup(name)
		if !found {
			return r.notFound(hc, path)
		}
		return h.Process(ctx, hc)
	}
	// 3) registro de nombre exacto
	if h, ok := r.named.Lookup(path); ok {
		return h.Process(ctx, hc)
	}
	// 4) archivo bajo la raíz
	return r.serveFile(ctx, hc, path)
}

// Classify informa qué tipo de handler atendería path, sin ejecutarlo.
func (r *Router) Classify(path string, internal bool) Kind {
	if !internal && r.Reserved(path) {
		return KindNone
	}
	if name, ok := extName(path); ok {
		if _, found := r.external.Lookup(name); found {
			return KindExternal
		}
		return KindNone
	}
	if _, ok := r.named.Lookup(path); ok {
		return KindNamed
	}
	file, ok := r.resolve(path)
	if !ok {
		return KindNone
	}
	fi, err := os.Stat(file)
	if err != nil || fi.IsDir() {
		return KindNone
	}
	if strings.EqualFold(filepath.Ext(file), ScriptExt) {
		return KindScript
	}
	return KindStatic
}

func extName(path string) (string, bool) {
	if !strings.HasPrefix(path, ExtPrefix) {
		return "", false
	}
	name := path[len(ExtPrefix):]
	if name == "" || strings.Contains(name, "/") {
		return "", false
	}
	return name, true
}

// resolve traduce path a un archivo dentro de la raíz.
func (r *Router) resolve(path string) (string, bool) {
	if !strings.HasPrefix(path, "/") || strings.ContainsAny(path, "\x00\\") {
		return "", false
	}
	for _, seg := range strings.Split(path, "/") {
		if seg == ".." {
			return "", false
		}
	}
	file := filepath.Join(r.root, filepath.FromSlash(path))
	if file != r.root && !strings.HasPrefix(file, r.root+string(filepath.Separator)) {
		return "", false
	}
	return file, true
}

func (r *Router) serveFile(ctx context.Context, hc *Context, path string) error {
	file, ok := r.resolve(path)
	if !ok {
		return r.notFound(hc, path)
	}
	fi, err := os.Stat(file)
	if err != nil || fi.IsDir() {
		return r.notFound(hc, path)
	}
	if strings.EqualFold(filepath.Ext(file), ScriptExt) {
		if r.script == nil {
			return r.notFound(hc, path)
		}
		return r.script.Render(ctx, hc, file)
	}

	f, err := os.Open(file)
	if err != nil {
		return r.notFound(hc, path)
	}
	defer f.Close()

	rc := hc.Response
	// dentro de un include la cabecera ya salió: sólo se agrega el cuerpo
	if !rc.Committed() {
		if err := rc.SetMimeType(r.mime.Lookup(file)); err != nil {
			return err
		}
		if err := rc.SetByteLength(fi.Size()); err != nil {
			return err
		}
	}
	if _, err := io.Copy(rc, f); err != nil {
		return errors.Wrapf(err, "stream %s", path)
	}
	// archivo vacío: la cabecera igual tiene que salir
	return rc.Commit()
}

func (r *Router) notFound(hc *Context, path string) error {
	if hc.Response.Committed() {
		return errors.Wrapf(ErrNotFound, "%s", path)
	}
	return resp.Send(hc.Response, resp.NotFound())
}

type dispatcher struct {
	r  *Router
	hc *Context
}

type dispatchDepthKey struct{}

// Dispatch cuenta cada re-entrada en ctx; pasado el límite corta con
// ErrDispatchDepth antes de tocar la pila otra vez.
func (d *dispatcher) Dispatch(ctx context.Context, path string) error {
	depth, _ := ctx.Value(dispatchDepthKey{}).(int)
	if depth >= d.r.maxDepth {
		return errors.Wrapf(ErrDispatchDepth, "%s", path)
	}
	ctx = context.WithValue(ctx, dispatchDepthKey{}, depth+1)
	return d.r.route(ctx, d.hc, path, true)
}
