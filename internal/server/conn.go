package server

import (
	"bufio"
	"context"
	"net"
	"time"

	"github.com/cockroachdb/errors"

	"so-appserver/internal/http1"
	"so-appserver/internal/logger"
	"so-appserver/internal/resp"
	"so-appserver/internal/router"
	"so-appserver/internal/session"
	"so-appserver/internal/util"
)

// serveConn es el ClientTask: una petición por conexión.
//   - parseo estricto de la cabecera (GET, HTTP/1.0|1.1)
//   - resolución o creación de la sesión por cookie sid
//   - "/" responde la bienvenida sin pasar por el router
//   - cualquier error que escape del ruteo se vuelve 400 si la cabecera
//     no salió todavía; si ya salió, sólo se cierra
func (s *Server) serveConn(ctx context.Context, c net.Conn) {
	start := time.Now()
	defer c.Close()

	log := s.log.With(map[string]interface{}{
		"req_id": util.NewReqID(),
		"remote": remoteAddr(c),
	})
	if s.cfg.ConnTimeout > 0 {
		_ = c.SetDeadline(start.Add(s.cfg.ConnTimeout))
	}

	rc := http1.NewResponseContext(c)
	kind := router.KindNone
	defer func() {
		s.metrics.ObserveRequest(kind.String(), rc.StatusCode(), time.Since(start))
	}()

	req, err := http1.ParseRequest(bufio.NewReader(c))
	if err != nil {
		log.Debug("bad request: %v", err)
		s.reject(rc, log, protocolDetail(err))
		return
	}

	path, query := http1.SplitTarget(req.Target)
	if path == "/" {
		if err := resp.Send(rc, resp.Welcome()); err != nil {
			log.Debug("write welcome: %v", err)
		}
		return
	}

	rec, cookie, err := s.session(ctx, req)
	if err != nil {
		log.Error("session: %v", err)
		s.metrics.HandlerError()
		s.reject(rc, log, "session unavailable")
		return
	}

	b := http1.NewBuilder(req).Temp(http1.ParseQuery(query)).Session(rec)
	if cookie != nil {
		b.AddCookie(*cookie)
	}
	view := b.Build()
	for _, ck := range view.Cookies() {
		if err := rc.AddCookie(ck); err != nil {
			log.Error("queue cookie: %v", err)
		}
	}

	kind = s.router.Classify(path, false)
	err = s.route(ctx, rc, view, path)
	if saveErr := s.store.Save(ctx, rec); saveErr != nil {
		log.Warn("session save: %v", saveErr)
	}
	if err != nil {
		log.Warn("GET %s failed: %v", path, err)
		s.metrics.HandlerError()
		s.reject(rc, log, "request failed")
		return
	}
	log.Debug("GET %s -> %d (%s) in %v", path, rc.StatusCode(), kind, time.Since(start))
}

// route invoca al router recuperando pánicos de los handlers.
func (s *Server) route(ctx context.Context, rc *http1.ResponseContext, view *http1.RequestView, path string) (err error) {
	defer func() {
		if rec := recover(); rec != nil {
			err = errors.Newf("handler panic: %v", rec)
		}
	}()
	return s.router.Route(ctx, rc, view, path, false)
}

// session reutiliza el registro vivo de la cookie o crea uno nuevo; en
// ese caso devuelve también la cookie a emitir.
func (s *Server) session(ctx context.Context, req *http1.Request) (*session.Record, *http1.Cookie, error) {
	if id, ok := http1.SessionID(req.Cookie()); ok {
		rec, err := s.store.Resolve(ctx, id)
		if err != nil {
			return nil, nil, err
		}
		if rec != nil {
			return rec, nil, nil
		}
	}
	rec, err := s.store.Create(ctx)
	if err != nil {
		return nil, nil, err
	}
	s.metrics.SessionCreated()

	opts := []http1.CookieOption{http1.WithPath("/"), http1.WithHTTPOnly()}
	if d := s.cookieDomain(req.Host()); d != "" {
		opts = append(opts, http1.WithDomain(d))
	}
	ck, err := http1.NewCookie(http1.SessionCookie, rec.ID(), opts...)
	if err != nil {
		return nil, nil, err
	}
	return rec, &ck, nil
}

// cookieDomain usa el Host de la petición (sin puerto) o, si falta, el
// host del listener.
func (s *Server) cookieDomain(host string) string {
	if host == "" {
		host, _ = s.bindHost.Load().(string)
	}
	if h, _, err := net.SplitHostPort(host); err == nil {
		host = h
	}
	return host
}

// reject responde 400 si todavía se puede.
func (s *Server) reject(rc *http1.ResponseContext, log logger.Logger, detail string) {
	if rc.Committed() {
		return
	}
	if err := resp.Send(rc, resp.BadReq(detail)); err != nil {
		log.Debug("write 400: %v", err)
	}
}

func protocolDetail(err error) string {
	switch {
	case errors.Is(err, http1.ErrBadMethod):
		return "only GET is supported"
	case errors.Is(err, http1.ErrBadProto):
		return "unsupported protocol version"
	default:
		return "malformed request"
	}
}

func remoteAddr(c net.Conn) string {
	if a := c.RemoteAddr(); a != nil {
		return a.String()
	}
	return ""
}
