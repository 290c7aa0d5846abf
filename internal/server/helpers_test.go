package server

import (
	"bufio"
	"bytes"
	"context"
	"io"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"so-appserver/internal/handlers"
	"so-appserver/internal/logger"
	"so-appserver/internal/metrics"
	"so-appserver/internal/resp"
	"so-appserver/internal/router"
	"so-appserver/internal/script"
	"so-appserver/internal/session"
)

// fakeConn sirve la petición desde un string y acumula la respuesta.
type fakeConn struct {
	r      io.Reader
	mu     sync.Mutex
	out    bytes.Buffer
	closed bool
}

func newFakeConn(req string) *fakeConn { return &fakeConn{r: strings.NewReader(req)} }

func (f *fakeConn) Read(p []byte) (int, error) { return f.r.Read(p) }
func (f *fakeConn) Write(p []byte) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.out.Write(p)
}
func (f *fakeConn) Close() error {
	f.mu.Lock()
	f.closed = true
	f.mu.Unlock()
	return nil
}
func (f *fakeConn) LocalAddr() net.Addr              { return &net.TCPAddr{} }
func (f *fakeConn) RemoteAddr() net.Addr             { return &net.TCPAddr{IP: net.IPv4(10, 0, 0, 1), Port: 5000} }
func (f *fakeConn) SetDeadline(time.Time) error      { return nil }
func (f *fakeConn) SetReadDeadline(time.Time) error  { return nil }
func (f *fakeConn) SetWriteDeadline(time.Time) error { return nil }

type testEnv struct {
	srv   *Server
	store session.Store
	root  string
	log   *logger.TestLogger
	m     *metrics.Metrics
}

type envOption func(*testEnvConfig)

type testEnvConfig struct {
	storeOpts []session.Option
	cfg       func(*Config)
}

func withStoreOptions(opts ...session.Option) envOption {
	return func(c *testEnvConfig) { c.storeOpts = append(c.storeOpts, opts...) }
}

func withConfig(f func(*Config)) envOption { return func(c *testEnvConfig) { c.cfg = f } }

func newTestEnv(t *testing.T, opts ...envOption) *testEnv {
	t.Helper()
	var ec testEnvConfig
	for _, o := range opts {
		o(&ec)
	}

	root := t.TempDir()
	write := func(rel, body string) {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	write("hello.txt", "hello world")
	write("private/secret.txt", "top secret")
	write("page.script", "Hola ${name}, visita ${counter}\n@include /private/secret.txt\n")

	store := session.NewMemoryStore(ec.storeOpts...)
	m := metrics.New()
	var srv *Server

	builtins := handlers.Builtins(handlers.Deps{
		Status:  func(ctx context.Context) any { return srv.Snapshot(ctx) },
		Metrics: m,
	})
	named, ext := router.NewRegistry(), router.NewRegistry()
	require.NoError(t, handlers.Populate(named, builtins, handlers.DefaultRoutes()))
	require.NoError(t, handlers.Populate(ext, builtins, handlers.DefaultExternal()))
	named.MustRegister("/boom", router.HandlerFunc(func(context.Context, *router.Context) error {
		return io.ErrUnexpectedEOF
	}))
	named.MustRegister("/panic", router.HandlerFunc(func(context.Context, *router.Context) error {
		panic("kaboom")
	}))
	named.MustRegister("/partial", router.HandlerFunc(func(_ context.Context, hc *router.Context) error {
		if _, err := hc.Response.WriteString("half"); err != nil {
			return err
		}
		return io.ErrUnexpectedEOF
	}))
	named.MustRegister("/slow", router.HandlerFunc(func(_ context.Context, hc *router.Context) error {
		time.Sleep(50 * time.Millisecond)
		return resp.Send(hc.Response, resp.PlainOK("slow\n"))
	}))

	r, err := router.New(router.Config{
		DocumentRoot: root,
		Named:        named,
		External:     ext,
		Script:       script.New(),
	})
	require.NoError(t, err)

	log := logger.NewTestLogger()
	cfg := Config{
		Addr:          "127.0.0.1:0",
		Workers:       4,
		Queue:         16,
		AcceptPoll:    20 * time.Millisecond,
		SweepInterval: 10 * time.Millisecond,
		ConnTimeout:   5 * time.Second,
		Router:        r,
		Store:         store,
		Log:           log,
		Metrics:       m,
	}
	if ec.cfg != nil {
		ec.cfg(&cfg)
	}
	srv, err = New(cfg)
	require.NoError(t, err)
	return &testEnv{srv: srv, store: store, root: root, log: log, m: m}
}

// hit pasa una petición cruda por el ClientTask y devuelve la respuesta.
func (e *testEnv) hit(t *testing.T, req string) parsedHTTP {
	t.Helper()
	c := newFakeConn(req)
	e.srv.serveConn(context.Background(), c)
	require.True(t, c.closed, "connection must be closed")
	return parseHTTP(c.out.String())
}

type parsedHTTP struct {
	Raw        string
	StatusLine string
	Code       int
	Headers    map[string][]string
	Body       string
}

func (p parsedHTTP) Header(k string) string {
	if v := p.Headers[k]; len(v) > 0 {
		return v[0]
	}
	return ""
}

func parseHTTP(raw string) parsedHTTP {
	out := parsedHTTP{Raw: raw, Headers: map[string][]string{}}
	head, body, _ := strings.Cut(raw, "\r\n\r\n")
	out.Body = body
	lines := strings.Split(head, "\r\n")
	out.StatusLine = lines[0]
	if fs := strings.Fields(lines[0]); len(fs) >= 2 {
		out.Code, _ = strconv.Atoi(fs[1])
	}
	for _, ln := range lines[1:] {
		if k, v, ok := strings.Cut(ln, ": "); ok {
			out.Headers[k] = append(out.Headers[k], v)
		}
	}
	return out
}

// sidFrom extrae el valor de sid de un Set-Cookie.
func sidFrom(setCookie string) string {
	v := strings.TrimPrefix(setCookie, `sid="`)
	if i := strings.IndexByte(v, '"'); i >= 0 {
		return v[:i]
	}
	return ""
}

// dial hace una petición real por TCP y lee hasta EOF.
func dial(t *testing.T, addr, req string) parsedHTTP {
	t.Helper()
	conn, err := net.DialTimeout("tcp", addr, time.Second)
	require.NoError(t, err)
	defer conn.Close()
	_ = conn.SetDeadline(time.Now().Add(3 * time.Second))
	_, err = io.WriteString(conn, req)
	require.NoError(t, err)
	raw, err := io.ReadAll(bufio.NewReader(conn))
	require.NoError(t, err)
	return parseHTTP(string(raw))
}
