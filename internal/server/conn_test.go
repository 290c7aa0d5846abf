package server

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"so-appserver/internal/session"
)

func TestServeConn_WelcomeWithoutSession(t *testing.T) {
	e := newTestEnv(t)
	r := e.hit(t, "GET / HTTP/1.1\r\n\r\n")

	assert.Equal(t, "HTTP/1.1 200 OK", r.StatusLine)
	assert.Equal(t, "text/plain; charset=UTF-8", r.Header("Content-Type"))
	assert.Equal(t, "Welcome to so-appserver.\n", r.Body)
	assert.Empty(t, r.Headers["Set-Cookie"])
	n, _ := e.store.Len(context.Background())
	assert.Zero(t, n, "welcome must not mint sessions")
}

func TestServeConn_WelcomeIgnoresQuery(t *testing.T) {
	e := newTestEnv(t)
	r := e.hit(t, "GET /?x=1 HTTP/1.0\r\n\r\n")
	assert.Equal(t, 200, r.Code)
	assert.Equal(t, "Welcome to so-appserver.\n", r.Body)
}

func TestServeConn_MissingFile404(t *testing.T) {
	e := newTestEnv(t)
	r := e.hit(t, "GET /nope.txt HTTP/1.1\r\n\r\n")
	assert.Equal(t, "HTTP/1.1 404 Not Found", r.StatusLine)
}

func TestServeConn_StaticFile(t *testing.T) {
	e := newTestEnv(t)
	r := e.hit(t, "GET /hello.txt HTTP/1.1\r\nHost: example.org\r\n\r\n")
	assert.Equal(t, 200, r.Code)
	assert.Equal(t, "11", r.Header("Content-Length"))
	assert.Equal(t, "hello world", r.Body)
	// orden exacto: longitud, tipo, cookies
	assert.True(t, strings.HasPrefix(r.Raw,
		"HTTP/1.1 200 OK\r\nContent-Length: 11\r\nContent-Type: text/plain; charset=UTF-8\r\nSet-Cookie: sid=\""), r.Raw)
}

func TestServeConn_ReservedPrefix(t *testing.T) {
	e := newTestEnv(t)
	r := e.hit(t, "GET /private/secret.txt HTTP/1.1\r\n\r\n")
	assert.Equal(t, 404, r.Code)
	assert.NotContains(t, r.Body, "top secret")

	r = e.hit(t, "GET /forward?to=/private/secret.txt HTTP/1.1\r\n\r\n")
	assert.Equal(t, 200, r.Code)
	assert.Equal(t, "top secret", r.Body)
}

func TestServeConn_SessionCookieAndCounter(t *testing.T) {
	e := newTestEnv(t)

	first := e.hit(t, "GET /counter HTTP/1.1\r\nHost: example.org:8080\r\n\r\n")
	require.Equal(t, 200, first.Code)
	require.Len(t, first.Headers["Set-Cookie"], 1)
	sc := first.Header("Set-Cookie")
	sid := sidFrom(sc)
	assert.True(t, session.ValidID(sid), sc)
	assert.Equal(t, `sid="`+sid+`"; Domain=example.org; Path=/; Http-Only`, sc)
	assert.Equal(t, "counter=1\n", first.Body)

	second := e.hit(t, "GET /counter HTTP/1.1\r\nHost: example.org\r\nCookie: sid=\""+sid+"\"\r\n\r\n")
	assert.Empty(t, second.Headers["Set-Cookie"], "live session must be reused")
	assert.Equal(t, "counter=2\n", second.Body)

	// cookie sin comillas y junto a otras
	third := e.hit(t, "GET /counter HTTP/1.1\r\nCookie: theme=dark; sid="+sid+"\r\n\r\n")
	assert.Equal(t, "counter=3\n", third.Body)

	n, _ := e.store.Len(context.Background())
	assert.Equal(t, 1, n)
}

func TestServeConn_UnknownOrExpiredSidMintsNew(t *testing.T) {
	clk := struct{ now time.Time }{time.Unix(1_700_000_000, 0)}
	e := newTestEnv(t, withStoreOptions(
		session.WithTimeout(time.Minute),
		session.WithClock(func() time.Time { return clk.now }),
	))

	r := e.hit(t, "GET /counter HTTP/1.1\r\nCookie: sid=\"ZZZZZZZZZZZZZZZZZZZZ\"\r\n\r\n")
	sid := sidFrom(r.Header("Set-Cookie"))
	require.NotEmpty(t, sid)
	assert.NotEqual(t, "ZZZZZZZZZZZZZZZZZZZZ", sid)
	assert.Equal(t, "counter=1\n", r.Body)

	clk.now = clk.now.Add(2 * time.Minute)
	r = e.hit(t, "GET /counter HTTP/1.1\r\nCookie: sid=\""+sid+"\"\r\n\r\n")
	fresh := sidFrom(r.Header("Set-Cookie"))
	assert.NotEmpty(t, fresh)
	assert.NotEqual(t, sid, fresh)
	assert.Equal(t, "counter=1\n", r.Body)
}

func TestServeConn_CookieDomainFallsBackToBindHost(t *testing.T) {
	e := newTestEnv(t)
	e.srv.bindHost.Store("127.0.0.1")
	r := e.hit(t, "GET /counter HTTP/1.1\r\n\r\n")
	assert.Contains(t, r.Header("Set-Cookie"), "; Domain=127.0.0.1; Path=/; Http-Only")
}

func TestServeConn_ProtocolErrors(t *testing.T) {
	e := newTestEnv(t)
	cases := map[string]string{
		"post":           "POST /hello.txt HTTP/1.1\r\n\r\n",
		"http2":          "GET /hello.txt HTTP/2.0\r\n\r\n",
		"two tokens":     "GET /hello.txt\r\n\r\n",
		"four tokens":    "GET /hello.txt HTTP/1.1 extra\r\n\r\n",
		"premature eof":  "GET /hello.txt HTTP/1.1\r\nHost: a\r\n",
		"bare lf":        "GET /hello.txt HTTP/1.1\n\n",
		"empty":          "",
		"lowercase verb": "get /hello.txt HTTP/1.1\r\n\r\n",
	}
	for name, raw := range cases {
		t.Run(name, func(t *testing.T) {
			r := e.hit(t, raw)
			assert.Equal(t, "HTTP/1.1 400 Bad Request", r.StatusLine)
			assert.True(t, strings.HasPrefix(r.Body, "400 Bad Request: "), r.Body)
			assert.Equal(t, "text/plain; charset=UTF-8", r.Header("Content-Type"))
		})
	}
	assert.Contains(t, e.hit(t, "PUT /x HTTP/1.1\r\n\r\n").Body, "only GET")
}

func TestServeConn_HandlerErrorsBecome400(t *testing.T) {
	e := newTestEnv(t)
	for _, p := range []string{"/boom", "/panic"} {
		r := e.hit(t, "GET "+p+" HTTP/1.1\r\n\r\n")
		assert.Equal(t, 400, r.Code, p)
		assert.Equal(t, "400 Bad Request: request failed\n", r.Body)
	}
	assert.GreaterOrEqual(t, e.log.Count("WARNING"), 2)
}

func TestServeConn_ForwardLoopIsBounded(t *testing.T) {
	e := newTestEnv(t)
	r := e.hit(t, "GET /forward?to=/forward HTTP/1.1\r\n\r\n")
	assert.Equal(t, 400, r.Code)
	assert.Equal(t, "400 Bad Request: request failed\n", r.Body)

	// el servidor sigue atendiendo
	assert.Equal(t, 200, e.hit(t, "GET /hello.txt HTTP/1.1\r\n\r\n").Code)
}

func TestServeConn_ScriptIncludeForwardLoopIsBounded(t *testing.T) {
	e := newTestEnv(t)
	require.NoError(t, os.WriteFile(filepath.Join(e.root, "loop.script"), []byte("@include /forward\n"), 0o644))

	r := e.hit(t, "GET /loop.script?to=/loop.script HTTP/1.1\r\n\r\n")
	assert.Equal(t, 400, r.Code)
	assert.Equal(t, 1, strings.Count(r.Raw, "HTTP/1.1 "))
}

func TestServeConn_ErrorAfterCommitJustCloses(t *testing.T) {
	e := newTestEnv(t)
	r := e.hit(t, "GET /partial HTTP/1.1\r\n\r\n")
	assert.Equal(t, 200, r.Code)
	assert.Equal(t, "half", r.Body)
	assert.Equal(t, 1, strings.Count(r.Raw, "HTTP/1.1 "), "header emitted once")
}

func TestServeConn_QueryMalformedPairsSkipped(t *testing.T) {
	e := newTestEnv(t)
	r := e.hit(t, "GET /ext/echo?a=1&b&c=2=3&d=%20x HTTP/1.1\r\n\r\n")
	assert.Equal(t, 200, r.Code)
	assert.Equal(t, "a=1\nd=%20x\n", r.Body)
}

func TestServeConn_ScriptWithIncludeAndSession(t *testing.T) {
	e := newTestEnv(t)
	r := e.hit(t, "GET /page.script?name=Ana HTTP/1.1\r\n\r\n")
	assert.Equal(t, 200, r.Code)
	assert.Equal(t, "text/html; charset=UTF-8", r.Header("Content-Type"))
	assert.Equal(t, "Hola Ana, visita 0\ntop secret", r.Body)
}

func TestServeConn_StatusJSON(t *testing.T) {
	e := newTestEnv(t)
	r := e.hit(t, "GET /status HTTP/1.0\r\n\r\n")
	require.Equal(t, 200, r.Code)
	assert.Equal(t, "application/json", r.Header("Content-Type"))

	var st Status
	require.NoError(t, json.Unmarshal([]byte(r.Body), &st))
	assert.Positive(t, st.PID)
	assert.GreaterOrEqual(t, st.UptimeMS, int64(0))
	assert.NotEmpty(t, st.StartedAt)
	assert.Equal(t, 1, st.Sessions, "the /status request itself got a session")
	assert.Equal(t, PoolName, st.Pool.Name)
}

func TestServeConn_MetricsRecorded(t *testing.T) {
	e := newTestEnv(t)
	e.hit(t, "GET /hello.txt HTTP/1.1\r\n\r\n")
	e.hit(t, "GET /boom HTTP/1.1\r\n\r\n")
	r := e.hit(t, "GET /metrics HTTP/1.1\r\n\r\n")
	require.Equal(t, 200, r.Code)
	assert.Contains(t, r.Body, `appserver_requests_total{kind="static",status="200"} 1`)
	assert.Contains(t, r.Body, `appserver_requests_total{kind="named",status="400"} 1`)
	assert.Contains(t, r.Body, "appserver_handler_errors_total 1")
	assert.Contains(t, r.Body, "appserver_sessions_created_total 3")
}
