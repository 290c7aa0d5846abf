package resp

import (
	"bytes"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"so-appserver/internal/http1"
)

// ---------- Constructores ----------

func TestConstructors(t *testing.T) {
	assert.Equal(t, Result{200, "hola\n", false}, PlainOK("hola\n"))
	assert.Equal(t, Result{200, `{"ok":true}`, true}, JSONOK(`{"ok":true}`))

	nf := NotFound()
	assert.Equal(t, 404, nf.Status)
	assert.False(t, nf.JSON)

	br := BadReq("boom")
	assert.Equal(t, 400, br.Status)
	assert.Contains(t, br.Body, "boom")

	assert.Equal(t, 200, Welcome().Status)
}

// ---------- Send ----------

func TestSend_PlainWithLength(t *testing.T) {
	var buf bytes.Buffer
	rc := http1.NewResponseContext(&buf)
	require.NoError(t, Send(rc, PlainOK("hola\n")))
	assert.Equal(t,
		"HTTP/1.1 200 OK\r\nContent-Length: 5\r\nContent-Type: text/plain; charset=UTF-8\r\n\r\nhola\n",
		buf.String())
}

func TestSend_JSONHasNoCharset(t *testing.T) {
	var buf bytes.Buffer
	rc := http1.NewResponseContext(&buf)
	require.NoError(t, Send(rc, JSONOK(`{}`)))
	assert.Contains(t, buf.String(), "Content-Type: application/json\r\n")
}

func TestSend_KeepsQueuedCookies(t *testing.T) {
	var buf bytes.Buffer
	rc := http1.NewResponseContext(&buf)
	c, _ := http1.NewCookie("sid", "X", http1.WithPath("/"))
	require.NoError(t, rc.AddCookie(c))
	require.NoError(t, Send(rc, NotFound()))
	assert.Contains(t, buf.String(), "HTTP/1.1 404 Not Found\r\n")
	assert.Contains(t, buf.String(), "Set-Cookie: sid=\"X\"; Path=/\r\n")
}

func TestSend_AfterCommitFails(t *testing.T) {
	var buf bytes.Buffer
	rc := http1.NewResponseContext(&buf)
	_, _ = rc.WriteString("partial")
	err := Send(rc, BadReq("late"))
	assert.True(t, errors.Is(err, http1.ErrAlreadyCommitted))
	assert.NotContains(t, buf.String(), "late")
}
