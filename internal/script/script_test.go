package script

import (
	"bufio"
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"so-appserver/internal/http1"
	"so-appserver/internal/router"
	"so-appserver/internal/session"
)

func setup(t *testing.T, files map[string]string) *router.Router {
	t.Helper()
	root := t.TempDir()
	for rel, body := range files {
		p := filepath.Join(root, filepath.FromSlash(rel))
		require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
		require.NoError(t, os.WriteFile(p, []byte(body), 0o644))
	}
	r, err := router.New(router.Config{DocumentRoot: root, Script: New()})
	require.NoError(t, err)
	return r
}

func render(t *testing.T, r *router.Router, target string, rec *session.Record) (string, error) {
	t.Helper()
	req, err := http1.ParseRequest(bufio.NewReader(strings.NewReader("GET " + target + " HTTP/1.1\r\n\r\n")))
	require.NoError(t, err)
	path, q := http1.SplitTarget(req.Target)
	b := http1.NewBuilder(req).Temp(http1.ParseQuery(q))
	if rec != nil {
		b.Session(rec)
	}
	var buf bytes.Buffer
	rc := http1.NewResponseContext(&buf)
	err = r.Route(context.Background(), rc, b.Build(), path, false)
	return buf.String(), err
}

func newRecord(t *testing.T) *session.Record {
	t.Helper()
	rec, err := session.NewMemoryStore().Create(context.Background())
	require.NoError(t, err)
	return rec
}

func TestRender_Substitution(t *testing.T) {
	r := setup(t, map[string]string{"hi.script": "Hola ${name}!\ncounter=${counter}\nmissing=[${nope}]\n"})
	out, err := render(t, r, "/hi.script?name=Ana", newRecord(t))
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(out, "HTTP/1.1 200 OK\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n"), out)
	assert.True(t, strings.HasSuffix(out, "Hola Ana!\ncounter=0\nmissing=[]\n"), out)
}

func TestRender_TempWinsOverPersistent(t *testing.T) {
	r := setup(t, map[string]string{"c.script": "${counter}"})
	out, err := render(t, r, "/c.script?counter=9", newRecord(t))
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "\r\n\r\n9\n"), out)
}

func TestRender_IncludeReachesPrivate(t *testing.T) {
	r := setup(t, map[string]string{
		"page.script":        "<p>\n@include /private/frag.txt\n</p>",
		"private/frag.txt":   "secret-fragment\n",
		"private/other.html": "x",
	})
	out, err := render(t, r, "/page.script", nil)
	require.NoError(t, err)
	body := out[strings.Index(out, "\r\n\r\n")+4:]
	assert.Equal(t, "<p>\nsecret-fragment\n</p>\n", body)
	// el include no pisa la cabecera de la página
	assert.Contains(t, out, "Content-Type: text/html")
	assert.NotContains(t, out, "Content-Length")
}

func TestRender_SetPersists(t *testing.T) {
	r := setup(t, map[string]string{"s.script": "@set color=${c}\ncolor is ${color}"})
	rec := newRecord(t)
	out, err := render(t, r, "/s.script?c=red", rec)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(out, "color is red\n"))
	v, _ := rec.Get("color")
	assert.Equal(t, "red", v)
}

func TestRender_EmptyTemplateCommits(t *testing.T) {
	r := setup(t, map[string]string{"e.script": ""})
	out, err := render(t, r, "/e.script", nil)
	require.NoError(t, err)
	assert.Equal(t, "HTTP/1.1 200 OK\r\nContent-Type: text/html; charset=UTF-8\r\n\r\n", out)
}

func TestRender_IncludeMissingAfterCommitFails(t *testing.T) {
	r := setup(t, map[string]string{"m.script": "before\n@include /nope.txt\n"})
	_, err := render(t, r, "/m.script", nil)
	assert.ErrorIs(t, err, router.ErrNotFound)
}

func TestRender_IncludeLoopStops(t *testing.T) {
	r := setup(t, map[string]string{"loop.script": "@include /loop.script\n"})
	_, err := render(t, r, "/loop.script", nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "include depth exceeded")
}

func TestRender_MalformedSet(t *testing.T) {
	r := setup(t, map[string]string{"bad.script": "@set novalue\n"})
	_, err := render(t, r, "/bad.script", nil)
	assert.Error(t, err)
}
