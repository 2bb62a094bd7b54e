package server

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseRequestLine(t *testing.T) {
	tests := []struct {
		line     string
		expected request
		err      error
	}{
		{line: "GET / HTTP/1.1", expected: request{method: "GET", target: "/", version: "HTTP/1.1"}},
		{line: "HEAD /a/b.txt?x=1 HTTP/1.0\r\nHost: example.com", expected: request{method: "HEAD", target: "/a/b.txt?x=1", version: "HTTP/1.0"}},
		{line: "GET /", err: errBadRequest},
		{line: "GET  / HTTP/1.1", err: errBadRequest},
		{line: "GET example.com HTTP/1.1", err: errBadRequest},
		{line: "GET / SPDY/3", err: errBadRequest},
		{line: "", err: errBadRequest},
		{line: "GET / HTTP/2.0", err: errVersion},
		{line: "POST / HTTP/1.1", err: errMethod},
		{line: "DELETE /x HTTP/1.0", err: errMethod},
	}
	for _, tc := range tests {
		req, err := parseRequestLine([]byte(tc.line))
		if tc.err != nil {
			require.Equal(t, tc.err, err, tc.line)
			continue
		}
		require.NoError(t, err, tc.line)
		require.Equal(t, tc.expected, req, tc.line)
	}
}

func TestContentType(t *testing.T) {
	require.Equal(t, "text/html; charset=utf-8", contentType("/srv/index.html"))
	require.Equal(t, "application/octet-stream", contentType("/srv/blob"))
}

func TestOpen(t *testing.T) {
	root := t.TempDir()
	writeFile(t, root, "index.html", "<h1>hi</h1>")
	writeFile(t, root, "docs/readme.txt", "read me")
	s := static{root: root}

	f, size, err := s.open("/docs/readme.txt")
	require.NoError(t, err)
	require.EqualValues(t, 7, size)
	require.NoError(t, f.Close())

	f, size, err = s.open("/?page=1")
	require.NoError(t, err)
	require.EqualValues(t, 11, size)
	require.NoError(t, f.Close())

	_, _, err = s.open("/docs")
	require.Error(t, err)
	_, _, err = s.open("/missing")
	require.Error(t, err)
	_, _, err = s.open("/../" + root + "/index.html")
	require.Error(t, err)
}

func writeFile(t *testing.T, root, name, content string) {
	p := filepath.Join(root, filepath.FromSlash(name))
	require.NoError(t, os.MkdirAll(filepath.Dir(p), 0o755))
	require.NoError(t, os.WriteFile(p, []byte(content), 0o644))
}
