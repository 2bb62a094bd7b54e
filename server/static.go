package server

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io/fs"
	"mime"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/ridge/pistonen/reactor"
	"github.com/ridge/pistonen/tlog"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

// headerLimit bounds the request head
const headerLimit = 8 << 10

var headEnd = []byte("\r\n\r\n")

// request is a parsed request line
type request struct {
	method  string
	target  string
	version string
}

// errResponse is a request rejected with a status
type errResponse struct {
	status int
	text   string
}

func (e errResponse) Error() string {
	return fmt.Sprintf("%d %s", e.status, e.text)
}

var (
	errHeaderTooLarge = errResponse{431, "Request Header Fields Too Large"}
	errBadRequest     = errResponse{400, "Bad Request"}
	errVersion        = errResponse{505, "HTTP Version Not Supported"}
	errMethod         = errResponse{405, "Method Not Allowed"}
	errNotFound       = errResponse{404, "Not Found"}
)

// static serves files from a directory, one request per connection
type static struct {
	root string
}

func (s static) serve(ctx context.Context, sock *reactor.Socket) error {
	logger := tlog.Get(ctx)

	if _, err := sock.Handshake(); err != nil {
		return err
	}

	head, err := readHead(sock)
	if err != nil {
		return err
	}
	if head == nil {
		return respondError(sock, errHeaderTooLarge)
	}

	req, err := parseRequestLine(head)
	if err != nil {
		var er errResponse
		if errors.As(err, &er) {
			logger.Debug("Request rejected", zap.Error(err))
			return respondError(sock, er)
		}
		return err
	}
	logger.Debug("Request", zap.String("method", req.method), zap.String("target", req.target))

	f, size, err := s.open(req.target)
	if err != nil {
		logger.Debug("File not served", zap.String("target", req.target), zap.Error(err))
		return respondError(sock, errNotFound)
	}
	defer f.Close()

	return sendFile(sock, req, f, size)
}

// readHead reads until the end of the request head. It returns nil when the
// head does not fit into headerLimit bytes.
func readHead(sock *reactor.Socket) ([]byte, error) {
	rd := sock.Read(make([]byte, headerLimit))
	for data := range rd.All() {
		if i := bytes.Index(data, headEnd); i >= 0 {
			return data[:i], nil
		}
	}
	if err := rd.Err(); err != nil {
		return nil, err
	}
	return nil, nil
}

func parseRequestLine(head []byte) (request, error) {
	line, _, _ := bytes.Cut(head, []byte("\r\n"))
	parts := strings.Split(string(line), " ")
	if len(parts) != 3 || parts[0] == "" || !strings.HasPrefix(parts[1], "/") {
		return request{}, errBadRequest
	}
	req := request{method: parts[0], target: parts[1], version: parts[2]}

	switch {
	case !strings.HasPrefix(req.version, "HTTP/"):
		return request{}, errBadRequest
	case req.version != "HTTP/1.0" && req.version != "HTTP/1.1":
		return request{}, errVersion
	case req.method != "GET" && req.method != "HEAD":
		return request{}, errMethod
	}
	return req, nil
}

// open resolves the request target inside the root. Directories are served
// through their index.html.
func (s static) open(target string) (*os.File, int64, error) {
	target, _, _ = strings.Cut(target, "?")
	name := filepath.Join(s.root, filepath.FromSlash(path.Clean("/"+target)))

	f, err := os.Open(name)
	if err != nil {
		return nil, 0, err
	}
	info, err := f.Stat()
	if err == nil && info.IsDir() {
		f.Close()
		f, err = os.Open(filepath.Join(name, "index.html"))
		if err != nil {
			return nil, 0, err
		}
		info, err = f.Stat()
	}
	switch {
	case err != nil:
		f.Close()
		return nil, 0, err
	case !info.Mode().IsRegular():
		f.Close()
		return nil, 0, &fs.PathError{Op: "open", Path: name, Err: errors.New("not a regular file")}
	}
	return f, info.Size(), nil
}

func contentType(name string) string {
	if t := mime.TypeByExtension(filepath.Ext(name)); t != "" {
		return t
	}
	return "application/octet-stream"
}

func sendFile(sock *reactor.Socket, req request, f *os.File, size int64) (err error) {
	uncork, err := sock.Cork()
	if err != nil {
		return err
	}
	defer func() {
		err = multierr.Append(err, uncork())
	}()

	head := fmt.Sprintf("%s 200 OK\r\nContent-Type: %s\r\nContent-Length: %d\r\nConnection: close\r\n\r\n",
		req.version, contentType(f.Name()), size)
	if err := sock.WriteString(head); err != nil {
		return err
	}
	if req.method == "HEAD" || size == 0 {
		return nil
	}
	return sock.SendFile(f, 0, size)
}

func respondError(sock *reactor.Socket, e errResponse) error {
	body := e.text + "\n"
	var allow string
	if e.status == errMethod.status {
		allow = "Allow: GET, HEAD\r\n"
	}
	return sock.WriteString(fmt.Sprintf("HTTP/1.1 %d %s\r\n%sContent-Type: text/plain; charset=utf-8\r\nContent-Length: %d\r\nConnection: close\r\n\r\n%s",
		e.status, e.text, allow, len(body), body))
}
