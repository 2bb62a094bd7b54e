package thttp

import (
	"bufio"
	"errors"
	"net"
	"net/http"
)

// Captured is what Capture records about a response
type Captured struct {
	Status int
	Bytes  int64
}

// Capture wraps a http.ResponseWriter to record the status code and the
// body size into *res. Hijacking and flushing pass through when the
// original writer supports them.
func Capture(w http.ResponseWriter, res *Captured) http.ResponseWriter {
	return &capture{ResponseWriter: w, res: res}
}

type capture struct {
	http.ResponseWriter
	res *Captured
}

func (c *capture) Write(b []byte) (int, error) {
	if c.res.Status == 0 {
		c.res.Status = http.StatusOK
	}
	n, err := c.ResponseWriter.Write(b)
	c.res.Bytes += int64(n)
	return n, err
}

func (c *capture) WriteHeader(statusCode int) {
	if c.res.Status == 0 {
		c.res.Status = statusCode
	}
	c.ResponseWriter.WriteHeader(statusCode)
}

func (c *capture) Flush() {
	if f, ok := c.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

func (c *capture) Hijack() (net.Conn, *bufio.ReadWriter, error) {
	h, ok := c.ResponseWriter.(http.Hijacker)
	if !ok {
		return nil, nil, errors.New("connection does not support hijacking")
	}
	conn, rw, err := h.Hijack()
	if err == nil && c.res.Status == 0 {
		c.res.Status = http.StatusSwitchingProtocols
	}
	return conn, rw, err
}

// Unwrap supports http.ResponseController
func (c *capture) Unwrap() http.ResponseWriter {
	return c.ResponseWriter
}
