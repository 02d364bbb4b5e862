// Package middleware содержит HTTP-middleware сервиса: сжатие, журналирование запросов и метрики.
package middleware

import (
	"compress/gzip"
	"io"
	"net/http"
	"strings"
)

// compressWriter сжимает тело ответа. Заголовки отправляются при первой записи,
// чтобы пустые ответы и ответы без тела не получали Content-Encoding.
type compressWriter struct {
	w          http.ResponseWriter
	zw         *gzip.Writer
	status     int
	headerSent bool
	compress   bool
}

func newCompressWriter(w http.ResponseWriter) *compressWriter {
	return &compressWriter{w: w, status: http.StatusOK}
}

func (c *compressWriter) Header() http.Header {
	return c.w.Header()
}

func (c *compressWriter) WriteHeader(statusCode int) {
	if c.headerSent {
		return
	}
	c.status = statusCode
}

func (c *compressWriter) sendHeader(hasBody bool) {
	c.headerSent = true
	c.compress = hasBody &&
		c.status >= http.StatusOK &&
		c.status != http.StatusNoContent &&
		c.status != http.StatusNotModified &&
		c.w.Header().Get("Content-Encoding") == ""

	if c.compress {
		h := c.w.Header()
		h.Set("Content-Encoding", "gzip")
		h.Del("Content-Length")
		h.Add("Vary", "Accept-Encoding")
	}
	c.w.WriteHeader(c.status)
}

func (c *compressWriter) Write(p []byte) (int, error) {
	if !c.headerSent {
		c.sendHeader(len(p) > 0)
	}
	if !c.compress {
		return c.w.Write(p)
	}
	if c.zw == nil {
		c.zw = gzip.NewWriter(c.w)
	}
	return c.zw.Write(p)
}

// Close досылает заголовки, если тело так и не было записано, и завершает gzip-поток.
func (c *compressWriter) Close() error {
	if !c.headerSent {
		c.sendHeader(false)
	}
	if c.zw == nil {
		return nil
	}
	return c.zw.Close()
}

// compressReader распаковывает сжатое тело запроса.
type compressReader struct {
	r  io.ReadCloser
	zr *gzip.Reader
}

func newCompressReader(r io.ReadCloser) (*compressReader, error) {
	zr, err := gzip.NewReader(r)
	if err != nil {
		return nil, err
	}
	return &compressReader{r: r, zr: zr}, nil
}

func (c *compressReader) Read(p []byte) (int, error) {
	return c.zr.Read(p)
}

func (c *compressReader) Close() error {
	if err := c.r.Close(); err != nil {
		return err
	}
	return c.zr.Close()
}

// GzipMiddleware распаковывает тела запросов с Content-Encoding: gzip
// и сжимает ответы для клиентов, принимающих gzip.
func GzipMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if strings.Contains(r.Header.Get("Content-Encoding"), "gzip") {
			cr, err := newCompressReader(r.Body)
			if err != nil {
				http.Error(w, http.StatusText(http.StatusBadRequest), http.StatusBadRequest)
				return
			}
			r.Body = cr
			r.Header.Del("Content-Encoding")
			r.ContentLength = -1
			defer cr.Close()
		}

		if !strings.Contains(r.Header.Get("Accept-Encoding"), "gzip") || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		cw := newCompressWriter(w)
		defer cw.Close()
		next.ServeHTTP(cw, r)
	})
}
