package httpcache

import (
	"bytes"
	"net/http"
)

// recorder wraps http.ResponseWriter so a successful response can be
// captured for caching while it streams to the client unmodified. Only the
// first emission with a 2xx status is buffered; everything else passes
// through untouched.
type recorder struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
	capture     bool
	header      http.Header
	buf         bytes.Buffer
}

func newRecorder(w http.ResponseWriter) *recorder {
	return &recorder{ResponseWriter: w, status: http.StatusOK}
}

func (rec *recorder) WriteHeader(code int) {
	if rec.wroteHeader {
		rec.ResponseWriter.WriteHeader(code)
		return
	}
	rec.wroteHeader = true
	rec.status = code
	rec.capture = code >= 200 && code < 300
	if rec.capture {
		rec.header = snapshotHeader(rec.ResponseWriter.Header())
	}
	rec.ResponseWriter.WriteHeader(code)
}

func (rec *recorder) Write(b []byte) (int, error) {
	if !rec.wroteHeader {
		rec.WriteHeader(http.StatusOK)
	}
	if rec.capture {
		rec.buf.Write(b)
	}
	return rec.ResponseWriter.Write(b)
}

func (rec *recorder) Flush() {
	if f, ok := rec.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// snapshotHeader clones the response headers as they stood when the status
// line was committed, minus the cache observability headers: a replayed hit
// re-derives those, and storing the MISS marker would misreport every hit.
func snapshotHeader(h http.Header) http.Header {
	snap := h.Clone()
	snap.Del(HeaderCacheStatus)
	snap.Del(HeaderCacheKey)
	snap.Del(HeaderCacheTimestamp)
	return snap
}

// statusWriter captures only the response status, for middleware that needs
// the outcome but not the body.
type statusWriter struct {
	http.ResponseWriter
	status      int
	wroteHeader bool
}

func (sw *statusWriter) WriteHeader(code int) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
		sw.status = code
	}
	sw.ResponseWriter.WriteHeader(code)
}

func (sw *statusWriter) Write(b []byte) (int, error) {
	if !sw.wroteHeader {
		sw.wroteHeader = true
		sw.status = http.StatusOK
	}
	return sw.ResponseWriter.Write(b)
}

func (sw *statusWriter) Flush() {
	if f, ok := sw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}
