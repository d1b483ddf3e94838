package middleware

import (
	"net/http"
	"time"

	log "github.com/sirupsen/logrus"
)

// responseWriter captures the status code for the completion log line.
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// RequestLogging logs every request with method, path, status, and duration.
// Client errors log at warn, server errors at error.
func RequestLogging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		wrapped := &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}

		next.ServeHTTP(wrapped, r)

		duration := time.Since(start)
		level := log.InfoLevel
		prefix := "✅"
		if wrapped.statusCode >= 500 {
			level = log.ErrorLevel
			prefix = "❌"
		} else if wrapped.statusCode >= 400 {
			level = log.WarnLevel
			prefix = "⚠️"
		}

		log.WithFields(log.Fields{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status_code": wrapped.statusCode,
			"duration_ms": duration.Milliseconds(),
			"remote":      r.RemoteAddr,
		}).Logf(level, "%s API request completed", prefix)

		if duration > 5*time.Second {
			log.WithFields(log.Fields{
				"method":   r.Method,
				"path":     r.URL.Path,
				"duration": duration,
			}).Warn("🐌 Slow API request detected")
		}
	})
}

// CORS adds permissive CORS headers and answers preflight requests.
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}
		next.ServeHTTP(w, r)
	})
}
