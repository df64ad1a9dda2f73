package httpapi

import (
	"fmt"
	"net"
	"net/http"
	"slices"
	"strings"
)

// basePathResponseWriter prepends the base path to relative redirects
type basePathResponseWriter struct {
	http.ResponseWriter
	basePath string
}

func (w *basePathResponseWriter) WriteHeader(statusCode int) {
	if statusCode >= 300 && statusCode < 400 {
		if location := w.Header().Get("Location"); location != "" {
			// Only modify relative redirects
			if !strings.HasPrefix(location, "http://") && !strings.HasPrefix(location, "https://") {
				if !strings.HasPrefix(location, w.basePath) {
					w.Header().Set("Location", w.basePath+location)
				}
			}
		}
	}
	w.ResponseWriter.WriteHeader(statusCode)
}

func normalizeBasePath(basePath string) string {
	if basePath == "" || basePath == "/" {
		return ""
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	return strings.TrimSuffix(basePath, "/")
}

// StripBasePath serves the API under basePath, e.g. behind a reverse proxy
// that forwards /dispenser/* to the device.
func StripBasePath(basePath string) func(http.Handler) http.Handler {
	basePath = normalizeBasePath(basePath)

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if basePath != "" && (r.URL.Path == basePath || strings.HasPrefix(r.URL.Path, basePath+"/")) {
				r.URL.Path = strings.TrimPrefix(r.URL.Path, basePath)
				if r.URL.Path == "" {
					r.URL.Path = "/"
				}
				w = &basePathResponseWriter{
					ResponseWriter: w,
					basePath:       basePath,
				}
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CheckHost rejects requests whose Host header is not in allowedHosts. An
// empty list or "*" allows every host. Entries without a port match any port.
func CheckHost(allowedHosts []string) func(http.Handler) http.Handler {
	allowAll := len(allowedHosts) == 0 || slices.Contains(allowedHosts, "*")
	errMsg := fmt.Sprintf("Invalid host header. Allowed hosts: %s", strings.Join(allowedHosts, ", "))

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if allowAll || hostAllowed(r.Host, allowedHosts) {
				next.ServeHTTP(w, r)
				return
			}
			http.Error(w, errMsg, http.StatusBadRequest)
		})
	}
}

func hostAllowed(host string, allowedHosts []string) bool {
	hostname := host
	if h, _, err := net.SplitHostPort(host); err == nil {
		hostname = h
	}
	for _, allowed := range allowedHosts {
		if strings.EqualFold(allowed, host) || strings.EqualFold(strings.Trim(allowed, "[]"), hostname) {
			return true
		}
	}
	return false
}
