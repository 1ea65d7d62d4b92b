package middleware

import (
	"net"
	"net/http"
	"strings"
)

// LocalOnly пропускает запросы только с loopback и приватных адресов:
// API управляет сессией конкретного пользователя и наружу не экспонируется.
func LocalOnly(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if isPrivateIP(clientIP(r)) {
			next.ServeHTTP(w, r)
			return
		}
		http.Error(w, "forbidden", http.StatusForbidden)
	})
}

// clientIP берёт адрес из RemoteAddr. LocalOnly ставится раньше chi middleware.RealIP, иначе адрес подменяется заголовком.
func clientIP(r *http.Request) string {
	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return strings.TrimSpace(r.RemoteAddr)
	}
	return host
}

func isPrivateIP(s string) bool {
	ip := net.ParseIP(s)
	if ip == nil {
		return false
	}
	return ip.IsLoopback() || ip.IsPrivate()
}
