package mw

import (
	"net/http"

	"github.com/MrSnakeDoc/stackwatch/internal/logger"
	"github.com/MrSnakeDoc/stackwatch/internal/utils"
)

// AllowOnlyCIDRS rejects clients outside the allow-list with 403. An empty
// list disables filtering. trustProxy resolves the client from proxy headers.
func AllowOnlyCIDRS(allowed []string, trustProxy bool, log logger.Logger) func(http.Handler) http.Handler {
	m := utils.NewIPMatcher(allowed)
	if m.IsEmpty() {
		return func(next http.Handler) http.Handler { return next }
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := utils.ClientIP(r, trustProxy)
			if !m.Allow(ip) {
				log.Debugf("status request from %s rejected (remote=%s, trustProxy=%v)", ip, r.RemoteAddr, trustProxy)
				http.Error(w, http.StatusText(http.StatusForbidden), http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
