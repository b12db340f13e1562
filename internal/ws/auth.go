package ws

import (
	"errors"
	"net/http"
	"net/url"
	"strings"

	socketio "github.com/googollee/go-socket.io"
	"github.com/sirupsen/logrus"

	"ppe_realtime/internal/auth"
)

var errNoToken = errors.New("no token provided")

// session is stored as the context of every authenticated connection
type session struct {
	claims *auth.Claims
}

// extractToken extracts the JWT from a handshake.
// Priority: 1. token query parameter, 2. Authorization header
func extractToken(query url.Values, header http.Header) string {
	// Browser clients send io(url, { auth: { token } }) as ?token=
	if token := query.Get("token"); token != "" {
		return token
	}

	authHeader := header.Get("Authorization")
	if authHeader != "" {
		parts := strings.SplitN(authHeader, " ", 2)
		if len(parts) == 2 && parts[0] == "Bearer" {
			return parts[1]
		}
	}

	return ""
}

func authenticate(query url.Values, header http.Header) (*auth.Claims, error) {
	token := extractToken(query, header)
	if token == "" {
		return nil, errNoToken
	}
	return auth.ParseToken(token)
}

// WrapWithAuth rejects Socket.IO handshakes that carry no valid JWT
func WrapWithAuth(server http.Handler, logger *logrus.Entry) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Only the opening GET of a session carries no sid
		if r.Method == http.MethodGet && r.URL.Query().Get("sid") == "" {
			claims, err := authenticate(r.URL.Query(), r.Header)
			if err != nil {
				logger.WithError(err).WithField("remote", r.RemoteAddr).Warn("Handshake rejected")
				http.Error(w, "Unauthorized", http.StatusUnauthorized)
				return
			}

			logger.WithFields(logrus.Fields{
				"uid":  claims.UserID,
				"role": claims.Role,
			}).Debug("Handshake accepted")
		}

		server.ServeHTTP(w, r)
	})
}

// claimsOf returns the claims stored for an authenticated connection
func claimsOf(c socketio.Conn) (*auth.Claims, bool) {
	if c == nil {
		return nil, false
	}
	sess, ok := c.Context().(*session)
	if !ok || sess == nil || sess.claims == nil {
		return nil, false
	}
	return sess.claims, true
}
