package middleware

import (
	"context"
	"net/http"
	"time"

	"github.com/sirupsen/logrus"

	"command-center/backend/internal/logs"
	"command-center/backend/internal/security"
	sessiondomain "command-center/backend/internal/session/domain"
	tokendomain "command-center/backend/internal/token/domain"
	"command-center/backend/internal/transport"
)

// AccessValidator validates bearer tokens.
type AccessValidator interface {
	Validate(ctx context.Context, raw string, kind tokendomain.Kind) (*tokendomain.Claims, error)
}

// SessionFinder resolves a session cookie to its login session.
type SessionFinder interface {
	GetByTokenHash(ctx context.Context, tokenHash string) (*sessiondomain.Session, error)
	UpdateLastSeen(ctx context.Context, id string, at time.Time) error
}

// Authenticate binds the caller's identity to the context. It never rejects: a request with a
// missing or invalid credential continues unauthenticated and handlers that need an identity
// answer 401 themselves. A bearer header wins over the session cookie.
func Authenticate(tokens AccessValidator, sessions SessionFinder, rc *transport.Reconciler) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			creds := rc.Credentials(r)
			switch {
			case creds.Bearer != "":
				claims, err := tokens.Validate(ctx, creds.Bearer, tokendomain.KindAccess)
				if err != nil {
					logs.Logger.WithFields(logrus.Fields{
						"request_id": RequestIDFrom(ctx),
						"reason":     tokendomain.RejectionReason(err),
					}).WithError(err).Debug("bearer rejected")
					ctx = context.WithValue(ctx, authFailureKey, true)
					break
				}
				ctx = WithIdentity(ctx, &Identity{
					AccountID: claims.AccountID,
					SessionID: claims.SessionID,
					JTI:       claims.JTI,
					Email:     claims.Email,
					Name:      claims.Name,
					Via:       ViaBearer,
				})
			case creds.Session != "":
				if id := sessionIdentity(ctx, sessions, creds.Session); id != nil {
					ctx = WithIdentity(ctx, id)
				}
			}
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

func sessionIdentity(ctx context.Context, sessions SessionFinder, raw string) *Identity {
	s, err := sessions.GetByTokenHash(ctx, security.HashToken(raw))
	if err != nil {
		logs.Logger.WithError(err).WithField("request_id", RequestIDFrom(ctx)).Warn("session lookup failed")
		return nil
	}
	now := time.Now().UTC()
	if !s.Active(now) {
		return nil
	}
	if err := sessions.UpdateLastSeen(ctx, s.ID, now); err != nil {
		logs.Logger.WithError(err).WithField("session_id", s.ID).Debug("update last_seen failed")
	}
	return &Identity{AccountID: s.AccountID, SessionID: s.ID, Via: ViaSession}
}
