package middleware

import (
	"context"
	"crypto/subtle"
	"errors"
	"log"
	"net/http"
	"strings"

	"github.com/technosupport/ts-sentinel/internal/auth"
	"github.com/technosupport/ts-sentinel/internal/data"
	"github.com/technosupport/ts-sentinel/internal/tenants"
)

// Authenticator resolves a presented credential to its tenant.
type Authenticator interface {
	Authenticate(ctx context.Context, plaintext string) (*data.Tenant, *data.Credential, error)
}

// defaultCredentialHeaders is the header set checked when no override
// is configured. Authorization carries "Bearer <credential>"; any
// other name carries the bare credential.
var defaultCredentialHeaders = []string{"Authorization", "X-API-Key"}

func extractCredential(r *http.Request, headerNames []string) string {
	for _, name := range headerNames {
		h := r.Header.Get(name)
		if h == "" {
			continue
		}
		if strings.EqualFold(name, "Authorization") {
			parts := strings.SplitN(h, " ", 2)
			if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
				return strings.TrimSpace(parts[1])
			}
			continue
		}
		return strings.TrimSpace(h)
	}
	return ""
}

// TenantAuth authenticates every tenant-scoped request and attaches
// the TenantContext. headerNames overrides which headers carry the
// credential; empty means the default Authorization/X-API-Key pair.
func TenantAuth(svc Authenticator, headerNames ...string) func(http.Handler) http.Handler {
	if len(headerNames) == 0 {
		headerNames = defaultCredentialHeaders
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			cred := extractCredential(r, headerNames)
			if cred == "" {
				writeError(w, http.StatusUnauthorized, CodeAuth, "Missing credential")
				return
			}

			tenant, credential, err := svc.Authenticate(r.Context(), cred)
			if err != nil {
				if errors.Is(err, tenants.ErrUnauthorized) {
					writeError(w, http.StatusUnauthorized, CodeAuth, "Invalid credential")
					return
				}
				log.Printf("[ERROR] Auth lookup failed: %v", err)
				writeError(w, http.StatusInternalServerError, CodeInternal, "Authentication unavailable")
				return
			}

			ctx := WithTenant(r.Context(), &TenantContext{Tenant: tenant, Credential: credential})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AdminConfig carries the process-wide admin secret: either plaintext
// or an argon2id hash, hash preferred when both are set.
type AdminConfig struct {
	Credential     string
	CredentialHash string
}

// AdminAuth gates the /admin surface on X-Admin-Key. The admin secret
// is distinct from every tenant credential.
func AdminAuth(cfg AdminConfig) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if cfg.Credential == "" && cfg.CredentialHash == "" {
				writeError(w, http.StatusForbidden, CodeForbidden, "Admin surface disabled")
				return
			}

			presented := r.Header.Get("X-Admin-Key")
			if presented == "" {
				writeError(w, http.StatusUnauthorized, CodeAuth, "Missing admin key")
				return
			}

			ok := false
			if cfg.CredentialHash != "" {
				valid, err := auth.VerifySecret(presented, cfg.CredentialHash)
				if err != nil {
					log.Printf("[ERROR] Admin hash verification failed: %v", err)
				}
				ok = valid
			} else {
				ok = subtle.ConstantTimeCompare([]byte(presented), []byte(cfg.Credential)) == 1
			}

			if !ok {
				writeError(w, http.StatusUnauthorized, CodeAuth, "Invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
