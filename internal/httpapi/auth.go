package httpapi

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"clinic/reception-service/internal/auth"
	"clinic/reception-service/internal/models"
	"clinic/reception-service/internal/store"
)

type identityContextKey struct{}

// identity is the authenticated caller bound to the resolved tenant.
type identity struct {
	Claims *auth.Claims
	Tenant models.Tenant
}

func (id identity) TenantID() string {
	return id.Tenant.TenantID
}

func identityFromContext(ctx context.Context) (identity, bool) {
	value, ok := ctx.Value(identityContextKey{}).(identity)
	return value, ok
}

// protect authenticates the bearer token, resolves the X-Tenant slug and
// checks the caller's role against resource and action before calling next.
func (h *Handler) protect(resource, action string, next http.HandlerFunc) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := requestIDFromRequest(r)

		token := bearerToken(r.Header.Get("Authorization"))
		if token == "" {
			writeError(w, requestID, http.StatusUnauthorized, kindUnauthorized, "unauthorized", "missing bearer token")
			return
		}
		claims, err := h.tokens.Verify(token)
		if err != nil {
			writeError(w, requestID, http.StatusUnauthorized, kindUnauthorized, "unauthorized", "invalid token")
			return
		}

		slug := tenantSlugFromRequest(r)
		if slug == "" {
			writeError(w, requestID, http.StatusBadRequest, kindInvalidRequest, "invalid_request", "X-Tenant header is required")
			return
		}
		tenant, err := h.store.ResolveTenant(r.Context(), slug)
		if err != nil {
			h.writeStoreError(w, r, err)
			return
		}
		if tenant.Status != models.TenantActive {
			writeError(w, requestID, http.StatusForbidden, string(store.KindForbidden), "tenant_inactive", "tenant is not active")
			return
		}
		if claims.Role != models.RoleSuperAdmin && claims.TenantID != tenant.TenantID {
			writeError(w, requestID, http.StatusForbidden, string(store.KindForbidden), "access_denied", "tenant access denied")
			return
		}

		allowed, err := h.enforcer.Enforce(claims.Role, resource, action)
		if err != nil {
			h.writeStoreError(w, r, err)
			return
		}
		if !allowed {
			writeError(w, requestID, http.StatusForbidden, string(store.KindForbidden), "access_denied", "access denied")
			return
		}

		ctx := context.WithValue(r.Context(), identityContextKey{}, identity{Claims: claims, Tenant: tenant})
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// caller builds the store caller, attaching the doctor profile when the
// caller is a doctor in this tenant.
func (h *Handler) caller(ctx context.Context, id identity) (store.Caller, error) {
	caller := store.Caller{UserID: id.Claims.UserID(), Role: id.Claims.Role}
	if caller.Role != models.RoleDoctor {
		return caller, nil
	}
	doctor, err := h.store.DoctorByUser(ctx, id.TenantID(), caller.UserID)
	if errors.Is(err, store.ErrDoctorNotFound) {
		return caller, nil
	}
	if err != nil {
		return caller, err
	}
	caller.DoctorID = doctor.DoctorID
	return caller, nil
}

func requestIDFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Request-ID"))
}

func tenantSlugFromRequest(r *http.Request) string {
	return strings.TrimSpace(r.Header.Get("X-Tenant"))
}

func bearerToken(header string) string {
	if header == "" {
		return ""
	}
	parts := strings.Fields(header)
	if len(parts) != 2 {
		return ""
	}
	if strings.ToLower(parts[0]) != "bearer" {
		return ""
	}
	return parts[1]
}
