package api

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/hyperengineering/strata/internal/validation"
)

// OrganizationHeader names the request header that scopes a call to one tenant.
const OrganizationHeader = "X-Organization-ID"

// maxOrganizationIDLength bounds the header value.
const maxOrganizationIDLength = 128

// orgContextKey is the context key for the organization ID.
type orgContextKey struct{}

// ErrNoOrganizationInContext indicates no organization ID was found in the context.
var ErrNoOrganizationInContext = errors.New("no organization in context")

// WithOrganizationID returns a new context with the organization ID attached.
func WithOrganizationID(ctx context.Context, orgID string) context.Context {
	return context.WithValue(ctx, orgContextKey{}, orgID)
}

// OrganizationIDFromContext extracts the organization ID from the context.
// Returns ErrNoOrganizationInContext if not present or empty.
func OrganizationIDFromContext(ctx context.Context) (string, error) {
	id, ok := ctx.Value(orgContextKey{}).(string)
	if !ok || id == "" {
		return "", ErrNoOrganizationInContext
	}
	return id, nil
}

// MustOrganizationIDFromContext extracts the organization ID or panics.
// Use only when OrganizationMiddleware guarantees its presence.
func MustOrganizationIDFromContext(ctx context.Context) string {
	id, err := OrganizationIDFromContext(ctx)
	if err != nil {
		panic("organization not in context: middleware misconfiguration")
	}
	return id
}

// OrganizationMiddleware reads the X-Organization-ID header and attaches it
// to the request context. Requests without a usable header get 400.
func OrganizationMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := strings.TrimSpace(r.Header.Get(OrganizationHeader))
		if orgID == "" {
			WriteProblem(w, r, http.StatusBadRequest, "Missing "+OrganizationHeader+" header")
			return
		}
		if verr := validation.ValidateNoNullBytes("organization_id", orgID); verr != nil {
			WriteProblem(w, r, http.StatusBadRequest, "Invalid "+OrganizationHeader+" header")
			return
		}
		if verr := validation.ValidateMaxLength("organization_id", orgID, maxOrganizationIDLength); verr != nil {
			WriteProblem(w, r, http.StatusBadRequest, "Invalid "+OrganizationHeader+" header")
			return
		}
		next.ServeHTTP(w, r.WithContext(WithOrganizationID(r.Context(), orgID)))
	})
}
