package middleware

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"go.uber.org/zap"

	"github.com/dataplane/query-gateway/models"
	"github.com/dataplane/query-gateway/services"
)

// MockAuthenticator is a mock implementation of Authenticator
type MockAuthenticator struct {
	mock.Mock
}

func (m *MockAuthenticator) Authenticate(ctx context.Context, token string) (*models.PrincipalContext, error) {
	args := m.Called(ctx, token)
	if pc := args.Get(0); pc != nil {
		return pc.(*models.PrincipalContext), args.Error(1)
	}
	return nil, args.Error(1)
}

func testPrincipal() *models.PrincipalContext {
	return &models.PrincipalContext{
		Principal:           "analyst@corp",
		TokenPrefix:         "tok_abcd",
		AllowedCapabilities: []string{"run_query"},
	}
}

func okHandler(captured **models.PrincipalContext) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if captured != nil {
			*captured = GetPrincipalFromContext(r.Context())
		}
		w.WriteHeader(http.StatusOK)
	})
}

func TestRequireAuthSuccess(t *testing.T) {
	authn := new(MockAuthenticator)
	authn.On("Authenticate", mock.Anything, "tok_abcd1234").Return(testPrincipal(), nil)

	mw := NewAuthMiddleware(authn, zap.NewNop())

	var captured *models.PrincipalContext
	req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	req.Header.Set("Authorization", "Bearer tok_abcd1234")
	rec := httptest.NewRecorder()

	mw.RequireAuth(okHandler(&captured)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.NotNil(t, captured)
	assert.Equal(t, "analyst@corp", captured.Principal)
}

func TestRequireAuthMissingHeader(t *testing.T) {
	authn := new(MockAuthenticator)
	mw := NewAuthMiddleware(authn, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	rec := httptest.NewRecorder()

	mw.RequireAuth(okHandler(nil)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
	authn.AssertNotCalled(t, "Authenticate", mock.Anything, mock.Anything)
}

func TestRequireAuthMalformedHeader(t *testing.T) {
	authn := new(MockAuthenticator)
	mw := NewAuthMiddleware(authn, zap.NewNop())

	req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
	req.Header.Set("Authorization", "Basic dXNlcjpwYXNz")
	rec := httptest.NewRecorder()

	mw.RequireAuth(okHandler(nil)).ServeHTTP(rec, req)

	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestRequireAuthErrorMapping(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
	}{
		{"invalid credential", services.ErrInvalidCredential, http.StatusUnauthorized},
		{"revoked credential", services.ErrCredentialRevoked, http.StatusUnauthorized},
		{"expired credential", services.ErrCredentialExpired, http.StatusUnauthorized},
		{"tampered credential", services.ErrCredentialTampered, http.StatusUnauthorized},
		{"internal failure", services.WrapInternal("store down", assert.AnError), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			authn := new(MockAuthenticator)
			authn.On("Authenticate", mock.Anything, mock.Anything).Return(nil, tt.err)
			mw := NewAuthMiddleware(authn, zap.NewNop())

			req := httptest.NewRequest(http.MethodGet, "/api/v1/whoami", nil)
			req.Header.Set("Authorization", "Bearer whatever")
			rec := httptest.NewRecorder()

			mw.RequireAuth(okHandler(nil)).ServeHTTP(rec, req)
			assert.Equal(t, tt.wantStatus, rec.Code)
		})
	}
}

func TestRequireCapability(t *testing.T) {
	authn := new(MockAuthenticator)
	mw := NewAuthMiddleware(authn, zap.NewNop())

	handler := mw.RequireCapability("deploy_object")(okHandler(nil))

	// Principal without the capability
	req := httptest.NewRequest(http.MethodPost, "/api/v1/deployments", nil)
	req = req.WithContext(WithPrincipal(req.Context(), testPrincipal()))
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	// Principal with the capability
	p := testPrincipal()
	p.AllowedCapabilities = append(p.AllowedCapabilities, "deploy_object")
	req = httptest.NewRequest(http.MethodPost, "/api/v1/deployments", nil)
	req = req.WithContext(WithPrincipal(req.Context(), p))
	rec = httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestRequireCapabilityWithoutAuth(t *testing.T) {
	authn := new(MockAuthenticator)
	mw := NewAuthMiddleware(authn, zap.NewNop())

	handler := mw.RequireCapability("run_query")(okHandler(nil))

	req := httptest.NewRequest(http.MethodPost, "/api/v1/tools/run_query", nil)
	rec := httptest.NewRecorder()
	handler.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestExtractBearerToken(t *testing.T) {
	tests := []struct {
		name   string
		header string
		want   string
	}{
		{"standard bearer", "Bearer abc123", "abc123"},
		{"lowercase scheme", "bearer abc123", "abc123"},
		{"empty", "", ""},
		{"wrong scheme", "Token abc123", ""},
		{"no token", "Bearer", ""},
		{"extra whitespace", "Bearer   abc123", "abc123"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			assert.Equal(t, tt.want, extractBearerToken(req))
		})
	}
}

func TestPrincipalContextRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Nil(t, GetPrincipalFromContext(ctx))

	p := testPrincipal()
	ctx = WithPrincipal(ctx, p)
	assert.Equal(t, p, GetPrincipalFromContext(ctx))
}

func TestRequestIDRoundTrip(t *testing.T) {
	ctx := context.Background()
	assert.Empty(t, GetRequestIDFromContext(ctx))

	ctx = WithRequestID(ctx, "req-42")
	assert.Equal(t, "req-42", GetRequestIDFromContext(ctx))
}
