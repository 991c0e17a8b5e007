package versioning

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMiddleware() *VersionMiddleware {
	logger := logrus.New()
	logger.SetOutput(io.Discard)
	return NewVersionMiddleware(logger)
}

func TestVersionHandler(t *testing.T) {
	tests := []struct {
		name           string
		headers        map[string]string
		expectedStatus int
		expectedVer    APIVersion
		expectWarning  bool
	}{
		{
			name:           "no version defaults to current",
			expectedStatus: http.StatusOK,
			expectedVer:    CurrentVersion,
		},
		{
			name:           "Accept-Version header",
			headers:        map[string]string{AcceptVersionHeader: "1.0"},
			expectedStatus: http.StatusOK,
			expectedVer:    V1_0_0,
			expectWarning:  true,
		},
		{
			name:           "X-API-Version header",
			headers:        map[string]string{APIVersionHeader: "1.1.0"},
			expectedStatus: http.StatusOK,
			expectedVer:    V1_1_0,
		},
		{
			name:           "Accept-Version takes precedence",
			headers:        map[string]string{AcceptVersionHeader: "1.0.0", APIVersionHeader: "1.1.0"},
			expectedStatus: http.StatusOK,
			expectedVer:    V1_0_0,
			expectWarning:  true,
		},
		{
			name:           "invalid header falls back to current",
			headers:        map[string]string{AcceptVersionHeader: "newest"},
			expectedStatus: http.StatusOK,
			expectedVer:    CurrentVersion,
		},
		{
			name:           "future major version",
			headers:        map[string]string{AcceptVersionHeader: "2.0.0"},
			expectedStatus: http.StatusNotImplemented,
		},
		{
			name:           "retired version",
			headers:        map[string]string{AcceptVersionHeader: "0.9.0"},
			expectedStatus: http.StatusUpgradeRequired,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var seen APIVersion
			handler := newTestMiddleware().VersionHandler(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				var ok bool
				seen, ok = GetVersionFromContext(r.Context())
				require.True(t, ok)
				w.WriteHeader(http.StatusOK)
			}))

			req := httptest.NewRequest(http.MethodGet, "/api/contacts", nil)
			for k, v := range tt.headers {
				req.Header.Set(k, v)
			}
			w := httptest.NewRecorder()
			handler.ServeHTTP(w, req)

			assert.Equal(t, tt.expectedStatus, w.Code)
			assert.Equal(t, CurrentVersion.String(), w.Header().Get(CurrentVersionHeader))
			assert.Equal(t, GetVersionRange(), w.Header().Get(SupportedVersionsHeader))

			if tt.expectedStatus != http.StatusOK {
				var body map[string]map[string]interface{}
				require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
				assert.Equal(t, "VERSION_INCOMPATIBLE", body["error"]["code"])
				return
			}
			assert.Equal(t, tt.expectedVer, seen)
			assert.Equal(t, tt.expectWarning, w.Header().Get(VersionWarningHeader) != "")
		})
	}
}

func TestFeatureGate(t *testing.T) {
	assert.True(t, FeatureGate(context.Background(), FeatureEventStream), "no negotiation means current version")
	assert.False(t, FeatureGate(context.Background(), "unknown"))

	old := WithVersion(context.Background(), V1_0_0)
	assert.True(t, FeatureGate(old, FeatureStatuses))
	assert.False(t, FeatureGate(old, FeatureMessageReplies))
}

func TestRequireFeature(t *testing.T) {
	called := false
	handler := RequireFeature(FeatureEventStream)(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		called = true
	}))

	req := httptest.NewRequest(http.MethodGet, "/api/events", nil)
	req = req.WithContext(WithVersion(req.Context(), V1_0_0))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	assert.Equal(t, http.StatusNotImplemented, w.Code)
	assert.False(t, called)
	assert.Contains(t, w.Body.String(), "FEATURE_NOT_AVAILABLE")

	req = httptest.NewRequest(http.MethodGet, "/api/events", nil)
	w = httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	assert.True(t, called)
}
