package versioning

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"

	"github.com/sirupsen/logrus"
)

type contextKey string

const versionContextKey contextKey = "api_version"

const (
	// Request headers
	AcceptVersionHeader = "Accept-Version"
	APIVersionHeader    = "X-API-Version"

	// Response headers
	CurrentVersionHeader    = "X-Current-Version"
	SupportedVersionsHeader = "X-Supported-Versions"
	VersionWarningHeader    = "X-Version-Warning"
)

// VersionMiddleware negotiates the API version of each request
type VersionMiddleware struct {
	logger *logrus.Logger
}

func NewVersionMiddleware(logger *logrus.Logger) *VersionMiddleware {
	return &VersionMiddleware{logger: logger}
}

// VersionHandler rejects unsupported versions and stores the negotiated one in the context
func (vm *VersionMiddleware) VersionHandler(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requested := vm.extractVersionFromRequest(r)
		compat := CheckCompatibility(requested)

		w.Header().Set(CurrentVersionHeader, CurrentVersion.String())
		w.Header().Set(SupportedVersionsHeader, GetVersionRange())
		if len(compat.Warnings) > 0 {
			w.Header().Set(VersionWarningHeader, strings.Join(compat.Warnings, "; "))
		}

		if !compat.Compatible {
			vm.handleIncompatibleVersion(w, r, compat)
			return
		}

		vm.logger.WithFields(logrus.Fields{
			"api_version": requested.String(),
			"path":        r.URL.Path,
		}).Trace("API version negotiated")

		next.ServeHTTP(w, r.WithContext(WithVersion(r.Context(), requested)))
	})
}

// extractVersionFromRequest prefers Accept-Version, then X-API-Version, then the current version
func (vm *VersionMiddleware) extractVersionFromRequest(r *http.Request) APIVersion {
	for _, header := range []string{AcceptVersionHeader, APIVersionHeader} {
		value := strings.TrimSpace(r.Header.Get(header))
		if value == "" {
			continue
		}
		if version, err := ParseVersion(value); err == nil {
			return version
		}
		vm.logger.WithField("version_string", value).Warnf("Invalid version in %s header", header)
	}
	return CurrentVersion
}

func (vm *VersionMiddleware) handleIncompatibleVersion(w http.ResponseWriter, r *http.Request, compat VersionCompatibility) {
	status := http.StatusNotImplemented
	if compat.TooOld {
		status = http.StatusUpgradeRequired
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)

	body := map[string]interface{}{
		"error": map[string]interface{}{
			"code":    "VERSION_INCOMPATIBLE",
			"message": "API version incompatible",
			"details": compat,
		},
	}
	if err := json.NewEncoder(w).Encode(body); err != nil {
		vm.logger.WithError(err).Error("Failed to encode version error response")
	}

	vm.logger.WithFields(logrus.Fields{
		"requested_version": compat.Requested.String(),
		"current_version":   compat.Current.String(),
		"path":              r.URL.Path,
	}).Warn("Incompatible API version requested")
}

// WithVersion stores the negotiated API version in ctx
func WithVersion(ctx context.Context, version APIVersion) context.Context {
	return context.WithValue(ctx, versionContextKey, version)
}

// GetVersionFromContext returns the negotiated version, if any
func GetVersionFromContext(ctx context.Context) (APIVersion, bool) {
	version, ok := ctx.Value(versionContextKey).(APIVersion)
	return version, ok
}

// FeatureGate reports whether featureName is available to this request.
// Requests that bypassed negotiation are treated as current-version clients.
func FeatureGate(ctx context.Context, featureName string) bool {
	feature, ok := GetFeature(featureName)
	if !ok {
		return false
	}
	version, ok := GetVersionFromContext(ctx)
	if !ok {
		version = CurrentVersion
	}
	return version.SupportsFeature(feature.IntroducedIn)
}

// RequireFeature answers 501 when featureName is not part of the negotiated version
func RequireFeature(featureName string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !FeatureGate(r.Context(), featureName) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(http.StatusNotImplemented)
				_ = json.NewEncoder(w).Encode(map[string]interface{}{
					"error": map[string]interface{}{
						"code":    "FEATURE_NOT_AVAILABLE",
						"message": "Feature not available in this API version",
						"feature": featureName,
					},
				})
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
