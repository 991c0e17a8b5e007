package versioning

import (
	"fmt"
	"regexp"
	"strconv"
)

// APIVersion is the semantic version of the local API
type APIVersion struct {
	Major int `json:"major"`
	Minor int `json:"minor"`
	Patch int `json:"patch"`
}

func (v APIVersion) String() string {
	return fmt.Sprintf("%d.%d.%d", v.Major, v.Minor, v.Patch)
}

// Compare returns -1, 0 or 1 as v is older than, equal to or newer than other
func (v APIVersion) Compare(other APIVersion) int {
	switch {
	case v.Major != other.Major:
		return compareInt(v.Major, other.Major)
	case v.Minor != other.Minor:
		return compareInt(v.Minor, other.Minor)
	default:
		return compareInt(v.Patch, other.Patch)
	}
}

func compareInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// SupportsFeature reports whether a feature introduced in featureVersion is
// available to clients speaking v
func (v APIVersion) SupportsFeature(featureVersion APIVersion) bool {
	return v.Compare(featureVersion) >= 0
}

var (
	V1_0_0 = APIVersion{Major: 1, Minor: 0, Patch: 0}
	V1_1_0 = APIVersion{Major: 1, Minor: 1, Patch: 0}
)

var CurrentVersion = V1_1_0

var MinimumSupportedVersion = V1_0_0

var versionPattern = regexp.MustCompile(`^v?(\d+)(?:\.(\d+))?(?:\.(\d+))?$`)

// ParseVersion accepts "1", "1.1" and "1.1.0", with an optional leading v
func ParseVersion(versionStr string) (APIVersion, error) {
	matches := versionPattern.FindStringSubmatch(versionStr)
	if matches == nil {
		return APIVersion{}, fmt.Errorf("invalid version format: %s", versionStr)
	}

	parts := [3]int{}
	for i, m := range matches[1:] {
		if m == "" {
			continue
		}
		n, err := strconv.Atoi(m)
		if err != nil {
			return APIVersion{}, fmt.Errorf("invalid version component %q: %w", m, err)
		}
		parts[i] = n
	}
	return APIVersion{Major: parts[0], Minor: parts[1], Patch: parts[2]}, nil
}

// Feature names gated by API version
const (
	FeatureConversations  = "conversations"
	FeaturePresence       = "presence"
	FeatureStatuses       = "statuses"
	FeatureContacts       = "contacts"
	FeatureMessageReplies = "message_replies"
	FeatureStatusAudioURL = "status_audio_url"
	FeatureEventStream    = "event_stream"
)

// FeatureVersion records when a feature became available
type FeatureVersion struct {
	Name         string     `json:"name"`
	IntroducedIn APIVersion `json:"introduced_in"`
	Description  string     `json:"description"`
}

var APIFeatures = []FeatureVersion{
	{Name: FeatureConversations, IntroducedIn: V1_0_0, Description: "Conversation views and optimistic sends"},
	{Name: FeaturePresence, IntroducedIn: V1_0_0, Description: "Peer presence and visibility"},
	{Name: FeatureStatuses, IntroducedIn: V1_0_0, Description: "Status feed, create and delete"},
	{Name: FeatureContacts, IntroducedIn: V1_0_0, Description: "Contact list and add"},
	{Name: FeatureMessageReplies, IntroducedIn: V1_1_0, Description: "Replies that reference an earlier message"},
	{Name: FeatureStatusAudioURL, IntroducedIn: V1_1_0, Description: "Status audio tracks resolved from a remote URL"},
	{Name: FeatureEventStream, IntroducedIn: V1_1_0, Description: "Websocket stream of session events"},
}

// GetFeature returns feature information by name
func GetFeature(name string) (FeatureVersion, bool) {
	for _, feature := range APIFeatures {
		if feature.Name == name {
			return feature, true
		}
	}
	return FeatureVersion{}, false
}

// GetSupportedFeatures returns the features available to a client speaking version
func GetSupportedFeatures(version APIVersion) []FeatureVersion {
	var supported []FeatureVersion
	for _, feature := range APIFeatures {
		if version.SupportsFeature(feature.IntroducedIn) {
			supported = append(supported, feature)
		}
	}
	return supported
}

// VersionCompatibility describes how a requested version relates to this server
type VersionCompatibility struct {
	Requested         APIVersion       `json:"requested_version"`
	Current           APIVersion       `json:"current_version"`
	MinimumSupported  APIVersion       `json:"minimum_supported"`
	Compatible        bool             `json:"compatible"`
	SupportedFeatures []FeatureVersion `json:"supported_features,omitempty"`
	Warnings          []string         `json:"warnings,omitempty"`
	Errors            []string         `json:"errors,omitempty"`
	TooOld            bool             `json:"-"`
}

// CheckCompatibility decides whether requested can be served
func CheckCompatibility(requested APIVersion) VersionCompatibility {
	compat := VersionCompatibility{
		Requested:        requested,
		Current:          CurrentVersion,
		MinimumSupported: MinimumSupportedVersion,
	}

	if requested.Compare(MinimumSupportedVersion) < 0 {
		compat.TooOld = true
		compat.Errors = append(compat.Errors,
			fmt.Sprintf("Version %s is no longer supported. Minimum supported version is %s",
				requested, MinimumSupportedVersion))
		return compat
	}
	if requested.Major > CurrentVersion.Major || requested.Compare(CurrentVersion) > 0 {
		compat.Errors = append(compat.Errors,
			fmt.Sprintf("Version %s is not yet available. Current version is %s", requested, CurrentVersion))
		return compat
	}

	compat.Compatible = true
	compat.SupportedFeatures = GetSupportedFeatures(requested)
	if requested.Compare(CurrentVersion) < 0 {
		compat.Warnings = append(compat.Warnings,
			fmt.Sprintf("You are using version %s. Version %s adds newer features", requested, CurrentVersion))
	}
	return compat
}

// GetVersionRange returns the supported version range as a string
func GetVersionRange() string {
	return fmt.Sprintf("%s - %s", MinimumSupportedVersion, CurrentVersion)
}
