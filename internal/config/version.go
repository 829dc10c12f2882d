package config

import "fmt"

// CurrentVersion is the config file format this build writes and reads.
const CurrentVersion = 1

const (
	versionMissing = "missing"
	versionInvalid = "invalid"
	versionNewer   = "newer than this build"
)

// VersionError reports a config file version this build cannot read.
type VersionError struct {
	Version int
	Current int
	Reason  string
}

func (e *VersionError) Error() string {
	switch {
	case e == nil:
		return ""
	case e.Reason == versionNewer:
		return fmt.Sprintf("config version %d is %s (current: %d); upgrade chatbot to continue", e.Version, e.Reason, e.Current)
	case e.Reason != "":
		return fmt.Sprintf("config version %d is %s (current: %d)", e.Version, e.Reason, e.Current)
	default:
		return fmt.Sprintf("config version %d is unsupported (current: %d)", e.Version, e.Current)
	}
}

// ValidateVersion accepts versions 1 through CurrentVersion.
func ValidateVersion(version int) error {
	reason := ""
	switch {
	case version < 0:
		reason = versionInvalid
	case version == 0:
		reason = versionMissing
	case version > CurrentVersion:
		reason = versionNewer
	}
	if reason == "" {
		return nil
	}
	return &VersionError{Version: version, Current: CurrentVersion, Reason: reason}
}
