package camera

import (
	"fmt"
	"strconv"
)

// Legal ranges for the tunables, inclusive on both ends.  These mirror the
// vendor documentation for the deployed hardware revisions.
const (
	ExposureTimeMin = 15    // microseconds
	ExposureTimeMax = 20000 // microseconds

	GainMin = 0  // dB
	GainMax = 17 // dB

	FrameRateMin = 0.1  // fps
	FrameRateMax = 80.0 // fps

	ServerMaxLen   = 255
	UsernameMaxLen = 128
	PasswordMaxLen = 256

	PortMin = 1
	PortMax = 65535
)

// ValidateExposureTime checks an exposure time in microseconds against the
// closed legal interval and returns it unchanged.
func ValidateExposureTime(us int) (int, error) {
	if us < ExposureTimeMin || us > ExposureTimeMax {
		return 0, failDetail(ValidationError,
			fmt.Sprintf("exposure time %d out of range [%d, %d]", us, ExposureTimeMin, ExposureTimeMax))
	}
	return us, nil
}

// ValidateGain checks a gain in dB against the closed legal interval.
func ValidateGain(db int) (int, error) {
	if db < GainMin || db > GainMax {
		return 0, failDetail(ValidationError,
			fmt.Sprintf("gain %d out of range [%d, %d]", db, GainMin, GainMax))
	}
	return db, nil
}

// ValidateFrameRate checks a frame rate in fps against the closed legal
// interval.
func ValidateFrameRate(fps float64) (float64, error) {
	if fps < FrameRateMin || fps > FrameRateMax {
		return 0, failDetail(ValidationError,
			fmt.Sprintf("frame rate %g out of range [%g, %g]", fps, FrameRateMin, FrameRateMax))
	}
	return fps, nil
}

// serverByteOK reports whether b may appear in a server address or
// hostname: alphanumerics, dot, dash, underscore.
func serverByteOK(b byte) bool {
	switch {
	case b >= 'a' && b <= 'z':
		return true
	case b >= 'A' && b <= 'Z':
		return true
	case b >= '0' && b <= '9':
		return true
	case b == '.' || b == '-' || b == '_':
		return true
	}
	return false
}

// ValidateServer checks a device address or hostname: non-empty, at most
// ServerMaxLen bytes, restricted character set.
func ValidateServer(s string) (string, error) {
	if s == "" {
		return "", failDetail(ValidationError, "server must not be empty")
	}
	if len(s) > ServerMaxLen {
		return "", failDetail(ValidationError,
			fmt.Sprintf("server longer than %d characters", ServerMaxLen))
	}
	for i := 0; i < len(s); i++ {
		if !serverByteOK(s[i]) {
			return "", failDetail(ValidationError,
				fmt.Sprintf("server contains illegal character %q", s[i]))
		}
	}
	return s, nil
}

// ValidateUsername checks a login username: non-empty, at most
// UsernameMaxLen bytes.
func ValidateUsername(s string) (string, error) {
	if s == "" {
		return "", failDetail(ValidationError, "username must not be empty")
	}
	if len(s) > UsernameMaxLen {
		return "", failDetail(ValidationError,
			fmt.Sprintf("username longer than %d characters", UsernameMaxLen))
	}
	return s, nil
}

// ValidatePassword checks a login password: non-empty, at most
// PasswordMaxLen bytes.
func ValidatePassword(s string) (string, error) {
	if s == "" {
		return "", failDetail(ValidationError, "password must not be empty")
	}
	if len(s) > PasswordMaxLen {
		return "", failDetail(ValidationError,
			fmt.Sprintf("password longer than %d characters", PasswordMaxLen))
	}
	return s, nil
}

// ValidatePort checks a TCP port number, 1-65535 inclusive.
func ValidatePort(p int) (int, error) {
	if p < PortMin || p > PortMax {
		return 0, failDetail(ValidationError,
			fmt.Sprintf("port %d out of range [%d, %d]", p, PortMin, PortMax))
	}
	return p, nil
}

// ParsePort coerces a string to a port number and validates it.  The
// configuration layer stores ports as strings; coercion failures are
// validation errors, not panics downstream.
func ParsePort(s string) (int, error) {
	p, err := strconv.Atoi(s)
	if err != nil {
		return 0, failDetail(ValidationError,
			fmt.Sprintf("port %q is not an integer", s))
	}
	return ValidatePort(p)
}
