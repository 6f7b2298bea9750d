package persona

import "fmt"

// ConfigurationError is returned when an Authenticator is constructed without
// usable inputs, for example with neither a key path nor key bytes.
type ConfigurationError struct {
	Reason string
}

func (e *ConfigurationError) Error() string {
	return "persona: configuration error: " + e.Reason
}

// InvalidKeyError is returned when key material is present but cannot be used:
// it is unreadable, unparseable, or belongs to an algorithm other than Expected.
type InvalidKeyError struct {
	Expected string // always Algorithm
	Source   string // file path, or "bytes" for in-memory keys
	Reason   string
	Err      error
}

func (e *InvalidKeyError) Error() string {
	msg := fmt.Sprintf("persona: invalid key from %s (expected %s): %s", e.Source, e.Expected, e.Reason)
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *InvalidKeyError) Unwrap() error {
	return e.Err
}

// SigningFailure is returned when the signing step itself rejects its input.
// Keys are validated at load time, so this indicates a programming error and
// callers should not retry.
type SigningFailure struct {
	Reason string
	Err    error
}

func (e *SigningFailure) Error() string {
	msg := "persona: signing failed: " + e.Reason
	if e.Err != nil {
		msg += ": " + e.Err.Error()
	}
	return msg
}

func (e *SigningFailure) Unwrap() error {
	return e.Err
}
