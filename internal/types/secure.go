package types

const redactedPlaceholder = "***REDACTED***"

var redactedJSON = []byte(`"***REDACTED***"`)

// SecretString holds a signing secret or connection string. It renders as a
// placeholder through fmt and encoding/json so config dumps and structured
// logs never carry the raw value. Unmask returns the plaintext for the few
// callers that need it (HMAC keys, pgx and redis DSNs).
type SecretString string

func (s SecretString) String() string {
	return redactedPlaceholder
}

func (s SecretString) MarshalJSON() ([]byte, error) {
	return redactedJSON, nil
}

// Unmask returns the raw plaintext value.
func (s SecretString) Unmask() string {
	return string(s)
}

// IsSet reports whether a value was configured.
func (s SecretString) IsSet() bool {
	return s != ""
}
