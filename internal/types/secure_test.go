package types

import (
	"encoding/json"
	"fmt"
	"strings"
	"testing"
)

const testSecret = "whsec_super_secret_12345"

func TestSecretString_Redaction(t *testing.T) {
	s := SecretString(testSecret)

	for name, got := range map[string]string{
		"String":  s.String(),
		"Sprintf": fmt.Sprintf("key=%s", s),
		"SprintV": fmt.Sprintf("%v", s),
	} {
		if strings.Contains(got, testSecret) {
			t.Errorf("%s leaked the raw secret: %q", name, got)
		}
	}
}

func TestSecretString_JSONInsideStruct(t *testing.T) {
	cfg := struct {
		Secret SecretString `json:"secret"`
		Name   string       `json:"name"`
	}{Secret: SecretString(testSecret), Name: "payhook"}

	data, err := json.Marshal(cfg)
	if err != nil {
		t.Fatalf("json.Marshal returned error: %v", err)
	}
	if strings.Contains(string(data), testSecret) {
		t.Errorf("JSON output leaked the raw secret: %s", data)
	}
	if !strings.Contains(string(data), redactedPlaceholder) {
		t.Errorf("JSON output missing placeholder: %s", data)
	}
}

func TestSecretString_UnmaskAndIsSet(t *testing.T) {
	s := SecretString(testSecret)
	if s.Unmask() != testSecret {
		t.Errorf("Unmask() = %q, want raw value", s.Unmask())
	}
	if !s.IsSet() {
		t.Error("IsSet() = false for a configured secret")
	}
	if SecretString("").IsSet() {
		t.Error("IsSet() = true for an empty secret")
	}
}
