package metadata

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"fmt"
)

// CanonicalBody normalizes a descriptor body to a map so its JSON form
// has stable key order. encoding/json sorts map keys on marshal.
func CanonicalBody(body interface{}) (map[string]interface{}, error) {
	raw, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal descriptor body: %w", err)
	}
	var canonical map[string]interface{}
	if err := json.Unmarshal(raw, &canonical); err != nil {
		return nil, fmt.Errorf("failed to canonicalize descriptor body: %w", err)
	}
	return canonical, nil
}

// ComputeIntegrity returns the SHA-256 hex digest over the canonical
// body with the integrity field itself excluded.
func ComputeIntegrity(body map[string]interface{}) (string, error) {
	stripped := make(map[string]interface{}, len(body))
	for k, v := range body {
		if k == "integrity" {
			continue
		}
		stripped[k] = v
	}
	raw, err := json.Marshal(stripped)
	if err != nil {
		return "", fmt.Errorf("failed to marshal body for integrity: %w", err)
	}
	sum := sha256.Sum256(raw)
	return hex.EncodeToString(sum[:]), nil
}

// SealIntegrity computes and stamps the integrity field on the body
func SealIntegrity(body map[string]interface{}) error {
	digest, err := ComputeIntegrity(body)
	if err != nil {
		return err
	}
	body["integrity"] = digest
	return nil
}

// VerifyIntegrity recomputes the digest and compares it to the stamped
// field.
func VerifyIntegrity(body map[string]interface{}) (bool, error) {
	stamped, ok := body["integrity"].(string)
	if !ok || stamped == "" {
		return false, fmt.Errorf("body carries no integrity field")
	}
	digest, err := ComputeIntegrity(body)
	if err != nil {
		return false, err
	}
	return digest == stamped, nil
}
