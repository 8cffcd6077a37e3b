package scheduler

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

type fingerprintDoc struct {
	Input   Input   `json:"input"`
	Options Options `json:"options"`
	Engine  string  `json:"engine"`
}

// Fingerprint hashes a run's input, options and engine name. Equal fingerprints produce
// interchangeable results, so the value can key a result cache.
func Fingerprint(input Input, opts Options, engine string) (string, error) {
	opts.Workers = 0
	payload, err := json.Marshal(fingerprintDoc{Input: input, Options: opts, Engine: engine})
	if err != nil {
		return "", err
	}
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:]), nil
}
