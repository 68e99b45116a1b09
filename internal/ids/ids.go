package ids

import (
	"crypto/rand"
	"encoding/hex"

	"guardian/internal/constants"
)

// Generate returns a prefixed random id, e.g. "msg_3f1a9c".
func Generate(prefix string) (string, error) {
	b := make([]byte, constants.IDRandomBytes)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}
	return prefix + "_" + hex.EncodeToString(b), nil
}
