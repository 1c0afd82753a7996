package relay

import (
	"crypto/rand"
	"encoding/hex"
)

// DefaultTopicPrefix prefixes generated notification topics.
const DefaultTopicPrefix = "uestcjwc-"

// GenerateTopic returns prefix followed by 24 random hex characters. Topics
// on a public relay are the only access control, so they must be
// unguessable.
func GenerateTopic(prefix string) string {
	b := make([]byte, 12)
	if _, err := rand.Read(b); err != nil {
		panic("relay: crypto/rand failed: " + err.Error())
	}
	return prefix + hex.EncodeToString(b)
}
