// Package patch stores repair candidates as immutable per-attempt artifacts
// and promotes a verified candidate onto the live pipeline source.
package patch

import (
	"encoding/hex"
	"encoding/json"
	"time"

	"github.com/zeebo/blake3"
)

// Candidate records one proposed replacement of the live source.
type Candidate struct {
	SessionID string    `json:"sessionId"`
	Attempt   int       `json:"attempt"`
	Timestamp time.Time `json:"timestamp"`

	// Path is the read-only candidate source file.
	Path string `json:"path"`

	// BaseDigest is the digest of the source the candidate replaces.
	BaseDigest string `json:"baseDigest"`
	Digest     string `json:"digest"`
	Size       int    `json:"size"`

	// Diff is a unified diff from the base to the candidate.
	Diff string `json:"diff"`

	Insertions int `json:"insertions"`
	Deletions  int `json:"deletions"`
}

// ToJSON converts the candidate record to JSON
func (c *Candidate) ToJSON() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// FromJSON parses a candidate record from JSON
func FromJSON(data []byte) (*Candidate, error) {
	var c Candidate
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

// IsEmpty returns true if the candidate changes nothing
func (c *Candidate) IsEmpty() bool {
	return c.BaseDigest == c.Digest
}

// Digest returns the hex blake3 digest of data.
func Digest(data []byte) string {
	sum := blake3.Sum256(data)
	return hex.EncodeToString(sum[:])
}
