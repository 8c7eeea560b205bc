package models

import (
	"fmt"
	"strings"
	"time"
)

// BlobRefPrefix prefixes every content-derived blob reference.
const BlobRefPrefix = "sha256:"

// Blob is an immutable stored content object, addressed by the sha256 of
// its bytes. Identical content always yields the same ref and is stored
// exactly once.
type Blob struct {
	Ref       string    `json:"ref"`
	BlobKey   string    `json:"blob_key"`
	SizeBytes int64     `json:"size_bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// BlobRefFromDigest builds a blob ref from a lowercase hex sha256 digest.
func BlobRefFromDigest(digest string) string {
	return BlobRefPrefix + strings.ToLower(strings.TrimSpace(digest))
}

// ParseBlobRef validates a blob ref and returns the embedded digest.
func ParseBlobRef(ref string) (string, error) {
	ref = strings.TrimSpace(ref)
	if !strings.HasPrefix(ref, BlobRefPrefix) {
		return "", fmt.Errorf("invalid blob ref: %s", ref)
	}
	digest := strings.ToLower(ref[len(BlobRefPrefix):])
	if len(digest) != 64 {
		return "", fmt.Errorf("invalid blob ref digest length: %d", len(digest))
	}
	for _, ch := range digest {
		if (ch < '0' || ch > '9') && (ch < 'a' || ch > 'f') {
			return "", fmt.Errorf("invalid blob ref digest: %s", digest)
		}
	}
	return digest, nil
}
