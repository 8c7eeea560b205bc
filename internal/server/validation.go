package server

import (
	"fmt"
	"mime"
	"regexp"
	"strings"
)

var (
	batchIDRegex     = regexp.MustCompile(`^rb_[0-9a-f]{32}$`)
	uploadIDRegex    = regexp.MustCompile(`^upl_[0-9a-f]{32}$`)
	recordingIDRegex = regexp.MustCompile(`^rec_[0-9a-f]{32}$`)
)

func validateBatchID(id string) bool {
	return batchIDRegex.MatchString(id)
}

func validateUploadID(id string) bool {
	return uploadIDRegex.MatchString(id)
}

func validateRecordingID(id string) bool {
	return recordingIDRegex.MatchString(id)
}

// normalizeMediaType parses and lowercases a media type, dropping any
// parameters. "audio/WAV; rate=16000" and "audio/wav" compare equal.
func normalizeMediaType(value string) (string, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return "", badRequestCode(fmt.Errorf("content_type is required"), ErrCodeMissingRequired)
	}
	parsed, _, err := mime.ParseMediaType(value)
	if err != nil {
		return "", badRequestCode(fmt.Errorf("invalid content_type %q", value), ErrCodeInvalidMediaType)
	}
	return strings.ToLower(strings.TrimSpace(parsed)), nil
}

func mediaTypeAllowed(mediaType string, allowed []string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, candidate := range allowed {
		if candidate == mediaType {
			return true
		}
	}
	return false
}
