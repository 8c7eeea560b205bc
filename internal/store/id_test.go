package store

import (
	"regexp"
	"testing"
)

func TestIDFormats(t *testing.T) {
	cases := []struct {
		name    string
		mint    func() string
		pattern string
	}{
		{"batch", NewBatchID, `^rb_[0-9a-f]{32}$`},
		{"upload", NewUploadID, `^upl_[0-9a-f]{32}$`},
		{"recording", NewRecordingID, `^rec_[0-9a-f]{32}$`},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			re := regexp.MustCompile(tc.pattern)
			first := tc.mint()
			second := tc.mint()
			if !re.MatchString(first) {
				t.Fatalf("id %q does not match %s", first, tc.pattern)
			}
			if first == second {
				t.Fatalf("expected distinct ids, got %q twice", first)
			}
		})
	}
}
