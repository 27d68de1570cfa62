package sandbox

import "strings"

// decodeUTF8 decodes b as UTF-8, replacing invalid sequences with U+FFFD.
// Unlike Python's bytes.decode('utf-8', 'replace'), a run of consecutive
// invalid bytes becomes a single U+FFFD.
// No library in the example pack wraps lossy UTF-8 decoding more directly
// than this, so the standard library is used here.
func decodeUTF8(b []byte) string {
	return strings.ToValidUTF8(string(b), "�")
}
