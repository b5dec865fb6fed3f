package posting

import (
	"strings"

	"github.com/google/uuid"
)

// MaxReferenceLength bounds Event.ReferenceNumber.
const MaxReferenceLength = 64

var referenceNamespace = uuid.MustParse("0b6f7d3e-2a41-5c8e-9d17-4e5a6c3b2f10")

// Reference joins prefix and parts with "-" into a journal reference. When the
// joined form would exceed MaxReferenceLength, the parts are replaced by a
// name-based UUID of the joined form, so the same inputs always map to the same
// reference.
func Reference(prefix string, parts ...string) string {
	ref := strings.Join(append([]string{prefix}, parts...), "-")
	if len(ref) <= MaxReferenceLength {
		return ref
	}
	return prefix + "-" + uuid.NewSHA1(referenceNamespace, []byte(ref)).String()
}
