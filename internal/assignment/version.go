package assignment

import (
	"slices"
	"strconv"
	"time"

	"github.com/cespare/xxhash/v2"
)

// Member is one active assignment of a user to a challenge.
type Member struct {
	UserID    string
	UpdatedAt time.Time
}

// Version derives the change token for a membership from each member's id
// and last-modified time. Input order does not matter.
func Version(members []Member) string {
	keys := make([]string, len(members))
	for i, m := range members {
		keys[i] = m.UserID + "@" + strconv.FormatInt(m.UpdatedAt.UTC().UnixNano(), 10)
	}
	slices.Sort(keys)

	d := xxhash.New()
	for _, k := range keys {
		_, _ = d.WriteString(k)
		_, _ = d.WriteString("|")
	}
	return strconv.FormatUint(d.Sum64(), 16)
}
