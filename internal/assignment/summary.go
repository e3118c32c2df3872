package assignment

import (
	"fmt"
	"strings"
)

// Counts tallies operations by kind.
type Counts struct {
	Created     int `json:"created"`
	Reactivated int `json:"reactivated"`
	Deactivated int `json:"deactivated"`
}

func CountOperations(ops []Operation) Counts {
	var c Counts
	for _, op := range ops {
		switch op.Kind {
		case OpCreated:
			c.Created++
		case OpReactivated:
			c.Reactivated++
		case OpDeactivated:
			c.Deactivated++
		}
	}
	return c
}

// Summary renders the confirmation shown after a successful replacement.
// members is the size of the new membership, used when ops is empty.
func Summary(approved bool, ops []Operation, members int) string {
	c := CountOperations(ops)
	var parts []string
	if c.Created > 0 {
		parts = append(parts, fmt.Sprintf("assigned to %d new %s", c.Created, plural(c.Created, "user")))
	}
	if c.Reactivated > 0 {
		parts = append(parts, fmt.Sprintf("reactivated %d %s", c.Reactivated, plural(c.Reactivated, "user")))
	}
	if c.Deactivated > 0 {
		parts = append(parts, fmt.Sprintf("unassigned %d %s", c.Deactivated, plural(c.Deactivated, "user")))
	}

	action := strings.Join(parts, " and ")
	if action == "" {
		action = fmt.Sprintf("assigned to %d %s", members, plural(members, "user"))
	}
	if approved {
		return "Challenge approved and " + action + "!"
	}
	return "Challenge assignments updated - " + action + "!"
}

func plural(n int, word string) string {
	if n == 1 {
		return word
	}
	return word + "s"
}
