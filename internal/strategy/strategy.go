// Package strategy holds the pure decision logic of the OCO grid: the
// per-system lifecycle, the entry gate, OCO pair planning and detection, and
// startup duplicate reconciliation. Nothing here talks to the venue; the
// engine feeds snapshots in and performs the resulting actions.
package strategy

import (
	"fmt"
	"strings"
)

// ValidateSystemTag checks that a tag can be embedded in an order comment.
func ValidateSystemTag(tag string) error {
	if tag == "" {
		return fmt.Errorf("system tag is empty")
	}
	if strings.ContainsAny(tag, "_[]~#() ") {
		return fmt.Errorf("system tag %q contains a reserved character", tag)
	}
	for _, r := range tag {
		if r > 0x7e || r < 0x21 {
			return fmt.Errorf("system tag %q is not printable ASCII", tag)
		}
	}
	return nil
}
