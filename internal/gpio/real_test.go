//go:build linux

package gpio

import (
	"testing"

	"github.com/warthog618/go-gpiocdev"
)

func TestRealRelaysLineLookup(t *testing.T) {
	want := &gpiocdev.Line{}
	r := &RealRelays{lines: map[int]*gpiocdev.Line{17: want}}

	for _, id := range []string{"17", "017", "+17"} {
		got, err := r.line(id)
		if err != nil {
			t.Errorf("line(%q): %v", id, err)
			continue
		}
		if got != want {
			t.Errorf("line(%q): got a different line", id)
		}
	}
	for _, id := range []string{"27", "pump"} {
		if _, err := r.line(id); err == nil {
			t.Errorf("line(%q): expected error", id)
		}
	}
}
