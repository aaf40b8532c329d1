package wire

import "fmt"

func errShort(what string, got, want int) error {
	return fmt.Errorf("wire: short %s header (%d < %d bytes)", what, got, want)
}
