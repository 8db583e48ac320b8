package protocol

import (
	"fmt"
	"io"
	"strings"
)

// Dump writes a human readable rendering of f to w. It is only meant for
// local debugging.
func Dump(w io.Writer, f Frame) error {
	var sb strings.Builder

	fmt.Fprintf(&sb, "┌HEADERS\n")
	fmt.Fprintf(&sb, "├Kind: %d (%s)\n", int32(f.Kind), f.Kind)
	fmt.Fprintf(&sb, "├ID: %d\n", f.SequenceID)
	fmt.Fprintf(&sb, "├Payload Length: %d\n", f.PayloadLength)
	fmt.Fprintf(&sb, "│\n")
	fmt.Fprintf(&sb, "├PAYLOAD:\n")

	data := f.Data()
	if len(data) == 0 {
		fmt.Fprintf(&sb, "└Data: No payload\n")
		_, err := io.WriteString(w, sb.String())
		return err
	}

	fmt.Fprintf(&sb, "└Data: ")
	for i, b := range data {
		if i%16 == 0 && i != 0 {
			sb.WriteString("\n   ")
		}
		fmt.Fprintf(&sb, "%02X ", b)
	}

	fmt.Fprintf(&sb, "(%q) (+ %d bytes of padding)\n", printable(data), MaxPayload-len(data))

	_, err := io.WriteString(w, sb.String())
	return err
}

func printable(data []byte) string {
	out := make([]byte, len(data))
	for i, b := range data {
		if b < 0x20 || b > 0x7e {
			out[i] = '.'
			continue
		}
		out[i] = b
	}

	return string(out)
}
