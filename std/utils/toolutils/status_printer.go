package toolutils

import (
	"fmt"
	"io"
	"strings"
)

// StatusPrinter prints right-aligned key=value lines.
type StatusPrinter struct {
	File    io.Writer
	Padding int
}

func (s StatusPrinter) Print(key string, value any) {
	fmt.Fprintf(s.File, "%s%s=%v\n", strings.Repeat(" ", max(s.Padding-len(key), 0)), key, value)
}
