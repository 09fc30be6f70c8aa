//go:build linux

package main

import (
	"os"
	"unsafe"
)

// setProcessTitle overwrites argv[0]'s backing bytes in place so tools
// like ps show name instead of the invoked binary path (spec §4.9
// "--natural-title"). Best-effort: it can only shrink or pad argv[0], not
// grow the process's argument vector, matching the classic setproctitle
// trick rather than pulling in a CGO dependency for it.
func setProcessTitle(name string) {
	if len(os.Args) == 0 {
		return
	}
	argv0 := os.Args[0]
	buf := unsafe.Slice(unsafe.StringData(argv0), len(argv0))
	n := copy(buf, name)
	for ; n < len(buf); n++ {
		buf[n] = 0
	}
}
