package txprop

import (
	"bytes"
	"fmt"
	"runtime"
	"strconv"
)

var goroutinePrefix = []byte("goroutine ")

// curGoroutineID parses the id out of the first line of the current goroutine's stack,
// which has the form "goroutine 18 [running]:".
func curGoroutineID() uint64 {
	buf := make([]byte, 64)
	buf = buf[:runtime.Stack(buf, false)]
	buf = bytes.TrimPrefix(buf, goroutinePrefix)
	if i := bytes.IndexByte(buf, ' '); i > 0 {
		buf = buf[:i]
	}
	id, err := strconv.ParseUint(string(buf), 10, 64)
	if err != nil {
		return 0
	}
	return id
}

// getCaller reports the first frame outside this package.
func getCaller() string {
	pcs := make([]uintptr, 16)
	n := runtime.Callers(3, pcs)
	frames := runtime.CallersFrames(pcs[:n])
	for {
		frame, more := frames.Next()
		if !isPackageFrame(frame.Function) {
			return fmt.Sprintf("%s:%d", frame.Function, frame.Line)
		}
		if !more {
			return "unknown"
		}
	}
}

func isPackageFrame(fn string) bool {
	const pkg = "github.com/oligo/txprop."
	return len(fn) >= len(pkg) && fn[:len(pkg)] == pkg
}
