//go:build (darwin || linux) && !cgo

// Helpers shared by the purego decoder driver.

package vdec

import (
	"os"
	"path/filepath"
	"unsafe"
)

// maxCStringLen bounds reads from wrapper-owned strings. Backend names and
// error strings are short; hitting the bound means a missing NUL terminator.
const maxCStringLen = 1024

// goStringFromPtr copies a NUL-terminated C string into a Go string.
func goStringFromPtr(ptr uintptr) string {
	if ptr == 0 {
		return ""
	}
	view := unsafe.Slice((*byte)(unsafe.Pointer(ptr)), maxCStringLen)
	for i, b := range view {
		if b == 0 {
			return string(view[:i])
		}
	}
	return string(view)
}

// findModuleRoot locates the enclosing Go module by walking from the working
// directory toward the filesystem root until a go.mod appears.
func findModuleRoot() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		if fi, err := os.Stat(filepath.Join(dir, "go.mod")); err == nil && !fi.IsDir() {
			return dir
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}
