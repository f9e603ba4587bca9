// Package stacktrace captures the calling goroutine's stack as report frames.
package stacktrace

import (
	"path/filepath"
	"runtime"
	"strings"

	"github.com/faultline/faultline/internal/core"
)

const maxDepth = 64

// InProjectFunc decides whether a frame belongs to the reporting application.
type InProjectFunc func(file, method string) bool

// Capture returns the frames above its caller. skip drops that many further
// frames, so helpers can hide themselves. A nil inProject marks every frame
// as in project.
func Capture(skip int, inProject InProjectFunc) []core.Frame {
	if skip < 0 {
		skip = 0
	}

	pcs := make([]uintptr, maxDepth)
	// 2 skips runtime.Callers and Capture itself.
	n := runtime.Callers(skip+2, pcs)
	if n == 0 {
		return []core.Frame{}
	}

	frames := runtime.CallersFrames(pcs[:n])
	out := make([]core.Frame, 0, n)
	for {
		frame, more := frames.Next()
		if frame.Function != "" && !isRuntimeFrame(frame.Function) {
			out = append(out, core.Frame{
				File:       frame.File,
				LineNumber: frame.Line,
				Method:     frame.Function,
				InProject:  inProject == nil || inProject(frame.File, frame.Function),
			})
		}
		if !more {
			break
		}
	}
	return out
}

// ProjectMatcher treats a frame as in project when its file lives under
// projectDir and its method contains none of methodsToIgnore. An empty
// projectDir matches every file.
func ProjectMatcher(projectDir string, methodsToIgnore []string) InProjectFunc {
	root := strings.TrimSpace(projectDir)
	if root != "" {
		root = filepath.ToSlash(filepath.Clean(root))
	}

	ignore := make([]string, 0, len(methodsToIgnore))
	for _, name := range methodsToIgnore {
		if name = strings.TrimSpace(name); name != "" {
			ignore = append(ignore, name)
		}
	}

	return func(file, method string) bool {
		if root != "" && !underDir(filepath.ToSlash(file), root) {
			return false
		}
		for _, name := range ignore {
			if strings.Contains(method, name) {
				return false
			}
		}
		return true
	}
}

func underDir(file, dir string) bool {
	if file == dir {
		return true
	}
	return strings.HasPrefix(file, strings.TrimSuffix(dir, "/")+"/")
}

func isRuntimeFrame(function string) bool {
	return strings.HasPrefix(function, "runtime.")
}
