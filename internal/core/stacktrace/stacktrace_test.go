package stacktrace

import (
	"path/filepath"
	"runtime"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func captureFromHelper() []string {
	frames := Capture(0, nil)
	methods := make([]string, 0, len(frames))
	for _, f := range frames {
		methods = append(methods, f.Method)
	}
	return methods
}

func TestCaptureStartsAtCaller(t *testing.T) {
	methods := captureFromHelper()
	require.NotEmpty(t, methods)
	assert.True(t, strings.HasSuffix(methods[0], "stacktrace.captureFromHelper"), methods[0])
	assert.True(t, strings.HasSuffix(methods[1], "stacktrace.TestCaptureStartsAtCaller"), methods[1])
	for _, m := range methods {
		assert.False(t, strings.HasPrefix(m, "runtime."), m)
	}
}

func TestCaptureSkip(t *testing.T) {
	frames := Capture(1, nil)
	require.NotEmpty(t, frames)
	assert.NotContains(t, frames[0].Method, "TestCaptureSkip")
}

func TestCaptureMarksInProject(t *testing.T) {
	_, file, _, ok := runtime.Caller(0)
	require.True(t, ok)

	frames := Capture(0, ProjectMatcher(filepath.Dir(file), nil))
	require.NotEmpty(t, frames)
	assert.True(t, frames[0].InProject)
	assert.Equal(t, file, frames[0].File)
	assert.Positive(t, frames[0].LineNumber)

	last := frames[len(frames)-1]
	assert.False(t, last.InProject, last.File)
}

func TestProjectMatcher(t *testing.T) {
	match := ProjectMatcher("/src/app", []string{"logging.", "vendor"})

	assert.True(t, match("/src/app/main.go", "main.run"))
	assert.True(t, match("/src/app/internal/x.go", "x.Do"))
	assert.False(t, match("/src/application/main.go", "main.run"))
	assert.False(t, match("/usr/lib/go/src/net/http/server.go", "http.serve"))
	assert.False(t, match("/src/app/log.go", "app/logging.Write"))
	assert.False(t, match("/src/app/vendor/lib.go", "vendor/lib.Call"))
}

func TestProjectMatcherEmptyDir(t *testing.T) {
	match := ProjectMatcher("", nil)
	assert.True(t, match("/anywhere/file.go", "pkg.Fn"))
}
