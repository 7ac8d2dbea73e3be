package infra

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEscapeAppleScript(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{"plain", "Time to rest!", "Time to rest!"},
		{"quotes", `say "hi"`, `say \"hi\"`},
		{"backslash", `C:\path`, `C:\\path`},
		{"backslash before quote", `\"`, `\\\"`},
		{"empty", "", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, escapeAppleScript(tt.in))
		})
	}
}

// fakeOsascript writes a shell script that records its arguments, so the
// composed AppleScript can be inspected without a real osascript binary.
func fakeOsascript(t *testing.T) (bin, argsFile string) {
	t.Helper()
	dir := t.TempDir()
	bin = filepath.Join(dir, "osascript")
	argsFile = filepath.Join(dir, "args")
	script := "#!/bin/sh\nprintf '%s' \"$2\" > " + argsFile + "\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	return bin, argsFile
}

func TestNotifierComposesScript(t *testing.T) {
	bin, argsFile := fakeOsascript(t)
	n := &OSANotifier{bin: bin}

	require.NoError(t, n.Notify(`Access to "work" is blocked`, "Work Blocker"))

	got, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t,
		`display notification "Access to \"work\" is blocked" with title "Work Blocker"`,
		string(got))
}

func TestQuitterComposesScript(t *testing.T) {
	bin, argsFile := fakeOsascript(t)
	q := &OSAQuitter{bin: bin}

	require.NoError(t, q.Quit("Slack"))

	got, err := os.ReadFile(argsFile)
	require.NoError(t, err)
	assert.Equal(t, `tell application "Slack" to quit`, string(got))
}

func TestNotifierErrorWrapped(t *testing.T) {
	n := &OSANotifier{bin: filepath.Join(t.TempDir(), "missing")}
	err := n.Notify("msg", "title")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "osascript notification")
}
