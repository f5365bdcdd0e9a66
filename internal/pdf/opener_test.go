package pdf

import (
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestOpener_Materialize(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "cache")
	o := NewOpener(dir, "")

	path, err := o.Materialize("m1", []byte("%PDF-1.4 data"))
	require.NoError(t, err)
	assert.Equal(t, filepath.Join(dir, "m1.pdf"), path)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, "%PDF-1.4 data", string(data))
}

func TestOpener_MaterializeErrors(t *testing.T) {
	_, err := NewOpener("", "").Materialize("m1", []byte("x"))
	assert.Error(t, err)

	_, err = NewOpener(t.TempDir(), "").Materialize("m1", nil)
	assert.Error(t, err)
}

func TestOpener_Command(t *testing.T) {
	tests := []struct {
		goos   string
		reader string
		want   []string
	}{
		{"darwin", "system", []string{"open", "/x.pdf"}},
		{"darwin", "skim", []string{"open", "-a", "Skim", "/x.pdf"}},
		{"linux", "", []string{"xdg-open", "/x.pdf"}},
		{"linux", "zathura", []string{"zathura", "/x.pdf"}},
	}

	for _, tt := range tests {
		t.Run(tt.goos+"/"+tt.reader, func(t *testing.T) {
			cmd, err := NewOpener("", tt.reader).Command(tt.goos, "/x.pdf")
			require.NoError(t, err)
			assert.Equal(t, tt.want, cmd.Args)
		})
	}

	_, err := NewOpener("", "").Command("plan9", "/x.pdf")
	assert.Error(t, err)
}

func TestOpener_Open(t *testing.T) {
	dir := t.TempDir()
	o := NewOpener(dir, "")
	var started *exec.Cmd
	o.start = func(cmd *exec.Cmd) error {
		started = cmd
		return nil
	}

	err := o.Open(filepath.Join(dir, "missing.pdf"))
	assert.Error(t, err)
	assert.Nil(t, started)

	path, err := o.Materialize("m2", []byte("content"))
	require.NoError(t, err)
	if _, cmdErr := o.Command(runtime.GOOS, path); cmdErr != nil {
		t.Skip("unsupported platform")
	}
	require.NoError(t, o.Open(path))
	require.NotNil(t, started)
	assert.Equal(t, path, started.Args[len(started.Args)-1])
}
