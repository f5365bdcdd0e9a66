// Package pdf extracts text from material documents and opens them in a viewer.
package pdf

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
)

// Opener materializes stored documents on disk and opens them in a reader.
type Opener struct {
	cacheDir  string
	pdfReader string

	// start launches the viewer; replaced in tests.
	start func(cmd *exec.Cmd) error
}

// NewOpener creates a new PDF opener with the given configuration.
func NewOpener(cacheDir, pdfReader string) *Opener {
	if pdfReader == "" {
		pdfReader = "system"
	}
	return &Opener{
		cacheDir:  cacheDir,
		pdfReader: pdfReader,
		start:     func(cmd *exec.Cmd) error { return cmd.Start() },
	}
}

// Materialize writes document content to <cacheDir>/<id>.pdf and returns the path.
func (o *Opener) Materialize(id string, content []byte) (string, error) {
	if o.cacheDir == "" {
		return "", fmt.Errorf("cache directory not configured")
	}
	if len(content) == 0 {
		return "", fmt.Errorf("material %s has no content", id)
	}
	if err := os.MkdirAll(o.cacheDir, 0755); err != nil {
		return "", fmt.Errorf("creating cache directory: %w", err)
	}

	fullPath := filepath.Join(o.cacheDir, id+".pdf")
	if err := os.WriteFile(fullPath, content, 0644); err != nil {
		return "", fmt.Errorf("writing PDF: %w", err)
	}
	return fullPath, nil
}

// Open opens a PDF file using the configured reader.
// The fullPath should be an absolute path to an existing PDF file.
func (o *Opener) Open(fullPath string) error {
	// Fail fast if file doesn't exist
	if _, err := os.Stat(fullPath); err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("PDF file does not exist: %s", fullPath)
		}
		return fmt.Errorf("checking PDF file: %w", err)
	}

	cmd, err := o.Command(runtime.GOOS, fullPath)
	if err != nil {
		return err
	}
	return o.start(cmd)
}

// Command returns the viewer command for the given platform.
func (o *Opener) Command(goos, path string) (*exec.Cmd, error) {
	switch goos {
	case "darwin":
		return o.darwinCommand(path), nil
	case "linux":
		return o.linuxCommand(path), nil
	default:
		return nil, fmt.Errorf("unsupported platform: %s", goos)
	}
}

// darwinCommand returns the command to open a PDF on macOS.
func (o *Opener) darwinCommand(path string) *exec.Cmd {
	switch o.pdfReader {
	case "skim":
		return exec.Command("open", "-a", "Skim", path)
	case "preview":
		return exec.Command("open", "-a", "Preview", path)
	default: // "system"
		return exec.Command("open", path)
	}
}

// linuxCommand returns the command to open a PDF on Linux.
func (o *Opener) linuxCommand(path string) *exec.Cmd {
	switch o.pdfReader {
	case "zathura":
		return exec.Command("zathura", path)
	case "evince":
		return exec.Command("evince", path)
	case "okular":
		return exec.Command("okular", path)
	default: // "system"
		return exec.Command("xdg-open", path)
	}
}
