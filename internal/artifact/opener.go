package artifact

import (
	"fmt"
	"os/exec"
	"runtime"
)

// Opener hands a file to the desktop's default application.
type Opener interface {
	Open(path string) error
}

// SystemOpener uses xdg-open, open or rundll32 depending on the platform.
type SystemOpener struct {
	goos  string
	start func(name string, args ...string) error
}

func NewSystemOpener() *SystemOpener {
	return &SystemOpener{goos: runtime.GOOS, start: startDetached}
}

func (o *SystemOpener) Open(path string) error {
	name, args := openCommand(o.goos, path)
	if err := o.start(name, args...); err != nil {
		return fmt.Errorf("artifact: open %s: %w", path, err)
	}
	return nil
}

func openCommand(goos, path string) (string, []string) {
	switch goos {
	case "darwin":
		return "open", []string{path}
	case "windows":
		return "rundll32", []string{"url.dll,FileProtocolHandler", path}
	default:
		return "xdg-open", []string{path}
	}
}

func startDetached(name string, args ...string) error {
	cmd := exec.Command(name, args...)
	if err := cmd.Start(); err != nil {
		return err
	}
	go func() { _ = cmd.Wait() }()
	return nil
}
