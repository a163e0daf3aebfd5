package db

import (
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"go.uber.org/zap"
)

// archiveFileName is the name the payload is copied to inside the working
// directory before extraction. It is removed once unpacked.
const archiveFileName = "payload.tar.gz"

// commandWaitDelay bounds how long a timed-out helper command may keep its
// output pipes open after being killed.
const commandWaitDelay = time.Second

// PlatformKey identifies the running platform, e.g. "linux-amd64".
func PlatformKey() string {
	return platformKey(runtime.GOOS, runtime.GOARCH)
}

// PlatformKeys lists the keys an archive for the running platform may be
// named with, preferred first: the Go key, then the JVM-style "os.name-os.arch"
// key (e.g. "Linux-amd64", "Mac_OS_X-x86_64") used by existing payload bundles.
func PlatformKeys() []string {
	return platformKeys(runtime.GOOS, runtime.GOARCH)
}

func platformKeys(goos, goarch string) []string {
	keys := []string{platformKey(goos, goarch)}
	if name, arch, ok := jvmPlatform(goos, goarch); ok {
		if legacy := platformKey(name, arch); legacy != keys[0] {
			keys = append(keys, legacy)
		}
	}
	return keys
}

// platformKey joins os and arch, with spaces in either replaced by underscores.
func platformKey(osName, arch string) string {
	return strings.ReplaceAll(osName+"-"+arch, " ", "_")
}

var jvmOSNames = map[string]string{
	"linux":   "Linux",
	"darwin":  "Mac OS X",
	"freebsd": "FreeBSD",
}

// jvmPlatform maps GOOS/GOARCH to the JVM os.name/os.arch pair.
func jvmPlatform(goos, goarch string) (string, string, bool) {
	name, ok := jvmOSNames[goos]
	if !ok {
		return "", "", false
	}
	arch := goarch
	switch goarch {
	case "amd64":
		if goos == "darwin" {
			arch = "x86_64"
		}
	case "arm64":
		arch = "aarch64"
	case "386":
		arch = "i386"
	}
	return name, arch, true
}

// ArchiveName returns the payload file name expected for platform.
func ArchiveName(platform string) string {
	return "mysql-" + platform + ".tar.gz"
}

// openPayload opens the first archive in fsys matching one of platforms. A
// miss is reported against the first (preferred) platform.
func openPayload(fsys fs.FS, platforms ...string) (fs.File, string, error) {
	notFound := &PayloadNotFoundError{Platform: platforms[0], Archive: ArchiveName(platforms[0])}
	if fsys == nil {
		return nil, "", notFound
	}
	for _, platform := range platforms {
		name := ArchiveName(platform)
		f, err := fsys.Open(name)
		if err == nil {
			return f, platform, nil
		}
		if !errors.Is(err, fs.ErrNotExist) {
			return nil, "", fmt.Errorf("failed to open payload %s: %w", name, err)
		}
	}
	return nil, "", notFound
}

// unpack copies the platform archive into the working directory and extracts
// it there with tar.
func (s *EmbeddedServer) unpack(ctx context.Context) error {
	src, platform, err := openPayload(s.opts.Payload(), PlatformKeys()...)
	if err != nil {
		return err
	}
	defer src.Close()

	archive := filepath.Join(s.dir, archiveFileName)
	if err := copyToFile(archive, src); err != nil {
		return &InitializationError{Step: "unpack", Err: err}
	}
	defer func() {
		if err := os.Remove(archive); err != nil && !errors.Is(err, fs.ErrNotExist) {
			s.logger.Debug("Failed to remove unpacked archive", zap.String("path", archive), zap.Error(err))
		}
	}()

	s.logger.Debug("Unpacking embedded mysql", zap.String("platform", platform), zap.String("dir", s.dir))
	return s.runCommand(ctx, "unpack", "tar", "-xzf", archive, "-C", s.dir)
}

func copyToFile(dst string, src io.Reader) error {
	f, err := os.OpenFile(dst, os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return fmt.Errorf("failed to create %s: %w", dst, err)
	}
	if _, err := io.Copy(f, src); err != nil {
		f.Close()
		return fmt.Errorf("failed to copy payload to %s: %w", dst, err)
	}
	return f.Close()
}

// runCommand runs a helper command to completion, bounded by the configured
// command timeout. Failures become *InitializationError for step.
func (s *EmbeddedServer) runCommand(ctx context.Context, step, name string, args ...string) error {
	timeout := s.opts.CommandTimeout()
	cmdCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	cmd := exec.CommandContext(cmdCtx, name, args...)
	cmd.Dir = s.dir
	cmd.WaitDelay = commandWaitDelay
	out, err := cmd.CombinedOutput()
	if len(out) > 0 {
		s.logger.Debug("Command output", zap.String("step", step), zap.ByteString("output", out))
	}
	if err != nil {
		if ctxErr := cmdCtx.Err(); ctxErr != nil {
			if ctx.Err() == nil {
				err = fmt.Errorf("%s timed out after %s: %w", filepath.Base(name), timeout, err)
			} else {
				err = fmt.Errorf("%s interrupted: %w", filepath.Base(name), ctxErr)
			}
		}
		return &InitializationError{Step: step, Output: string(out), Err: err}
	}
	return nil
}
