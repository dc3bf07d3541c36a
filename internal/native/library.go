// Package native proves and verifies through the prebuilt gnark shared
// libraries, libprove and libverify, loaded at runtime. The libraries take
// and return JSON documents.
package native

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"go.uber.org/zap"

	"github.com/spacemeshos/zksym/proving"
	"github.com/spacemeshos/zksym/shared"
)

// Library is the call surface of the shared libraries.
type Library interface {
	Prove(witness []byte) ([]byte, error)
	Verify(params []byte) bool
	InitAlgorithm(id uint8, pk, r1cs []byte) bool
	GenerateThresholdKeys(params []byte) ([]byte, error)
	OPRFEvaluate(params []byte) ([]byte, error)
	GenerateOPRFRequestData(params []byte) ([]byte, error)
	TOPRFFinalize(params []byte) ([]byte, error)
}

// DefaultLibDir is where libraries are looked up when no directory is set.
const DefaultLibDir = "bin/gnark"

var archNames = map[string]string{
	"amd64": "x86_64",
}

// Platform returns the os and architecture names used in library file names.
func Platform(goos, goarch string) (string, string) {
	if name, ok := archNames[goarch]; ok {
		goarch = name
	}
	return goos, goarch
}

// LibraryPaths returns the paths of the prover and verifier libraries in dir
// for the running platform.
func LibraryPaths(dir string) (prove, verify string) {
	if dir == "" {
		dir = DefaultLibDir
	}
	goos, arch := Platform(runtime.GOOS, runtime.GOARCH)
	prefix := fmt.Sprintf("%s-%s-", goos, arch)
	return filepath.Join(dir, prefix+"libprove.so"), filepath.Join(dir, prefix+"libverify.so")
}

// loadError maps a dynamic loader failure to shared.ErrBackendUnavailable.
func loadError(goos, arch string, err error) error {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "no such file"):
		return fmt.Errorf("%w: Gnark library not built for OS/arch (%s/%s)", shared.ErrBackendUnavailable, goos, arch)
	case strings.Contains(msg, "not a mach-o"),
		strings.Contains(msg, "wrong elf class"),
		strings.Contains(msg, "invalid elf header"),
		strings.Contains(msg, "wrong architecture"):
		return fmt.Errorf("%w: Gnark library not compatible with OS/arch (%s/%s)", shared.ErrBackendUnavailable, goos, arch)
	}
	return fmt.Errorf("%w: %w", shared.ErrBackendUnavailable, err)
}

var libraries proving.Loader[Library]

// Load opens the libraries in dir once per process.
func Load(ctx context.Context, dir string, logger *zap.Logger) (Library, error) {
	provePath, verifyPath := LibraryPaths(dir)
	return libraries.Load(ctx, provePath, func(context.Context) (Library, error) {
		goos, arch := Platform(runtime.GOOS, runtime.GOARCH)
		for _, path := range []string{provePath, verifyPath} {
			if _, err := os.Stat(path); err != nil {
				return nil, loadError(goos, arch, err)
			}
		}
		lib, err := openLibrary(provePath, verifyPath)
		if err != nil {
			return nil, loadError(goos, arch, err)
		}
		logger.Info("gnark libraries loaded", zap.String("prove", provePath), zap.String("verify", verifyPath))
		return lib, nil
	})
}
