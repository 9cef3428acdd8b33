package cli

import (
	"context"
	"log/slog"
	"os"
	"os/exec"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/wagiedev/agentlink/internal/errors"
)

const (
	// MinimumVersion is the oldest agent release known to speak the control
	// protocol.
	MinimumVersion = "2.0.0"

	// VersionCheckTimeout bounds the "-v" probe.
	VersionCheckTimeout = 2 * time.Second

	executableName      = "claude"
	skipVersionCheckEnv = "AGENTLINK_SKIP_VERSION_CHECK"
)

var versionPattern = regexp.MustCompile(`^([0-9]+\.[0-9]+\.[0-9]+)`)

// Discover returns the agent executable. An explicit path is used as-is
// when it exists; otherwise PATH and the common install locations are
// searched. The result carries a *errors.NotFoundError listing every place
// searched when nothing is found.
func Discover(log *slog.Logger, explicit string) (string, error) {
	if explicit != "" {
		if _, err := os.Stat(explicit); err != nil {
			log.Debug("explicit agent path not found", "cli_path", explicit)

			return "", &errors.NotFoundError{SearchedPaths: []string{explicit}}
		}

		return explicit, nil
	}

	if path, err := exec.LookPath(executableName); err == nil {
		log.Debug("found agent on PATH", "cli_path", path)

		return path, nil
	}

	searched := []string{"$PATH"}

	for _, path := range commonPaths() {
		searched = append(searched, path)

		if info, err := os.Stat(path); err == nil && !info.IsDir() {
			log.Debug("found agent at common path", "cli_path", path)

			return path, nil
		}
	}

	log.Warn("agent executable not found", "searched_paths", searched)

	return "", &errors.NotFoundError{SearchedPaths: searched}
}

func commonPaths() []string {
	paths := []string{
		"/usr/local/bin/" + executableName,
		"/usr/bin/" + executableName,
	}

	if home, err := os.UserHomeDir(); err == nil {
		paths = append(paths,
			filepath.Join(home, ".local", "bin", executableName),
			filepath.Join(home, ".claude", "local", executableName),
		)
	}

	return paths
}

// CheckVersion runs "<path> -v" and logs a warning when the reported version
// is older than MinimumVersion. Probe failures are ignored. Setting
// AGENTLINK_SKIP_VERSION_CHECK disables the probe.
func CheckVersion(ctx context.Context, log *slog.Logger, path string) {
	if os.Getenv(skipVersionCheckEnv) != "" {
		return
	}

	ctx, cancel := context.WithTimeout(ctx, VersionCheckTimeout)
	defer cancel()

	output, err := exec.CommandContext(ctx, path, "-v").Output()
	if err != nil {
		log.Debug("agent version probe failed", "error", err)

		return
	}

	match := versionPattern.FindStringSubmatch(strings.TrimSpace(string(output)))
	if match == nil {
		log.Debug("could not parse agent version", "output", string(output))

		return
	}

	if compareVersions(match[1], MinimumVersion) < 0 {
		log.Warn("agent version is older than supported",
			"version", match[1],
			"minimum", MinimumVersion,
		)

		return
	}

	log.Debug("agent version ok", "version", match[1])
}

// compareVersions compares two X.Y.Z versions, returning -1, 0 or 1.
func compareVersions(a, b string) int {
	aParts := strings.Split(a, ".")
	bParts := strings.Split(b, ".")

	for i := range 3 {
		var aNum, bNum int

		if i < len(aParts) {
			aNum, _ = strconv.Atoi(aParts[i])
		}

		if i < len(bParts) {
			bNum, _ = strconv.Atoi(bParts[i])
		}

		switch {
		case aNum < bNum:
			return -1
		case aNum > bNum:
			return 1
		}
	}

	return 0
}
