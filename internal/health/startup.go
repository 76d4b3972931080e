// SPDX-License-Identifier: MIT

package health

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"strconv"
	"strings"

	"github.com/rs/zerolog"

	"github.com/eventkiosk/cardforge/internal/config"
	"github.com/eventkiosk/cardforge/internal/log"
)

// PerformStartupChecks validates the environment before the daemon starts
// serving. Failures here are configuration problems; crashing early beats
// limping into the first kiosk request.
func PerformStartupChecks(ctx context.Context, cfg *config.Config) error {
	logger := log.WithComponent("startup-check")
	logger.Info().Msg("Running pre-flight startup checks...")

	if usesDataDir(cfg) {
		if err := checkDataDir(logger, cfg.DataDir); err != nil {
			return fmt.Errorf("data directory check failed: %w", err)
		}
	}

	if err := checkListenAddr(logger, "listen", cfg.Listen); err != nil {
		return err
	}
	if cfg.MetricsAddr != "" {
		if err := checkListenAddr(logger, "metrics", cfg.MetricsAddr); err != nil {
			return err
		}
	}

	if cfg.QueueBackend == config.BackendMemory && cfg.StoreBackend != config.BackendMemory {
		logger.Warn().
			Str("queue_backend", cfg.QueueBackend).
			Msg("memory queue with a persistent job store; queued work is lost on restart")
	}

	tempDir := filepath.Clean(os.TempDir())
	dataDir := filepath.Clean(cfg.DataDir)
	if usesDataDir(cfg) && tempDir != "." &&
		(dataDir == tempDir || strings.HasPrefix(dataDir, tempDir+string(filepath.Separator))) {
		logger.Warn().
			Str("data_dir", cfg.DataDir).
			Msg("data directory is under temp; job records and capacity state may be lost on reboot")
	}

	logger.Info().Msg("All startup checks passed")
	return nil
}

// usesDataDir reports whether any configured backend keeps files on disk.
func usesDataDir(cfg *config.Config) bool {
	return cfg.StoreBackend == config.BackendBadger
}

func checkDataDir(logger zerolog.Logger, path string) error {
	info, err := os.Stat(path)
	if err != nil {
		if os.IsNotExist(err) {
			if mkErr := os.MkdirAll(path, 0750); mkErr != nil {
				return fmt.Errorf("directory does not exist and could not be created: %s: %w", path, mkErr)
			}
			info, err = os.Stat(path)
		}
		if err != nil {
			return err
		}
	}
	if !info.IsDir() {
		return fmt.Errorf("path is not a directory: %s", path)
	}

	// Check write permissions by creating a temp file
	testFile := filepath.Join(path, ".write_test")
	if err := os.WriteFile(testFile, []byte("ok"), 0600); err != nil {
		return fmt.Errorf("directory is not writable: %s (error: %v)", path, err)
	}
	_ = os.Remove(testFile)

	logger.Info().Str("path", path).Msg("data directory is writable")
	return nil
}

func checkListenAddr(logger zerolog.Logger, name, addr string) error {
	_, port, err := net.SplitHostPort(addr)
	if err != nil {
		return fmt.Errorf("invalid %s address %q: %w", name, addr, err)
	}
	portNum, err := strconv.Atoi(port)
	if err != nil || portNum < 0 || portNum > 65535 {
		return fmt.Errorf("invalid %s port %q in %q", name, port, addr)
	}
	logger.Info().Str("addr", addr).Msgf("%s address is valid", name)
	return nil
}
