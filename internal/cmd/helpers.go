package cmd

import (
	"fmt"

	"github.com/droverhq/drover/internal/config"
	"github.com/droverhq/drover/internal/update"
	"github.com/droverhq/drover/internal/updatelog"
	"github.com/droverhq/drover/internal/version"
)

// openStore returns the config store at --config or the default location.
func openStore() (*config.Store, error) {
	path := configPath
	if path == "" {
		var err error
		path, err = config.DefaultPath()
		if err != nil {
			return nil, err
		}
	}
	return config.NewStore(path), nil
}

// currentVersion parses the build version. Development builds carry a
// placeholder that does not parse; those cannot self-update.
func currentVersion() (*version.Version, error) {
	v, err := version.Parse(droverVersion)
	if err != nil {
		return nil, fmt.Errorf("cannot self-update a development build (version %q)", droverVersion)
	}
	return v, nil
}

// newUpdater wires an updater against the running binary and the data dir.
// The caller owns closing the returned log.
func newUpdater(store *config.Store) (*update.Updater, *updatelog.Logger, error) {
	current, err := currentVersion()
	if err != nil {
		return nil, nil, err
	}

	installPath, err := update.InstallTarget()
	if err != nil {
		return nil, nil, err
	}

	logPath, err := config.UpdateLogPath()
	if err != nil {
		return nil, nil, err
	}
	logger, err := updatelog.Open(logPath)
	if err != nil {
		return nil, nil, err
	}

	stagingDir, err := config.StagingDir()
	if err != nil {
		_ = logger.Close()
		return nil, nil, err
	}
	lockPath, err := config.InstallerLockPath()
	if err != nil {
		_ = logger.Close()
		return nil, nil, err
	}

	u := update.NewUpdater(store, logger, current, installPath, stagingDir, lockPath)
	return u, logger, nil
}
