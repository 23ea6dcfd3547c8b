package cli

import (
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/hupe1980/extreload/internal/clientscript"
	"github.com/hupe1980/extreload/internal/config"
	"github.com/hupe1980/extreload/internal/decision"
)

// registerReloadFlags adds the live-reload settings shared by every command
// as persistent flags. Their names match the config keys.
func registerReloadFlags(cmd *cobra.Command) {
	pf := cmd.PersistentFlags()
	pf.String("host", config.DefaultHost, "notification endpoint host")
	pf.Int("port", config.DefaultPort, "notification endpoint port (0 picks a free port)")
	pf.Duration("reconnect-time", config.DefaultReconnectTime, "quiet period before clients reconnect")
	pf.String("background-entry", config.DefaultBackgroundEntry, "entry that runs as the extension background")
	pf.StringSlice("ignore-entries", nil, "entries that never receive a client script")
	pf.String("manifest", config.DefaultManifest, "extension manifest (JSON or YAML)")
	pf.String("locales", config.DefaultLocales, "locale directory")
	pf.String("cert-file", "", "TLS certificate for the notification endpoint")
	pf.String("key-file", "", "TLS key for the notification endpoint")
}

// clientSettings derives the client script settings from cfg.
func clientSettings(cfg *config.Config) clientscript.Settings {
	return clientscript.Settings{
		Host:            cfg.Host,
		Port:            cfg.Port,
		TLS:             cfg.TLS(),
		ReconnectTime:   cfg.ReconnectTime,
		Quiet:           cfg.Quiet,
		BackgroundEntry: cfg.BackgroundEntry,
		IgnoreEntries:   cfg.IgnoreEntries,
		ManifestName:    filepath.Base(cfg.Manifest),
		LocaleDir:       localeDirName(cfg.Locales),
	}
}

// specialPaths derives the full-reload triggers from cfg.
func specialPaths(cfg *config.Config, manifestPath string) decision.SpecialPaths {
	return decision.SpecialPaths{
		ManifestPath: manifestPath,
		LocaleDir:    localeDirName(cfg.Locales),
	}
}

// localeDirName returns the locale directory as matched in changed paths.
// Absolute locations are reduced to their base name.
func localeDirName(locales string) string {
	if filepath.IsAbs(locales) {
		return filepath.Base(locales)
	}

	return filepath.ToSlash(filepath.Clean(locales))
}

// resolvePath anchors p at root unless it is absolute.
func resolvePath(root, p string) string {
	if p == "" || filepath.IsAbs(p) {
		return p
	}

	return filepath.Join(root, p)
}
