package config

import (
	"bufio"
	"os"
	"path/filepath"
	"strings"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
	"github.com/wwakabobik/macos-selfblocker/internal/schedule"
)

// ReadList reads a newline-delimited list file, skipping blank lines and
// lines starting with '#'.
func ReadList(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	var entries []string
	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		entries = append(entries, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	return entries, nil
}

// readListOptional treats a missing configured list file as empty: not every
// installation blocks all three resource classes.
func readListOptional(path string) ([]string, error) {
	entries, err := ReadList(path)
	if os.IsNotExist(err) {
		return nil, nil
	}
	return entries, err
}

// ParseAppTarget classifies one app list entry into its tagged matcher
// variant. Syntaxes:
//
//	Slack                               plain display name
//	"Visual Studio Code"                quoted display name
//	/Applications/Slack.app             absolute bundle path
//	bundle:com.tinyspeck.slackmacgap    bundle identifier
//	proc:Slack                          raw process pattern
func ParseAppTarget(raw string) (domain.AppTarget, error) {
	entry := strings.TrimSpace(raw)

	switch {
	case strings.HasPrefix(entry, "bundle:"):
		value := strings.TrimSpace(strings.TrimPrefix(entry, "bundle:"))
		if value == "" {
			return domain.AppTarget{}, domain.NewConfigError("empty bundle id in %q", raw)
		}
		return domain.AppTarget{Raw: entry, Kind: domain.MatchBundleID, Value: value}, nil

	case strings.HasPrefix(entry, "proc:"):
		value := strings.TrimSpace(strings.TrimPrefix(entry, "proc:"))
		if value == "" {
			return domain.AppTarget{}, domain.NewConfigError("empty process pattern in %q", raw)
		}
		return domain.AppTarget{Raw: entry, Kind: domain.MatchProcessPattern, Value: value}, nil

	case strings.HasPrefix(entry, "/"):
		return domain.AppTarget{Raw: entry, Kind: domain.MatchBundlePath, Value: entry}, nil

	default:
		value := strings.Trim(entry, `"`)
		if value == "" {
			return domain.AppTarget{}, domain.NewConfigError("empty app entry in %q", raw)
		}
		return domain.AppTarget{Raw: entry, Kind: domain.MatchDisplayName, Value: value}, nil
	}
}

// ParseAppTargets classifies a whole list.
func ParseAppTargets(entries []string) ([]domain.AppTarget, error) {
	targets := make([]domain.AppTarget, 0, len(entries))
	for _, e := range entries {
		t, err := ParseAppTarget(e)
		if err != nil {
			return nil, err
		}
		targets = append(targets, t)
	}
	return targets, nil
}

// LoadTargets loads all three target lists named by the config. Missing list
// files yield empty lists.
func LoadTargets(cfg *Config) (*domain.Targets, error) {
	targets := &domain.Targets{}

	paths, err := readListOptional(cfg.PathsFile)
	if err != nil {
		return nil, &domain.ConfigError{Reason: "read paths list " + cfg.PathsFile, Err: err}
	}
	for _, p := range paths {
		targets.Paths = append(targets.Paths, domain.PathTarget{Path: expandHome(p)})
	}

	apps, err := readListOptional(cfg.AppsFile)
	if err != nil {
		return nil, &domain.ConfigError{Reason: "read apps list " + cfg.AppsFile, Err: err}
	}
	targets.Apps, err = ParseAppTargets(apps)
	if err != nil {
		return nil, err
	}

	domains, err := readListOptional(cfg.DomainsFile)
	if err != nil {
		return nil, &domain.ConfigError{Reason: "read domains list " + cfg.DomainsFile, Err: err}
	}
	for _, d := range domains {
		targets.Domains = append(targets.Domains, domain.DomainTarget{Hostname: d})
	}

	return targets, nil
}

// expandHome rewrites a leading "~" to the current user's home directory.
func expandHome(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(path[1:], "/"))
		}
	}
	return path
}

// LoadSchedule reads and parses the schedule document named by the config.
func LoadSchedule(cfg *Config) (*schedule.Spec, error) {
	data, err := os.ReadFile(cfg.ScheduleFile)
	if err != nil {
		return nil, &domain.ConfigError{Reason: "read schedule " + cfg.ScheduleFile, Err: err}
	}
	return schedule.Parse(data)
}
