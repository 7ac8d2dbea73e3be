package infra

import (
	"fmt"
	"os"
	"os/exec"
	"strings"

	"github.com/wwakabobik/macos-selfblocker/internal/domain"
)

const pfctlBin = "/sbin/pfctl"

// PFFirewall implements domain.Firewall on top of macOS pf. All workblocker
// rules live in a dedicated anchor file; each rule carries a label so it can
// be removed individually without touching unrelated firewall state.
//
// Anchor file lines look like:
//
//	block drop out quick to 10.0.0.1 label "wb-6f1c..."
type PFFirewall struct {
	anchorName string
	anchorFile string
	pfConf     string
	reload     func() error // swapped out in tests
}

// NewPFFirewall creates a firewall manager for the given anchor.
func NewPFFirewall(anchorName, anchorFile, pfConf string) *PFFirewall {
	fw := &PFFirewall{
		anchorName: anchorName,
		anchorFile: anchorFile,
		pfConf:     pfConf,
	}
	fw.reload = fw.reloadPF
	return fw
}

// NewPFFirewallWithReload creates a firewall manager with a custom reload
// function (for testing without pfctl).
func NewPFFirewallWithReload(anchorName, anchorFile, pfConf string, reload func() error) *PFFirewall {
	return &PFFirewall{
		anchorName: anchorName,
		anchorFile: anchorFile,
		pfConf:     pfConf,
		reload:     reload,
	}
}

// ruleLine is one parsed anchor file rule.
type ruleLine struct {
	ip string
	id string
}

func (r ruleLine) render() string {
	return fmt.Sprintf("block drop out quick to %s label %q", r.ip, r.id)
}

// parseRuleLine extracts IP and label from a rendered rule. Lines that do
// not match the rendered shape are preserved verbatim elsewhere.
func parseRuleLine(line string) (ruleLine, bool) {
	const prefix = "block drop out quick to "
	trimmed := strings.TrimSpace(line)
	if !strings.HasPrefix(trimmed, prefix) {
		return ruleLine{}, false
	}
	rest := strings.TrimPrefix(trimmed, prefix)
	fields := strings.SplitN(rest, " label ", 2)
	if len(fields) != 2 {
		return ruleLine{}, false
	}
	return ruleLine{
		ip: strings.TrimSpace(fields[0]),
		id: strings.Trim(strings.TrimSpace(fields[1]), `"`),
	}, true
}

// readRules loads the current anchor file. A missing file means no rules.
func (fw *PFFirewall) readRules() ([]ruleLine, error) {
	data, err := os.ReadFile(fw.anchorFile)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}

	var rules []ruleLine
	for _, line := range strings.Split(string(data), "\n") {
		if r, ok := parseRuleLine(line); ok {
			rules = append(rules, r)
		}
	}
	return rules, nil
}

// writeRules rewrites the anchor file with exactly the given rules.
func (fw *PFFirewall) writeRules(rules []ruleLine) error {
	var b strings.Builder
	for _, r := range rules {
		b.WriteString(r.render())
		b.WriteByte('\n')
	}
	if err := os.WriteFile(fw.anchorFile, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("write anchor file %s: %w", fw.anchorFile, err)
	}
	return nil
}

// InstalledRuleIDs returns the labels of all rules currently in the anchor.
func (fw *PFFirewall) InstalledRuleIDs() ([]string, error) {
	rules, err := fw.readRules()
	if err != nil {
		return nil, err
	}
	ids := make([]string, 0, len(rules))
	for _, r := range rules {
		ids = append(ids, r.id)
	}
	return ids, nil
}

// AddRules installs the given rules and reloads pf. Rules whose ID is
// already in the anchor are left alone, so a redundant block is a no-op
// rather than a duplicate.
func (fw *PFFirewall) AddRules(rules []domain.FirewallRule) error {
	existing, err := fw.readRules()
	if err != nil {
		return err
	}

	present := make(map[string]struct{}, len(existing))
	for _, r := range existing {
		present[r.id] = struct{}{}
	}

	added := false
	for _, r := range rules {
		if _, ok := present[r.ID]; ok {
			continue
		}
		existing = append(existing, ruleLine{ip: r.IP, id: r.ID})
		added = true
	}
	if !added {
		return nil
	}

	if err := fw.writeRules(existing); err != nil {
		return err
	}
	if err := fw.ensureAnchorReference(); err != nil {
		return err
	}
	return fw.reload()
}

// RemoveRules deletes exactly the rules with the given labels and reloads.
// Never a blanket flush: rules not named are preserved.
func (fw *PFFirewall) RemoveRules(ruleIDs []string) error {
	existing, err := fw.readRules()
	if err != nil {
		return err
	}
	if len(existing) == 0 {
		return nil
	}

	drop := make(map[string]struct{}, len(ruleIDs))
	for _, id := range ruleIDs {
		drop[id] = struct{}{}
	}

	kept := existing[:0]
	removed := false
	for _, r := range existing {
		if _, gone := drop[r.id]; gone {
			removed = true
			continue
		}
		kept = append(kept, r)
	}
	if !removed {
		return nil
	}

	if err := fw.writeRules(kept); err != nil {
		return err
	}
	return fw.reload()
}

// ensureAnchorReference makes sure pf.conf references the workblocker
// anchor, appending the anchor and load lines once if absent.
func (fw *PFFirewall) ensureAnchorReference() error {
	anchorRule := fmt.Sprintf("anchor %q", fw.anchorName)
	anchorLoad := fmt.Sprintf("load anchor %q from %q", fw.anchorName, fw.anchorFile)

	data, err := os.ReadFile(fw.pfConf)
	if err != nil {
		return fmt.Errorf("read %s: %w", fw.pfConf, err)
	}
	if strings.Contains(string(data), anchorRule) {
		return nil
	}

	f, err := os.OpenFile(fw.pfConf, os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("append to %s: %w", fw.pfConf, err)
	}
	defer f.Close()

	if _, err := fmt.Fprintf(f, "\n%s\n%s\n", anchorRule, anchorLoad); err != nil {
		return fmt.Errorf("append to %s: %w", fw.pfConf, err)
	}
	return nil
}

// reloadPF reloads the pf config and makes sure pf is enabled. Enabling an
// already-enabled pf returns an error, which is ignored.
func (fw *PFFirewall) reloadPF() error {
	if out, err := exec.Command(pfctlBin, "-f", fw.pfConf).CombinedOutput(); err != nil {
		return fmt.Errorf("pfctl -f %s: %v: %s", fw.pfConf, err, strings.TrimSpace(string(out)))
	}
	_ = exec.Command(pfctlBin, "-e").Run()
	return nil
}

// Ensure PFFirewall implements domain.Firewall.
var _ domain.Firewall = (*PFFirewall)(nil)
