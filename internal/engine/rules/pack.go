package rules

import (
	"fmt"
	"os"
	"strings"

	"repoaudit/internal/engine/signals"

	"gopkg.in/yaml.v3"
)

// PackFile is the on-disk layout of an additional rule pack.
type PackFile struct {
	Name  string     `yaml:"name"`
	Rules []PackRule `yaml:"rules"`
}

type PackRule struct {
	ID             string   `yaml:"id"`
	Title          string   `yaml:"title"`
	Severity       string   `yaml:"severity"`
	Cluster        string   `yaml:"cluster"`
	Guidance       []string `yaml:"guidance"`
	AnySignals     []string `yaml:"any_signals"`
	AllSignals     []string `yaml:"all_signals"`
	ContradictedBy []string `yaml:"contradicted_by"`
}

// LoadPack reads a YAML rule pack. Signal names must belong to the
// vocabulary and every rule must name its cluster.
func LoadPack(path string) ([]Rule, error) {
	info, err := os.Lstat(path)
	if err != nil {
		return nil, fmt.Errorf("read rule pack %s: %w", path, err)
	}
	if info.Mode()&os.ModeSymlink != 0 {
		return nil, fmt.Errorf("refusing symlinked rule pack: %s", path)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rule pack %s: %w", path, err)
	}

	var pack PackFile
	if err := yaml.Unmarshal(b, &pack); err != nil {
		return nil, fmt.Errorf("parse rule pack %s: %w", path, err)
	}

	out := make([]Rule, 0, len(pack.Rules))
	for i, pr := range pack.Rules {
		r, err := pr.toRule()
		if err != nil {
			return nil, fmt.Errorf("rule pack %s: rules[%d]: %w", path, i, err)
		}
		if err := validateRule(r); err != nil {
			return nil, fmt.Errorf("rule pack %s: %w", path, err)
		}
		out = append(out, r)
	}
	return out, nil
}

func (pr PackRule) toRule() (Rule, error) {
	r := Rule{
		ID:       strings.TrimSpace(pr.ID),
		Title:    strings.TrimSpace(pr.Title),
		Severity: strings.ToLower(strings.TrimSpace(pr.Severity)),
		Cluster:  Cluster(strings.ToLower(strings.TrimSpace(pr.Cluster))),
		Guidance: pr.Guidance,
	}
	if r.Severity == "" {
		r.Severity = "medium"
	}
	anyIDs, err := parseIDs(pr.AnySignals)
	if err != nil {
		return Rule{}, err
	}
	allIDs, err := parseIDs(pr.AllSignals)
	if err != nil {
		return Rule{}, err
	}
	contra, err := parseIDs(pr.ContradictedBy)
	if err != nil {
		return Rule{}, err
	}
	if len(anyIDs) > 0 {
		r.Matchers = append(r.Matchers, AnySignals(anyIDs...))
	}
	if len(allIDs) > 0 {
		r.Matchers = append(r.Matchers, AllSignals(allIDs...))
	}
	r.ContradictedBy = contra
	return r, nil
}

func parseIDs(raw []string) ([]signals.ID, error) {
	out := make([]signals.ID, 0, len(raw))
	for _, name := range raw {
		id, ok := signals.Parse(name)
		if !ok {
			return nil, fmt.Errorf("unknown signal %q", name)
		}
		out = append(out, id)
	}
	return out, nil
}
