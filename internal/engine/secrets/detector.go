// Package secrets finds credentials committed to source files and, optionally,
// to recent git history.
package secrets

import (
	"fmt"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
)

type PatternConfig struct {
	Name     string
	Regex    string
	Severity string
}

type Config struct {
	EntropyThreshold float64
	MinTokenLength   int
	Patterns         []PatternConfig
}

// Secret is one credential-looking value found in a file.
type Secret struct {
	Kind       string
	Severity   string
	Value      string
	Entropy    float64
	Confidence float64
	File       string
	Line       int
	Column     int
}

type LineRange struct {
	Start int
	End   int
}

// IgnoreMarker on a line, or alone on the line above, suppresses secrets
// reported for that line.
const IgnoreMarker = "repoaudit:ignore-secret"

const (
	kindAssignment  = "sensitive-assignment"
	kindHighEntropy = "high-entropy-string"
)

var builtinPatterns = []PatternConfig{
	{Name: "aws-access-key-id", Severity: "high", Regex: `\bAKIA[0-9A-Z]{16}\b`},
	{Name: "github-pat", Severity: "high", Regex: `\bghp_[A-Za-z0-9]{36}\b`},
	{Name: "github-fine-grained-pat", Severity: "high", Regex: `\bgithub_pat_[A-Za-z0-9_]{82}\b`},
	{Name: "stripe-live-secret", Severity: "high", Regex: `\bsk_live_[A-Za-z0-9]{16,}\b`},
	{Name: "openai-api-key", Severity: "high", Regex: `\bsk-(?:proj-)?[A-Za-z0-9_-]{32,}\b`},
	{Name: "supabase-service-role", Severity: "critical", Regex: `(?i)service_role[^\n]{0,40}eyJ[A-Za-z0-9_-]{10,}\.[A-Za-z0-9_-]{10,}`},
	{Name: "slack-token", Severity: "high", Regex: `\bxox[baprs]-[A-Za-z0-9-]{10,}\b`},
	{Name: "private-key-block", Severity: "critical", Regex: `-----BEGIN (?:RSA |EC |DSA |OPENSSH |PGP )?PRIVATE KEY-----`},
}

var (
	sensitiveNameRE = regexp.MustCompile(`(?i)\b(password|passwd|pwd|secret|api[_-]?key|token|auth[_-]?token|access[_-]?key|private[_-]?key|client[_-]?secret)\b`)
	quotedValueRE   = regexp.MustCompile(`"([^"\r\n]{4,})"|'([^'\r\n]{4,})'`)
	quotedTokenRE   = regexp.MustCompile(`"([A-Za-z0-9_\-+=:/.]{12,})"|'([A-Za-z0-9_\-+=:/.]{12,})'`)
)

// configExtensions are file types where a bare high-entropy string is worth
// reporting without a sensitive name next to it.
var configExtensions = map[string]bool{
	".env": true, ".ini": true, ".cfg": true, ".conf": true, ".properties": true,
	".yaml": true, ".yml": true, ".toml": true, ".json": true, ".pem": true, ".key": true,
}

type pattern struct {
	name     string
	severity string
	re       *regexp.Regexp
}

type Detector struct {
	entropyThreshold float64
	minTokenLength   int
	patterns         []pattern
}

func NewDetector(cfg Config) (*Detector, error) {
	if cfg.EntropyThreshold <= 0 {
		cfg.EntropyThreshold = 4.0
	}
	if cfg.MinTokenLength <= 0 {
		cfg.MinTokenLength = 20
	}
	patterns, err := compilePatterns(append(append([]PatternConfig(nil), builtinPatterns...), cfg.Patterns...))
	if err != nil {
		return nil, err
	}
	return &Detector{
		entropyThreshold: cfg.EntropyThreshold,
		minTokenLength:   cfg.MinTokenLength,
		patterns:         patterns,
	}, nil
}

func compilePatterns(cfg []PatternConfig) ([]pattern, error) {
	out := make([]pattern, 0, len(cfg))
	for _, p := range cfg {
		name := strings.TrimSpace(p.Name)
		if name == "" {
			return nil, fmt.Errorf("secret pattern name must not be empty")
		}
		expr := strings.TrimSpace(p.Regex)
		if expr == "" {
			return nil, fmt.Errorf("secret pattern %q regex must not be empty", name)
		}
		re, err := regexp.Compile(expr)
		if err != nil {
			return nil, fmt.Errorf("compile secret pattern %q: %w", name, err)
		}
		severity := strings.ToLower(strings.TrimSpace(p.Severity))
		if severity == "" {
			severity = "medium"
		}
		out = append(out, pattern{name: name, severity: severity, re: re})
	}
	return out, nil
}

func (d *Detector) Detect(filePath string, content []byte) []Secret {
	return d.DetectInRanges(filePath, content, nil)
}

// DetectInRanges reports only secrets whose line falls inside one of ranges.
// A nil ranges slice means the whole file.
func (d *Detector) DetectInRanges(filePath string, content []byte, ranges []LineRange) []Secret {
	if len(content) == 0 {
		return nil
	}
	s := &fileScan{
		file:  filePath,
		text:  string(content),
		index: buildLineIndex(content),
		found: make(map[string]Secret),
	}

	d.matchPatterns(s)
	d.matchAssignments(s)
	if configExtensions[strings.ToLower(filepath.Ext(filePath))] || strings.HasPrefix(filepath.Base(filePath), ".env") {
		d.matchEntropy(s)
	}
	return s.results(ranges)
}

func (d *Detector) matchPatterns(s *fileScan) {
	for _, p := range d.patterns {
		for _, loc := range p.re.FindAllStringIndex(s.text, -1) {
			value := s.text[loc[0]:loc[1]]
			if isPlaceholder(value) {
				continue
			}
			s.add(p.name, p.severity, value, loc[0], 0.99)
		}
	}
}

// matchAssignments reports quoted values on lines that name a credential.
// Values slightly below the entropy threshold still count, at lower confidence.
func (d *Detector) matchAssignments(s *fileScan) {
	offset := 0
	for _, line := range strings.Split(s.text, "\n") {
		if sensitiveNameRE.MatchString(line) {
			for _, m := range quotedValueRE.FindAllStringSubmatchIndex(line, -1) {
				start, end, ok := firstGroup(m)
				if !ok {
					continue
				}
				value := line[start:end]
				if len(value) < d.minTokenLength || isPlaceholder(value) {
					continue
				}
				entropy := shannonEntropy(value)
				switch {
				case entropy >= d.entropyThreshold:
					s.add(kindAssignment, "medium", value, offset+start, 0.85)
				case entropy >= d.entropyThreshold*0.8:
					s.add(kindAssignment, "medium", value, offset+start, 0.70)
				}
			}
		}
		offset += len(line) + 1
	}
}

func (d *Detector) matchEntropy(s *fileScan) {
	for _, m := range quotedTokenRE.FindAllStringSubmatchIndex(s.text, -1) {
		start, end, ok := firstGroup(m)
		if !ok {
			continue
		}
		value := s.text[start:end]
		if len(value) < d.minTokenLength || isPlaceholder(value) || !hasLetterAndDigit(value) {
			continue
		}
		if shannonEntropy(value) < d.entropyThreshold {
			continue
		}
		s.add(kindHighEntropy, "low", value, start, 0.6)
	}
}

// fileScan collects the matches for one file, keeping the most confident
// match per position and value.
type fileScan struct {
	file  string
	text  string
	index lineIndex
	found map[string]Secret
}

func (s *fileScan) add(kind, severity, value string, offset int, confidence float64) {
	line, col := s.index.lineCol(offset)
	key := fmt.Sprintf("%d:%d:%s", line, col, value)
	if existing, ok := s.found[key]; ok && existing.Confidence >= confidence {
		return
	}
	s.found[key] = Secret{
		Kind:       kind,
		Severity:   severity,
		Value:      value,
		Entropy:    shannonEntropy(value),
		Confidence: confidence,
		File:       s.file,
		Line:       line,
		Column:     col,
	}
}

func (s *fileScan) results(ranges []LineRange) []Secret {
	if len(s.found) == 0 {
		return nil
	}
	out := make([]Secret, 0, len(s.found))
	for _, secret := range s.found {
		if ranges != nil && !inRanges(secret.Line, ranges) {
			continue
		}
		if s.suppressed(secret.Line) {
			continue
		}
		out = append(out, secret)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Line != out[j].Line {
			return out[i].Line < out[j].Line
		}
		if out[i].Column != out[j].Column {
			return out[i].Column < out[j].Column
		}
		return out[i].Kind < out[j].Kind
	})
	return out
}

// suppressed reports whether line carries the ignore marker or follows a
// comment-only line that does.
func (s *fileScan) suppressed(line int) bool {
	if strings.Contains(s.index.text(s.text, line), IgnoreMarker) {
		return true
	}
	if line < 2 {
		return false
	}
	prev := strings.TrimSpace(s.index.text(s.text, line-1))
	return isCommentLine(prev) && strings.Contains(prev, IgnoreMarker)
}

func inRanges(line int, ranges []LineRange) bool {
	for _, r := range ranges {
		if line >= r.Start && line <= r.End {
			return true
		}
	}
	return false
}
