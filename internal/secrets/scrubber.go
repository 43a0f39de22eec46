package secrets

import (
	"cmp"
	"fmt"
	"regexp"
	"slices"
	"strings"

	gitleaksConfig "github.com/zricethezav/gitleaks/v8/config"
	"github.com/zricethezav/gitleaks/v8/detect"
	gitleaksRegexp "github.com/zricethezav/gitleaks/v8/regexp"
	"go.uber.org/zap"
)

// Finding is one detected secret.
type Finding struct {
	RuleID string
	Secret string
}

// detector is the part of gitleaks the scrubber uses.
type detector interface {
	detect(content string) []Finding
}

// Scrubber redacts secrets from text. A nil or disabled Scrubber returns
// content unchanged.
type Scrubber struct {
	detector detector
	logger   *zap.Logger
}

// Config configures a Scrubber.
type Config struct {
	Enabled       bool
	AllowlistPath string
}

// New builds a scrubber on the gitleaks default rules plus the allowlist.
func New(cfg Config, logger *zap.Logger) (*Scrubber, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	if !cfg.Enabled {
		return &Scrubber{logger: logger}, nil
	}

	allow, err := LoadAllowlist(cfg.AllowlistPath)
	if err != nil {
		return nil, fmt.Errorf("loading allowlist: %w", err)
	}
	d, err := newGitleaksDetector(allow)
	if err != nil {
		return nil, fmt.Errorf("loading gitleaks rules: %w", err)
	}
	return &Scrubber{detector: d, logger: logger}, nil
}

// Enabled reports whether the scrubber redacts anything.
func (s *Scrubber) Enabled() bool { return s != nil && s.detector != nil }

// Scrub replaces each detected secret with [REDACTED:<rule>] and returns the
// scrubbed text and the number of findings.
func (s *Scrubber) Scrub(content string) (string, int) {
	if !s.Enabled() || content == "" {
		return content, 0
	}

	findings := s.detector.detect(content)
	if len(findings) == 0 {
		return content, 0
	}

	// Longest secrets first so a secret containing another is replaced whole.
	slices.SortFunc(findings, func(a, b Finding) int {
		return cmp.Compare(len(b.Secret), len(a.Secret))
	})
	for _, f := range findings {
		if f.Secret == "" {
			continue
		}
		content = strings.ReplaceAll(content, f.Secret, "[REDACTED:"+f.RuleID+"]")
	}

	s.logger.Debug("redacted secrets", zap.Int("findings", len(findings)))
	return content, len(findings)
}

// gitleaksDetector runs the gitleaks rules. A gitleaks Detector collects
// findings across calls, so each scan gets a fresh one built from the parsed
// configuration.
type gitleaksDetector struct {
	cfg gitleaksConfig.Config
}

func newGitleaksDetector(allow *Allowlist) (*gitleaksDetector, error) {
	base, err := detect.NewDetectorDefaultConfig()
	if err != nil {
		return nil, err
	}
	cfg := base.Config
	if allow != nil && (len(allow.Regexes) > 0 || len(allow.StopWords) > 0) {
		entry := &gitleaksConfig.Allowlist{Description: "ragdocs allowlist"}
		for _, pattern := range allow.Regexes {
			entry.Regexes = append(entry.Regexes, (*gitleaksRegexp.Regexp)(regexp.MustCompile(pattern)))
		}
		entry.StopWords = append(entry.StopWords, allow.StopWords...)
		cfg.Allowlists = append(cfg.Allowlists, entry)
	}
	return &gitleaksDetector{cfg: cfg}, nil
}

func (g *gitleaksDetector) detect(content string) []Finding {
	found := detect.NewDetector(g.cfg).DetectString(content)
	out := make([]Finding, 0, len(found))
	for _, f := range found {
		out = append(out, Finding{RuleID: f.RuleID, Secret: f.Secret})
	}
	return out
}
