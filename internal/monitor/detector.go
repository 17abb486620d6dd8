package monitor

import (
	"regexp"
	"sort"
	"strings"
)

// OutputDetector scans captured run output before it is persisted. It flags
// signs that a script probed its isolation boundary, and it redacts injected
// credential values so a script cannot exfiltrate them through its own logs.
type OutputDetector struct {
	patterns []DetectionPattern
}

// DetectionPattern defines a suspicious pattern to match in run output.
type DetectionPattern struct {
	Name        string
	Description string
	Regex       *regexp.Regexp
	Severity    Severity
}

// Severity levels for detected threats.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// Detection represents one suspicious finding in run output.
type Detection struct {
	Pattern  string `json:"pattern"`
	Severity string `json:"severity"`
	Detail   string `json:"detail"`
}

// NewOutputDetector creates a detector with the default pattern set.
func NewOutputDetector() *OutputDetector {
	return &OutputDetector{patterns: defaultPatterns()}
}

// Scan checks run output for signs of isolation probing or escape.
func (d *OutputDetector) Scan(output string) []Detection {
	var detections []Detection
	for _, p := range d.patterns {
		if p.Regex.MatchString(output) {
			detections = append(detections, Detection{
				Pattern:  p.Name,
				Severity: p.Severity.String(),
				Detail:   p.Description,
			})
		}
	}
	return detections
}

const redactedPlaceholder = "[redacted]"

// RedactSecrets replaces every occurrence of the given secret values with a
// placeholder and reports how many replacements were made. Short values are
// skipped; redacting them would mangle ordinary output.
func RedactSecrets(output string, secrets []string) (string, int) {
	// Longest first, so a secret that contains another is redacted whole.
	ordered := make([]string, 0, len(secrets))
	for _, s := range secrets {
		if len(s) >= 6 {
			ordered = append(ordered, s)
		}
	}
	sort.Slice(ordered, func(i, j int) bool { return len(ordered[i]) > len(ordered[j]) })

	total := 0
	for _, secret := range ordered {
		if n := strings.Count(output, secret); n > 0 {
			output = strings.ReplaceAll(output, secret, redactedPlaceholder)
			total += n
		}
	}
	return output, total
}

func defaultPatterns() []DetectionPattern {
	return []DetectionPattern{
		{
			Name:        "proc_self_access",
			Description: "output references /proc/self process internals",
			Regex:       regexp.MustCompile(`/proc/self/(root|exe|fd|ns|maps|status)`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "cgroup_probe",
			Description: "output references cgroup escape surfaces",
			Regex:       regexp.MustCompile(`/sys/fs/cgroup|notify_on_release|release_agent`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "runtime_socket",
			Description: "output references the container runtime socket",
			Regex:       regexp.MustCompile(`/var/run/docker|containerd\.sock`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "passwd_leak",
			Description: "output contains host account database content",
			Regex:       regexp.MustCompile(`root:x:0:0`),
			Severity:    SeverityCritical,
		},
		{
			Name:        "kernel_leak",
			Description: "output contains kernel version banner",
			Regex:       regexp.MustCompile(`Linux version \d`),
			Severity:    SeverityHigh,
		},
		{
			Name:        "metadata_service",
			Description: "output references a cloud metadata endpoint",
			Regex:       regexp.MustCompile(`169\.254\.169\.254|metadata\.google|metadata\.aws`),
			Severity:    SeverityHigh,
		},
	}
}
