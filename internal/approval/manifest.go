package approval

import (
	"bytes"

	"gopkg.in/yaml.v3"
)

// Manifest is the YAML frontmatter of a PRD file. Everything after the
// frontmatter is the PRD body and is left for the agent to read in its
// checkout; only the frontmatter drives scheduling.
type Manifest struct {
	ID         string  `yaml:"id"`
	Project    string  `yaml:"project"`
	Title      string  `yaml:"title"`
	Branch     string  `yaml:"branch"`
	Iterations int     `yaml:"iterations"`
	RiskScore  float64 `yaml:"risk_score"`
	Approved   bool    `yaml:"approved"`
}

// ParseManifest extracts YAML frontmatter from markdown content.
// Returns the manifest, remaining content, and any error. Content without
// a frontmatter block parses to an empty manifest.
func ParseManifest(content []byte) (*Manifest, []byte, error) {
	if !bytes.HasPrefix(content, []byte("---\n")) {
		return &Manifest{}, content, nil
	}

	rest := content[4:]
	endIdx := bytes.Index(rest, []byte("\n---"))
	if endIdx == -1 {
		return &Manifest{}, content, nil
	}

	fmData := rest[:endIdx]
	remaining := rest[endIdx+4:] // skip \n---

	var m Manifest
	if err := yaml.Unmarshal(fmData, &m); err != nil {
		return nil, nil, err
	}

	return &m, bytes.TrimLeft(remaining, "\n"), nil
}

// titleFromBody returns the first markdown heading, or empty
func titleFromBody(body []byte) string {
	for _, line := range bytes.Split(body, []byte("\n")) {
		if bytes.HasPrefix(line, []byte("# ")) {
			return string(bytes.TrimSpace(line[2:]))
		}
	}
	return ""
}
