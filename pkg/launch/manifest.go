// Package launch describes headless session runs as YAML manifests and
// compiles them into launch functions the supervisor can drive.
package launch

import (
	"context"
	"fmt"
	"os"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/possum-survey/possumctl/pkg/canfar"
)

// MaxSessionNameLen is the longest session name the service accepts.
const MaxSessionNameLen = 15

// Manifest describes one headless session run.
type Manifest struct {
	// Name is the session name. It is sanitized before submission: the
	// service only accepts alphanumerics and '-', capped at 15 characters.
	Name string `yaml:"name"`

	// Image is the container image to run, e.g.
	// "images.canfar.net/cirada/possumpipeline:v1.11.0".
	Image string `yaml:"image"`

	// Cores is the CPU request. Zero lets the service choose.
	Cores int `yaml:"cores,omitempty"`

	// RAM is the memory request in GB. Zero lets the service choose.
	RAM int `yaml:"ram,omitempty"`

	// Cmd is the command to execute inside the container.
	Cmd string `yaml:"cmd,omitempty"`

	// Args is the argument string handed to Cmd.
	Args []string `yaml:"args,omitempty"`

	// Env is injected into the session environment.
	Env map[string]string `yaml:"env,omitempty"`

	// Replicas is the number of session replicas. Default 1.
	Replicas int `yaml:"replicas,omitempty"`
}

// Load reads and validates a launch manifest from a YAML file.
func Load(path string) (*Manifest, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("launch manifest not found: %s", path)
		}
		return nil, fmt.Errorf("read launch manifest: %w", err)
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("parse launch manifest %s: %w", path, err)
	}
	if err := m.Validate(); err != nil {
		return nil, fmt.Errorf("invalid launch manifest %s: %w", path, err)
	}
	return &m, nil
}

// Validate checks required fields.
func (m *Manifest) Validate() error {
	if strings.TrimSpace(m.Image) == "" {
		return fmt.Errorf("image is required")
	}
	if strings.TrimSpace(m.Name) == "" {
		return fmt.Errorf("name is required")
	}
	if m.Cores < 0 || m.RAM < 0 || m.Replicas < 0 {
		return fmt.Errorf("cores, ram, and replicas must not be negative")
	}
	return nil
}

// Spec converts the manifest into a session creation spec.
func (m *Manifest) Spec() canfar.Spec {
	return canfar.Spec{
		Name:     SanitizeName(m.Name),
		Image:    m.Image,
		Cores:    m.Cores,
		RAM:      m.RAM,
		Kind:     "headless",
		Cmd:      m.Cmd,
		Args:     strings.Join(m.Args, " "),
		Env:      m.Env,
		Replicas: m.Replicas,
	}
}

// SessionCreator creates sessions. *canfar.Client satisfies it.
type SessionCreator interface {
	Create(ctx context.Context, spec canfar.Spec) (string, error)
}

// Launcher returns a launch function that submits this manifest through c.
func (m *Manifest) Launcher(c SessionCreator) func(ctx context.Context) (string, error) {
	spec := m.Spec()
	return func(ctx context.Context) (string, error) {
		return c.Create(ctx, spec)
	}
}

// SanitizeName rewrites name into the restricted charset the service
// accepts: alphanumerics and '-', at most MaxSessionNameLen characters.
// Underscores become dashes; other rejected characters are dropped.
func SanitizeName(name string) string {
	var b strings.Builder
	for _, r := range strings.TrimSpace(name) {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-':
			b.WriteRune(r)
		case r == '_' || r == ' ' || r == ':' || r == '.':
			b.WriteRune('-')
		}
	}
	out := strings.Trim(b.String(), "-")
	if len(out) > MaxSessionNameLen {
		out = strings.Trim(out[:MaxSessionNameLen], "-")
	}
	return out
}
