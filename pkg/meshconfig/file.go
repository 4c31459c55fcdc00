package meshconfig

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"

	"github.com/vmcpmesh/gateway/pkg/mesh"
)

// EnvReader is the minimal environment lookup surface the YAML loader
// needs, narrow enough to fake in tests without a real process
// environment.
type EnvReader interface {
	Getenv(key string) string
}

// OSReader reads from the real process environment.
type OSReader struct{}

// Getenv implements EnvReader.
func (OSReader) Getenv(key string) string { return os.Getenv(key) }

// ConnectionFile is the YAML shape of one mesh.Connection.
type ConnectionFile struct {
	ID             string            `yaml:"id"`
	OrganizationID string            `yaml:"organization_id"`
	Title          string            `yaml:"title"`
	Description    string            `yaml:"description"`
	ConnectionType string            `yaml:"connection_type"`
	ConnectionURL  string            `yaml:"connection_url"`
	Token          string            `yaml:"token"`
	Headers        map[string]string `yaml:"headers"`
	Status         string            `yaml:"status"`
}

// VirtualMCPChildFile is the YAML shape of one VirtualMCPChild.
type VirtualMCPChildFile struct {
	ConnectionID string   `yaml:"connection_id"`
	Tools        []string `yaml:"selected_tools"`
	Resources    []string `yaml:"selected_resources"`
	Prompts      []string `yaml:"selected_prompts"`
}

// VirtualMCPFile is the YAML shape of one mesh.VirtualMCP.
type VirtualMCPFile struct {
	ID                string                `yaml:"id"`
	OrganizationID    string                `yaml:"organization_id"`
	Title             string                `yaml:"title"`
	Instructions      string                `yaml:"instructions"`
	ToolSelectionMode string                `yaml:"tool_selection_mode"`
	Strategy          string                `yaml:"strategy"`
	Connections       []VirtualMCPChildFile `yaml:"connections"`
}

// FileConfig is the on-disk shape of a gateway bootstrap file: a fixed
// set of connections and virtual MCPs for local/dev use, the CLI-mode
// analog of the teacher's immutable, discovered-at-startup backend
// registry.
type FileConfig struct {
	Connections []ConnectionFile `yaml:"connections"`
	VirtualMCPs []VirtualMCPFile `yaml:"virtual_mcps"`
}

// envVarPattern matches ${VAR_NAME} references inside scalar YAML
// values, expanded against EnvReader before parsing (spec §6.4's
// env-driven toggles, extended to file-sourced secrets like connection
// tokens).
var envVarPattern = regexp.MustCompile(`\$\{([A-Z0-9_]+)\}`)

// Loader reads and expands a FileConfig from path.
type Loader struct {
	path string
	env  EnvReader
}

// NewYAMLLoader builds a Loader for path, expanding ${VAR} references
// through env.
func NewYAMLLoader(path string, env EnvReader) *Loader {
	return &Loader{path: path, env: env}
}

// Load reads, env-expands, and parses the file at l.path.
func (l *Loader) Load() (*FileConfig, error) {
	raw, err := os.ReadFile(l.path)
	if err != nil {
		return nil, fmt.Errorf("read config file: %w", err)
	}

	expanded := envVarPattern.ReplaceAllStringFunc(string(raw), func(match string) string {
		name := envVarPattern.FindStringSubmatch(match)[1]
		if v := l.env.Getenv(name); v != "" {
			return v
		}
		return match
	})

	var cfg FileConfig
	if err := yaml.Unmarshal([]byte(expanded), &cfg); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}
	return &cfg, nil
}

// Validator checks semantic well-formedness a YAML parse alone can't
// catch: connection type validity and that every virtual MCP only
// references declared connection ids.
type Validator struct{}

// NewValidator builds a Validator.
func NewValidator() *Validator { return &Validator{} }

var validConnectionTypes = map[string]bool{
	string(mesh.ConnectionSTDIO):     true,
	string(mesh.ConnectionHTTP):      true,
	string(mesh.ConnectionSSE):       true,
	string(mesh.ConnectionWebsocket): true,
	string(mesh.ConnectionVirtual):   true,
}

// Validate checks cfg for structural and referential well-formedness.
func (*Validator) Validate(cfg *FileConfig) error {
	ids := make(map[string]bool, len(cfg.Connections))
	for _, c := range cfg.Connections {
		if c.ID == "" {
			return fmt.Errorf("connection missing id")
		}
		if !validConnectionTypes[c.ConnectionType] {
			return fmt.Errorf("connection %s: unrecognized connection_type %q", c.ID, c.ConnectionType)
		}
		ids[c.ID] = true
	}

	for _, v := range cfg.VirtualMCPs {
		if v.ID == "" {
			return fmt.Errorf("virtual mcp missing id")
		}
		for _, child := range v.Connections {
			if !ids[child.ConnectionID] {
				return fmt.Errorf("virtual mcp %s: references unknown connection %s", v.ID, child.ConnectionID)
			}
		}
	}
	return nil
}
