package topology

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
	"gopkg.in/yaml.v3"
)

// ManifestHeader is prepended to every rendered manifest. The file on the
// target is always replaced as a whole; edits made there do not survive the
// next deploy.
const ManifestHeader = "# Generated by shipyard. Overwritten on every deploy; do not edit on the host.\n"

// =============================================================================
// Compose Document Shapes
// =============================================================================

type composeFile struct {
	Name     string                   `yaml:"name"`
	Services yaml.Node                `yaml:"services"`
	Volumes  map[string]composeVolume `yaml:"volumes,omitempty"`
}

type composeService struct {
	Image       string                       `yaml:"image,omitempty"`
	Build       *composeBuild                `yaml:"build,omitempty"`
	Command     []string                     `yaml:"command,omitempty"`
	Restart     string                       `yaml:"restart,omitempty"`
	EnvFile     []string                     `yaml:"env_file,omitempty"`
	Environment map[string]string            `yaml:"environment,omitempty"`
	Ports       []string                     `yaml:"ports,omitempty"`
	Volumes     []string                     `yaml:"volumes,omitempty"`
	DependsOn   map[string]composeDependency `yaml:"depends_on,omitempty"`
	HealthCheck *composeHealthCheck          `yaml:"healthcheck,omitempty"`
}

type composeBuild struct {
	Context    string `yaml:"context"`
	Dockerfile string `yaml:"dockerfile,omitempty"`
}

type composeDependency struct {
	Condition string `yaml:"condition"`
}

type composeHealthCheck struct {
	Test        []string `yaml:"test"`
	Interval    string   `yaml:"interval,omitempty"`
	Timeout     string   `yaml:"timeout,omitempty"`
	Retries     int      `yaml:"retries,omitempty"`
	StartPeriod string   `yaml:"start_period,omitempty"`
}

type composeVolume struct{}

// =============================================================================
// Rendering
// =============================================================================

// Render validates the topology and serialises it to compose YAML. Services
// keep their declaration order. The output is then loaded back through
// compose-go so a manifest the runtime would reject never leaves the machine.
func Render(t *Topology) ([]byte, error) {
	if err := Validate(t); err != nil {
		return nil, err
	}

	doc := composeFile{
		Name:     t.Name,
		Services: yaml.Node{Kind: yaml.MappingNode},
	}

	for _, svc := range t.Services {
		var value yaml.Node
		if err := value.Encode(toComposeService(svc)); err != nil {
			return nil, fmt.Errorf("encode service %s: %w", svc.Name, err)
		}
		key := yaml.Node{Kind: yaml.ScalarNode, Tag: "!!str", Value: svc.Name}
		doc.Services.Content = append(doc.Services.Content, &key, &value)
	}

	if len(t.Volumes) > 0 {
		doc.Volumes = make(map[string]composeVolume, len(t.Volumes))
		for _, v := range t.Volumes {
			doc.Volumes[v] = composeVolume{}
		}
	}

	var buf bytes.Buffer
	buf.WriteString(ManifestHeader)
	enc := yaml.NewEncoder(&buf)
	enc.SetIndent(2)
	if err := enc.Encode(&doc); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("encode manifest: %w", err)
	}

	project, err := Load(t.Name, buf.Bytes())
	if err != nil {
		return nil, err
	}
	if len(project.Services) != len(t.Services) {
		return nil, NewValidationError("services",
			fmt.Sprintf("compose loaded %d services, expected %d", len(project.Services), len(t.Services)),
			ErrComposeRejected)
	}

	return buf.Bytes(), nil
}

func toComposeService(svc Service) composeService {
	out := composeService{
		Image:       svc.Image,
		Command:     svc.Command,
		Restart:     string(svc.Restart),
		EnvFile:     svc.EnvFile,
		Environment: svc.Environment,
		Ports:       svc.Ports,
	}

	if svc.Build != nil {
		out.Build = &composeBuild{Context: svc.Build.Context, Dockerfile: svc.Build.Dockerfile}
	}

	for _, v := range svc.Volumes {
		spec := v.Source + ":" + v.Target
		if v.ReadOnly {
			spec += ":ro"
		}
		out.Volumes = append(out.Volumes, spec)
	}

	if len(svc.DependsOn) > 0 {
		out.DependsOn = make(map[string]composeDependency, len(svc.DependsOn))
		for _, d := range svc.DependsOn {
			out.DependsOn[d.Service] = composeDependency{Condition: string(d.Condition)}
		}
	}

	if hc := svc.HealthCheck; hc != nil {
		out.HealthCheck = &composeHealthCheck{
			Test:        hc.Test,
			Interval:    formatDuration(hc.Interval),
			Timeout:     formatDuration(hc.Timeout),
			Retries:     hc.Retries,
			StartPeriod: formatDuration(hc.StartPeriod),
		}
	}

	return out
}

func formatDuration(d time.Duration) string {
	if d <= 0 {
		return ""
	}
	return d.String()
}

// =============================================================================
// Loading
// =============================================================================

// Load parses compose YAML with compose-go without touching the filesystem:
// paths are left relative and env_file entries are not read, since they only
// exist on the target.
func Load(projectName string, content []byte) (*types.Project, error) {
	if strings.TrimSpace(string(content)) == "" {
		return nil, ErrEmptyInput
	}

	var dict map[string]interface{}
	if err := yaml.Unmarshal(content, &dict); err != nil {
		return nil, NewValidationError("", "invalid YAML syntax", ErrInvalidYAML)
	}
	if dict == nil {
		return nil, NewValidationError("", "invalid YAML syntax", ErrInvalidYAML)
	}

	project, err := loader.LoadWithContext(context.Background(), types.ConfigDetails{
		ConfigFiles: []types.ConfigFile{
			{
				Content: content,
				Config:  dict,
			},
		},
	}, func(opts *loader.Options) {
		opts.SetProjectName(projectName, true)
		opts.SkipNormalization = true
		opts.ResolvePaths = false
		opts.SkipResolveEnvironment = true
		opts.SkipExtends = true
	})
	if err != nil {
		errStr := err.Error()
		if strings.Contains(errStr, "dependency cycle detected") {
			return nil, NewValidationError("", "circular dependency detected", ErrCircularDependency)
		}
		return nil, NewValidationError("", errStr, ErrComposeRejected)
	}

	return project, nil
}
