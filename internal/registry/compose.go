package registry

import (
	"context"
	"fmt"
	"os"
	"sort"

	"github.com/compose-spec/compose-go/v2/loader"
	"github.com/compose-spec/compose-go/v2/types"
)

// LoadCompose builds a registry of container specs from a compose file.
// Service names become ids, container_name overrides the inspected name, and
// depends_on carries over as the repair ordering. Health checks beyond
// liveness are not derivable from compose; operators add shallow/deep checks
// by switching to the native YAML format.
func LoadCompose(ctx context.Context, path string, defaults Defaults) (*Registry, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read compose file: %w", err)
	}
	return ParseCompose(ctx, data, defaults)
}

// ParseCompose parses compose bytes into a validated registry.
func ParseCompose(ctx context.Context, body []byte, defaults Defaults) (*Registry, error) {
	if len(body) == 0 {
		return nil, configErrorf("compose body is empty")
	}

	details := types.ConfigDetails{
		WorkingDir: ".",
		ConfigFiles: []types.ConfigFile{
			{
				Filename: "compose.yml",
				Content:  body,
			},
		},
		Environment: types.Mapping{},
	}

	project, err := loader.LoadWithContext(ctx, details, func(opts *loader.Options) {
		opts.SetProjectName("node-warden", false)
	})
	if err != nil {
		return nil, configErrorf("load compose: %v", err)
	}
	if len(project.Services) == 0 {
		return nil, configErrorf("compose has no services")
	}

	specs := make([]Spec, 0, len(project.Services))
	for name, service := range project.Services {
		spec := Spec{
			ID:        name,
			Kind:      KindContainer,
			Container: service.ContainerName,
			DependsOn: dependencyNames(service.DependsOn),
		}
		specs = append(specs, spec)
	}
	sort.Slice(specs, func(i, j int) bool {
		return specs[i].ID < specs[j].ID
	})

	reg, err := FromSpecs(defaults, specs)
	if err != nil {
		return nil, err
	}
	reg.fingerprint = Fingerprint(body)
	return reg, nil
}

func dependencyNames(deps types.DependsOnConfig) []string {
	if len(deps) == 0 {
		return nil
	}
	names := make([]string, 0, len(deps))
	for name := range deps {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}
