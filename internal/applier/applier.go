/*
SPDX-FileCopyrightText: The Basalt Authors

SPDX-License-Identifier: Apache-2.0
*/

// Package applier turns a committed settings change into rendered configuration files and
// service restarts. It runs in two modes: apply everything (at boot) or apply only the services
// affected by a specific set of changed keys (after a commit).
package applier

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"path"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"

	"github.com/basalt-os/basalt/internal/apiclient"
	"github.com/basalt-os/basalt/internal/model"
	"github.com/basalt-os/basalt/internal/render"
)

// ApplierBuilder contains the data and logic needed to create an applier. Don't create
// instances of this directly, use the NewApplier function instead.
type ApplierBuilder struct {
	logger *slog.Logger
	client *apiclient.Client
	fs     afero.Fs
}

// Applier renders configuration files and restarts services.
type Applier struct {
	logger *slog.Logger
	client *apiclient.Client
	fs     afero.Fs
}

// affectedService couples a service record with the changed settings relevant to it. The
// changed set is nil when the applier runs for everything.
type affectedService struct {
	name            string
	service         model.Service
	changedSettings []string
}

// NewApplier creates a builder that can then be used to configure and create an applier.
func NewApplier() *ApplierBuilder {
	return &ApplierBuilder{}
}

// SetLogger sets the logger that the applier will use to write to the log. This is mandatory.
func (b *ApplierBuilder) SetLogger(value *slog.Logger) *ApplierBuilder {
	b.logger = value
	return b
}

// SetClient sets the API client used to fetch metadata and settings. This is mandatory.
func (b *ApplierBuilder) SetClient(value *apiclient.Client) *ApplierBuilder {
	b.client = value
	return b
}

// SetFs sets the filesystem configuration files are written to and templates are read from.
// This is mandatory.
func (b *ApplierBuilder) SetFs(value afero.Fs) *ApplierBuilder {
	b.fs = value
	return b
}

// Build uses the data stored in the builder to create a new applier.
func (b *ApplierBuilder) Build() (result *Applier, err error) {
	if b.logger == nil {
		err = errors.New("logger is mandatory")
		return
	}
	if b.client == nil {
		err = errors.New("client is mandatory")
		return
	}
	if b.fs == nil {
		err = errors.New("filesystem is mandatory")
		return
	}
	result = &Applier{
		logger: b.logger,
		client: b.client,
		fs:     b.fs,
	}
	return
}

// ApplyAll refreshes every configuration file and restarts every service. Rendering is
// non-strict: at boot some keys may not be populated yet and render empty.
func (a *Applier) ApplyAll(ctx context.Context) error {
	services, err := a.allServices(ctx)
	if err != nil {
		return err
	}
	return a.apply(ctx, services, false)
}

// ApplyKeys renders and restarts only what the given changed keys affect. Rendering is strict:
// a missing key at this point is a bug, not an ordering artifact.
func (a *Applier) ApplyKeys(ctx context.Context, changed []string) error {
	if len(changed) == 0 {
		a.logger.InfoContext(ctx, "No changed keys, nothing to apply")
		return nil
	}
	services, err := a.affectedServices(ctx, changed)
	if err != nil {
		return err
	}
	if len(services) == 0 {
		a.logger.InfoContext(ctx, "No services are affected")
		return nil
	}
	return a.apply(ctx, services, true)
}

// apply renders the configuration files of the given services and then restarts them. All
// files must render before any is written, and all files are written before any service is
// restarted, so a render failure can't leave behind a half applied configuration.
func (a *Applier) apply(ctx context.Context, services []affectedService, strict bool) error {
	fileNames := configFileNames(services)
	if len(fileNames) > 0 {
		files, err := a.configurationFiles(ctx, fileNames)
		if err != nil {
			return err
		}
		rendered, err := a.renderAll(ctx, files, strict)
		if err != nil {
			return err
		}
		if err := a.writeAll(ctx, files, rendered); err != nil {
			return err
		}
	}
	return a.restartAll(ctx, services)
}

// allServices fetches every service record.
func (a *Applier) allServices(ctx context.Context) ([]affectedService, error) {
	var services model.Services
	if err := a.client.GetJSON(ctx, "/services", nil, &services); err != nil {
		return nil, err
	}
	result := make([]affectedService, 0, len(services))
	for name, service := range services {
		result = append(result, affectedService{
			name:    string(name),
			service: service,
		})
	}
	sortServices(result)
	return result, nil
}

// affectedServices asks the API which services the changed keys affect and fetches their
// records, remembering which keys are relevant to each service.
func (a *Applier) affectedServices(ctx context.Context, changed []string) ([]affectedService, error) {
	query := url.Values{}
	query.Set("keys", strings.Join(changed, ","))
	var affected map[string][]string
	err := a.client.GetJSON(ctx, "/metadata/affected-services", query, &affected)
	if err != nil {
		return nil, err
	}
	if len(affected) == 0 {
		return nil, nil
	}

	// Reverse the mapping to get the changed settings per service:
	changedPerService := map[string][]string{}
	for setting, services := range affected {
		for _, service := range services {
			changedPerService[service] = append(changedPerService[service], setting)
		}
	}
	names := make([]string, 0, len(changedPerService))
	for name := range changedPerService {
		names = append(names, name)
	}
	sort.Strings(names)

	query = url.Values{}
	query.Set("names", strings.Join(names, ","))
	var services model.Services
	if err := a.client.GetJSON(ctx, "/services", query, &services); err != nil {
		return nil, err
	}

	result := make([]affectedService, 0, len(names))
	for _, name := range names {
		service, ok := services[model.Identifier(name)]
		if !ok {
			return nil, fmt.Errorf("service %q is affected but has no record", name)
		}
		settings := changedPerService[name]
		sort.Strings(settings)
		result = append(result, affectedService{
			name:            name,
			service:         service,
			changedSettings: settings,
		})
	}
	return result, nil
}

// configFileNames unions the configuration file names of the given services, sorted.
func configFileNames(services []affectedService) []string {
	set := map[string]struct{}{}
	for _, service := range services {
		for _, file := range service.service.ConfigurationFiles {
			set[string(file)] = struct{}{}
		}
	}
	names := make([]string, 0, len(set))
	for name := range set {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// configurationFiles fetches the records of the named configuration files.
func (a *Applier) configurationFiles(ctx context.Context, names []string) (model.ConfigurationFiles, error) {
	query := url.Values{}
	query.Set("names", strings.Join(names, ","))
	var files model.ConfigurationFiles
	if err := a.client.GetJSON(ctx, "/configuration-files", query, &files); err != nil {
		return nil, err
	}
	return files, nil
}

// renderAll registers each file's template and renders it against the whole model. Every file
// must render before anything is written.
func (a *Applier) renderAll(ctx context.Context, files model.ConfigurationFiles, strict bool) (map[string]string, error) {
	registry, err := render.NewRegistry().
		SetLogger(a.logger).
		SetFs(a.fs).
		SetStrict(strict).
		Build()
	if err != nil {
		return nil, err
	}
	for name, file := range files {
		a.logger.DebugContext(
			ctx,
			"Registering template",
			slog.String("name", string(name)),
			slog.String("path", string(file.TemplatePath)),
		)
		err := registry.RegisterTemplateFile(string(name), string(file.TemplatePath))
		if err != nil {
			return nil, err
		}
	}

	var data map[string]any
	if err := a.client.GetJSON(ctx, "/", nil, &data); err != nil {
		return nil, err
	}

	// Templates render independently, so render them concurrently; nothing is written until
	// every render has finished.
	var (
		group    errgroup.Group
		mutex    sync.Mutex
		rendered = map[string]string{}
	)
	for name := range files {
		name := string(name)
		group.Go(func() error {
			output, err := registry.Render(name, data)
			if err != nil {
				if strict {
					return err
				}
				a.logger.WarnContext(
					ctx,
					"Template failed to render, writing empty file",
					slog.String("name", name),
					slog.String("error", err.Error()),
				)
				output = ""
			}
			mutex.Lock()
			rendered[name] = output
			mutex.Unlock()
			return nil
		})
	}
	if err := group.Wait(); err != nil {
		return nil, err
	}
	return rendered, nil
}

// writeAll writes the rendered files to their configured paths, creating parent directories as
// needed. This only runs once every file has rendered.
func (a *Applier) writeAll(ctx context.Context, files model.ConfigurationFiles, rendered map[string]string) error {
	for name, file := range files {
		target := string(file.Path)
		a.logger.InfoContext(
			ctx,
			"Writing configuration file",
			slog.String("name", string(name)),
			slog.String("path", target),
		)
		if err := a.fs.MkdirAll(path.Dir(target), 0o755); err != nil {
			return fmt.Errorf("can't create directory for %q: %w", target, err)
		}
		err := afero.WriteFile(a.fs, target, []byte(rendered[string(name)]), 0o644)
		if err != nil {
			return fmt.Errorf("can't write %q: %w", target, err)
		}
	}
	return nil
}

// restartAll runs each service's restart commands. A failing service doesn't prevent the
// others from being attempted; the applier reports how many failed at the end.
func (a *Applier) restartAll(ctx context.Context, services []affectedService) error {
	failures := 0
	for _, service := range services {
		if err := a.restart(ctx, service); err != nil {
			a.logger.ErrorContext(
				ctx,
				"Failed to restart service",
				slog.String("service", service.name),
				slog.String("error", err.Error()),
			)
			failures++
		}
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d services failed to restart", failures, len(services))
	}
	return nil
}

func sortServices(services []affectedService) {
	sort.Slice(services, func(i, j int) bool {
		return services[i].name < services[j].name
	})
}
