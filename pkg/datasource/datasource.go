// Package datasource maps data references onto the service responsible
// for processing them. A source table pairs network locations with the
// deployment endpoint closest to the data, so workflow steps run where
// their inputs already live.
package datasource

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// OpenSearchScheme is the pseudo-scheme marking files that are already
// local to a data source. Staging rewrites such references to file://
// instead of re-downloading them.
const OpenSearchScheme = "opensearchfile"

// Source is one configured data source: the network location its data
// lives under and the service that should process close to it.
type Source struct {
	Name    string `yaml:"-" json:"name"`
	Netloc  string `yaml:"netloc" json:"netloc"`
	ADES    string `yaml:"ades" json:"ades"`
	RootDir string `yaml:"rootdir" json:"rootdir,omitempty"`
	Default bool   `yaml:"default" json:"default,omitempty"`
}

// Registry resolves data references against the configured source table.
// The table file is loaded once on first use; lookups afterwards only
// take the read lock.
type Registry struct {
	path      string
	localBase string

	mu         sync.RWMutex
	loaded     bool
	sources    []Source
	defaultIdx int
}

// NewRegistry builds a registry over the source table at path. localBase
// is the URL of this service, used when no source is named.
func NewRegistry(path, localBase string) *Registry {
	return &Registry{path: path, localBase: strings.TrimRight(localBase, "/")}
}

func (r *Registry) ensure() error {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.loaded {
		return nil
	}
	if r.path == "" {
		return fmt.Errorf("no data sources configured")
	}
	data, err := os.ReadFile(r.path)
	if err != nil {
		return fmt.Errorf("read data sources: %w", err)
	}
	sources, defaultIdx, err := parseSources(data)
	if err != nil {
		return fmt.Errorf("parse data sources %s: %w", r.path, err)
	}
	r.sources = sources
	r.defaultIdx = defaultIdx
	r.loaded = true
	return nil
}

// parseSources keeps the file order of the mapping so the first entry can
// serve as the fallback default.
func parseSources(data []byte) ([]Source, int, error) {
	var doc yaml.Node
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, 0, err
	}
	if doc.Kind != yaml.DocumentNode || len(doc.Content) == 0 || doc.Content[0].Kind != yaml.MappingNode {
		return nil, 0, fmt.Errorf("data sources must be a mapping of name to source")
	}

	root := doc.Content[0]
	sources := make([]Source, 0, len(root.Content)/2)
	defaultIdx := -1
	for i := 0; i+1 < len(root.Content); i += 2 {
		name := root.Content[i].Value
		var src Source
		if err := root.Content[i+1].Decode(&src); err != nil {
			return nil, 0, fmt.Errorf("data source %q: %w", name, err)
		}
		src.Name = name
		if src.ADES == "" {
			return nil, 0, fmt.Errorf("data source %q has no ades url", name)
		}
		if src.Default {
			if defaultIdx >= 0 {
				return nil, 0, fmt.Errorf("data sources %q and %q both marked default", sources[defaultIdx].Name, name)
			}
			defaultIdx = len(sources)
		}
		sources = append(sources, src)
	}
	if len(sources) == 0 {
		return nil, 0, fmt.Errorf("data sources mapping is empty")
	}
	if defaultIdx < 0 {
		defaultIdx = 0
	}
	return sources, defaultIdx, nil
}

// Sources returns the configured sources in file order.
func (r *Registry) Sources() ([]Source, error) {
	if err := r.ensure(); err != nil {
		return nil, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]Source, len(r.sources))
	copy(out, r.sources)
	return out, nil
}

// Default returns the source marked default, or the first configured one.
func (r *Registry) Default() (Source, error) {
	if err := r.ensure(); err != nil {
		return Source{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.sources[r.defaultIdx], nil
}

// ResolveByURL picks the source responsible for a data reference. Hosted
// references match on network location, opensearch local files match the
// longest configured rootdir prefix, anything else falls back to the
// default source.
func (r *Registry) ResolveByURL(raw string) (Source, error) {
	if err := r.ensure(); err != nil {
		return Source{}, err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()

	parsed, err := url.Parse(raw)
	if err != nil {
		return r.sources[r.defaultIdx], nil
	}
	if parsed.Host != "" {
		for _, src := range r.sources {
			if src.Netloc == parsed.Host {
				return src, nil
			}
		}
	} else if parsed.Scheme == OpenSearchScheme {
		best := -1
		for i, src := range r.sources {
			if src.RootDir == "" || !strings.HasPrefix(parsed.Path, src.RootDir) {
				continue
			}
			if best < 0 || len(src.RootDir) > len(r.sources[best].RootDir) {
				best = i
			}
		}
		if best >= 0 {
			return r.sources[best], nil
		}
	}
	return r.sources[r.defaultIdx], nil
}

// ResolveToADES maps a source name to the deployment endpoint that runs
// close to that data. An empty name means this service; an unknown name
// falls back to the default source.
func (r *Registry) ResolveToADES(name string) (string, error) {
	if name == "" {
		return r.localBase, nil
	}
	if err := r.ensure(); err != nil {
		return "", err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, src := range r.sources {
		if src.Name == name {
			return strings.TrimRight(src.ADES, "/"), nil
		}
	}
	return strings.TrimRight(r.sources[r.defaultIdx].ADES, "/"), nil
}

// ProcessLocation returns the describe-process URL for a process id on
// the service responsible for the named source. Literal URLs pass
// through unchanged.
func (r *Registry) ProcessLocation(processIDOrURL, sourceName string) (string, error) {
	if parsed, err := url.Parse(processIDOrURL); err == nil && parsed.Scheme != "" {
		return processIDOrURL, nil
	}
	base, err := r.ResolveToADES(sourceName)
	if err != nil {
		return "", err
	}
	return base + "/processes/" + processIDOrURL, nil
}

// RewriteOpenSearchURL turns an opensearch local-file reference into the
// file:// URL staging understands. Other references pass through.
func RewriteOpenSearchURL(raw string) string {
	if strings.HasPrefix(raw, OpenSearchScheme+"://") {
		return "file://" + strings.TrimPrefix(raw, OpenSearchScheme+"://")
	}
	return raw
}
