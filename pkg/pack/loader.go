package pack

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/yaml.v3"

	"github.com/trellisproc/trellis/pkg/log"
	"github.com/trellisproc/trellis/pkg/types"
)

// PackageDefaultFileName names an inline package with no reference
const PackageDefaultFileName = "package"

// packageExtensions lists the accepted package file types
var packageExtensions = map[string]bool{
	"yaml": true, "yml": true, "json": true, "cwl": true, "job": true,
}

// maxPackageBody caps a fetched package description
const maxPackageBody = 8 << 20

// Loader fetches, parses and classifies package descriptions
type Loader struct {
	client *http.Client
	cache  *Cache
	log    zerolog.Logger
}

// NewLoader creates a loader with a shared package cache. A nil client
// gets a default with a control-operation timeout.
func NewLoader(client *http.Client) *Loader {
	if client == nil {
		client = &http.Client{Timeout: 30 * time.Second}
	}
	return &Loader{client: client, cache: NewCache(DefaultCacheTTL), log: log.WithComponent("pack")}
}

// Cache exposes the package cache, mainly so tests can invalidate it
func (l *Loader) Cache() *Cache { return l.cache }

// Classify determines the process kind from the package class
func Classify(pkg map[string]interface{}) (types.ProcessKind, error) {
	class, _ := pkg["class"].(string)
	switch strings.ToLower(class) {
	case "workflow":
		return types.ProcessKindWorkflow, nil
	case "commandlinetool":
		return types.ProcessKindApplication, nil
	default:
		return "", &types.PackageRegistrationError{Reason: fmt.Sprintf("unsupported package class %q", class)}
	}
}

// CheckReference validates that a package reference carries one of the
// accepted file extensions
func CheckReference(ref string) error {
	ext := strings.TrimPrefix(path.Ext(strings.TrimSuffix(ref, "/")), ".")
	if idx := strings.IndexAny(ext, "?#"); idx >= 0 {
		ext = ext[:idx]
	}
	if !packageExtensions[ext] {
		return &types.PackageRegistrationError{Reason: fmt.Sprintf("not a valid package file type %q", ext)}
	}
	return nil
}

// Decode parses package content, accepting YAML and therefore JSON too
func Decode(content []byte) (map[string]interface{}, error) {
	var pkg map[string]interface{}
	if err := yaml.Unmarshal(content, &pkg); err != nil {
		return nil, &types.PackageRegistrationError{
			Reason: fmt.Sprintf("package parsing generated an error: %v", err),
			Err:    err,
		}
	}
	if len(pkg) == 0 {
		return nil, &types.PackageRegistrationError{Reason: "package definition is empty"}
	}
	return pkg, nil
}

// LoadReference loads a package from a URL or local path after validating
// its file extension
func (l *Loader) LoadReference(ctx context.Context, ref string) (map[string]interface{}, error) {
	if err := CheckReference(ref); err != nil {
		return nil, err
	}

	if parsed, err := url.Parse(ref); err == nil && parsed.Scheme != "" && parsed.Scheme != "file" {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, ref, nil)
		if err != nil {
			return nil, &types.PackageRegistrationError{Reason: fmt.Sprintf("invalid package reference %q", ref), Err: err}
		}
		req.Header.Set("Accept", "text/plain")
		resp, err := l.client.Do(req)
		if err != nil {
			return nil, &types.PackageRegistrationError{Reason: fmt.Sprintf("cannot fetch package at %q", ref), Err: err}
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return nil, &types.PackageRegistrationError{Reason: fmt.Sprintf("cannot find package at %q (status %d)", ref, resp.StatusCode)}
		}
		content, err := io.ReadAll(io.LimitReader(resp.Body, maxPackageBody))
		if err != nil {
			return nil, &types.PackageRegistrationError{Reason: fmt.Sprintf("cannot read package at %q", ref), Err: err}
		}
		return Decode(content)
	}

	local := strings.TrimPrefix(ref, "file://")
	content, err := os.ReadFile(local)
	if err != nil {
		return nil, &types.PackageRegistrationError{Reason: fmt.Sprintf("cannot find package file at %q", local), Err: err}
	}
	return Decode(content)
}

// FetchProcessPackage retrieves the package description published by a
// deployed process at {processURL}/package. Results are cached with a
// short TTL and per-URL single-flight.
func (l *Loader) FetchProcessPackage(ctx context.Context, processURL string) (map[string]interface{}, string, error) {
	name := processURL[strings.LastIndex(processURL, "/")+1:]
	pkg, err := l.cache.Get(ctx, processURL+"/package", func(ctx context.Context) (map[string]interface{}, error) {
		return l.fetchJSON(ctx, processURL+"/package", types.ErrPackageNotFound)
	})
	if err != nil {
		return nil, "", err
	}
	return pkg, name, nil
}

// FetchProcessPayload retrieves the original deployment payload published
// by a deployed process at {processURL}/payload
func (l *Loader) FetchProcessPayload(ctx context.Context, processURL string) (map[string]interface{}, error) {
	return l.fetchJSON(ctx, processURL+"/payload", types.ErrPayloadNotFound)
}

func (l *Loader) fetchJSON(ctx context.Context, target string, notFound error) (map[string]interface{}, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return nil, fmt.Errorf("request for %q: %w", target, notFound)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := l.client.Do(req)
	if err != nil {
		l.log.Debug().Str("target", target).Err(err).Msg("process resource fetch failed")
		return nil, fmt.Errorf("could not reach %q: %w", target, notFound)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("could not find resource at %q (status %d): %w", target, resp.StatusCode, notFound)
	}

	var body map[string]interface{}
	if err := json.NewDecoder(io.LimitReader(resp.Body, maxPackageBody)).Decode(&body); err != nil {
		return nil, fmt.Errorf("invalid resource body at %q: %w", target, notFound)
	}
	if len(body) == 0 {
		return nil, fmt.Errorf("empty resource body at %q: %w", target, notFound)
	}
	return body, nil
}
