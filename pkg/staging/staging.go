// Package staging moves job data between the outside world and the
// local filesystem: it fetches or links input references into a job
// workspace, publishes produced files under the served output tree and
// translates between public output URLs and local paths.
package staging

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path"
	"path/filepath"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/trellisproc/trellis/pkg/datasource"
	"github.com/trellisproc/trellis/pkg/log"
	"github.com/trellisproc/trellis/pkg/types"
	"github.com/trellisproc/trellis/pkg/workspace"
)

// Replicator copies published outputs to a secondary store
type Replicator interface {
	Replicate(ctx context.Context, localPath, key string) error
}

// Stager stages inputs into job workspaces and publishes outputs under
// the configured output directory and URL.
type Stager struct {
	client     *http.Client
	outputDir  string
	outputURL  string
	replicator Replicator
	log        zerolog.Logger
}

// NewStager builds a stager over the output tree. client may be nil for
// a default; replicator may be nil to disable secondary copies.
func NewStager(outputDir, outputURL string, client *http.Client, replicator Replicator) *Stager {
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Minute}
	}
	return &Stager{
		client:     client,
		outputDir:  filepath.Clean(outputDir),
		outputURL:  strings.TrimRight(outputURL, "/"),
		replicator: replicator,
		log:        log.WithComponent("staging"),
	}
}

// StagedInput is one resolved input: either a local file path or a
// literal value passed through unchanged.
type StagedInput struct {
	ID    string
	Path  string
	Value interface{}
}

// StageInputs resolves every input entry into the workspace. References
// are fetched or linked under <workdir>/inputs/<id>/<basename>; literal
// values pass through.
func (s *Stager) StageInputs(ctx context.Context, ws *workspace.Workspace, entries []types.IOEntry) ([]StagedInput, error) {
	staged := make([]StagedInput, 0, len(entries))
	for _, entry := range entries {
		if entry.Href == "" {
			value := entry.Value
			if value == nil && len(entry.Data) > 0 {
				value = entry.Data
			}
			staged = append(staged, StagedInput{ID: entry.ID, Value: value})
			continue
		}

		href := datasource.RewriteOpenSearchURL(entry.Href)
		local, err := s.stageReference(ctx, ws, entry.ID, href)
		if err != nil {
			return nil, fmt.Errorf("stage input %s: %w", entry.ID, err)
		}
		staged = append(staged, StagedInput{ID: entry.ID, Path: local})
	}
	return staged, nil
}

func (s *Stager) stageReference(ctx context.Context, ws *workspace.Workspace, id, href string) (string, error) {
	destDir := filepath.Join(ws.InputsDir, id)

	switch {
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		// hrefs under our own output URL are already local files
		if local := s.MapOutputLocation(href, false, true); local != "" {
			return linkOrCopy(local, destDir, filepath.Base(local))
		}
		if err := os.MkdirAll(destDir, 0755); err != nil {
			return "", err
		}
		dest := filepath.Join(destDir, referenceFilename(href, id))
		if err := s.fetchFile(ctx, href, dest); err != nil {
			return "", err
		}
		return dest, nil

	case strings.HasPrefix(href, "file://"):
		src := filepath.Clean(strings.TrimPrefix(href, "file://"))
		if !underDir(src, s.outputDir) && !underDir(src, ws.Root) {
			return "", fmt.Errorf("file reference %s is outside the output and work directories", href)
		}
		if _, err := os.Stat(src); err != nil {
			return "", fmt.Errorf("file reference %s: %w", href, err)
		}
		return linkOrCopy(src, destDir, filepath.Base(src))

	default:
		return "", fmt.Errorf("unsupported reference scheme in %s", href)
	}
}

// StageResult brings one produced reference into destDir and returns its
// local path. References under the served output URL are linked instead
// of fetched; local paths and file references are linked and must exist.
func (s *Stager) StageResult(ctx context.Context, destDir, id, href string) (string, error) {
	switch {
	case strings.HasPrefix(href, "http://"), strings.HasPrefix(href, "https://"):
		if local := s.MapOutputLocation(href, false, true); local != "" {
			return linkOrCopy(local, destDir, filepath.Base(local))
		}
		if err := os.MkdirAll(destDir, 0755); err != nil {
			return "", err
		}
		dest := filepath.Join(destDir, referenceFilename(href, id))
		if err := s.fetchFile(ctx, href, dest); err != nil {
			return "", err
		}
		return dest, nil

	case strings.HasPrefix(href, "file://"), filepath.IsAbs(href):
		src := filepath.Clean(strings.TrimPrefix(href, "file://"))
		if _, err := os.Stat(src); err != nil {
			return "", fmt.Errorf("result reference %s: %w", href, err)
		}
		return linkOrCopy(src, destDir, filepath.Base(src))

	default:
		return "", fmt.Errorf("unsupported reference scheme in %s", href)
	}
}

// PublishOutput copies a produced file into the served output tree at
// <output_dir>/[context/]<job_id>/<output_id>/<filename> and returns
// the matching public href. When a replicator is configured the file is
// also copied there under the same key.
func (s *Stager) PublishOutput(ctx context.Context, outputContext, jobID, outputID, srcPath string) (string, error) {
	filename := filepath.Base(srcPath)
	relParts := make([]string, 0, 4)
	if outputContext != "" {
		relParts = append(relParts, outputContext)
	}
	relParts = append(relParts, jobID, outputID, filename)
	rel := path.Join(relParts...)

	dest := filepath.Join(s.outputDir, filepath.FromSlash(rel))
	if _, err := linkOrCopy(srcPath, filepath.Dir(dest), filename); err != nil {
		return "", fmt.Errorf("publish output %s: %w", outputID, err)
	}

	if s.replicator != nil {
		if err := s.replicator.Replicate(ctx, dest, rel); err != nil {
			return "", err
		}
	}
	return s.outputURL + "/" + rel, nil
}

// MapOutputLocation translates between public output URLs and local
// paths. Forward (reverse=false) maps a URL under the output URL prefix
// to its local path; reverse maps a local path under the output
// directory to its URL. Unmappable references yield "". With mustExist
// the local file must be present.
func (s *Stager) MapOutputLocation(ref string, reverse, mustExist bool) string {
	if reverse {
		clean := filepath.Clean(ref)
		rel, err := filepath.Rel(s.outputDir, clean)
		if err != nil || rel == ".." || strings.HasPrefix(rel, ".."+string(filepath.Separator)) {
			return ""
		}
		if mustExist {
			if _, err := os.Stat(clean); err != nil {
				return ""
			}
		}
		return s.outputURL + "/" + filepath.ToSlash(rel)
	}

	prefix := s.outputURL + "/"
	if !strings.HasPrefix(ref, prefix) {
		return ""
	}
	local := filepath.Join(s.outputDir, filepath.FromSlash(strings.TrimPrefix(ref, prefix)))
	if !underDir(local, s.outputDir) {
		return ""
	}
	if mustExist {
		if _, err := os.Stat(local); err != nil {
			return ""
		}
	}
	return local
}

// referenceFilename derives the staged file name from the URL path,
// falling back to the input id.
func referenceFilename(href, id string) string {
	parsed, err := url.Parse(href)
	if err != nil {
		return id
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return id
	}
	return name
}

func underDir(p, dir string) bool {
	rel, err := filepath.Rel(dir, p)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

// linkOrCopy places src into destDir under name, preferring a hard link
// and falling back to a copy across filesystems.
func linkOrCopy(src, destDir, name string) (string, error) {
	if err := os.MkdirAll(destDir, 0755); err != nil {
		return "", err
	}
	dest := filepath.Join(destDir, name)
	if dest == src {
		return dest, nil
	}
	if _, err := os.Stat(dest); err == nil {
		if err := os.Remove(dest); err != nil {
			return "", err
		}
	}
	if err := os.Link(src, dest); err == nil {
		return dest, nil
	}
	if err := copyFile(src, dest); err != nil {
		return "", err
	}
	return dest, nil
}

func copyFile(src, dest string) error {
	in, err := os.Open(src)
	if err != nil {
		return err
	}
	defer in.Close()

	out, err := os.Create(dest)
	if err != nil {
		return err
	}
	defer out.Close()

	if _, err := io.Copy(out, in); err != nil {
		return err
	}
	return out.Sync()
}
