package staging

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"

	"github.com/cenkalti/backoff/v4"
)

const fetchMaxRetries = 4

func transientStatus(code int) bool {
	return code >= 500 || code == http.StatusTooManyRequests
}

// fetchFile downloads url into dest with bounded retries. A partial file
// left by a failed attempt is resumed with a range request when the
// server honors it.
func (s *Stager) fetchFile(ctx context.Context, url, dest string) error {
	policy := backoff.WithContext(
		backoff.WithMaxRetries(backoff.NewExponentialBackOff(), fetchMaxRetries), ctx)
	notify := func(err error, wait time.Duration) {
		s.log.Warn().Str("url", url).Dur("wait", wait).Err(err).Msg("retrying fetch")
	}
	return backoff.RetryNotify(func() error {
		return s.fetchOnce(ctx, url, dest)
	}, policy, notify)
}

func (s *Stager) fetchOnce(ctx context.Context, url, dest string) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return backoff.Permanent(err)
	}

	var offset int64
	if fi, statErr := os.Stat(dest); statErr == nil && fi.Size() > 0 {
		offset = fi.Size()
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", offset))
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	var out *os.File
	switch resp.StatusCode {
	case http.StatusPartialContent:
		out, err = os.OpenFile(dest, os.O_WRONLY|os.O_APPEND, 0644)
	case http.StatusOK:
		// full body, restart even if we asked for a range
		out, err = os.Create(dest)
	case http.StatusRequestedRangeNotSatisfiable:
		// nothing left beyond the current offset
		return nil
	default:
		ferr := fmt.Errorf("fetch %s: status %s", url, resp.Status)
		if transientStatus(resp.StatusCode) {
			return ferr
		}
		return backoff.Permanent(ferr)
	}
	if err != nil {
		return backoff.Permanent(err)
	}
	defer out.Close()

	if _, err := io.Copy(out, resp.Body); err != nil {
		// keep the partial file so the next attempt can resume
		return err
	}
	return nil
}
