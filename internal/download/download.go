// Package download implements the single-file downloader (C3) and the
// bounded-concurrency batch downloader (C2), grounded on the teacher's
// util.go (downloadHttpFile, writeStream) and generalized with cache
// restore-by-label and a cancel/pause-aware streaming loop per
// original_source's downloader.rs.
package download

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"time"

	"golang.org/x/sync/semaphore"

	"vesta/internal/cache"
	"vesta/internal/httpx"
	"vesta/internal/logging"
	"vesta/internal/progress"
	"vesta/internal/vestaerr"
)

// Item is one entry in a batch download request.
type Item struct {
	Name          string
	URL           string
	LocalPath     string
	ExpectedSHA1  string
	Label         cache.Label

	// PackXZJavaHome, when set, tells fetchOne to retry a failed plain
	// download by fetching URL+".pack.xz" and running the JRE's unpack200
	// under this JRE home, for pre-1.13 Forge libraries never published as
	// plain jars.
	PackXZJavaHome string
}

const chunkSize = 32 * 1024

// isLocked reports whether err indicates the destination is held open
// exclusively by another process (e.g. the running game holding its own jar
// open on Windows).
func isLocked(err error) bool {
	return os.IsPermission(err)
}

// File performs a single download, matching spec.md §4.3's
// pre-check/stream/verify/rename sequence. The actual HTTP round trip goes
// through httpx.Retryable, which owns the linear-backoff retry policy
// (spec.md §4.3/§7). The outer loop here re-runs the whole attempt — a
// fresh request plus hash verification — after any failed attempt, up to
// httpx.MaxAttempts times, without a delay of its own. That covers failures
// retryablehttp can't see (a write/verify failure after a response already
// came back) and also re-runs network failures retryablehttp already
// retried. A cancellation is returned as-is without another attempt.
func File(ctx context.Context, client *http.Client, url, localPath, expectedSHA1 string, reporter progress.Reporter) error {
	if existing, err := os.Stat(localPath); err == nil {
		if expectedSHA1 == "" {
			return nil
		}
		sum, err := cache.Sha1OfFile(localPath)
		if err == nil && sum == expectedSHA1 {
			return nil
		}
		if _, openErr := os.OpenFile(localPath, os.O_RDONLY, 0); openErr != nil && isLocked(openErr) {
			if err == nil && sum == expectedSHA1 {
				return nil
			}
			logging.Verbose("download: %s is locked by another process; leaving in place\n", localPath)
			return nil
		}
		os.Chmod(localPath, 0600)
		os.Remove(localPath)
		_ = existing
	}

	retryClient := httpx.Retryable(client).StandardClient()

	var lastErr error
	for attempt := 0; attempt < httpx.MaxAttempts; attempt++ {
		if attempt > 0 {
			select {
			case <-ctx.Done():
				return vestaerr.Cancelled("download backoff")
			default:
			}
		}
		if err := attemptFile(ctx, retryClient, url, localPath, expectedSHA1, reporter); err != nil {
			lastErr = err
			if vestaerr.Is(err, vestaerr.KindCancelled) {
				return err
			}
			logging.Verbose("download attempt %d/%d for %s failed: %v\n", attempt+1, httpx.MaxAttempts, url, err)
			continue
		}
		return nil
	}
	return vestaerr.Wrap(vestaerr.KindTransient, fmt.Sprintf("downloading %s", url), lastErr)
}

func attemptFile(ctx context.Context, client *http.Client, url, localPath, expectedSHA1 string, reporter progress.Reporter) error {
	if err := os.MkdirAll(filepath.Dir(localPath), 0700); err != nil {
		return fmt.Errorf("creating parent directories: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return err
	}
	req.Header.Set("User-Agent", "vesta-launcher/1.0 (+https://vesta.run)")

	resp, err := client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s for %s", resp.Status, url)
	}

	tmp := localPath + ".part"
	out, err := os.Create(tmp)
	if err != nil {
		return fmt.Errorf("creating temp file: %w", err)
	}

	total := resp.ContentLength
	var transferred int64
	buf := make([]byte, chunkSize)

	for {
		if reporter != nil {
			for reporter.IsPaused() {
				time.Sleep(100 * time.Millisecond)
			}
			if reporter.IsCancelled() {
				out.Close()
				os.Remove(tmp)
				return vestaerr.Cancelled("download")
			}
		}
		select {
		case <-ctx.Done():
			out.Close()
			os.Remove(tmp)
			return vestaerr.Cancelled("download")
		default:
		}

		n, readErr := resp.Body.Read(buf)
		if n > 0 {
			if _, werr := out.Write(buf[:n]); werr != nil {
				out.Close()
				os.Remove(tmp)
				return fmt.Errorf("writing temp file: %w", werr)
			}
			transferred += int64(n)
			if reporter != nil {
				reporter.UpdateBytes(transferred, total)
			}
		}
		if readErr == io.EOF {
			break
		}
		if readErr != nil {
			out.Close()
			os.Remove(tmp)
			return fmt.Errorf("reading response body: %w", readErr)
		}
	}

	if err := out.Sync(); err != nil {
		out.Close()
		os.Remove(tmp)
		return fmt.Errorf("fsync: %w", err)
	}
	if err := out.Close(); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("closing temp file: %w", err)
	}

	if expectedSHA1 != "" {
		sum, err := cache.Sha1OfFile(tmp)
		if err != nil || sum != expectedSHA1 {
			os.Remove(tmp)
			return vestaerr.New(vestaerr.KindIntegrity, fmt.Sprintf("sha1 mismatch for %s: got %s want %s", url, sum, expectedSHA1))
		}
	}

	if err := os.Rename(tmp, localPath); err != nil {
		os.Remove(tmp)
		return fmt.Errorf("renaming temp file: %w", err)
	}
	os.Chmod(localPath, 0400)
	return nil
}

// Batch downloads items with at most concurrency in-flight transfers,
// restoring from the blob cache by label before touching the network, per
// spec.md §4.2. It returns the ingested label->sha components for every item
// that had a Label, so the caller (C8/C9) can fold them into one
// RecordInstall call once the whole version is assembled — RecordInstall
// replaces a version's entire component list, so it is never safe to call it
// once per item here.
func Batch(ctx context.Context, client *http.Client, c *cache.Cache, versionID string, items []Item, concurrency int, reporter progress.Reporter, base, span int) ([]cache.InstallComponent, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	sem := semaphore.NewWeighted(int64(concurrency))

	var (
		mu        sync.Mutex
		completed int
		firstErr  error
		lastEmit  time.Time
		components []cache.InstallComponent
	)
	total := len(items)

	emit := func() {
		mu.Lock()
		n := completed
		mu.Unlock()
		now := time.Now()
		if now.Sub(lastEmit) < 250*time.Millisecond && n%4 != 0 && n != total {
			return
		}
		lastEmit = now
		if reporter != nil {
			reporter.SetPercent(progress.WindowPercent(n, total, base, span))
		}
	}

	var wg sync.WaitGroup
	for _, item := range items {
		if reporter != nil && reporter.IsCancelled() {
			return nil, vestaerr.Cancelled("batch download")
		}
		if err := sem.Acquire(ctx, 1); err != nil {
			return nil, vestaerr.Wrap(vestaerr.KindCancelled, "batch download", err)
		}

		wg.Add(1)
		go func(it Item) {
			defer wg.Done()
			defer sem.Release(1)

			comp, err := fetchOne(ctx, client, c, versionID, it, reporter)
			mu.Lock()
			if err != nil {
				if firstErr == nil {
					firstErr = err
				} else {
					logging.Action("download of %s failed: %v\n", it.Name, err)
				}
			} else if comp != nil {
				components = append(components, *comp)
			}
			completed++
			mu.Unlock()
			emit()
		}(item)
	}
	wg.Wait()

	return components, firstErr
}

func fetchOne(ctx context.Context, client *http.Client, c *cache.Cache, versionID string, item Item, reporter progress.Reporter) (*cache.InstallComponent, error) {
	if item.Label != "" && c != nil {
		if sha, ok := c.FindByLabel(versionID, item.Label); ok {
			if restored, err := c.Restore(sha, item.LocalPath); err == nil && restored {
				return &cache.InstallComponent{Label: item.Label, Sha: sha}, nil
			}
		}
	}

	if err := File(ctx, client, item.URL, item.LocalPath, item.ExpectedSHA1, reporter); err != nil {
		if item.PackXZJavaHome == "" {
			return nil, err
		}
		if xzErr := fetchPackXZ(client, item.PackXZJavaHome, item.URL, item.LocalPath); xzErr != nil {
			return nil, vestaerr.Wrap(vestaerr.KindTransient, fmt.Sprintf("pack.xz fallback for %s", item.Name), xzErr)
		}
		logging.Verbose("download: recovered %s via pack.xz fallback\n", item.Name)
	}

	if item.Label == "" || c == nil {
		return nil, nil
	}
	sha, err := c.Ingest(item.LocalPath, item.ExpectedSHA1, item.URL)
	if err != nil {
		return nil, nil
	}
	return &cache.InstallComponent{Label: item.Label, Sha: sha}, nil
}
