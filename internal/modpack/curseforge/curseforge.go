// Package curseforge provides the default modpack.ResolverFunc for
// CurseForge packs: given a (project ID, file ID) pair it looks up the
// file's download URL. Grounded on the teacher's curseforge_file.go, which
// hit the same addon-file descriptor endpoint to pull a mod's CDN URL
// before downloading it into the pack's mod directory.
package curseforge

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"path"

	"vesta/internal/httpx"
)

const descriptorBase = "https://addons-ecs.forgesvc.net/api/v2/addon"

type fileDescriptor struct {
	FileName    string `json:"fileName"`
	DownloadURL string `json:"downloadUrl"`
}

// Resolver returns a modpack.ResolverFunc backed by the CurseForge addon
// file-descriptor API, matching the teacher's CurseForgeModFile.install.
func Resolver(client *http.Client) func(ctx context.Context, projectID, fileID int) (string, string, error) {
	return func(ctx context.Context, projectID, fileID int) (string, string, error) {
		descURL := fmt.Sprintf("%s/%d/file/%d", descriptorBase, projectID, fileID)
		resp, err := httpx.Get(client, descURL)
		if err != nil {
			return "", "", fmt.Errorf("fetching descriptor for project %d file %d: %w", projectID, fileID, err)
		}
		defer resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			return "", "", fmt.Errorf("descriptor request for project %d file %d returned status %s", projectID, fileID, resp.Status)
		}

		var desc fileDescriptor
		if err := json.NewDecoder(resp.Body).Decode(&desc); err != nil {
			return "", "", fmt.Errorf("decoding descriptor for project %d file %d: %w", projectID, fileID, err)
		}
		if desc.DownloadURL == "" {
			return "", "", fmt.Errorf("no downloadUrl in descriptor for project %d file %d", projectID, fileID)
		}

		filename := desc.FileName
		if filename == "" {
			if u, err := url.Parse(desc.DownloadURL); err == nil {
				filename = path.Base(u.Path)
			}
		}
		return desc.DownloadURL, filename, nil
	}
}
