// Some libraries referenced by pre-1.13 Forge install profiles were never
// published as plain jars on Forge's maven, only as a signed pack200 stream
// compressed with xz (an artifact of the era's bandwidth-saving conventions).
// This mirrors the teacher's util.go/forge.go downloadXzPack+invokeUnpack200
// pair as a fallback path for exactly that case.
package download

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"

	"github.com/xi2/xz"

	"vesta/internal/env"
)

// fetchPackXZ downloads url+".pack.xz", strips its trailing signature block,
// and invokes the JRE's unpack200 tool (found under javaHome/bin) to produce
// the final jar at localPath.
func fetchPackXZ(client *http.Client, javaHome, url, localPath string) error {
	resp, err := client.Get(url + ".pack.xz")
	if err != nil {
		return fmt.Errorf("fetching %s.pack.xz: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("unexpected status %s for %s.pack.xz", resp.Status, url)
	}

	xzr, err := xz.NewReader(resp.Body, 0)
	if err != nil {
		return fmt.Errorf("opening xz stream for %s: %w", url, err)
	}

	var packData bytes.Buffer
	if _, err := packData.ReadFrom(xzr); err != nil {
		return fmt.Errorf("decompressing %s.pack.xz: %w", url, err)
	}

	data := packData.Bytes()
	sigLen, err := packSignatureLen(data)
	if err != nil {
		return fmt.Errorf("stripping pack200 signature for %s: %w", url, err)
	}

	dir := filepath.Dir(localPath)
	if err := os.MkdirAll(dir, 0700); err != nil {
		return fmt.Errorf("creating %s: %w", dir, err)
	}

	tmpPack := filepath.Join(dir, "tmp.pack")
	if err := os.WriteFile(tmpPack, data[:len(data)-int(sigLen)], 0600); err != nil {
		return fmt.Errorf("writing %s: %w", tmpPack, err)
	}
	defer os.Remove(tmpPack)

	unpack200 := filepath.Join(javaHome, "bin", "unpack200"+env.ExecutableExt())
	if err := exec.Command(unpack200, "-r", tmpPack, localPath).Run(); err != nil {
		return fmt.Errorf("running unpack200 on %s: %w", localPath, err)
	}
	return nil
}

// packSignatureLen reads the trailing "SIGN"-tagged length field pack200
// streams append after the real data, matching the teacher's signatureLen.
func packSignatureLen(data []byte) (int64, error) {
	n := len(data)
	if n < 8 || string(data[n-4:n]) != "SIGN" {
		return 0, fmt.Errorf("missing pack200 signature trailer")
	}
	var sigLen uint32
	if err := binary.Read(bytes.NewReader(data[n-8:n-4]), binary.LittleEndian, &sigLen); err != nil {
		return 0, fmt.Errorf("invalid signature length: %w", err)
	}
	return int64(sigLen) + 8, nil
}
