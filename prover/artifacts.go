package prover

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"time"

	"github.com/vocdoni/eerc-client/log"
	"github.com/vocdoni/eerc-client/types"
)

// CheckHashes determines if the sha256 of the artifacts is checked when they
// are loaded or downloaded. Set EERC_CHECK_HASHES to false or 0 to disable.
var CheckHashes = true

// BaseDir is the artifact cache. Defaults to EERC_ARTIFACTS_DIR or
// ~/.cache/eerc-artifacts.
var BaseDir string

func init() {
	if checkHashes := os.Getenv("EERC_CHECK_HASHES"); checkHashes != "" {
		if strings.ToLower(checkHashes) == "false" || checkHashes == "0" {
			CheckHashes = false
		}
	}
	if dir := os.Getenv("EERC_ARTIFACTS_DIR"); dir != "" {
		BaseDir = dir
		return
	}
	home, err := os.UserHomeDir()
	if err != nil || home == "" {
		BaseDir = filepath.Join(os.TempDir(), "eerc-artifacts")
		return
	}
	BaseDir = filepath.Join(home, ".cache", "eerc-artifacts")
}

// Artifact is a circuit file: a local path, or a remote URL pinned by the
// sha256 of its content and cached in BaseDir once downloaded.
type Artifact struct {
	LocalPath string
	RemoteURL string
	Hash      types.HexBytes
	Content   []byte
}

// Load makes the content of the artifact available. Local paths are read
// directly, otherwise the cache is checked and, on a miss, the artifact is
// downloaded from its remote URL.
func (a *Artifact) Load(ctx context.Context) error {
	if len(a.Content) != 0 {
		return nil
	}
	if a.LocalPath != "" {
		content, err := os.ReadFile(a.LocalPath)
		if err != nil {
			return fmt.Errorf("error reading artifact %s: %w", a.LocalPath, err)
		}
		if len(a.Hash) != 0 {
			if err := checkHash(content, a.Hash); err != nil {
				return fmt.Errorf("artifact %s: %w", a.LocalPath, err)
			}
		}
		a.Content = content
		return nil
	}
	if len(a.Hash) == 0 {
		return fmt.Errorf("artifact hash not provided")
	}
	content, err := load(a.Hash)
	if err != nil {
		return err
	}
	if content == nil {
		if a.RemoteURL == "" {
			return fmt.Errorf("artifact %x not cached and remote url not provided", []byte(a.Hash))
		}
		if err := downloadAndStore(ctx, a.Hash, a.RemoteURL); err != nil {
			return err
		}
		if content, err = load(a.Hash); err != nil {
			return err
		}
		if content == nil {
			return fmt.Errorf("no content found for artifact %x", []byte(a.Hash))
		}
	}
	a.Content = content
	return nil
}

// CircuitArtifacts are the files needed to prove a circuit: the witness
// calculator wasm, the proving key and, optionally, the verification key.
type CircuitArtifacts struct {
	Wasm         *Artifact
	ProvingKey   *Artifact
	VerifyingKey *Artifact
}

// LoadAll loads every artifact of the circuit.
func (ca *CircuitArtifacts) LoadAll(ctx context.Context) error {
	if ca.Wasm == nil || ca.ProvingKey == nil {
		return fmt.Errorf("wasm and proving key are required")
	}
	if err := ca.Wasm.Load(ctx); err != nil {
		return fmt.Errorf("error loading circuit wasm: %w", err)
	}
	if err := ca.ProvingKey.Load(ctx); err != nil {
		return fmt.Errorf("error loading proving key: %w", err)
	}
	if ca.VerifyingKey != nil {
		if err := ca.VerifyingKey.Load(ctx); err != nil {
			return fmt.Errorf("error loading verifying key: %w", err)
		}
	}
	return nil
}

// LocalCircuitArtifacts returns the artifacts of circuit found in dir with
// the usual build names: <circuit>.wasm, <circuit>.zkey and
// <circuit>_vkey.json. The verification key is optional.
func LocalCircuitArtifacts(dir string, circuit Circuit) *CircuitArtifacts {
	ca := &CircuitArtifacts{
		Wasm:       &Artifact{LocalPath: filepath.Join(dir, string(circuit)+".wasm")},
		ProvingKey: &Artifact{LocalPath: filepath.Join(dir, string(circuit)+".zkey")},
	}
	vkey := filepath.Join(dir, string(circuit)+"_vkey.json")
	if _, err := os.Stat(vkey); err == nil {
		ca.VerifyingKey = &Artifact{LocalPath: vkey}
	}
	return ca
}

func checkHash(content, expected []byte) error {
	if !CheckHashes {
		return nil
	}
	sum := sha256.Sum256(content)
	if !bytes.Equal(sum[:], expected) {
		return fmt.Errorf("hash mismatch: expected %x, got %x", expected, sum[:])
	}
	return nil
}

func load(hash []byte) ([]byte, error) {
	if err := os.MkdirAll(BaseDir, 0o755); err != nil {
		return nil, fmt.Errorf("error creating the base directory: %w", err)
	}
	path := filepath.Join(BaseDir, hex.EncodeToString(hash))
	content, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("error reading file %s: %w", path, err)
	}
	if err := checkHash(content, hash); err != nil {
		return nil, fmt.Errorf("file %s: %w", path, err)
	}
	return content, nil
}

// progressReader wraps an io.Reader and keeps track of the total bytes read.
type progressReader struct {
	reader        io.Reader
	total         int64 // updated atomically
	contentLength int64
}

func (pr *progressReader) Read(p []byte) (int, error) {
	n, err := pr.reader.Read(p)
	atomic.AddInt64(&pr.total, int64(n))
	return n, err
}

// downloadAndStore downloads a file into the cache, resuming a previous
// partial download if there is one.
func downloadAndStore(ctx context.Context, expectedHash []byte, fileURL string) error {
	if _, err := url.Parse(fileURL); err != nil {
		return fmt.Errorf("error parsing the file URL provided: %w", err)
	}
	path := filepath.Join(BaseDir, hex.EncodeToString(expectedHash))
	partialPath := path + ".partial"
	var startByte int64
	if info, err := os.Stat(partialPath); err == nil {
		startByte = info.Size()
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, fileURL, nil)
	if err != nil {
		return fmt.Errorf("error creating the file request: %w", err)
	}
	if startByte > 0 {
		req.Header.Set("Range", fmt.Sprintf("bytes=%d-", startByte))
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		return fmt.Errorf("error performing the request: %w", err)
	}
	defer func() {
		if err := res.Body.Close(); err != nil {
			log.Warnw("error closing response body", "error", err)
		}
	}()
	if res.StatusCode != http.StatusOK && res.StatusCode != http.StatusPartialContent {
		return fmt.Errorf("error downloading file %s: http status: %d", fileURL, res.StatusCode)
	}
	fileMode := os.O_CREATE | os.O_WRONLY | os.O_TRUNC
	resuming := startByte > 0 && res.StatusCode == http.StatusPartialContent
	if resuming {
		fileMode = os.O_APPEND | os.O_WRONLY
	}
	hasher := sha256.New()
	if resuming {
		existing, err := os.ReadFile(partialPath)
		if err != nil {
			return fmt.Errorf("error reading partial download: %w", err)
		}
		hasher.Write(existing)
	} else {
		startByte = 0
	}
	fd, err := os.OpenFile(partialPath, fileMode, 0o644)
	if err != nil {
		return fmt.Errorf("error opening artifact file: %w", err)
	}
	defer fd.Close()

	pr := &progressReader{
		reader:        res.Body,
		contentLength: res.ContentLength + startByte,
	}
	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(io.MultiWriter(fd, hasher), pr)
		done <- err
	}()
	ticker := time.NewTicker(10 * time.Second)
	defer ticker.Stop()
	for copying := true; copying; {
		select {
		case err := <-done:
			if err != nil {
				return fmt.Errorf("error copying data to file: %w", err)
			}
			copying = false
		case <-ticker.C:
			total := atomic.LoadInt64(&pr.total) + startByte
			var percentage float64
			if pr.contentLength > 0 {
				percentage = float64(total) / float64(pr.contentLength) * 100
			}
			log.Debugw("download artifact", "url", fileURL,
				"downloaded", fmt.Sprintf("%.2fMiB", float64(total)/(1024*1024)),
				"progress", fmt.Sprintf("%.2f%%", percentage))
		}
	}
	if CheckHashes {
		if computed := hasher.Sum(nil); !bytes.Equal(computed, expectedHash) {
			if err := os.Remove(partialPath); err != nil {
				log.Warnw("error removing invalid download", "path", partialPath, "error", err)
			}
			return fmt.Errorf("hash mismatch: expected %x, got %x", expectedHash, computed)
		}
	}
	if err := os.Rename(partialPath, path); err != nil {
		return fmt.Errorf("error renaming file: %w", err)
	}
	return nil
}
