package payload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/ipfs/boxo/files"
	"github.com/ipfs/boxo/path"
	"github.com/ipfs/kubo/client/rpc"
	"github.com/klauspost/compress/zip"
)

// Getter resolves an IPFS path to a UnixFS node. The kubo RPC Unixfs API satisfies it.
type Getter interface {
	Get(ctx context.Context, p path.Path) (files.Node, error)
}

type FetcherService interface {
	Fetch(ctx context.Context, cid, sender string) (*Bundle, error)
}

type Fetcher struct {
	getter      Getter
	stagingRoot string
	maxSize     int64
}

func NewFetcher(getter Getter, stagingRoot string, maxSize int64) *Fetcher {
	return &Fetcher{
		getter:      getter,
		stagingRoot: stagingRoot,
		maxSize:     maxSize,
	}
}

// NewIPFSGetter talks to a kubo node's RPC API, e.g. http://127.0.0.1:5001.
func NewIPFSGetter(apiURL string) (Getter, error) {
	api, err := rpc.NewURLApiWithClient(apiURL, http.DefaultClient)
	if err != nil {
		return nil, fmt.Errorf("creating ipfs rpc client for %s: %w", apiURL, err)
	}
	return api.Unixfs(), nil
}

// Fetch stages the bundle behind cid in a fresh directory and decodes its
// description. On error nothing is left on disk.
func (f *Fetcher) Fetch(ctx context.Context, cid, sender string) (*Bundle, error) {
	dir, err := os.MkdirTemp(f.stagingRoot, "helpdesk-"+sender+"-")
	if err != nil {
		return nil, &FetchError{CID: cid, Err: fmt.Errorf("creating staging dir: %w", err)}
	}
	b := &Bundle{Dir: dir}

	if err := f.stage(ctx, cid, dir); err != nil {
		_ = b.Cleanup()
		return nil, &FetchError{CID: cid, Err: err}
	}
	if b.Description, err = readDescription(dir); err != nil {
		_ = b.Cleanup()
		return nil, &FetchError{CID: cid, Err: err}
	}
	return b, nil
}

func (f *Fetcher) stage(ctx context.Context, cid, dir string) error {
	p, err := path.NewPath("/ipfs/" + cid)
	if err != nil {
		return err
	}
	node, err := f.getter.Get(ctx, p)
	if err != nil {
		return fmt.Errorf("getting %s: %w", p, err)
	}
	defer node.Close()

	switch n := node.(type) {
	case files.Directory:
		return f.stageDirectory(n, dir)
	case files.File:
		return f.stageArchive(n, dir)
	default:
		return fmt.Errorf("unsupported unixfs node %T", node)
	}
}

// stageDirectory copies the top-level files of a UnixFS directory. Nested
// directories are skipped so the staging area stays flat.
func (f *Fetcher) stageDirectory(d files.Directory, dir string) error {
	var budget = f.maxSize
	it := d.Entries()
	for it.Next() {
		file, ok := it.Node().(files.File)
		if !ok {
			slog.Debug("Skipping non-file bundle entry", "name", it.Name())
			continue
		}
		name, err := memberName(it.Name())
		if err != nil {
			return err
		}
		n, err := writeLimited(dir, name, file, budget)
		file.Close()
		if err != nil {
			return err
		}
		budget -= n
	}
	return it.Err()
}

// stageArchive unpacks a zipped bundle. A file that is not a zip archive is
// taken to be the description itself.
func (f *Fetcher) stageArchive(file files.File, dir string) error {
	buf, err := io.ReadAll(io.LimitReader(file, f.maxSize+1))
	if err != nil {
		return fmt.Errorf("reading bundle: %w", err)
	}
	if int64(len(buf)) > f.maxSize {
		return fmt.Errorf("bundle exceeds %d bytes", f.maxSize)
	}

	zr, err := zip.NewReader(bytes.NewReader(buf), int64(len(buf)))
	if errors.Is(err, zip.ErrFormat) {
		return os.WriteFile(filepath.Join(dir, DescriptionFile), buf, 0o600)
	}
	if err != nil {
		return fmt.Errorf("opening bundle archive: %w", err)
	}

	var budget = f.maxSize
	for _, zf := range zr.File {
		if zf.FileInfo().IsDir() {
			continue
		}
		name, err := memberName(zf.Name)
		if err != nil {
			return err
		}
		rc, err := zf.Open()
		if err != nil {
			return fmt.Errorf("opening %s: %w", zf.Name, err)
		}
		n, err := writeLimited(dir, name, rc, budget)
		rc.Close()
		if err != nil {
			return err
		}
		budget -= n
	}
	return nil
}

// memberName reduces an archive member path to a safe base name.
func memberName(name string) (string, error) {
	base := filepath.Base(filepath.Clean("/" + strings.ReplaceAll(name, `\`, "/")))
	if base == "/" || base == "." || base == ".." {
		return "", fmt.Errorf("invalid bundle member name %q", name)
	}
	return base, nil
}

// maxRenames bounds the suffixes tried when flattened member names collide.
const maxRenames = 1000

// createUnique creates name in dir, or name-1.ext, name-2.ext, ... when
// another member already took it.
func createUnique(dir, name string) (*os.File, error) {
	ext := filepath.Ext(name)
	stem := strings.TrimSuffix(name, ext)
	candidate := name
	for i := 1; ; i++ {
		out, err := os.OpenFile(filepath.Join(dir, candidate), os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
		if err == nil {
			if candidate != name {
				slog.Debug("Renamed colliding bundle member", "name", name, "stagedAs", candidate)
			}
			return out, nil
		}
		if !errors.Is(err, os.ErrExist) || i > maxRenames {
			return nil, fmt.Errorf("creating %s: %w", name, err)
		}
		candidate = fmt.Sprintf("%s-%d%s", stem, i, ext)
	}
}

func writeLimited(dir, name string, r io.Reader, budget int64) (int64, error) {
	out, err := createUnique(dir, name)
	if err != nil {
		return 0, err
	}
	n, err := io.Copy(out, io.LimitReader(r, budget+1))
	if cerr := out.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return n, fmt.Errorf("writing %s: %w", name, err)
	}
	if n > budget {
		return n, fmt.Errorf("bundle exceeds size limit")
	}
	return n, nil
}
