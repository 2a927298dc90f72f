package store

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/google/uuid"

	"github.com/randalmurphal/rewind/pkg/rewind/checkpoint"
	"github.com/randalmurphal/rewind/pkg/rewind/snapshot"
)

// ErrInvalidArchive indicates an import archive is malformed or unsafe.
var ErrInvalidArchive = errors.New("invalid checkpoint archive")

// maxDocumentSize caps metadata.json and manifest.json read from an archive.
const maxDocumentSize = 64 << 20

// Export writes checkpoint id as a tar.gz archive at dest:
//
//	<id>/metadata.json
//	<id>/manifest.json
//	<id>/files/<sha256>
//
// The archive appears at dest only once complete.
func Export(ctx context.Context, b Backend, id, dest string) error {
	cp, err := b.Load(ctx, id)
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(dest), 0o755); err != nil {
		return fmt.Errorf("create export dir: %w", err)
	}
	tmp, err := os.CreateTemp(filepath.Dir(dest), ".export-*")
	if err != nil {
		return fmt.Errorf("create export file: %w", err)
	}
	tmpName := tmp.Name()
	defer os.Remove(tmpName)

	if err := writeArchive(ctx, b, cp, tmp); err != nil {
		tmp.Close()
		return err
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("close export file: %w", err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		return fmt.Errorf("move export file: %w", err)
	}
	return nil
}

func writeArchive(ctx context.Context, b Backend, cp *checkpoint.Checkpoint, w io.Writer) error {
	gz := gzip.NewWriter(w)
	tw := tar.NewWriter(gz)

	add := func(name string, data []byte) error {
		hdr := &tar.Header{
			Name:     cp.ID + "/" + name,
			Mode:     0o644,
			Size:     int64(len(data)),
			ModTime:  cp.Created,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			return fmt.Errorf("write header %s: %w", name, err)
		}
		if _, err := tw.Write(data); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		return nil
	}

	meta, err := json.MarshalIndent(cp.Metadata, "", "  ")
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	if err := add(MetadataFile, meta); err != nil {
		return err
	}
	manifest, err := json.MarshalIndent(cp.Manifest, "", "  ")
	if err != nil {
		return fmt.Errorf("encode manifest: %w", err)
	}
	if err := add(ManifestFile, manifest); err != nil {
		return err
	}

	for _, hash := range cp.Manifest.Hashes() {
		if err := ctx.Err(); err != nil {
			return err
		}
		data, err := b.ReadBlob(ctx, cp.ID, hash)
		if err != nil {
			return fmt.Errorf("read blob %s: %w", hash, err)
		}
		if err := add(snapshot.BlobsDir+"/"+hash, data); err != nil {
			return err
		}
	}

	if err := tw.Close(); err != nil {
		return fmt.Errorf("close tar: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("close gzip: %w", err)
	}
	return nil
}

// Import loads the archive at src into b and returns the imported
// checkpoint. The checkpoint keeps its id and gains the imported trigger;
// Import fails with ErrAlreadyExists when b already holds it.
//
// An FSBackend extracts into a staging directory that is renamed into place
// only after every blob has been verified. Other backends stream the archive
// through Begin and Commit, aborting on any failure.
func Import(ctx context.Context, b Backend, src string) (*checkpoint.Checkpoint, error) {
	if fsb, ok := b.(*FSBackend); ok {
		return fsb.importArchive(ctx, src)
	}
	return streamImport(ctx, b, src)
}

type entryKind int

const (
	entryMetadata entryKind = iota
	entryManifest
	entryBlob
)

type archiveEntry struct {
	id   string
	kind entryKind
	hash string
}

// parseEntryName validates an archive member name.
func parseEntryName(name string) (archiveEntry, error) {
	if err := safeName(name); err != nil {
		return archiveEntry{}, err
	}

	parts := strings.Split(path.Clean(name), "/")
	if len(parts) < 2 || !checkpoint.ValidID(parts[0]) {
		return archiveEntry{}, fmt.Errorf("%w: unexpected entry %q", ErrInvalidArchive, name)
	}
	e := archiveEntry{id: parts[0]}
	switch {
	case len(parts) == 2 && parts[1] == MetadataFile:
		e.kind = entryMetadata
	case len(parts) == 2 && parts[1] == ManifestFile:
		e.kind = entryManifest
	case len(parts) == 3 && parts[1] == snapshot.BlobsDir && snapshot.ValidHash(parts[2]):
		e.kind = entryBlob
		e.hash = parts[2]
	default:
		return archiveEntry{}, fmt.Errorf("%w: unexpected entry %q", ErrInvalidArchive, name)
	}
	return e, nil
}

// safeName rejects absolute member names and any ".." segment.
func safeName(name string) error {
	if name == "" || strings.HasPrefix(name, "/") || filepath.IsAbs(name) {
		return fmt.Errorf("%w: absolute path %q", ErrInvalidArchive, name)
	}
	for _, seg := range strings.Split(name, "/") {
		if seg == ".." {
			return fmt.Errorf("%w: path escapes archive %q", ErrInvalidArchive, name)
		}
	}
	return nil
}

// readArchive calls fn for each regular file in the archive at src.
// Every entry must belong to the same checkpoint id.
func readArchive(ctx context.Context, src string, fn func(archiveEntry, io.Reader) error) error {
	f, err := os.Open(src)
	if err != nil {
		return fmt.Errorf("open archive: %w", err)
	}
	defer f.Close()

	gz, err := gzip.NewReader(f)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	defer gz.Close()

	tr := tar.NewReader(gz)
	id := ""
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		hdr, err := tr.Next()
		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
		}

		switch hdr.Typeflag {
		case tar.TypeDir:
			if err := safeName(hdr.Name); err != nil {
				return err
			}
			continue
		case tar.TypeReg:
		default:
			return fmt.Errorf("%w: unsupported entry type for %q", ErrInvalidArchive, hdr.Name)
		}

		e, err := parseEntryName(hdr.Name)
		if err != nil {
			return err
		}
		if id == "" {
			id = e.id
		} else if e.id != id {
			return fmt.Errorf("%w: entries for more than one checkpoint", ErrInvalidArchive)
		}
		if err := fn(e, tr); err != nil {
			return err
		}
	}
}

func readDocument(r io.Reader, v any) error {
	data, err := io.ReadAll(io.LimitReader(r, maxDocumentSize+1))
	if err != nil {
		return err
	}
	if len(data) > maxDocumentSize {
		return fmt.Errorf("%w: document too large", ErrInvalidArchive)
	}
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	return nil
}

// readBlob reads an archived blob and checks it matches its name.
func readBlob(e archiveEntry, r io.Reader) ([]byte, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("%w: read blob %s: %v", ErrInvalidArchive, e.hash, err)
	}
	if got := snapshot.HashBytes(data); got != e.hash {
		return nil, fmt.Errorf("%w: blob %s has hash %s", ErrInvalidArchive, e.hash, got)
	}
	return data, nil
}

// decodeImportedMetadata validates archived metadata, then marks it
// imported and records the archive it came from.
func decodeImportedMetadata(e archiveEntry, r io.Reader, src string) (*checkpoint.Metadata, error) {
	var meta checkpoint.Metadata
	if err := readDocument(r, &meta); err != nil {
		return nil, err
	}
	if meta.ID != e.id {
		return nil, fmt.Errorf("%w: metadata id %q under %q", ErrInvalidArchive, meta.ID, e.id)
	}
	if err := meta.Validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	meta.Trigger = checkpoint.TriggerImported
	meta.SourceArchive = filepath.Base(src)
	return &meta, nil
}

func (b *FSBackend) importArchive(ctx context.Context, src string) (*checkpoint.Checkpoint, error) {
	if err := b.check(); err != nil {
		return nil, err
	}

	staging := filepath.Join(b.root, stagingPrefix+uuid.NewString())
	if err := os.Mkdir(staging, 0o755); err != nil {
		return nil, fmt.Errorf("create staging dir: %w", err)
	}
	moved := false
	defer func() {
		if !moved {
			os.RemoveAll(staging)
		}
	}()

	sink := snapshot.NewDirSink(staging)
	var meta *checkpoint.Metadata
	var manifest *checkpoint.Manifest

	err := readArchive(ctx, src, func(e archiveEntry, r io.Reader) error {
		switch e.kind {
		case entryMetadata:
			m, err := decodeImportedMetadata(e, r, src)
			if err != nil {
				return err
			}
			meta = m
			return writeJSON(filepath.Join(staging, MetadataFile), meta)
		case entryManifest:
			var m checkpoint.Manifest
			if err := readDocument(r, &m); err != nil {
				return err
			}
			manifest = &m
			return nil
		default:
			data, err := readBlob(e, r)
			if err != nil {
				return err
			}
			return sink.WriteBlob(e.hash, data)
		}
	})
	if err != nil {
		return nil, err
	}
	if meta == nil || manifest == nil {
		return nil, fmt.Errorf("%w: missing metadata or manifest", ErrInvalidArchive)
	}
	if err := verifyManifest(manifest, sink.HasBlob); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	if err := writeJSON(filepath.Join(staging, ManifestFile), manifest); err != nil {
		return nil, err
	}

	dest := b.dir(meta.ID)
	if _, err := os.Stat(dest); err == nil {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyExists, meta.ID)
	}
	if err := os.Rename(staging, dest); err != nil {
		return nil, fmt.Errorf("move staged checkpoint: %w", err)
	}
	moved = true

	b.record(ctx, "import checkpoint "+meta.ID+" from "+meta.SourceArchive, meta.ID)
	return loadDir(dest, meta.ID)
}

func streamImport(ctx context.Context, b Backend, src string) (cp *checkpoint.Checkpoint, err error) {
	var (
		w        Writer
		id       string
		manifest *checkpoint.Manifest
	)
	defer func() {
		if err != nil && w != nil {
			w.Abort()
		}
	}()

	err = readArchive(ctx, src, func(e archiveEntry, r io.Reader) error {
		switch e.kind {
		case entryMetadata:
			if w != nil {
				return fmt.Errorf("%w: duplicate metadata", ErrInvalidArchive)
			}
			meta, err := decodeImportedMetadata(e, r, src)
			if err != nil {
				return err
			}
			w, err = b.Begin(ctx, meta)
			if err != nil {
				return err
			}
			id = meta.ID
			return nil
		case entryManifest:
			var m checkpoint.Manifest
			if err := readDocument(r, &m); err != nil {
				return err
			}
			manifest = &m
			return nil
		default:
			if w == nil {
				return fmt.Errorf("%w: blob before metadata", ErrInvalidArchive)
			}
			data, err := readBlob(e, r)
			if err != nil {
				return err
			}
			return w.WriteBlob(e.hash, data)
		}
	})
	if err != nil {
		return nil, err
	}
	if w == nil || manifest == nil {
		return nil, fmt.Errorf("%w: missing metadata or manifest", ErrInvalidArchive)
	}
	if err := w.Commit(ctx, manifest); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidArchive, err)
	}
	return b.Load(ctx, id)
}
