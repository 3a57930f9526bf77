package graphcode

import (
	"archive/tar"
	"errors"
	"fmt"
	"io"

	"github.com/klauspost/compress/zstd"
)

// maxArchiveEntry bounds a single decompressed file.
const maxArchiveEntry = 64 << 20

// WriteArchive writes the tree of snap as a zstd-compressed tar stream.
func WriteArchive(w io.Writer, snap Snapshot) error {
	files, err := Files(snap)
	if err != nil {
		return err
	}
	zw, err := zstd.NewWriter(w)
	if err != nil {
		return err
	}
	tw := tar.NewWriter(zw)
	for _, f := range files {
		hdr := &tar.Header{
			Name:     f.Path,
			Mode:     0o644,
			Size:     int64(len(f.Data)),
			ModTime:  snap.Manifest.ExportedAt,
			Typeflag: tar.TypeReg,
		}
		if err := tw.WriteHeader(hdr); err != nil {
			zw.Close()
			return err
		}
		if _, err := tw.Write(f.Data); err != nil {
			zw.Close()
			return err
		}
	}
	if err := tw.Close(); err != nil {
		zw.Close()
		return err
	}
	return zw.Close()
}

// ReadArchive reads a stream written by WriteArchive.
func ReadArchive(r io.Reader, workers int) (Snapshot, error) {
	zr, err := zstd.NewReader(r)
	if err != nil {
		return Snapshot{}, err
	}
	defer zr.Close()

	var files []File
	tr := tar.NewReader(zr)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: %v", ErrInvalidSnapshot, err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		if hdr.Size > maxArchiveEntry {
			return Snapshot{}, fmt.Errorf("%w: %s exceeds %d bytes", ErrInvalidSnapshot, hdr.Name, maxArchiveEntry)
		}
		data, err := io.ReadAll(tr)
		if err != nil {
			return Snapshot{}, fmt.Errorf("%w: %s: %v", ErrInvalidSnapshot, hdr.Name, err)
		}
		files = append(files, File{Path: hdr.Name, Data: data})
	}
	return FromFiles(files, workers)
}
