package ingest

import (
	"archive/tar"
	"archive/zip"
	"errors"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog/log"
)

// ExtractArchive unpacks the upload into dest and returns the extracted file
// paths. Only .zip and .tar containers are accepted; anything else is
// NotSupported. maxBytes bounds the total uncompressed size.
func ExtractArchive(path, dest string, maxBytes int64) ([]string, error) {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".zip":
		return extractZip(path, dest, maxBytes)
	case ".tar":
		return extractTar(path, dest, maxBytes)
	}
	return nil, ErrNotSupported.Msg("expected a .zip or .tar archive")
}

func extractZip(path, dest string, maxBytes int64) ([]string, error) {
	r, err := zip.OpenReader(path)
	if errors.Is(err, zip.ErrInsecurePath) {
		r.Close()
		return nil, ErrWrongData.Msg("archive entry escapes the staging directory")
	}
	if err != nil {
		return nil, ErrDataDecoding.MsgErr("could not open the archive", err)
	}
	defer r.Close()

	var files []string
	var total int64
	for _, f := range r.File {
		if f.FileInfo().IsDir() {
			continue
		}
		total += int64(f.UncompressedSize64)
		if total > maxBytes {
			return nil, ErrSizeLimit.Msg("archive content exceeds the upload limit")
		}
		target, err := safePath(dest, f.Name)
		if err != nil {
			return nil, err
		}
		rc, err := f.Open()
		if err != nil {
			return nil, ErrDataDecoding.Err(err)
		}
		err = writeFile(target, rc, maxBytes)
		rc.Close()
		if err != nil {
			return nil, err
		}
		files = append(files, target)
	}
	return files, nil
}

func extractTar(path, dest string, maxBytes int64) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, ErrDataDecoding.MsgErr("could not open the archive", err)
	}
	defer f.Close()

	var files []string
	var total int64
	tr := tar.NewReader(f)
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, ErrDataDecoding.Err(err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		total += hdr.Size
		if total > maxBytes {
			return nil, ErrSizeLimit.Msg("archive content exceeds the upload limit")
		}
		target, err := safePath(dest, hdr.Name)
		if err != nil {
			return nil, err
		}
		if err := writeFile(target, tr, maxBytes); err != nil {
			return nil, err
		}
		files = append(files, target)
	}
	return files, nil
}

// safePath rejects entries that would escape the staging directory.
func safePath(dest, name string) (string, error) {
	name = filepath.ToSlash(name)
	if strings.HasPrefix(name, "/") || strings.Contains(name, "..") {
		return "", ErrWrongData.Msg("archive entry escapes the staging directory")
	}
	return filepath.Join(dest, filepath.FromSlash(name)), nil
}

func writeFile(target string, r io.Reader, maxBytes int64) error {
	if err := os.MkdirAll(filepath.Dir(target), 0o755); err != nil {
		return ErrCritical.Err(err)
	}
	out, err := os.Create(target)
	if err != nil {
		return ErrCritical.Err(err)
	}
	defer out.Close()
	if _, err := io.Copy(out, io.LimitReader(r, maxBytes+1)); err != nil {
		return ErrCritical.Err(err)
	}
	return nil
}

// Cleanup removes the staging directory. Failures are logged, never fatal.
func Cleanup(dir string) {
	if err := os.RemoveAll(dir); err != nil {
		log.Error().Err(err).Str("dir", dir).Msg("failed to remove staging directory")
	}
}
