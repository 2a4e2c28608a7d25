package search

import (
	"archive/zip"
	"bytes"
	"io"
	"path"
	"sort"
	"time"

	"gitlab.com/tozd/go/errors"
)

// archiveMember is one regular file inside a container
type archiveMember struct {
	name    string
	size    int64
	modTime time.Time
	file    *zip.File
}

// listArchive returns the regular files of a zip container sorted by name
func listArchive(data []byte) ([]archiveMember, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, errors.Errorf("opening archive: %w", err)
	}
	members := make([]archiveMember, 0, len(zr.File))
	for _, f := range zr.File {
		if f.FileInfo().IsDir() {
			continue
		}
		members = append(members, archiveMember{
			name:    f.Name,
			size:    int64(f.UncompressedSize64),
			modTime: f.Modified,
			file:    f,
		})
	}
	sort.Slice(members, func(i, j int) bool { return members[i].name < members[j].name })
	return members, nil
}

// read decompresses the member, refusing anything above limit bytes when limit > 0
func (m archiveMember) read(limit int64) ([]byte, error) {
	if limit > 0 && m.size > limit {
		return nil, errors.WithStack(ErrFileTooLarge)
	}
	rc, err := m.file.Open()
	if err != nil {
		return nil, errors.Errorf("opening %s: %w", m.name, err)
	}
	defer rc.Close()

	var r io.Reader = rc
	if limit > 0 {
		r = io.LimitReader(rc, limit+1)
	}
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, errors.Errorf("reading %s: %w", m.name, err)
	}
	if limit > 0 && int64(len(data)) > limit {
		return nil, errors.WithStack(ErrFileTooLarge)
	}
	return data, nil
}

func (m archiveMember) base() string {
	return path.Base(m.name)
}
