// Package transfer moves feed files between the pending and archived staging
// areas and hands open zip members to the import layer. Staging is the only
// concurrent part of the program; everything downstream of it is a single
// sequential writer.
package transfer

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"

	"golang.org/x/sync/errgroup"

	"partsfeed/internal/importer"
	"partsfeed/internal/logger"
)

// Source lists pending feed files, opens them, and retires them once
// processed.
type Source interface {
	List() ([]string, error)
	Open(name string) (io.ReaderAt, int64, error)
	Archive(name string) error
}

// LocalDirSource serves files from a pending directory and archives them by
// moving them into a sibling archived directory.
type LocalDirSource struct {
	pendingDir  string
	archivedDir string
}

func NewLocalDirSource(pendingDir, archivedDir string) (*LocalDirSource, error) {
	for _, dir := range []string{pendingDir, archivedDir} {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("transfer: create %s: %w", dir, err)
		}
	}
	return &LocalDirSource{pendingDir: pendingDir, archivedDir: archivedDir}, nil
}

// List returns the pending file names in stable order.
func (s *LocalDirSource) List() ([]string, error) {
	entries, err := os.ReadDir(s.pendingDir)
	if err != nil {
		return nil, fmt.Errorf("transfer: read pending dir: %w", err)
	}
	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		names = append(names, e.Name())
	}
	sort.Strings(names)
	return names, nil
}

// Open memory-maps nothing; it reads the whole file so the zip reader can
// seek, and so Archive can move the file while a reader is still live.
func (s *LocalDirSource) Open(name string) (io.ReaderAt, int64, error) {
	data, err := os.ReadFile(filepath.Join(s.pendingDir, name))
	if err != nil {
		return nil, 0, fmt.Errorf("transfer: open %s: %w", name, err)
	}
	return bytes.NewReader(data), int64(len(data)), nil
}

func (s *LocalDirSource) Archive(name string) error {
	src := filepath.Join(s.pendingDir, name)
	dst := filepath.Join(s.archivedDir, name)
	if err := os.Rename(src, dst); err != nil {
		return fmt.Errorf("transfer: archive %s: %w", name, err)
	}
	return nil
}

// Staged is one pending file fetched into memory with its zip already open
// and its expected data member located.
type Staged struct {
	Info   importer.FileInfo
	Member *zip.File
}

// OpenMember returns the data stream inside the staged zip.
func (s *Staged) OpenMember() (io.ReadCloser, error) {
	rc, err := s.Member.Open()
	if err != nil {
		return nil, fmt.Errorf("transfer: open %s inside %s: %w", s.Member.Name, s.Info.Name, err)
	}
	return rc, nil
}

// StageAll fetches and opens every listed file concurrently, bounded by
// workers. Order of the result matches the input order; the import loop
// stays sequential.
func StageAll(src Source, infos []importer.FileInfo, workers int, log *logger.Logger) ([]*Staged, error) {
	staged := make([]*Staged, len(infos))

	var g errgroup.Group
	g.SetLimit(workers)
	for i, info := range infos {
		g.Go(func() error {
			s, err := stage(src, info)
			if err != nil {
				return err
			}
			log.Debug("file staged", "file", info.Name, "member", s.Member.Name)
			staged[i] = s
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return staged, nil
}

func stage(src Source, info importer.FileInfo) (*Staged, error) {
	ra, size, err := src.Open(info.Name)
	if err != nil {
		return nil, err
	}
	zr, err := zip.NewReader(ra, size)
	if err != nil {
		return nil, fmt.Errorf("transfer: open zip %s: %w", info.Name, err)
	}
	member, err := importer.FindZipMember(zr, info.Type)
	if err != nil {
		return nil, err
	}
	return &Staged{Info: info, Member: member}, nil
}
