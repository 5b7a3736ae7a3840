package storage

import (
	"io/fs"
	"os"
	"path/filepath"
)

// Footprint returns the on-disk size in bytes of each named data path (database file,
// keyword index dir, cache dir, ...) and their total. Empty and missing paths count as
// zero; the SQLite -wal and -shm companions are added to a file path.
func Footprint(paths map[string]string) (map[string]int64, int64, error) {
	sizes := make(map[string]int64, len(paths))
	var total int64
	for name, p := range paths {
		if p == "" || p == ":memory:" {
			sizes[name] = 0
			continue
		}
		n, err := pathSize(p)
		if err != nil {
			return nil, 0, err
		}
		for _, suffix := range []string{"-wal", "-shm"} {
			if extra, err := pathSize(p + suffix); err == nil {
				n += extra
			}
		}
		sizes[name] = n
		total += n
	}
	return sizes, total, nil
}

func pathSize(p string) (int64, error) {
	info, err := os.Stat(p)
	if err != nil {
		if os.IsNotExist(err) {
			return 0, nil
		}
		return 0, err
	}
	if !info.IsDir() {
		return info.Size(), nil
	}
	var total int64
	err = filepath.WalkDir(p, func(_ string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		fi, err := d.Info()
		if err != nil {
			return err
		}
		total += fi.Size()
		return nil
	})
	return total, err
}
