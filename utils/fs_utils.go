package utils

import (
	"os"
	"path/filepath"
	"sort"

	"github.com/pkg/errors"
)

// CreateFile creates a file with the given name in path, creating the directory first if it does not exist. If path
// is empty, the file is created in the working directory.
func CreateFile(path string, fileName string) (*os.File, error) {
	filePath := fileName
	if path != "" {
		if err := MakeDirectory(path); err != nil {
			return nil, err
		}
		filePath = filepath.Join(path, fileName)
	}

	file, err := os.Create(filePath)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return file, nil
}

// MakeDirectory creates a directory (and any parents) if it does not exist. Returns an error if a file exists at
// the path.
func MakeDirectory(dirToMake string) error {
	dirInfo, err := os.Stat(dirToMake)
	if err != nil {
		if os.IsNotExist(err) {
			return errors.WithStack(os.MkdirAll(dirToMake, 0755))
		}
		return errors.WithStack(err)
	}
	if !dirInfo.IsDir() {
		return errors.Errorf("there is a file with the same name as %s", dirToMake)
	}
	return nil
}

// DeleteDirectory removes a directory and its contents. A missing directory is not an error.
func DeleteDirectory(directoryPath string) error {
	dirInfo, err := os.Stat(directoryPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return errors.WithStack(err)
	}
	if !dirInfo.IsDir() {
		return errors.Errorf("cannot delete directory as '%s' refers to a file", directoryPath)
	}
	return errors.WithStack(os.RemoveAll(directoryPath))
}

// SortedFiles returns the regular files matching a glob pattern, sorted by path. Directories are excluded.
func SortedFiles(pattern string) ([]string, error) {
	matches, err := filepath.Glob(pattern)
	if err != nil {
		return nil, errors.WithStack(err)
	}
	files := make([]string, 0, len(matches))
	for _, match := range matches {
		info, err := os.Stat(match)
		if err != nil {
			return nil, errors.WithStack(err)
		}
		if !info.IsDir() {
			files = append(files, match)
		}
	}
	sort.Strings(files)
	return files, nil
}

// GetFileNameWithoutExtension obtains a file name without its extension or preceding directories.
func GetFileNameWithoutExtension(filePath string) string {
	base := filepath.Base(filePath)
	return base[:len(base)-len(filepath.Ext(base))]
}
