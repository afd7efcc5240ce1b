package corpus

import (
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/crytic/hydra/utils"
	"github.com/pkg/errors"
)

// corpusFile is one item of a corpusDirectory and its state on the filesystem.
type corpusFile[T any] struct {
	// fileName is the name of the file within corpusDirectory.path.
	fileName string

	// data is the item the file holds.
	data T

	// writtenToDisk is false while the item still has to be flushed.
	writtenToDisk bool
}

// corpusDirectory keeps the items of one directory in memory and flushes new ones with an encoder.
type corpusDirectory[T any] struct {
	// path is the directory the files are stored in. An empty path keeps items in memory only.
	path string

	encode func(T) ([]byte, error)
	decode func([]byte) (T, error)

	files     []*corpusFile[T]
	filesLock sync.Mutex
}

// newCorpusDirectory creates a corpusDirectory for path.
func newCorpusDirectory[T any](path string, encode func(T) ([]byte, error), decode func([]byte) (T, error)) *corpusDirectory[T] {
	return &corpusDirectory[T]{
		path:   path,
		encode: encode,
		decode: decode,
		files:  make([]*corpusFile[T], 0),
	}
}

// addFile adds an item to be written under fileName, replacing any unflushed item of the same name.
func (cd *corpusDirectory[T]) addFile(fileName string, data T) {
	cd.filesLock.Lock()
	defer cd.filesLock.Unlock()

	lowerFileName := strings.ToLower(fileName)
	for _, file := range cd.files {
		if lowerFileName == strings.ToLower(file.fileName) {
			file.data = data
			file.writtenToDisk = false
			return
		}
	}
	cd.files = append(cd.files, &corpusFile[T]{fileName: fileName, data: data})
}

// removeFile forgets an item and deletes it from disk. It reports whether the item was known.
func (cd *corpusDirectory[T]) removeFile(fileName string) (bool, error) {
	cd.filesLock.Lock()
	defer cd.filesLock.Unlock()

	lowerFileName := strings.ToLower(fileName)
	for i, file := range cd.files {
		if lowerFileName != strings.ToLower(file.fileName) {
			continue
		}
		cd.files = append(cd.files[:i], cd.files[i+1:]...)
		if cd.path != "" && file.writtenToDisk {
			if err := os.Remove(filepath.Join(cd.path, file.fileName)); err != nil && !os.IsNotExist(err) {
				return true, errors.WithStack(err)
			}
		}
		return true, nil
	}
	return false, nil
}

// onDisk reports whether the directory is backed by a path. In-memory directories have nothing to load.
func (cd *corpusDirectory[T]) onDisk() bool {
	return cd.path != ""
}

// readFiles loads the files matching filePattern in directory order. A file which cannot be decoded is skipped and
// its error returned in the second result; the first error stops loading altogether.
func (cd *corpusDirectory[T]) readFiles(filePattern string) ([]error, error) {
	if !cd.onDisk() {
		return nil, nil
	}
	filePaths, err := utils.SortedFiles(filepath.Join(cd.path, filePattern))
	if err != nil {
		return nil, err
	}

	cd.filesLock.Lock()
	defer cd.filesLock.Unlock()

	var skipped []error
	cd.files = make([]*corpusFile[T], 0, len(filePaths))
	for _, filePath := range filePaths {
		b, err := os.ReadFile(filePath)
		if err != nil {
			return skipped, errors.WithStack(err)
		}
		data, err := cd.decode(b)
		if err != nil {
			skipped = append(skipped, errors.Wrapf(err, "skipping %s", filePath))
			continue
		}
		cd.files = append(cd.files, &corpusFile[T]{fileName: filepath.Base(filePath), data: data, writtenToDisk: true})
	}
	return skipped, nil
}

// writeFiles flushes every item not yet written to disk.
func (cd *corpusDirectory[T]) writeFiles() error {
	if cd.path == "" {
		return nil
	}

	cd.filesLock.Lock()
	defer cd.filesLock.Unlock()

	if err := utils.MakeDirectory(cd.path); err != nil {
		return err
	}
	for _, file := range cd.files {
		if file.writtenToDisk {
			continue
		}
		if len(file.fileName) == 0 {
			return errors.New("failed to flush corpus item to disk as it does not have a filename")
		}
		b, err := cd.encode(file.data)
		if err != nil {
			return err
		}
		if err := os.WriteFile(filepath.Join(cd.path, file.fileName), b, 0o644); err != nil {
			return errors.Wrap(err, "an error occurred while writing corpus data to file")
		}
		file.writtenToDisk = true
	}
	return nil
}

// entries returns the file names and items in insertion order.
func (cd *corpusDirectory[T]) entries() ([]string, []T) {
	cd.filesLock.Lock()
	defer cd.filesLock.Unlock()

	names := make([]string, len(cd.files))
	items := make([]T, len(cd.files))
	for i, file := range cd.files {
		names[i] = file.fileName
		items[i] = file.data
	}
	return names, items
}

// count returns the number of items.
func (cd *corpusDirectory[T]) count() int {
	cd.filesLock.Lock()
	defer cd.filesLock.Unlock()
	return len(cd.files)
}

func readFile(path string) ([]byte, error) {
	b, err := os.ReadFile(path)
	return b, errors.WithStack(err)
}
