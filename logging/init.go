package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/pkgerrors"
)

// init sets up stack trace marshaling for pkg/errors values and UNIX timestamps for structured output.
func init() {
	zerolog.ErrorStackMarshaler = pkgerrors.MarshalStack
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
}

// createLogFile creates a uniquely named log file within the provided directory, creating the directory if needed.
func createLogFile(logDirectory string) (*os.File, error) {
	if err := os.MkdirAll(logDirectory, 0755); err != nil {
		return nil, errors.WithStack(err)
	}
	fileName := fmt.Sprintf("hydra-%d.log", time.Now().Unix())
	file, err := os.Create(filepath.Join(logDirectory, fileName))
	if err != nil {
		return nil, errors.WithStack(err)
	}
	return file, nil
}
