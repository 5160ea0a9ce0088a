package archive

import (
	"fmt"
	"os"
	"strings"

	"github.com/klauspost/compress/gzip"
)

// IsGzipName reports whether the filename selects transparent gzip
// wrapping of the stream.
func IsGzipName(name string) bool {
	return strings.HasSuffix(name, ".gz")
}

// Source is a readable archive stream: a file, an optional gzip layer
// keyed off the filename, and a decoder on top.
type Source struct {
	*Decoder
	file *os.File
	gz   *gzip.Reader
}

// OpenSource opens the named archive file for sequential decoding.
func OpenSource(name string) (*Source, error) {
	f, err := os.Open(name)
	if err != nil {
		return nil, fmt.Errorf("open archive: %w", err)
	}
	s := &Source{file: f}
	if IsGzipName(name) {
		s.gz, err = gzip.NewReader(f)
		if err != nil {
			f.Close()
			return nil, fmt.Errorf("open archive %s: %w", name, err)
		}
		s.Decoder = NewDecoder(s.gz)
	} else {
		s.Decoder = NewDecoder(f)
	}
	return s, nil
}

func (s *Source) Close() error {
	var err error
	if s.gz != nil {
		err = s.gz.Close()
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}

// Sink is a writable archive stream: an encoder on top of an optional
// gzip layer (BestSpeed) on top of a file.
type Sink struct {
	*Encoder
	file *os.File
	gz   *gzip.Writer
}

// CreateSink creates (truncating) the named archive file for sequential
// encoding.
func CreateSink(name string) (*Sink, error) {
	f, err := os.Create(name)
	if err != nil {
		return nil, fmt.Errorf("create archive: %w", err)
	}
	s := &Sink{file: f}
	if IsGzipName(name) {
		s.gz, _ = gzip.NewWriterLevel(f, gzip.BestSpeed)
		s.Encoder = NewEncoder(s.gz)
	} else {
		s.Encoder = NewEncoder(f)
	}
	return s, nil
}

func (s *Sink) Close() error {
	err := s.Flush()
	if s.gz != nil {
		if cerr := s.gz.Close(); err == nil {
			err = cerr
		}
	}
	if cerr := s.file.Close(); err == nil {
		err = cerr
	}
	return err
}
