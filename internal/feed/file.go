package feed

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const maxLine = 1 << 20

// FileSource reads messages from an NDJSON file, or from a directory in
// which every .json file holds one message and every .txt file holds the
// raw text of one post.
type FileSource struct {
	channel string
	file    *os.File
	scanner *bufio.Scanner
	line    int
	files   []string
}

// OpenFile opens path for reading. channel is used for messages that do
// not name their own.
func OpenFile(path, channel string) (*FileSource, error) {
	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("open feed %s: %w", path, err)
	}
	s := &FileSource{channel: channel}
	if info.IsDir() {
		entries, err := os.ReadDir(path)
		if err != nil {
			return nil, fmt.Errorf("read feed directory %s: %w", path, err)
		}
		for _, e := range entries {
			ext := strings.ToLower(filepath.Ext(e.Name()))
			if !e.IsDir() && (ext == ".json" || ext == ".txt") {
				s.files = append(s.files, filepath.Join(path, e.Name()))
			}
		}
		sort.Strings(s.files)
		return s, nil
	}

	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open feed %s: %w", path, err)
	}
	s.file = f
	s.scanner = bufio.NewScanner(f)
	s.scanner.Buffer(make([]byte, 64*1024), maxLine)
	return s, nil
}

func (s *FileSource) Next(ctx context.Context) (Message, error) {
	if err := ctx.Err(); err != nil {
		return Message{}, err
	}
	if s.scanner != nil {
		return s.nextLine()
	}
	return s.nextFile()
}

func (s *FileSource) nextLine() (Message, error) {
	for s.scanner.Scan() {
		s.line++
		if strings.TrimSpace(s.scanner.Text()) == "" {
			continue
		}
		m, err := Decode(s.scanner.Bytes(), s.channel)
		if err != nil {
			return Message{}, fmt.Errorf("line %d: %w", s.line, err)
		}
		return m, nil
	}
	if err := s.scanner.Err(); err != nil {
		return Message{}, fmt.Errorf("read feed: %w", err)
	}
	return Message{}, io.EOF
}

func (s *FileSource) nextFile() (Message, error) {
	if len(s.files) == 0 {
		return Message{}, io.EOF
	}
	path := s.files[0]
	s.files = s.files[1:]

	data, err := os.ReadFile(path)
	if err != nil {
		return Message{}, fmt.Errorf("%w: read %s: %v", ErrBadMessage, path, err)
	}
	base := filepath.Base(path)
	if strings.EqualFold(filepath.Ext(path), ".txt") {
		return Message{
			Channel: s.channel,
			Text:    string(data),
			ID:      strings.TrimSuffix(base, filepath.Ext(base)),
		}, nil
	}
	m, err := Decode(data, s.channel)
	if err != nil {
		return Message{}, fmt.Errorf("%s: %w", base, err)
	}
	return m, nil
}

func (s *FileSource) Close() error {
	if s.file != nil {
		return s.file.Close()
	}
	return nil
}
