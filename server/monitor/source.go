package monitor

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"sync"

	"github.com/cyclopcam/behave/pkg/nn"
	"github.com/cyclopcam/logs"
)

// Source produces one detection result per frame.
// Next returns io.EOF when the source is exhausted.
type Source interface {
	Next(ctx context.Context) (*nn.DetectionResult, error)
}

// Maximum length of one line of JSONL input
const maxLineBytes = 16 * 1024 * 1024

// One line of JSONL input. If frame is omitted, then frames are numbered sequentially.
type jsonlFrame struct {
	Frame   *int64               `json:"frame"`
	Objects []nn.ObjectDetection `json:"objects"`
}

// JSONLSource reads detections from JSON lines, such as
//
//	{"frame":0,"objects":[{"class":"Pig-standing","box":[10,20,110,220],"confidence":0.9}]}
//
// Lines that cannot be decoded are logged and skipped.
// A background thread does the reading, so that Next can be cancelled while the input is idle.
type JSONLSource struct {
	log       logs.Log
	name      string
	closer    io.Closer
	lines     chan scannedLine // Closed by the read thread when it exits
	shutdown  chan bool        // Closed by Close
	closeOnce sync.Once
	line      int
	nextFrame int64
	numBad    int64
}

// One line of input, or the error that ended the input
type scannedLine struct {
	raw []byte
	err error
}

// Number of lines that the read thread may get ahead of the frame loop
const readAheadLines = 64

func NewJSONLSource(log logs.Log, name string, r io.Reader) *JSONLSource {
	s := &JSONLSource{
		log:      log,
		name:     name,
		lines:    make(chan scannedLine, readAheadLines),
		shutdown: make(chan bool),
	}
	if c, ok := r.(io.Closer); ok {
		s.closer = c
	}
	go s.readThread(r)
	return s
}

func (s *JSONLSource) readThread(r io.Reader) {
	defer close(s.lines)
	scanner := bufio.NewScanner(r)
	scanner.Buffer(make([]byte, 0, 64*1024), maxLineBytes)
	for scanner.Scan() {
		// The scanner reuses its buffer
		raw := append([]byte(nil), scanner.Bytes()...)
		select {
		case s.lines <- scannedLine{raw: raw}:
		case <-s.shutdown:
			return
		}
	}
	if err := scanner.Err(); err != nil {
		select {
		case s.lines <- scannedLine{err: err}:
		case <-s.shutdown:
		}
	}
}

// Open a JSONL file. If filename is "-", then read from stdin.
func OpenJSONLFile(log logs.Log, filename string) (*JSONLSource, error) {
	if filename == "-" {
		return NewJSONLSource(log, "stdin", os.Stdin), nil
	}
	f, err := os.Open(filename)
	if err != nil {
		return nil, fmt.Errorf("Failed to open detections file: %w", err)
	}
	return NewJSONLSource(log, filename, f), nil
}

func (s *JSONLSource) Name() string {
	return s.name
}

// Number of lines that could not be decoded
func (s *JSONLSource) NumBadLines() int64 {
	return s.numBad
}

// Next returns the next frame, io.EOF at the end of the input, or ctx.Err() if ctx is
// cancelled while we're waiting for input.
func (s *JSONLSource) Next(ctx context.Context) (*nn.DetectionResult, error) {
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		var sl scannedLine
		var ok bool
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case sl, ok = <-s.lines:
		}
		if !ok {
			return nil, io.EOF
		}
		if sl.err != nil {
			return nil, fmt.Errorf("Error reading %v: %w", s.name, sl.err)
		}
		s.line++
		if len(sl.raw) == 0 {
			continue
		}
		jf := jsonlFrame{}
		if err := json.Unmarshal(sl.raw, &jf); err != nil {
			s.numBad++
			s.log.Warnf("%v line %v: %v", s.name, s.line, err)
			continue
		}
		frame := s.nextFrame
		if jf.Frame != nil {
			frame = *jf.Frame
		}
		s.nextFrame = frame + 1
		return &nn.DetectionResult{
			Frame:   frame,
			Objects: jf.Objects,
		}, nil
	}
}

// Close stops the read thread. Stdin is left open.
func (s *JSONLSource) Close() error {
	var err error
	s.closeOnce.Do(func() {
		close(s.shutdown)
		if s.closer != nil && s.closer != io.Closer(os.Stdin) {
			err = s.closer.Close()
		}
	})
	return err
}

// SliceSource replays detection results from memory
type SliceSource struct {
	Frames []*nn.DetectionResult
	next   int
}

func (s *SliceSource) Next(ctx context.Context) (*nn.DetectionResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if s.next >= len(s.Frames) {
		return nil, io.EOF
	}
	r := s.Frames[s.next]
	s.next++
	return r, nil
}

// IsEndOfInput returns true if err signals a normal end of input
func IsEndOfInput(err error) bool {
	return errors.Is(err, io.EOF) || errors.Is(err, context.Canceled)
}
