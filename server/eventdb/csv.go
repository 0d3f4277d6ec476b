package eventdb

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strconv"

	"github.com/cyclopcam/behave/pkg/nn"
	"github.com/cyclopcam/behave/server/behavior"
	"github.com/cyclopcam/behave/server/segmenter"
	"github.com/cyclopcam/logs"
)

// Header is the column layout of an event record.
// The first 14 columns are the canonical event schema. The trailing class columns are
// ours, so that a record can be decoded back into a complete snapshot.
var Header = []string{
	"start_frame",
	"end_frame",
	"start_time_min",
	"end_time_min",
	"behavior",
	"duration_min",
	"subject_center",
	"subject_confidence",
	"target1_center",
	"target1_confidence",
	"target2_center",
	"target2_confidence",
	"artifact_center",
	"artifact_confidence",
	"subject_class",
	"target1_class",
	"target2_class",
	"artifact_class",
}

// Number of columns in the canonical schema, without our class columns
const numCanonicalColumns = 14

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

func formatConfidence(v float32) string {
	return strconv.FormatFloat(float64(v), 'g', -1, 32)
}

func formatCenter(p nn.Point) string {
	return fmt.Sprintf("(%d,%d)", p.X, p.Y)
}

func parseCenter(s string) (nn.Point, error) {
	p := nn.Point{}
	if _, err := fmt.Sscanf(s, "(%d,%d)", &p.X, &p.Y); err != nil {
		return p, fmt.Errorf("Invalid center '%v': %w", s, err)
	}
	return p, nil
}

// Returns center, confidence, class
func encodeParticipant(p *behavior.Participant) (string, string, string) {
	if p == nil {
		return "", "", ""
	}
	return formatCenter(p.Center), formatConfidence(p.Confidence), p.Class
}

func decodeParticipant(center, confidence, class string) (*behavior.Participant, error) {
	if center == "" && confidence == "" {
		return nil, nil
	}
	c, err := parseCenter(center)
	if err != nil {
		return nil, err
	}
	conf, err := strconv.ParseFloat(confidence, 32)
	if err != nil {
		return nil, fmt.Errorf("Invalid confidence '%v': %w", confidence, err)
	}
	return &behavior.Participant{
		Class:      class,
		Center:     c,
		Confidence: float32(conf),
	}, nil
}

// EncodeRecord converts an event into a row of the Header layout
func EncodeRecord(ev *segmenter.Event) []string {
	rec := make([]string, len(Header))
	rec[0] = strconv.FormatInt(ev.StartFrame, 10)
	rec[1] = strconv.FormatInt(ev.EndFrame, 10)
	rec[2] = formatFloat(ev.StartMinutes())
	rec[3] = formatFloat(ev.EndMinutes())
	rec[4] = ev.Behavior
	rec[5] = formatFloat(ev.DurationMinutes())
	participants := []*behavior.Participant{
		ev.Snapshot.Subject,
		ev.Snapshot.Targets[0],
		ev.Snapshot.Targets[1],
		ev.Snapshot.Artifact,
	}
	for i, p := range participants {
		rec[6+i*2], rec[7+i*2], rec[numCanonicalColumns+i] = encodeParticipant(p)
	}
	return rec
}

// DecodeRecord parses a row produced by EncodeRecord.
// The frame rate is not part of the record, so the caller must supply it.
// Rows with only the canonical columns are accepted, in which case participant classes are empty.
func DecodeRecord(rec []string, frameRate float64) (*segmenter.Event, error) {
	if len(rec) != numCanonicalColumns && len(rec) != len(Header) {
		return nil, fmt.Errorf("Expected %v or %v columns, but record has %v", numCanonicalColumns, len(Header), len(rec))
	}
	ev := &segmenter.Event{
		Behavior:  rec[4],
		FrameRate: frameRate,
	}
	var err error
	if ev.StartFrame, err = strconv.ParseInt(rec[0], 10, 64); err != nil {
		return nil, fmt.Errorf("Invalid start_frame: %w", err)
	}
	if ev.EndFrame, err = strconv.ParseInt(rec[1], 10, 64); err != nil {
		return nil, fmt.Errorf("Invalid end_frame: %w", err)
	}
	participants := [4]*behavior.Participant{}
	for i := range participants {
		class := ""
		if len(rec) == len(Header) {
			class = rec[numCanonicalColumns+i]
		}
		if participants[i], err = decodeParticipant(rec[6+i*2], rec[7+i*2], class); err != nil {
			return nil, fmt.Errorf("Invalid participant %v: %w", Header[6+i*2], err)
		}
	}
	ev.Snapshot.Subject = participants[0]
	ev.Snapshot.Targets[0] = participants[1]
	ev.Snapshot.Targets[1] = participants[2]
	ev.Snapshot.Artifact = participants[3]
	return ev, nil
}

// CSVLog is the per-run event log. Each event is flushed to disk as soon as it is written.
type CSVLog struct {
	log      logs.Log
	filename string
	file     *os.File
	writer   *csv.Writer
}

// Open or create a CSV event log. If the file is new or empty, the header is written.
func OpenCSVLog(log logs.Log, filename string) (*CSVLog, error) {
	if err := os.MkdirAll(filepath.Dir(filename), 0770); err != nil {
		return nil, fmt.Errorf("Failed to create directory for event log '%v': %w", filename, err)
	}
	f, err := os.OpenFile(filename, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0660)
	if err != nil {
		return nil, fmt.Errorf("Failed to open event log '%v': %w", filename, err)
	}
	st, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, err
	}
	c := &CSVLog{
		log:      log,
		filename: filename,
		file:     f,
		writer:   csv.NewWriter(f),
	}
	if st.Size() == 0 {
		if err := c.writeRow(Header); err != nil {
			f.Close()
			return nil, err
		}
	}
	log.Infof("Writing events to '%v'", filename)
	return c, nil
}

func (c *CSVLog) Filename() string {
	return c.filename
}

func (c *CSVLog) writeRow(row []string) error {
	if err := c.writer.Write(row); err != nil {
		return err
	}
	c.writer.Flush()
	return c.writer.Error()
}

func (c *CSVLog) Write(ev *segmenter.Event) error {
	if err := c.writeRow(EncodeRecord(ev)); err != nil {
		return fmt.Errorf("Failed to write event to '%v': %w", c.filename, err)
	}
	return nil
}

func (c *CSVLog) Close() error {
	c.writer.Flush()
	return errors.Join(c.writer.Error(), c.file.Close())
}

// ReadCSVLog reads all events from a file written by CSVLog
func ReadCSVLog(filename string, frameRate float64) ([]*segmenter.Event, error) {
	f, err := os.Open(filename)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	r := csv.NewReader(f)
	r.FieldsPerRecord = -1
	events := []*segmenter.Event{}
	first := true
	for {
		rec, err := r.Read()
		if errors.Is(err, io.EOF) {
			break
		} else if err != nil {
			return nil, err
		}
		if first {
			first = false
			if len(rec) != 0 && rec[0] == Header[0] {
				continue
			}
		}
		ev, err := DecodeRecord(rec, frameRate)
		if err != nil {
			return nil, err
		}
		events = append(events, ev)
	}
	return events, nil
}
