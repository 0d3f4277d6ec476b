package eventdb

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/cyclopcam/behave/pkg/nn"
	"github.com/cyclopcam/behave/server/behavior"
	"github.com/cyclopcam/behave/server/segmenter"
	"github.com/cyclopcam/dbh"
	"github.com/cyclopcam/logs"
	"github.com/google/go-cmp/cmp"
	"github.com/stretchr/testify/require"
)

func testEvent() *segmenter.Event {
	return &segmenter.Event{
		StartFrame: 1234,
		EndFrame:   1789,
		Behavior:   "Drinking",
		FrameRate:  25,
		Snapshot: behavior.Snapshot{
			Subject: &behavior.Participant{Class: "Pig-standing", Center: nn.Point{X: 321, Y: 177}, Confidence: 0.8734123},
			Targets: [2]*behavior.Participant{
				{Class: "Water-faucets", Center: nn.Point{X: 400, Y: -3}, Confidence: 0.1},
			},
			Artifact: &behavior.Participant{Class: "feces", Center: nn.Point{X: 0, Y: 0}, Confidence: 0.45},
		},
	}
}

func TestRecordRoundTrip(t *testing.T) {
	ev := testEvent()
	rec := EncodeRecord(ev)
	require.Len(t, rec, len(Header))
	require.Equal(t, "1234", rec[0])
	require.Equal(t, "1789", rec[1])
	require.Equal(t, "Drinking", rec[4])
	require.Equal(t, "(321,177)", rec[6])
	require.Equal(t, "(400,-3)", rec[8])
	// Absent second target
	require.Equal(t, "", rec[10])
	require.Equal(t, "", rec[11])

	dec, err := DecodeRecord(rec, ev.FrameRate)
	require.NoError(t, err)
	require.Equal(t, ev, dec)

	// Time columns
	require.Equal(t, formatFloat(ev.StartMinutes()), rec[2])
	require.Equal(t, formatFloat(ev.EndMinutes()), rec[3])
	require.Equal(t, formatFloat(ev.DurationMinutes()), rec[5])
}

func TestRecordCanonicalColumnsOnly(t *testing.T) {
	ev := testEvent()
	rec := EncodeRecord(ev)[:numCanonicalColumns]
	dec, err := DecodeRecord(rec, ev.FrameRate)
	require.NoError(t, err)
	require.Equal(t, ev.StartFrame, dec.StartFrame)
	require.Equal(t, ev.Snapshot.Subject.Center, dec.Snapshot.Subject.Center)
	require.Equal(t, ev.Snapshot.Subject.Confidence, dec.Snapshot.Subject.Confidence)
	require.Equal(t, "", dec.Snapshot.Subject.Class)
	require.Nil(t, dec.Snapshot.Targets[1])
}

func TestRecordInvalid(t *testing.T) {
	_, err := DecodeRecord([]string{"1", "2"}, 25)
	require.Error(t, err)

	rec := EncodeRecord(testEvent())
	rec[0] = "x"
	_, err = DecodeRecord(rec, 25)
	require.Error(t, err)

	rec = EncodeRecord(testEvent())
	rec[6] = "321,177"
	_, err = DecodeRecord(rec, 25)
	require.Error(t, err)
}

func TestCSVLog(t *testing.T) {
	filename := filepath.Join(t.TempDir(), "run", "events.csv")
	log := logs.NewTestingLog(t)

	c, err := OpenCSVLog(log, filename)
	require.NoError(t, err)
	ev1 := testEvent()
	ev2 := testEvent()
	ev2.StartFrame = 2000
	ev2.EndFrame = 2100
	ev2.Snapshot = behavior.Snapshot{}
	require.NoError(t, c.Write(ev1))
	require.NoError(t, c.Write(ev2))
	require.NoError(t, c.Close())

	// Re-open and append. The header must not be written twice.
	c, err = OpenCSVLog(log, filename)
	require.NoError(t, err)
	ev3 := testEvent()
	ev3.StartFrame = 3000
	ev3.EndFrame = 3001
	require.NoError(t, c.Write(ev3))
	require.NoError(t, c.Close())

	events, err := ReadCSVLog(filename, 25)
	require.NoError(t, err)
	if diff := cmp.Diff([]*segmenter.Event{ev1, ev2, ev3}, events); diff != "" {
		t.Errorf("Event log mismatch (-want +got):\n%s", diff)
	}

	raw, err := os.ReadFile(filename)
	require.NoError(t, err)
	require.Contains(t, string(raw), "start_frame,end_frame,start_time_min")
}

func TestEventDB(t *testing.T) {
	dbFile := filepath.Join(t.TempDir(), "events.sqlite")
	log := logs.NewTestingLog(t)

	db, err := NewEventDB(log, dbh.MakeSqliteConfig(dbFile), "test1.jsonl")
	require.NoError(t, err)
	run1 := db.RunID()
	require.NotEmpty(t, run1)

	ev := testEvent()
	db.Add(ev)
	ev2 := testEvent()
	ev2.StartFrame = 5000
	ev2.EndFrame = 5100
	db.Add(ev2)
	// Close must flush pending events
	db.Close()
	db.Close()

	// Second run, into the same aggregate database
	db, err = NewEventDB(log, dbh.MakeSqliteConfig(dbFile), "test2.jsonl")
	require.NoError(t, err)
	defer db.Close()
	require.NotEqual(t, run1, db.RunID())

	n, err := db.Count(run1)
	require.NoError(t, err)
	require.Equal(t, int64(2), n)
	n, err = db.Count(db.RunID())
	require.NoError(t, err)
	require.Equal(t, int64(0), n)

	recent, err := db.Recent(10)
	require.NoError(t, err)
	require.Len(t, recent, 2)
	// Newest first
	require.Equal(t, int64(5000), recent[0].StartFrame)
	require.Equal(t, "test1.jsonl", recent[0].Source)
	require.Equal(t, run1, recent[0].RunID)
	require.Equal(t, ev, recent[1].SegmenterEvent(25))
}

func TestSummarize(t *testing.T) {
	require.Equal(t, "No events", Summarize(nil).String())

	two := behavior.Snapshot{}
	two.Targets[1] = &behavior.Participant{Class: "Water-faucets"}
	events := []*segmenter.Event{
		{StartFrame: 0, EndFrame: 20, Behavior: "Drinking", FrameRate: 10},
		{StartFrame: 100, EndFrame: 160, Behavior: "Drinking", FrameRate: 10, Snapshot: two},
		{StartFrame: 200, EndFrame: 240, Behavior: "Eating", FrameRate: 10},
	}
	s := Summarize(events)
	require.Equal(t, 3, s.NumEvents)
	require.Equal(t, 4.0, s.MeanSeconds)
	require.InDelta(t, 1.633, s.StdDevSeconds, 0.001)
	require.Equal(t, 6.0, s.LongestSeconds)
	require.InDelta(t, 0.2, s.TotalMinutes, 1e-9)
	require.Equal(t, map[string]int{"Drinking": 2, "Eating": 1}, s.ByBehavior)
	require.Equal(t, "Drinking", s.CommonBehavior)
	require.Equal(t, 1, s.TwoTargetEvents)
}
