package snapshot

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"reflect"
	"strings"
	"sync"
	"testing"
	"time"

	"smartsign/internal/model"
)

func sampleSeminars() []model.Seminar {
	return []model.Seminar{
		{
			TitleOriginal: "Jane Doe: Quantum Effects",
			Title:         "Quantum Effects",
			Speaker:       "Jane Doe, MIT",
			Date:          "2025-09-05",
			DateFormatted: "Fredag 05 sep",
			Time:          "15:00-16:00",
			Location:      "Oskar Klein, FR4",
		},
		{
			TitleOriginal: "Colloquium \"special\"",
			Title:         "Colloquium \"special\"",
			Date:          "2025-09-04",
			DateFormatted: "Torsdag 04 sep",
			Location:      "Aula",
		},
	}
}

func TestEncode_HeaderAndQuoting(t *testing.T) {
	var buf bytes.Buffer
	if err := Encode(&buf, sampleSeminars(), false); err != nil {
		t.Fatal(err)
	}
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if lines[0] != "Title_Original,Title,Speaker,Date,Date_Formatted,Time,Location" {
		t.Errorf("header = %q", lines[0])
	}
	if !strings.Contains(lines[1], `"Jane Doe, MIT"`) {
		t.Errorf("comma field not quoted: %q", lines[1])
	}
	if !strings.Contains(lines[2], `"Colloquium ""special"""`) {
		t.Errorf("quotes not escaped: %q", lines[2])
	}
}

func TestWriter_WriteAndRead(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "seminarier.csv")
	w := NewWriter(path, true)

	if err := w.Write(sampleSeminars()); err != nil {
		t.Fatalf("Write returned error: %v", err)
	}

	raw, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(raw, utf8BOM) {
		t.Error("BOM missing")
	}

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("ReadFile returned error: %v", err)
	}
	if !reflect.DeepEqual(got, sampleSeminars()) {
		t.Errorf("read back %+v", got)
	}

	entries, _ := os.ReadDir(filepath.Dir(path))
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestWriter_ByteIdenticalRewrites(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seminarier.csv")
	w := NewWriter(path, false)

	if err := w.Write(sampleSeminars()); err != nil {
		t.Fatal(err)
	}
	first, _ := os.ReadFile(path)
	if err := w.Write(sampleSeminars()); err != nil {
		t.Fatal(err)
	}
	second, _ := os.ReadFile(path)

	if !bytes.Equal(first, second) {
		t.Error("rewriting the same seminars changed the file")
	}
}

func TestWriter_HeaderOnly(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seminarier.csv")
	if err := NewWriter(path, false).Write(nil); err != nil {
		t.Fatal(err)
	}
	got, err := ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(got) != 0 {
		t.Errorf("got %d seminars, want 0", len(got))
	}
}

func TestWriter_FailedReplaceKeepsPrevious(t *testing.T) {
	dir := t.TempDir()
	// A non-empty directory at the target path makes the rename fail.
	path := filepath.Join(dir, "seminarier.csv")
	if err := os.MkdirAll(filepath.Join(path, "child"), 0o755); err != nil {
		t.Fatal(err)
	}

	if err := NewWriter(path, false).Write(sampleSeminars()); err == nil {
		t.Fatal("expected error when the target is a directory")
	}
	if info, err := os.Stat(path); err != nil || !info.IsDir() {
		t.Error("target was modified")
	}
	entries, _ := os.ReadDir(dir)
	for _, e := range entries {
		if strings.HasSuffix(e.Name(), ".tmp") {
			t.Errorf("temp file left behind: %s", e.Name())
		}
	}
}

func TestWriter_ConcurrentWritersNeverInterleave(t *testing.T) {
	path := filepath.Join(t.TempDir(), "seminarier.csv")
	a := sampleSeminars()[:1]
	b := sampleSeminars()[1:]

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			w := NewWriter(path, false)
			set := a
			if i%2 == 1 {
				set = b
			}
			if err := w.Write(set); err != nil {
				t.Errorf("Write: %v", err)
			}
		}(i)
	}
	wg.Wait()

	got, err := ReadFile(path)
	if err != nil {
		t.Fatalf("snapshot unreadable after concurrent writes: %v", err)
	}
	if !reflect.DeepEqual(got, a) && !reflect.DeepEqual(got, b) {
		t.Errorf("snapshot is a mix of writers: %+v", got)
	}
}

func TestDecode_BadHeader(t *testing.T) {
	_, err := Decode(strings.NewReader("A,B,C,D,E,F,G\n"))
	if !errors.Is(err, ErrBadHeader) {
		t.Errorf("error = %v, want ErrBadHeader", err)
	}
	if _, err := Decode(strings.NewReader("")); !errors.Is(err, ErrBadHeader) {
		t.Errorf("empty input error = %v, want ErrBadHeader", err)
	}
}

func TestBuildICS(t *testing.T) {
	stamp := time.Date(2025, 9, 3, 10, 0, 0, 0, time.UTC)
	seminars := append(sampleSeminars(), model.Seminar{
		TitleOriginal: "Open day",
		Title:         "Open day",
		Date:          "2025-09-05",
		Time:          "all day",
	})

	out := BuildICS(seminars, time.UTC, stamp)

	for _, want := range []string{
		"BEGIN:VCALENDAR",
		"MIT: Quantum Effects",
		"DTSTART:20250905T150000Z",
		"DTEND:20250905T160000Z",
		"SUMMARY:Open day",
		"DTSTART;VALUE=DATE:20250905",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("ICS missing %q:\n%s", want, out)
		}
	}
	if strings.Count(out, "BEGIN:VEVENT") != 3 {
		t.Errorf("expected 3 events:\n%s", out)
	}
	if BuildICS(seminars, time.UTC, stamp) != out {
		t.Error("BuildICS is not deterministic")
	}
}

func TestWriteICS(t *testing.T) {
	path := filepath.Join(t.TempDir(), "feed", "seminars.ics")
	if err := WriteICS(path, sampleSeminars(), time.UTC, time.Now()); err != nil {
		t.Fatal(err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(string(data), "END:VCALENDAR") {
		t.Error("feed incomplete")
	}
}
