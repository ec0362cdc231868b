package netlog

import (
	"bytes"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/crimson-sun/speedtrace/internal/engine/testdata"
	"github.com/crimson-sun/speedtrace/internal/model"
)

func TestLoadMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "absent.json"))
	if !errors.Is(err, ErrMissingFile) {
		t.Fatalf("err = %v, want ErrMissingFile", err)
	}
}

func TestLoadSample(t *testing.T) {
	path := testdata.WriteFile(t, "netlog.json", testdata.SampleCapture())
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Repaired {
		t.Error("valid sample reported as repaired")
	}
	if c.Path != path {
		t.Errorf("Path = %q", c.Path)
	}
	if len(c.Events) != 27 {
		t.Errorf("events = %d, want 27", len(c.Events))
	}
	if len(c.DecodeErrors) != 0 {
		t.Errorf("decode errors = %v", c.DecodeErrors)
	}
	if c.Client.Name != "Chromium" || c.Client.OS != "Linux" {
		t.Errorf("client = %+v", c.Client)
	}
}

func TestLoadPersistsRepair(t *testing.T) {
	full := testdata.SpeedTest("download").JSON()
	// Chop the closing "]}" and leave the writer's trailing comma.
	truncated := append([]byte(nil), bytes.TrimSuffix(full, []byte("]}"))...)
	truncated = append(truncated, ',', '\n')
	path := testdata.WriteFile(t, "netlog.json", truncated)

	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !c.Repaired {
		t.Fatal("expected Repaired = true")
	}
	onDisk, _ := os.ReadFile(path)
	if !bytes.Equal(onDisk, full) {
		t.Fatalf("repaired file differs from the complete capture:\n%s", onDisk)
	}

	// Second load sees a valid file.
	c, err = Load(path)
	if err != nil {
		t.Fatal(err)
	}
	if c.Repaired {
		t.Fatal("repaired twice")
	}
}

func TestLoadUnrepairableLeavesFile(t *testing.T) {
	garbage := []byte("not a capture at all")
	path := testdata.WriteFile(t, "netlog.json", garbage)

	_, err := Load(path)
	if !errors.Is(err, ErrMalformedCapture) {
		t.Fatalf("err = %v, want ErrMalformedCapture", err)
	}
	onDisk, _ := os.ReadFile(path)
	if !bytes.Equal(onDisk, garbage) {
		t.Fatal("unrepairable capture was overwritten")
	}
}

func TestDecodeIsolatesBadEvents(t *testing.T) {
	b := testdata.NewCapture()
	for i := 0; i < 100; i++ {
		if i == 42 {
			b.AddRaw("this event is a string")
			continue
		}
		b.Add("REQUEST_ALIVE", int64(i), int64(i+1), nil)
	}

	c, err := Decode(b.JSON())
	if err != nil {
		t.Fatalf("Decode: %v", err)
	}
	if len(c.Events) != 99 {
		t.Errorf("events = %d, want 99", len(c.Events))
	}
	if len(c.DecodeErrors) != 1 || c.DecodeErrors[0].Index != 42 {
		t.Errorf("decode errors = %+v, want one at index 42", c.DecodeErrors)
	}
}

func TestDecodeEventShapes(t *testing.T) {
	data := []byte(`{"constants":{},"events":[
		{"type":1,"time":"1500","source":{"id":7,"type":1}},
		{"type":1,"time":1501,"source":{"id":8}},
		{"type":1,"time":1502.9},
		{"time":"1503","source":{"id":9}},
		{"type":1,"source":{"id":10}},
		{"type":1,"time":"soon"},
		{"type":1,"time":"1504","params":"nope"},
		{"type":1,"time":"1505","source":{"id":11},"params":{"byte_count":"12","url":"https://x/download?nocache=1","current_position":64}}
	]}`)
	c, err := Decode(data)
	if err != nil {
		t.Fatal(err)
	}
	if len(c.Events) != 4 {
		t.Fatalf("events = %d, want 4 (errors %+v)", len(c.Events), c.DecodeErrors)
	}
	if len(c.DecodeErrors) != 4 {
		t.Fatalf("decode errors = %d, want 4", len(c.DecodeErrors))
	}

	if c.Events[0].Time != 1500 || c.Events[1].Time != 1501 || c.Events[2].Time != 1502 {
		t.Errorf("times = %d %d %d", c.Events[0].Time, c.Events[1].Time, c.Events[2].Time)
	}
	if !c.Events[0].HasSource || c.Events[0].Source.ID != 7 {
		t.Errorf("source = %+v", c.Events[0].Source)
	}
	if c.Events[2].HasSource {
		t.Error("event without source reported HasSource")
	}

	last := c.Events[3]
	if last.Params.ByteCount != nil {
		t.Error("string byte_count should be left unset")
	}
	if last.Params.URL != "https://x/download?nocache=1" {
		t.Errorf("url = %q", last.Params.URL)
	}
	if last.Params.CurrentPosition == nil || *last.Params.CurrentPosition != 64 {
		t.Error("current_position not decoded")
	}
	if last.Index != 7 {
		t.Errorf("index = %d, want 7", last.Index)
	}
}

func TestDecodeMalformedRoot(t *testing.T) {
	_, err := Decode([]byte(`{"events":{"not":"an array"}}`))
	if !errors.Is(err, ErrMalformedCapture) {
		t.Fatalf("err = %v, want ErrMalformedCapture", err)
	}
}

func TestLoadURLList(t *testing.T) {
	path := testdata.WriteFile(t, "download_urls.json", []byte(`{
		"download":["https://x/download?nocache=1"],
		"upload":[],
		"load":["https://x/hello?nocache=2"],
		"unload":["https://x/hello?nocache=1"]
	}`))
	list, err := LoadURLList(path)
	if err != nil {
		t.Fatal(err)
	}
	if got := list.Payload(model.Download); len(got) != 1 {
		t.Errorf("download = %v", got)
	}
	if got := list.Idle(); len(got) != 1 || got[0] != "https://x/hello?nocache=1" {
		t.Errorf("idle fallback = %v", got)
	}
	if got := list.Loaded(); len(got) != 1 || got[0] != "https://x/hello?nocache=2" {
		t.Errorf("loaded fallback = %v", got)
	}

	if _, err := LoadURLList(filepath.Join(t.TempDir(), "nope.json")); !errors.Is(err, ErrMissingFile) {
		t.Errorf("missing list err = %v", err)
	}
}
