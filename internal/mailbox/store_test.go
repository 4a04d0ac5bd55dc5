package mailbox

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestFileStoreMissingFileReadsEmpty(t *testing.T) {
	store, err := NewFileStore(filepath.Join(t.TempDir(), "mailbox.json"))
	if err != nil {
		t.Fatalf("new file store failed: %v", err)
	}
	jobs, err := store.Read(context.Background())
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(jobs) != 0 {
		t.Fatalf("expected empty mailbox, got %d jobs", len(jobs))
	}
}

func TestFileStorePersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailbox.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new file store failed: %v", err)
	}
	relay := New(KindRelay)
	relay.SubjectID = "42"
	relay.Creator = "nova"
	relay.Title = "hello"
	relay.Media = &MediaRef{Kind: MediaImage, Ref: "file-1"}
	dm := New(KindDM)
	dm.SubjectID = "42"
	dm.Creator = "nova"
	dm.Message = "hi"
	if err := store.Append(context.Background(), relay, dm); err != nil {
		t.Fatalf("append failed: %v", err)
	}

	reopened, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("reopen failed: %v", err)
	}
	jobs, err := reopened.Read(context.Background())
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(jobs) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(jobs))
	}
	if jobs[0].Kind != KindRelay || jobs[0].Title != "hello" {
		t.Fatalf("unexpected first job: %+v", jobs[0])
	}
	if jobs[1].Kind != KindDM || jobs[1].Message != "hi" {
		t.Fatalf("unexpected second job: %+v", jobs[1])
	}
}

func TestFileStoreRetainedRecordsStayByteIdentical(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailbox.json")
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new file store failed: %v", err)
	}
	job := New(KindSubChange)
	job.SubjectID = "7"
	job.Creator = "nova"
	job.OldPrice = "5"
	job.NewPrice = "9"
	if err := store.Append(context.Background(), job); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	before, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file failed: %v", err)
	}

	// Read the snapshot and write it straight back, as a no-op cycle does.
	jobs, err := store.Read(context.Background())
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if err := store.Write(context.Background(), jobs); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	after, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file failed: %v", err)
	}
	if !bytes.Equal(before, after) {
		t.Fatalf("retained records changed on disk:\nbefore: %s\nafter:  %s", before, after)
	}
}

func TestFileStoreCarriesMalformedRecords(t *testing.T) {
	path := filepath.Join(t.TempDir(), "mailbox.json")
	raw := `[{"kind":"relay","subject_id":"42"},{"no_kind":true},{"kind":"future_kind","subject_id":"9"}]`
	if err := os.WriteFile(path, []byte(raw), 0o644); err != nil {
		t.Fatalf("seed mailbox failed: %v", err)
	}
	store, err := NewFileStore(path)
	if err != nil {
		t.Fatalf("new file store failed: %v", err)
	}
	jobs, err := store.Read(context.Background())
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if len(jobs) != 3 {
		t.Fatalf("expected 3 records, got %d", len(jobs))
	}
	if !jobs[0].Malformed() {
		t.Fatalf("relay without required fields should be malformed")
	}
	if !jobs[1].Malformed() {
		t.Fatalf("record without kind should be malformed")
	}
	if jobs[2].Malformed() {
		t.Fatalf("unknown kind should pass through, got malformed")
	}

	// Writing back must not lose or alter the malformed records.
	if err := store.Write(context.Background(), jobs); err != nil {
		t.Fatalf("write failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read file failed: %v", err)
	}
	var records []json.RawMessage
	if err := json.Unmarshal(data, &records); err != nil {
		t.Fatalf("written mailbox is not a JSON array: %v", err)
	}
	if len(records) != 3 {
		t.Fatalf("expected 3 records after rewrite, got %d", len(records))
	}
	if string(records[1]) != `{"no_kind":true}` {
		t.Fatalf("malformed record rewritten: %s", records[1])
	}
}

func TestMemoryStoreSnapshotIsIsolated(t *testing.T) {
	store := NewMemoryStore()
	job := New(KindDashRefresh)
	job.SubjectID = "42"
	if err := store.Append(context.Background(), job); err != nil {
		t.Fatalf("append failed: %v", err)
	}
	jobs, err := store.Read(context.Background())
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	jobs[0].SubjectID = "mutated"
	again, err := store.Read(context.Background())
	if err != nil {
		t.Fatalf("read failed: %v", err)
	}
	if again[0].SubjectID != "42" {
		t.Fatalf("memory store leaked its backing slice")
	}
}
