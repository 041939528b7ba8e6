package record

import (
	"encoding/json"
	"testing"
)

// TestNew_Defaults tests that New fills in id and timestamp.
func TestNew_Defaults(t *testing.T) {
	rec, err := New(KindEntry, "", &EntryPayload{Text: "hello", Timestamp: 1000}, 0)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if rec.ID == "" {
		t.Error("ID not generated")
	}
	if rec.LastModified == 0 {
		t.Error("LastModified not set")
	}
	if rec.Kind != KindEntry {
		t.Errorf("Kind: got %s, want %s", rec.Kind, KindEntry)
	}

	p, err := rec.DecodeEntry()
	if err != nil {
		t.Fatalf("DecodeEntry failed: %v", err)
	}
	if p.Text != "hello" {
		t.Errorf("Text: got %q, want %q", p.Text, "hello")
	}
}

// TestNew_InvalidKind tests that unknown kinds are rejected.
func TestNew_InvalidKind(t *testing.T) {
	_, err := New(Kind("bookmark"), "x", &EntryPayload{}, 10)
	if err == nil {
		t.Fatal("expected error for invalid kind")
	}
}

// TestDecode_KindMismatch tests that decoding as the wrong kind fails.
func TestDecode_KindMismatch(t *testing.T) {
	rec, err := New(KindTag, "t1", &TagPayload{Name: "go"}, 10)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	if _, err := rec.DecodeEntry(); err == nil {
		t.Error("expected error decoding tag record as entry")
	}
}

// TestValidate tests envelope validation edge cases.
func TestValidate(t *testing.T) {
	cases := []struct {
		name    string
		rec     Record
		wantErr bool
	}{
		{"valid", Record{ID: "a", Kind: KindEntry, Payload: json.RawMessage(`{}`), LastModified: 1}, false},
		{"empty id", Record{ID: "", Kind: KindEntry, LastModified: 1}, true},
		{"bad kind", Record{ID: "a", Kind: "nope", LastModified: 1}, true},
		{"zero timestamp", Record{ID: "a", Kind: KindEntry}, true},
		{"bad payload", Record{ID: "a", Kind: KindEntry, Payload: json.RawMessage(`{`), LastModified: 1}, true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := tc.rec.Validate()
			if tc.wantErr && err == nil {
				t.Error("expected error, got nil")
			}
			if !tc.wantErr && err != nil {
				t.Errorf("unexpected error: %v", err)
			}
		})
	}
}

// TestTombstone_Shadows tests that equal timestamps favor the delete.
func TestTombstone_Shadows(t *testing.T) {
	ts := Tombstone{Kind: KindEntry, ID: "e1", LastModified: 100}

	if !ts.Shadows(100) {
		t.Error("tombstone should shadow an equal timestamp")
	}
	if !ts.Shadows(50) {
		t.Error("tombstone should shadow an older timestamp")
	}
	if ts.Shadows(101) {
		t.Error("tombstone should not shadow a newer timestamp")
	}
}
