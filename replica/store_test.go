package replica

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
)

func TestStoreSaveLoadRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	want := []string{"alice", "bob"}
	data, _ := json.Marshal(want)
	if err := store.Save(SlotUsers, data); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	var got []string
	store.Load(SlotUsers, &got)
	if len(got) != 2 || got[0] != "alice" || got[1] != "bob" {
		t.Fatalf("expected %v, got %v", want, got)
	}
}

func TestStoreChannelsSlotUsesUsersPayloadKey(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	data, _ := json.Marshal([]string{"general"})
	if err := store.Save(SlotChannels, data); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	raw, err := os.ReadFile(filepath.Join(dir, SlotChannels.filename()))
	if err != nil {
		t.Fatalf("failed to read slot file: %v", err)
	}

	var w wrapper
	if err := json.Unmarshal(raw, &w); err != nil {
		t.Fatalf("malformed slot file: %v", err)
	}
	if w.Data.Users == nil {
		t.Fatalf("expected channels slot to be written under the \"users\" payload key on disk")
	}

	var channels []string
	store.Load(SlotChannels, &channels)
	if len(channels) != 1 || channels[0] != "general" {
		t.Fatalf("expected [general], got %v", channels)
	}
}

func TestStoreLoadMissingSlotLeavesZeroValue(t *testing.T) {
	store, err := NewStore(t.TempDir())
	if err != nil {
		t.Fatalf("NewStore failed: %v", err)
	}

	var users []string
	store.Load(SlotUsers, &users)
	if users != nil {
		t.Fatalf("expected nil slice for a never-written slot, got %v", users)
	}
}
