package convo_test

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/storyloom/storyloom/pkg/convo"
	"github.com/storyloom/storyloom/pkg/storage"
)

func TestSnapshot_BranchesAsEntriesArray(t *testing.T) {
	e := convo.New(storage.NewMemory())
	if _, err := e.Initialize(convo.Config{Topic: "wire"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SendMessage("hello", convo.RoleUser); err != nil {
		t.Fatal(err)
	}
	if _, err := e.CreateBranch("alt", ""); err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(e.Export())
	if err != nil {
		t.Fatal(err)
	}

	// Branches serialize as [[id, branch], ...], not as an object.
	var raw struct {
		Thread struct {
			Branches [][]json.RawMessage `json:"branches"`
		} `json:"thread"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatalf("branches are not an entries array: %v", err)
	}
	if len(raw.Thread.Branches) != 2 {
		t.Fatalf("got %d branch entries, want 2", len(raw.Thread.Branches))
	}
	var firstID string
	if err := json.Unmarshal(raw.Thread.Branches[0][0], &firstID); err != nil {
		t.Fatal(err)
	}
	if firstID != convo.MainBranchID {
		t.Errorf("first entry id: got %s, want main (creation order)", firstID)
	}
}

func TestSnapshot_DatesAreRFC3339(t *testing.T) {
	e := convo.New(storage.NewMemory())
	if _, err := e.Initialize(convo.Config{Topic: "dates"}); err != nil {
		t.Fatal(err)
	}
	if _, err := e.SendMessage("hello", convo.RoleUser); err != nil {
		t.Fatal(err)
	}

	data, err := json.Marshal(e.Export())
	if err != nil {
		t.Fatal(err)
	}

	var raw struct {
		Thread struct {
			Messages []struct {
				CreatedAt string `json:"createdAt"`
			} `json:"messages"`
			Metadata struct {
				Created      string `json:"created"`
				LastModified string `json:"lastModified"`
			} `json:"metadata"`
		} `json:"thread"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		t.Fatal(err)
	}
	for _, s := range []string{
		raw.Thread.Messages[0].CreatedAt,
		raw.Thread.Metadata.Created,
		raw.Thread.Metadata.LastModified,
	} {
		if _, err := time.Parse(time.RFC3339, s); err != nil {
			t.Errorf("date %q is not RFC 3339: %v", s, err)
		}
	}
}

func TestBranchEntry_RejectsMalformedPairs(t *testing.T) {
	var entries convo.BranchEntries
	if err := json.Unmarshal([]byte(`[["only-id"]]`), &entries); err == nil {
		t.Error("expected error for 1-element entry")
	}
	if err := json.Unmarshal([]byte(`[{"id": "x"}]`), &entries); err == nil {
		t.Error("expected error for object entry")
	}
	if err := json.Unmarshal([]byte(`[["id", {"name": "ok"}, "extra"]]`), &entries); err == nil {
		t.Error("expected error for 3-element entry")
	}
}
