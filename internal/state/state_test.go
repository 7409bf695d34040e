package state

import (
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestApplyMergesDeltas(t *testing.T) {
	s := &RunState{FeatureID: "feat-1", RepoPath: "/repo", SpecDir: "/spec"}
	s.Apply(Delta{
		CurrentPhase: PhaseAnalyze,
		Logs:         []string{"analyze started"},
	})
	s.Apply(Delta{
		Logs:      []string{"analyze finished"},
		LastError: StringPtr(""),
	})
	if s.CurrentPhase != PhaseAnalyze {
		t.Fatalf("phase = %q", s.CurrentPhase)
	}
	if len(s.Logs) != 2 || s.Logs[0] != "analyze started" {
		t.Fatalf("logs = %v", s.Logs)
	}

	s.Apply(Delta{
		FixAttempts: map[string]int{PhaseImplement: 1},
		FixHistory: []FixHistoryEntry{{
			Attempt: 1, Subject: PhaseImplement, ErrorSummary: "exit status 2",
			StartedAt: time.Now().UTC(), Outcome: FixOutcomeFixed,
		}},
	})
	if s.FixAttempts[PhaseImplement] != 1 || len(s.FixHistory) != 1 {
		t.Fatalf("fix state not merged: %+v", s)
	}
}

func TestWorkDirPrefersWorktree(t *testing.T) {
	s := &RunState{RepoPath: "/repo"}
	if s.WorkDir() != "/repo" {
		t.Fatalf("got %q", s.WorkDir())
	}
	s.WorkTreePath = "/wt"
	if s.WorkDir() != "/wt" {
		t.Fatalf("got %q", s.WorkDir())
	}
}

func TestPRRecordAbsentFieldsRoundTrip(t *testing.T) {
	pr := PRRecord{URL: "https://github.com/o/r/pull/7", Number: 7}
	b, err := json.Marshal(pr)
	if err != nil {
		t.Fatal(err)
	}
	// Absent optional fields must not appear as null placeholders.
	for _, forbidden := range []string{"ciStatus", "ciFixAttempts", "ciFixHistory", "commitSha"} {
		if strings.Contains(string(b), forbidden) {
			t.Fatalf("absent field %q serialized: %s", forbidden, b)
		}
	}

	pr.CIFixAttempts = 2
	pr.CIFixHistory = []FixHistoryEntry{
		{Attempt: 1, Subject: "ci", ErrorSummary: "lint failed", StartedAt: time.Now().UTC(), Outcome: FixOutcomeFailed},
		{Attempt: 2, Subject: "ci", ErrorSummary: "lint failed", StartedAt: time.Now().UTC(), Outcome: FixOutcomeFixed},
	}
	b, err = json.Marshal(pr)
	if err != nil {
		t.Fatal(err)
	}
	var got PRRecord
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got.CIFixAttempts != 2 || len(got.CIFixHistory) != 2 {
		t.Fatalf("round trip lost CI fix state: %+v", got)
	}
	if got.CIFixHistory[0].Outcome != FixOutcomeFailed || got.CIFixHistory[1].Outcome != FixOutcomeFixed {
		t.Fatalf("history order not preserved: %+v", got.CIFixHistory)
	}
}

func TestCompletedPhasesLedger(t *testing.T) {
	dir := t.TempDir()

	phases, err := CompletedPhases(dir)
	if err != nil {
		t.Fatal(err)
	}
	if phases != nil {
		t.Fatalf("expected nil for missing ledger, got %v", phases)
	}

	for _, p := range []string{PhaseAnalyze, PhaseRequirements, PhaseAnalyze} {
		if err := MarkPhaseCompleted(dir, p); err != nil {
			t.Fatal(err)
		}
	}
	phases, err = CompletedPhases(dir)
	if err != nil {
		t.Fatal(err)
	}
	if len(phases) != 2 || phases[0] != PhaseAnalyze || phases[1] != PhaseRequirements {
		t.Fatalf("ledger = %v", phases)
	}

	done, err := PhaseCompleted(dir, PhaseRequirements)
	if err != nil || !done {
		t.Fatalf("done=%v err=%v", done, err)
	}
	done, err = PhaseCompleted(dir, PhaseMerge)
	if err != nil || done {
		t.Fatalf("merge should not be completed: done=%v err=%v", done, err)
	}

	// No temp residue from atomic writes.
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatal(err)
	}
	for _, e := range entries {
		if strings.Contains(e.Name(), ".tmp-") {
			t.Fatalf("leftover temp file: %s", e.Name())
		}
	}
}

func TestWriteJSONAtomic(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "doc.json")
	if err := WriteJSONAtomic(path, map[string]int{"a": 1}); err != nil {
		t.Fatal(err)
	}
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	var got map[string]int
	if err := json.Unmarshal(b, &got); err != nil {
		t.Fatal(err)
	}
	if got["a"] != 1 {
		t.Fatalf("got %v", got)
	}
}
