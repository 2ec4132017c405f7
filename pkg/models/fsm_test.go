package models

import "testing"

func TestValidateManagerTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    ManagerState
		to      ManagerState
		wantErr bool
	}{
		// Valid transitions
		{"Uninitialized to Initializing", ManagerUninitialized, ManagerInitializing, false},
		{"Initializing to Ready", ManagerInitializing, ManagerReady, false},
		{"Initializing superseded", ManagerInitializing, ManagerInitializing, false},
		{"Initializing stalled", ManagerInitializing, ManagerUninitialized, false},
		{"Ready to Loading", ManagerReady, ManagerLoading, false},
		{"Ready to rebuild", ManagerReady, ManagerInitializing, false},
		{"Loading to Ready", ManagerLoading, ManagerReady, false},
		{"Loading teardown", ManagerLoading, ManagerUninitialized, false},

		// Invalid transitions
		{"Uninitialized to Ready", ManagerUninitialized, ManagerReady, true},
		{"Uninitialized to Loading", ManagerUninitialized, ManagerLoading, true},
		{"Initializing to Loading", ManagerInitializing, ManagerLoading, true},
		{"Ready to Ready", ManagerReady, ManagerReady, true},
		{"Unknown source", ManagerState("bogus"), ManagerReady, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateManagerTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidateManagerTransition(%s, %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestValidatePhaseTransition(t *testing.T) {
	tests := []struct {
		name    string
		from    Phase
		to      Phase
		wantErr bool
	}{
		{"Idle to Playing", PhaseIdle, PhasePlaying, false},
		{"Playing to Blackout", PhasePlaying, PhaseBlackout, false},
		{"Playing to Complete", PhasePlaying, PhaseComplete, false},
		{"Playing to Idle", PhasePlaying, PhaseIdle, false},
		{"Blackout to Playing", PhaseBlackout, PhasePlaying, false},
		{"Blackout to Complete", PhaseBlackout, PhaseComplete, false},
		{"Complete to Idle", PhaseComplete, PhaseIdle, false},

		{"Idle to Complete", PhaseIdle, PhaseComplete, true},
		{"Idle to Blackout", PhaseIdle, PhaseBlackout, true},
		{"Complete to Playing", PhaseComplete, PhasePlaying, true},
		{"Complete to Complete", PhaseComplete, PhaseComplete, true},
		{"Playing to Playing", PhasePlaying, PhasePlaying, true},
		{"Blackout to Blackout", PhaseBlackout, PhaseBlackout, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePhaseTransition(tt.from, tt.to)
			if (err != nil) != tt.wantErr {
				t.Errorf("ValidatePhaseTransition(%s, %s) error = %v, wantErr %v", tt.from, tt.to, err, tt.wantErr)
			}
		})
	}
}

func TestCatalogValidate(t *testing.T) {
	tests := []struct {
		name    string
		catalog Catalog
		wantErr bool
	}{
		{"default catalog", DefaultCatalog(), false},
		{"empty", Catalog{}, true},
		{"missing answer", Catalog{{ID: "a", Start: 0, Stop: 1}}, true},
		{"stop before start", Catalog{{ID: "a", Answer: "Line", Start: 2, Stop: 1}}, true},
		{"negative start", Catalog{{ID: "a", Answer: "Line", Start: -1, Stop: 1}}, true},
		{"duplicate ids", Catalog{
			{ID: "a", Answer: "Line", Start: 0, Stop: 1},
			{ID: "a", Answer: "Cut", Start: 0, Stop: 1},
		}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.catalog.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestPracticeItemMatches(t *testing.T) {
	item := PracticeItem{ID: "a", Answer: "Set Over", Start: 0, Stop: 1}
	for _, candidate := range []string{"Set Over", "set over", "  SET OVER "} {
		if !item.Matches(candidate) {
			t.Errorf("Matches(%q) = false, want true", candidate)
		}
	}
	for _, candidate := range []string{"", "Set", "Jump Set"} {
		if item.Matches(candidate) {
			t.Errorf("Matches(%q) = true, want false", candidate)
		}
	}
}

func TestClampStop(t *testing.T) {
	if got := ClampStop(5, 0); got != 5 {
		t.Errorf("ClampStop(5, 0) = %v, want 5", got)
	}
	if got := ClampStop(5, 3.5); got != 3.5 {
		t.Errorf("ClampStop(5, 3.5) = %v, want 3.5", got)
	}
	if got := ClampStop(2, 3.5); got != 2 {
		t.Errorf("ClampStop(2, 3.5) = %v, want 2", got)
	}
}

func TestPlaybackStateFromCode(t *testing.T) {
	tests := []struct {
		code int
		want PlaybackState
	}{
		{-1, StateUnstarted},
		{0, StateEnded},
		{1, StatePlaying},
		{2, StatePaused},
		{3, StateBuffering},
		{5, StateCued},
		{4, StateUnknown},
		{42, StateUnknown},
	}
	for _, tt := range tests {
		if got := PlaybackStateFromCode(tt.code); got != tt.want {
			t.Errorf("PlaybackStateFromCode(%d) = %v, want %v", tt.code, got, tt.want)
		}
	}
}

func TestParseLevel(t *testing.T) {
	if l, err := ParseLevel("Advanced"); err != nil || l != LevelAdvanced {
		t.Errorf("ParseLevel(Advanced) = %v, %v", l, err)
	}
	if l, err := ParseLevel(""); err != nil || l != LevelStandard {
		t.Errorf("ParseLevel(\"\") = %v, %v", l, err)
	}
	if _, err := ParseLevel("expert"); err == nil {
		t.Error("ParseLevel(expert) expected error")
	}
}
