package bundle

import "testing"

func TestMapProjectStatus(t *testing.T) {
	cases := []struct{ input, want string }{
		{"Active", StatusInProgress},
		{"active", StatusInProgress},
		{"In Progress", StatusInProgress},
		{"Complete", StatusCompleted},
		{"Completed", StatusCompleted},
		{"Done", StatusCompleted},
		{"Paused", StatusOnHold},
		{"On Hold", StatusOnHold},
		{"Planned", StatusPlanning},
		{"", StatusPlanning},
		{"SomethingNew", StatusPlanning},
	}
	for _, tc := range cases {
		if got := MapProjectStatus(tc.input); got != tc.want {
			t.Errorf("MapProjectStatus(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestMapStepStatus(t *testing.T) {
	cases := []struct{ input, want string }{
		{"Complete", StepCompleted},
		{"Active", StepInProgress},
		{"Blocked", StepBlocked},
		{"Failed", StepError},
		{"Planned", StepNotStarted},
		{"", StepNotStarted},
		{"no-idea", StepNotStarted},
		{"  Done  ", StepCompleted},
	}
	for _, tc := range cases {
		if got := MapStepStatus(tc.input); got != tc.want {
			t.Errorf("MapStepStatus(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

// Every input maps to a defined member of the canonical enumeration; nothing
// undefined may ever reach the database.
func TestStatusMappingTotality(t *testing.T) {
	projectCanonical := map[string]bool{
		StatusPlanning: true, StatusInProgress: true, StatusCompleted: true, StatusOnHold: true,
	}
	stepCanonical := map[string]bool{
		StepNotStarted: true, StepInProgress: true, StepBlocked: true, StepCompleted: true, StepError: true,
	}
	inputs := []string{"", "Active", "ACTIVE", "Complete", "garbage", "None", "null", "42", "On Hold", "blocked", "Error"}
	for _, input := range inputs {
		if !projectCanonical[MapProjectStatus(input)] {
			t.Errorf("MapProjectStatus(%q) = %q is not canonical", input, MapProjectStatus(input))
		}
		if !stepCanonical[MapStepStatus(input)] {
			t.Errorf("MapStepStatus(%q) = %q is not canonical", input, MapStepStatus(input))
		}
	}
}

func TestMapEntryType(t *testing.T) {
	cases := []struct{ input, want string }{
		{"Review", "review"},
		{"AI Session", "ai-session"},
		{"ai-session", "ai-session"},
		{"Decision", "decision"},
		{"architecture", "architecture"},
		{"", "system"},
	}
	for _, tc := range cases {
		if got := MapEntryType(tc.input); got != tc.want {
			t.Errorf("MapEntryType(%q) = %q, want %q", tc.input, got, tc.want)
		}
	}
}

func TestQAPassed(t *testing.T) {
	for _, passing := range []string{"Pass", "passed", "Complete", "done"} {
		if !QAPassed(passing) {
			t.Errorf("QAPassed(%q) = false, want true", passing)
		}
	}
	for _, failing := range []string{"", "Failed", "fail", "pending", "in review"} {
		if QAPassed(failing) {
			t.Errorf("QAPassed(%q) = true, want false", failing)
		}
	}
}
