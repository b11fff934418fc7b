package rbac

import "testing"

func TestCan(t *testing.T) {
	cases := []struct {
		name   string
		role   Role
		action Action
		allow  bool
	}{
		{name: "participant participates", role: RoleParticipant, action: ActionParticipate, allow: true},
		{name: "participant reads results", role: RoleParticipant, action: ActionReadResults, allow: false},
		{name: "researcher reads results", role: RoleResearcher, action: ActionReadResults, allow: true},
		{name: "researcher exports", role: RoleResearcher, action: ActionExport, allow: true},
		{name: "researcher uploads stimuli", role: RoleResearcher, action: ActionManageStimuli, allow: true},
		{name: "researcher manages accounts", role: RoleResearcher, action: ActionManageAccounts, allow: false},
		{name: "researcher participates", role: RoleResearcher, action: ActionParticipate, allow: false},
		{name: "admin manages accounts", role: RoleAdmin, action: ActionManageAccounts, allow: true},
		{name: "admin exports", role: RoleAdmin, action: ActionExport, allow: true},
		{name: "admin participates", role: RoleAdmin, action: ActionParticipate, allow: false},
		{name: "unknown role", role: Role("guest"), action: ActionReadResults, allow: false},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := Can(tc.role, tc.action); got != tc.allow {
				t.Fatalf("Can(%q, %q) = %v, want %v", tc.role, tc.action, got, tc.allow)
			}
		})
	}
}

func TestNormalize(t *testing.T) {
	for input, want := range map[string]Role{
		"admin":      RoleAdmin,
		"researcher": RoleResearcher,
		"":           RoleParticipant,
		"root":       RoleParticipant,
	} {
		if got := Normalize(input); got != want {
			t.Fatalf("Normalize(%q) = %q, want %q", input, got, want)
		}
	}
}
