package rbac

type Role string
type Action string

const (
	RoleParticipant Role = "participant"
	RoleResearcher  Role = "researcher"
	RoleAdmin       Role = "admin"
)

const (
	// ActionParticipate drives one's own session.
	ActionParticipate    Action = "participate"
	ActionReadResults    Action = "read_results"
	ActionExport         Action = "export"
	ActionManageStimuli  Action = "manage_stimuli"
	ActionManageAccounts Action = "manage_accounts"
)

// Can reports whether role may perform action. Researchers read and export
// results and manage stimuli; admins may also manage accounts. Only
// participants run sessions.
func Can(role Role, action Action) bool {
	switch role {
	case RoleAdmin:
		return action != ActionParticipate
	case RoleResearcher:
		return action == ActionReadResults || action == ActionExport || action == ActionManageStimuli
	case RoleParticipant:
		return action == ActionParticipate
	default:
		return false
	}
}

// Normalize maps unknown role strings to the least privileged role.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleParticipant, RoleResearcher, RoleAdmin:
		return Role(role)
	default:
		return RoleParticipant
	}
}
