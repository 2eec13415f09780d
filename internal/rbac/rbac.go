// Package rbac maps workspace roles to the actions they may perform.
package rbac

type Role string
type Action string

const (
	RoleViewer  Role = "viewer"
	RoleAnalyst Role = "analyst"
	RoleEditor  Role = "editor"
	RoleOwner   Role = "owner"
)

const (
	// ActionRead covers listing and opening forms and their definitions.
	ActionRead Action = "read"
	// ActionBuild covers creating forms and editing or reordering fields.
	ActionBuild   Action = "build"
	ActionPublish Action = "publish"
	// ActionAnalyze covers responses, exports, search and dashboards.
	ActionAnalyze Action = "analyze"
	ActionManage  Action = "manage"
)

var grants = map[Role]map[Action]bool{
	RoleViewer:  {ActionRead: true},
	RoleAnalyst: {ActionRead: true, ActionAnalyze: true},
	RoleEditor:  {ActionRead: true, ActionBuild: true, ActionPublish: true, ActionAnalyze: true},
}

func Can(role Role, action Action) bool {
	if role == RoleOwner {
		return true
	}
	return grants[role][action]
}

// Normalize maps unknown or empty roles to viewer.
func Normalize(role string) Role {
	switch Role(role) {
	case RoleViewer, RoleAnalyst, RoleEditor, RoleOwner:
		return Role(role)
	default:
		return RoleViewer
	}
}
