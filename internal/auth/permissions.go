package auth

import (
	"fmt"
	"maps"
	"sort"
	"strings"
)

// Permission strings checked by handlers.
const (
	PermAddUser        = "add_user"
	PermEditUser       = "edit_user"
	PermDeleteUser     = "delete_user"
	PermGetAllUsers    = "get_all_users"
	PermGetDetailsUser = "get_details_user"

	PermAddRole        = "add_role"
	PermEditRole       = "edit_role"
	PermDeleteRole     = "delete_role"
	PermGetAllRoles    = "get_all_roles"
	PermGetDetailsRole = "get_details_role"

	PermAddProject        = "add_project"
	PermEditProject       = "edit_project"
	PermDeleteProject     = "delete_project"
	PermGetAllProjects    = "get_all_projects"
	PermGetDetailsProject = "get_details_project"

	PermAddTask        = "add_task"
	PermEditTask       = "edit_task"
	PermDeleteTask     = "delete_task"
	PermGetAllTasks    = "get_all_tasks"
	PermGetDetailsTask = "get_details_task"

	PermUploadFile   = "upload_file"
	PermDownloadFile = "download_file"
	PermDeleteFile   = "delete_file"
)

// Action bucket names inside a module.
const (
	ActionAll        = "ALL"
	ActionAdd        = "ADD"
	ActionEdit       = "EDIT"
	ActionDelete     = "DELETE"
	ActionGetAll     = "GET_ALL"
	ActionGetDetails = "GET_DETAILS"
	ActionUpload     = "UPLOAD"
	ActionDownload   = "DOWNLOAD"
)

// rightsTable declares, per module and action, the comma separated permissions a role may
// hold. The ALL bucket of every module enumerates the whole module. Never mutated.
var rightsTable = map[string]map[string]string{
	"users": {
		ActionAll:        JoinRights([]string{PermAddUser, PermEditUser, PermDeleteUser, PermGetAllUsers, PermGetDetailsUser}),
		ActionAdd:        PermAddUser,
		ActionEdit:       PermEditUser,
		ActionDelete:     PermDeleteUser,
		ActionGetAll:     PermGetAllUsers,
		ActionGetDetails: PermGetDetailsUser,
	},
	"roles": {
		ActionAll:        JoinRights([]string{PermAddRole, PermEditRole, PermDeleteRole, PermGetAllRoles, PermGetDetailsRole}),
		ActionAdd:        PermAddRole,
		ActionEdit:       PermEditRole,
		ActionDelete:     PermDeleteRole,
		ActionGetAll:     PermGetAllRoles,
		ActionGetDetails: PermGetDetailsRole,
	},
	"projects": {
		ActionAll:        JoinRights([]string{PermAddProject, PermEditProject, PermDeleteProject, PermGetAllProjects, PermGetDetailsProject}),
		ActionAdd:        PermAddProject,
		ActionEdit:       PermEditProject,
		ActionDelete:     PermDeleteProject,
		ActionGetAll:     PermGetAllProjects,
		ActionGetDetails: PermGetDetailsProject,
	},
	"tasks": {
		ActionAll:        JoinRights([]string{PermAddTask, PermEditTask, PermDeleteTask, PermGetAllTasks, PermGetDetailsTask}),
		ActionAdd:        PermAddTask,
		ActionEdit:       PermEditTask,
		ActionDelete:     PermDeleteTask,
		ActionGetAll:     PermGetAllTasks,
		ActionGetDetails: PermGetDetailsTask,
	},
	"files": {
		ActionAll:      JoinRights([]string{PermUploadFile, PermDownloadFile, PermDeleteFile}),
		ActionUpload:   PermUploadFile,
		ActionDownload: PermDownloadFile,
		ActionDelete:   PermDeleteFile,
	},
}

// RightsTable returns a copy of the module table. Callers may modify the result.
func RightsTable() map[string]map[string]string {
	out := make(map[string]map[string]string, len(rightsTable))
	for module, actions := range rightsTable {
		out[module] = maps.Clone(actions)
	}
	return out
}

// AllPermissions is the union of every module's ALL bucket.
func AllPermissions() map[string]struct{} {
	set := make(map[string]struct{})
	for _, actions := range rightsTable {
		for _, p := range ParseRights(actions[ActionAll]) {
			set[p] = struct{}{}
		}
	}
	return set
}

// SortedPermissions returns AllPermissions in lexical order.
func SortedPermissions() []string {
	all := AllPermissions()
	out := make([]string, 0, len(all))
	for p := range all {
		out = append(out, p)
	}
	sort.Strings(out)
	return out
}

// ModulePermissions lists the permissions of module in declaration order, or nil for an
// unknown module.
func ModulePermissions(module string) []string {
	actions, ok := rightsTable[strings.TrimSpace(module)]
	if !ok {
		return nil
	}
	return ParseRights(actions[ActionAll])
}

// Permission returns the single permission declared for module and action.
func Permission(module, action string) (string, bool) {
	actions, ok := rightsTable[module]
	if !ok || action == ActionAll {
		return "", false
	}
	p, ok := actions[action]
	return p, ok && p != ""
}

// ParseRights splits a comma joined rights string, trimming blanks and dropping duplicates.
func ParseRights(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	seen := make(map[string]struct{}, len(parts))
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		out = append(out, p)
	}
	return out
}

// JoinRights is the inverse of ParseRights.
func JoinRights(rights []string) string {
	return strings.Join(ParseRights(strings.Join(rights, ",")), ",")
}

// ValidateRights rejects any right that is not declared in the rights table.
func ValidateRights(rights []string) error {
	declared := AllPermissions()
	var unknown []string
	for _, r := range rights {
		if _, ok := declared[r]; !ok {
			unknown = append(unknown, r)
		}
	}
	if len(unknown) == 0 {
		return nil
	}
	sort.Strings(unknown)
	return fmt.Errorf("%w: unknown rights %s", ErrInvalidInput, strings.Join(unknown, ", "))
}
