package authz

// Identity is the authenticated caller as resolved by the auth middleware.
type Identity struct {
	UserID string
	Role   string
}

func (i Identity) IsAdmin() bool {
	return IsAdmin(i.Role)
}

// Access describes what a caller may do with a single task.
type Access struct {
	View   bool
	Write  bool
	Delete bool
}

// TaskAccess is the one place the task ownership rules live:
// admins may do everything; the creator may view, write and delete;
// the assignee may view and write but not delete.
func TaskAccess(caller Identity, creatorID, assigneeID string) Access {
	if caller.UserID == "" {
		return Access{}
	}
	if caller.IsAdmin() {
		return Access{View: true, Write: true, Delete: true}
	}
	isCreator := caller.UserID == creatorID
	isAssignee := caller.UserID == assigneeID
	return Access{
		View:   isCreator || isAssignee,
		Write:  isCreator || isAssignee,
		Delete: isCreator,
	}
}

// VisibilityScope returns the user id task listings must be restricted to,
// or nil when the caller sees every task.
func VisibilityScope(caller Identity) *string {
	if caller.IsAdmin() {
		return nil
	}
	id := caller.UserID
	return &id
}

// CanManageUser reports whether caller may change role or active flag of target.
// Nobody can do it to their own account, admins included.
func CanManageUser(caller Identity, targetID string) bool {
	return caller.IsAdmin() && caller.UserID != targetID
}
