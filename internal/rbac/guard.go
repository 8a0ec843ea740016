package rbac

// Requirement describes what a route needs. Zero values mean "no requirement".
type Requirement struct {
	Role     string
	Resource string
	Action   string
}

// Decision is the outcome of a route guard check.
type Decision int

const (
	// Loading means the session is still settling; render a loading state and do not redirect.
	Loading Decision = iota
	RedirectLogin
	RedirectUnauthorized
	Allow
)

func (d Decision) String() string {
	switch d {
	case Loading:
		return "loading"
	case RedirectLogin:
		return "redirect_login"
	case RedirectUnauthorized:
		return "redirect_unauthorized"
	case Allow:
		return "allow"
	default:
		return "unknown"
	}
}

// Guard decides route access. loading reports whether the session manager is still recovering.
func Guard(loading bool, user *User, req Requirement) Decision {
	if loading {
		return Loading
	}
	if user == nil {
		return RedirectLogin
	}
	if req.Role != "" && !HasRole(user, req.Role) {
		return RedirectUnauthorized
	}
	if (req.Resource != "" || req.Action != "") && !HasPermission(user, req.Resource, req.Action) {
		return RedirectUnauthorized
	}
	return Allow
}

// Visible reports whether an affordance gated on resource/action should render at all.
// There is no disabled state: absence is the failure mode.
func Visible(user *User, resource, action string) bool {
	return HasPermission(user, resource, action)
}
