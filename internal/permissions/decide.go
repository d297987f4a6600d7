package permissions

import (
	"strconv"
	"strings"

	"github.com/waqasbhatti/authnzerver/internal/common"
	"github.com/waqasbhatti/authnzerver/internal/models"
)

// Request carries everything Decide needs. The zero value describes no usable
// context and always evaluates to false.
type Request struct {
	UserID       int64
	Role         string
	Action       string
	ResourceKind string
	OwnerID      int64
	Visibility   string
	// SharedWith is the raw comma-separated list of user ids the resource
	// owner has shared it with. Sharing with the anonymous user id means
	// shared with everyone.
	SharedWith string
}

// Decide is the single authorization decision function: pure, total, and
// fail-closed. Malformed input of any kind yields false, never an error.
func Decide(req Request) bool {
	role, ok := rolePolicies[req.Role]
	if !ok {
		return false
	}
	resource, ok := resourcePolicies[req.ResourceKind]
	if !ok {
		return false
	}

	if _, forbidden := resource.forbiddenRoles[req.Role]; forbidden {
		return false
	}
	if _, ok := resource.validVisibilities[req.Visibility]; !ok {
		return false
	}
	if !resource.validActions.has(req.Action) {
		return false
	}

	// Ownership of the row and ownability of the kind are separate: the
	// action matrix for owned resources only applies when the role can own
	// the kind, but the visibility gate cares about plain row ownership.
	isOwner := req.UserID == req.OwnerID && req.UserID != 0
	_, canOwn := role.canOwn[req.ResourceKind]

	var candidates actionSet
	if isOwner && canOwn {
		candidates = role.forOwned
	} else {
		candidates = role.forOthers[req.Visibility]
	}
	if !candidates.has(req.Action) {
		return false
	}

	return visibilityGate(req, isOwner)
}

// visibilityGate computes the sharing/visibility check independent of the
// action matrices. Superusers and staff always pass.
func visibilityGate(req Request, isOwner bool) bool {
	if req.Role == models.RoleSuperuser || req.Role == models.RoleStaff {
		return true
	}

	switch req.Visibility {
	case VisibilityPublic, VisibilityUnlisted:
		return true
	case VisibilityPrivate:
		return isOwner
	case VisibilityShared:
		if isOwner {
			return true
		}
		shared := parseSharedWith(req.SharedWith)
		if _, everyone := shared[common.AnonymousUserID]; everyone {
			return true
		}
		_, ok := shared[req.UserID]
		return ok && req.UserID != 0
	default:
		return false
	}
}

// parseSharedWith parses a comma-separated user id list, dropping anything
// unparseable.
func parseSharedWith(s string) map[int64]struct{} {
	ids := make(map[int64]struct{})
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseInt(part, 10, 64)
		if err != nil {
			continue
		}
		ids[id] = struct{}{}
	}
	return ids
}
