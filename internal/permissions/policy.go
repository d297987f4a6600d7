// Package permissions implements the static role/permission model and the
// decision function every authorization check in the platform composes on.
//
// Two code-defined tables drive decisions: a per-role table (resource limits,
// ownable resource kinds, action sets for owned resources and, per
// visibility, for resources owned by others) and a per-resource-kind table
// (valid actions, valid visibilities, categorically forbidden roles). The two
// are intersected at decision time.
package permissions

import "github.com/waqasbhatti/authnzerver/internal/models"

// Resource visibilities.
const (
	VisibilityPublic   = "public"
	VisibilityUnlisted = "unlisted"
	VisibilityShared   = "shared"
	VisibilityPrivate  = "private"
)

// Resource kinds.
const (
	ResourceObject      = "object"
	ResourceDataset     = "dataset"
	ResourceCollection  = "collection"
	ResourceUsers       = "users"
	ResourceSessions    = "sessions"
	ResourceAPIKeys     = "apikeys"
	ResourcePreferences = "preferences"
)

// Actions.
const (
	ActionList         = "list"
	ActionView         = "view"
	ActionCreate       = "create"
	ActionEdit         = "edit"
	ActionDelete       = "delete"
	ActionMakePublic   = "make_public"
	ActionMakeUnlisted = "make_unlisted"
	ActionMakeShared   = "make_shared"
	ActionMakePrivate  = "make_private"
	ActionChangeOwner  = "change_owner"
)

// actionSet is a set of action names.
type actionSet map[string]struct{}

func actions(names ...string) actionSet {
	s := make(actionSet, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

func (s actionSet) has(name string) bool {
	_, ok := s[name]
	return ok
}

// Limits are the per-role resource-usage budgets.
type Limits struct {
	// MaxRows caps rows returned per query.
	MaxRows int64
	// MaxRequestsPerMinute caps requests in a rolling 60 second window.
	MaxRequestsPerMinute int
}

// rolePolicy describes what a role may do with owned resources and, per
// visibility, with resources owned by others.
type rolePolicy struct {
	limits    Limits
	canOwn    map[string]struct{}
	forOwned  actionSet
	forOthers map[string]actionSet
}

// resourcePolicy constrains a resource kind independent of role.
type resourcePolicy struct {
	validActions      actionSet
	validVisibilities map[string]struct{}
	forbiddenRoles    map[string]struct{}
}

func stringSet(names ...string) map[string]struct{} {
	s := make(map[string]struct{}, len(names))
	for _, n := range names {
		s[n] = struct{}{}
	}
	return s
}

var allActions = actions(
	ActionList, ActionView, ActionCreate, ActionEdit, ActionDelete,
	ActionMakePublic, ActionMakeUnlisted, ActionMakeShared, ActionMakePrivate,
	ActionChangeOwner,
)

var allVisibilities = stringSet(
	VisibilityPublic, VisibilityUnlisted, VisibilityShared, VisibilityPrivate,
)

// rolePolicies is the static role table. Edit with care: every authorization
// decision in the platform flows through it.
var rolePolicies = map[string]rolePolicy{
	models.RoleSuperuser: {
		limits: Limits{MaxRows: 5000000, MaxRequestsPerMinute: 60000},
		canOwn: stringSet(
			ResourceObject, ResourceDataset, ResourceCollection,
			ResourceUsers, ResourceSessions, ResourceAPIKeys,
			ResourcePreferences,
		),
		forOwned: allActions,
		forOthers: map[string]actionSet{
			VisibilityPublic:   allActions,
			VisibilityUnlisted: allActions,
			VisibilityShared:   allActions,
			VisibilityPrivate:  allActions,
		},
	},
	models.RoleStaff: {
		limits: Limits{MaxRows: 1000000, MaxRequestsPerMinute: 60000},
		canOwn: stringSet(
			ResourceObject, ResourceDataset, ResourceCollection,
			ResourcePreferences,
		),
		forOwned: actions(
			ActionList, ActionView, ActionCreate, ActionEdit, ActionDelete,
			ActionMakePublic, ActionMakeUnlisted, ActionMakeShared,
			ActionMakePrivate,
		),
		forOthers: map[string]actionSet{
			VisibilityPublic:   actions(ActionList, ActionView, ActionEdit, ActionDelete),
			VisibilityUnlisted: actions(ActionList, ActionView, ActionEdit, ActionDelete),
			VisibilityShared:   actions(ActionList, ActionView, ActionEdit),
			VisibilityPrivate:  actions(ActionList, ActionView),
		},
	},
	models.RoleAuthenticated: {
		limits: Limits{MaxRows: 100000, MaxRequestsPerMinute: 6000},
		canOwn: stringSet(ResourceDataset, ResourcePreferences),
		forOwned: actions(
			ActionList, ActionView, ActionCreate, ActionEdit, ActionDelete,
			ActionMakePublic, ActionMakeUnlisted, ActionMakeShared,
			ActionMakePrivate,
		),
		forOthers: map[string]actionSet{
			VisibilityPublic:   actions(ActionList, ActionView),
			VisibilityUnlisted: actions(ActionList, ActionView),
			VisibilityShared:   actions(ActionList, ActionView, ActionEdit),
			VisibilityPrivate:  actions(),
		},
	},
	models.RoleAnonymous: {
		limits: Limits{MaxRows: 25000, MaxRequestsPerMinute: 600},
		canOwn: stringSet(ResourceDataset),
		forOwned: actions(
			ActionList, ActionView, ActionCreate,
		),
		forOthers: map[string]actionSet{
			VisibilityPublic:   actions(ActionList, ActionView),
			VisibilityUnlisted: actions(ActionList, ActionView),
			VisibilityShared:   actions(ActionList, ActionView),
			VisibilityPrivate:  actions(),
		},
	},
	models.RoleLocked: {
		limits:   Limits{MaxRows: 0, MaxRequestsPerMinute: 0},
		canOwn:   stringSet(),
		forOwned: actions(),
		forOthers: map[string]actionSet{
			VisibilityPublic:   actions(),
			VisibilityUnlisted: actions(),
			VisibilityShared:   actions(),
			VisibilityPrivate:  actions(),
		},
	},
}

// resourcePolicies is the static per-resource-kind table.
var resourcePolicies = map[string]resourcePolicy{
	ResourceObject: {
		validActions:      actions(ActionList, ActionView, ActionEdit),
		validVisibilities: allVisibilities,
		forbiddenRoles:    stringSet(models.RoleLocked),
	},
	ResourceDataset: {
		validActions:      allActions,
		validVisibilities: allVisibilities,
		forbiddenRoles:    stringSet(models.RoleLocked),
	},
	ResourceCollection: {
		validActions:      allActions,
		validVisibilities: allVisibilities,
		forbiddenRoles:    stringSet(models.RoleLocked),
	},
	ResourceUsers: {
		validActions:      actions(ActionList, ActionView, ActionCreate, ActionEdit, ActionDelete),
		validVisibilities: stringSet(VisibilityPrivate),
		forbiddenRoles:    stringSet(models.RoleAnonymous, models.RoleLocked),
	},
	ResourceSessions: {
		validActions:      actions(ActionList, ActionView, ActionDelete),
		validVisibilities: stringSet(VisibilityPrivate),
		forbiddenRoles:    stringSet(models.RoleAnonymous, models.RoleLocked),
	},
	ResourceAPIKeys: {
		validActions:      actions(ActionList, ActionView, ActionCreate, ActionDelete),
		validVisibilities: stringSet(VisibilityPrivate),
		forbiddenRoles:    stringSet(models.RoleAnonymous, models.RoleLocked),
	},
	ResourcePreferences: {
		validActions:      actions(ActionList, ActionView, ActionEdit),
		validVisibilities: stringSet(VisibilityPrivate),
		forbiddenRoles:    stringSet(models.RoleAnonymous, models.RoleLocked),
	},
}

// LimitsForRole returns the resource budgets for a role. Unknown roles get
// the zero Limits, which denies everything.
func LimitsForRole(role string) Limits {
	p, ok := rolePolicies[role]
	if !ok {
		return Limits{}
	}
	return p.limits
}
