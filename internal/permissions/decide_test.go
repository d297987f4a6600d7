package permissions

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/waqasbhatti/authnzerver/internal/models"
)

func TestDecide_AnonymousOnPublicCollection(t *testing.T) {
	req := Request{
		UserID:       2,
		Role:         models.RoleAnonymous,
		Action:       ActionView,
		ResourceKind: ResourceCollection,
		OwnerID:      1,
		Visibility:   VisibilityPublic,
	}
	assert.True(t, Decide(req))

	req.Action = ActionCreate
	assert.False(t, Decide(req), "anonymous may not create others' collections")

	req.Action = ActionView
	req.Visibility = VisibilityPrivate
	assert.False(t, Decide(req), "anonymous may not view private collections")
}

func TestDecide_SuperuserAnyValidCombination(t *testing.T) {
	for vis := range allVisibilities {
		for action := range resourcePolicies[ResourceCollection].validActions {
			req := Request{
				UserID:       1,
				Role:         models.RoleSuperuser,
				Action:       action,
				ResourceKind: ResourceCollection,
				OwnerID:      42,
				Visibility:   vis,
			}
			assert.True(t, Decide(req), "superuser %s on %s collection", action, vis)
		}
	}
}

func TestDecide_OwnerOfUnownableKindKeepsSharedAccess(t *testing.T) {
	// Authenticated users cannot own objects, so the action matrix falls
	// through to the per-visibility set; row ownership must still satisfy
	// the visibility gate on its own.
	req := Request{
		UserID:       7,
		Role:         models.RoleAuthenticated,
		Action:       ActionEdit,
		ResourceKind: ResourceObject,
		OwnerID:      7,
		Visibility:   VisibilityShared,
		SharedWith:   "",
	}
	assert.True(t, Decide(req), "row owner passes the shared gate without canOwn")

	req.OwnerID = 8
	assert.False(t, Decide(req), "non-owner still needs a sharing grant")

	req.SharedWith = "7"
	assert.True(t, Decide(req))
}

func TestDecide_ZeroValueFailsClosed(t *testing.T) {
	assert.False(t, Decide(Request{}))
}

func TestDecide_UnknownInputsFailClosed(t *testing.T) {
	base := Request{
		UserID:       4,
		Role:         models.RoleAuthenticated,
		Action:       ActionView,
		ResourceKind: ResourceDataset,
		OwnerID:      5,
		Visibility:   VisibilityPublic,
	}
	assert.True(t, Decide(base), "baseline request must pass")

	bad := base
	bad.Role = "wizard"
	assert.False(t, Decide(bad))

	bad = base
	bad.ResourceKind = "starship"
	assert.False(t, Decide(bad))

	bad = base
	bad.Action = "transmogrify"
	assert.False(t, Decide(bad))

	bad = base
	bad.Visibility = "translucent"
	assert.False(t, Decide(bad))
}

func TestDecide_SharedVisibility(t *testing.T) {
	base := Request{
		UserID:       7,
		Role:         models.RoleAuthenticated,
		Action:       ActionView,
		ResourceKind: ResourceDataset,
		OwnerID:      5,
		Visibility:   VisibilityShared,
	}

	assert.False(t, Decide(base), "not in the shared-with list")

	withUser := base
	withUser.SharedWith = "3,7,11"
	assert.True(t, Decide(withUser))

	everyone := base
	everyone.SharedWith = "2"
	assert.True(t, Decide(everyone), "sharing with anonymous means everyone")

	malformed := base
	malformed.SharedWith = "seven, , eight"
	assert.False(t, Decide(malformed), "unparseable ids are dropped")

	owner := base
	owner.UserID = 5
	assert.True(t, Decide(owner), "owner always passes the shared gate")
}

func TestDecide_OwnershipRequiresOwnableKind(t *testing.T) {
	// Authenticated users cannot own collections, so an "owned" collection
	// falls back to the for-others public action set.
	req := Request{
		UserID:       9,
		Role:         models.RoleAuthenticated,
		Action:       ActionDelete,
		ResourceKind: ResourceCollection,
		OwnerID:      9,
		Visibility:   VisibilityPublic,
	}
	assert.False(t, Decide(req))

	// On an ownable kind the same action passes.
	req.ResourceKind = ResourceDataset
	assert.True(t, Decide(req))
}

func TestDecide_LockedDeniedEverywhere(t *testing.T) {
	req := Request{
		UserID:       12,
		Role:         models.RoleLocked,
		Action:       ActionView,
		ResourceKind: ResourceDataset,
		OwnerID:      12,
		Visibility:   VisibilityPublic,
	}
	assert.False(t, Decide(req))
}

func TestDecide_PrivateKindsExcludeAnonymous(t *testing.T) {
	req := Request{
		UserID:       2,
		Role:         models.RoleAnonymous,
		Action:       ActionView,
		ResourceKind: ResourceUsers,
		OwnerID:      2,
		Visibility:   VisibilityPrivate,
	}
	assert.False(t, Decide(req))
}

func TestLimitsForRole(t *testing.T) {
	assert.Equal(t, 600, LimitsForRole(models.RoleAnonymous).MaxRequestsPerMinute)
	assert.Zero(t, LimitsForRole("nope").MaxRows)
	assert.Zero(t, LimitsForRole(models.RoleLocked).MaxRequestsPerMinute)
}
