package permission

import "github.com/paddleraise/authcore/pkg/store"

// Scope is the grant attached to a (role, resource, action) rule. Absence of
// a rule means deny.
type Scope int

const (
	// ScopeDenied explicitly denies even if a broader rule would match
	ScopeDenied Scope = iota
	// ScopeGlobal grants the action regardless of tenant or ownership
	ScopeGlobal
	// ScopeOwnTenant grants the action only within the principal's tenant
	ScopeOwnTenant
	// ScopeOwnResource grants the action only on resources the principal owns
	ScopeOwnResource
)

// Resources and actions. The rule table is code, not data: changing an
// authorization rule is a reviewed code change, not a config edit.
const (
	ResourceOrganization = "organization"
	ResourceEvent        = "event"
	ResourceItem         = "item"
	ResourceBid          = "bid"
	ResourceUser         = "user"
	ResourceReport       = "report"
	ResourceAudit        = "audit"

	ActionCreate = "create"
	ActionRead   = "read"
	ActionUpdate = "update"
	ActionDelete = "delete"
	ActionManage = "manage"
)

type ruleKey struct {
	resource string
	action   string
}

// rules maps each non-superadmin role to its grants. SuperAdmin is not in
// the table: it short-circuits to allow in the resolver.
var rules = map[store.Role]map[ruleKey]Scope{
	store.RoleNPOAdmin: {
		{ResourceOrganization, ActionRead}:   ScopeOwnTenant,
		{ResourceOrganization, ActionUpdate}: ScopeOwnTenant,
		{ResourceEvent, ActionCreate}:        ScopeOwnTenant,
		{ResourceEvent, ActionRead}:          ScopeGlobal,
		{ResourceEvent, ActionUpdate}:        ScopeOwnTenant,
		{ResourceEvent, ActionDelete}:        ScopeOwnTenant,
		{ResourceItem, ActionCreate}:         ScopeOwnTenant,
		{ResourceItem, ActionRead}:           ScopeGlobal,
		{ResourceItem, ActionUpdate}:         ScopeOwnTenant,
		{ResourceItem, ActionDelete}:         ScopeOwnTenant,
		{ResourceBid, ActionRead}:            ScopeOwnTenant,
		{ResourceUser, ActionRead}:           ScopeOwnTenant,
		{ResourceUser, ActionManage}:         ScopeOwnTenant,
		{ResourceReport, ActionRead}:         ScopeOwnTenant,
		{ResourceAudit, ActionRead}:          ScopeOwnTenant,
	},
	store.RoleEventCoordinator: {
		{ResourceEvent, ActionCreate}: ScopeOwnTenant,
		{ResourceEvent, ActionRead}:   ScopeGlobal,
		{ResourceEvent, ActionUpdate}: ScopeOwnTenant,
		{ResourceItem, ActionCreate}:  ScopeOwnTenant,
		{ResourceItem, ActionRead}:    ScopeGlobal,
		{ResourceItem, ActionUpdate}:  ScopeOwnTenant,
		{ResourceItem, ActionDelete}:  ScopeOwnTenant,
		{ResourceBid, ActionRead}:     ScopeOwnTenant,
		{ResourceReport, ActionRead}:  ScopeOwnTenant,
	},
	store.RoleStaff: {
		{ResourceEvent, ActionRead}:  ScopeGlobal,
		{ResourceItem, ActionRead}:   ScopeGlobal,
		{ResourceItem, ActionUpdate}: ScopeOwnResource,
		{ResourceBid, ActionRead}:    ScopeOwnTenant,
	},
	store.RoleDonor: {
		{ResourceEvent, ActionRead}:  ScopeGlobal,
		{ResourceItem, ActionRead}:   ScopeGlobal,
		{ResourceBid, ActionCreate}:  ScopeGlobal,
		{ResourceBid, ActionRead}:    ScopeOwnResource,
		{ResourceUser, ActionRead}:   ScopeOwnResource,
		{ResourceUser, ActionUpdate}: ScopeOwnResource,
	},
}

// lookupScope returns the scope for (role, resource, action), defaulting to
// ScopeDenied.
func lookupScope(role store.Role, resource, action string) Scope {
	grants, ok := rules[role]
	if !ok {
		return ScopeDenied
	}
	scope, ok := grants[ruleKey{resource, action}]
	if !ok {
		return ScopeDenied
	}
	return scope
}
