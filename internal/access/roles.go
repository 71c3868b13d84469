package access

// Role names. Keepers are operator-controlled accounts; config keepers
// may set fee factors, order keepers may execute and liquidate.
const (
	RoleController   = "CONTROLLER"
	RoleConfigKeeper = "CONFIG_KEEPER"
	RoleOrderKeeper  = "ORDER_KEEPER"
)

// RoleStore maps accounts to their granted roles.
type RoleStore struct {
	grants map[string]map[string]bool
}

func NewRoleStore() *RoleStore {
	return &RoleStore{grants: make(map[string]map[string]bool)}
}

func (r *RoleStore) Grant(account, role string) {
	if r.grants[account] == nil {
		r.grants[account] = make(map[string]bool)
	}
	r.grants[account][role] = true
}

func (r *RoleStore) Revoke(account, role string) {
	delete(r.grants[account], role)
}

func (r *RoleStore) HasRole(account, role string) bool {
	return r.grants[account][role]
}
