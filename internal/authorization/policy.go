package authorization

import (
	_ "embed"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"github.com/engineerpark/cdulog/internal/identity"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectUnit              = "unit"
	ObjectMaintenanceRecord = "maintenance_record"
	ObjectPreset            = "maintenance_preset"
	ObjectExport            = "export"
	ObjectUser              = "user"
	ObjectAuditLog          = "audit_log"
)

const (
	ActionView      = "view"
	ActionCreate    = "create"
	ActionUpdate    = "update"
	ActionDelete    = "delete"
	ActionRecompute = "recompute"
	ActionResolve   = "resolve"
	ActionDownload  = "download"
	ActionRoleGrant = "role_change"
)

const systemSubject = "system"

// grants lists, per role, the capabilities it adds on top of the roles below
// it. Record ownership is enforced by the maintenance service, not here.
var grants = map[identity.Role][][2]string{
	identity.RoleViewer: {
		{ObjectUnit, ActionView},
		{ObjectMaintenanceRecord, ActionView},
		{ObjectPreset, ActionView},
		{ObjectExport, ActionDownload},
	},
	identity.RoleTechnician: {
		{ObjectUnit, ActionCreate},
		{ObjectUnit, ActionUpdate},
		{ObjectUnit, ActionRecompute},
		{ObjectMaintenanceRecord, ActionCreate},
		{ObjectMaintenanceRecord, ActionUpdate},
		{ObjectMaintenanceRecord, ActionResolve},
		{ObjectMaintenanceRecord, ActionDelete},
	},
	identity.RoleManager: {
		{ObjectUnit, ActionDelete},
		{ObjectUser, ActionView},
		{ObjectUser, ActionRoleGrant},
		{ObjectAuditLog, ActionView},
	},
}

// hierarchy is ordered lowest first; each role inherits its predecessor.
var hierarchy = []identity.Role{
	identity.RoleViewer,
	identity.RoleTechnician,
	identity.RoleManager,
	identity.RoleAdmin,
}

func roleName(role identity.Role) string {
	return "role:" + string(role)
}

// NewEnforcer loads persisted policy through the gorm adapter and tops it up
// with the built-in grants. Existing rows are left alone.
func NewEnforcer(db *gorm.DB) (*casbin.SyncedEnforcer, error) {
	adapter, err := gormadapter.NewAdapterByDB(db)
	if err != nil {
		return nil, err
	}
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	enforcer, err := casbin.NewSyncedEnforcer(m, adapter)
	if err != nil {
		return nil, err
	}
	enforcer.EnableAutoSave(true)
	enforcer.EnableAutoBuildRoleLinks(true)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}

	if _, err := enforcer.AddPoliciesEx(builtinPolicies()); err != nil {
		return nil, err
	}
	if _, err := enforcer.AddGroupingPoliciesEx(builtinInheritance()); err != nil {
		return nil, err
	}
	return enforcer, enforcer.BuildRoleLinks()
}

func builtinPolicies() [][]string {
	var rules [][]string
	for _, role := range hierarchy {
		for _, g := range grants[role] {
			rules = append(rules, []string{roleName(role), g[0], g[1]})
		}
	}
	return rules
}

func builtinInheritance() [][]string {
	links := [][]string{{systemSubject, roleName(identity.RoleAdmin)}}
	for i := 1; i < len(hierarchy); i++ {
		links = append(links, []string{roleName(hierarchy[i]), roleName(hierarchy[i-1])})
	}
	return links
}
