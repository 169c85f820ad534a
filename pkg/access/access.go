// Package access implements the administrative permission hierarchy.
//
// Roles are ranked content_admin < support_admin < finance_admin < super_admin.
// An actor is authorized for an action when its rank reaches the required role
// AND the action tag is in the actor role's capability set. The capability sets
// below are the single source of truth; they are loaded into a casbin enforcer
// that performs the membership test.
package access

import (
	"fmt"

	"promohive/pkg/errutil"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
)

type Role string

const (
	RoleUser         Role = "user"
	RoleContentAdmin Role = "content_admin"
	RoleSupportAdmin Role = "support_admin"
	RoleFinanceAdmin Role = "finance_admin"
	RoleSuperAdmin   Role = "super_admin"
)

type Action string

const (
	ActionView Action = "view"

	ActionTaskCreate Action = "task:create"
	ActionTaskUpdate Action = "task:update"
	ActionTaskDelete Action = "task:delete"

	ActionProofView   Action = "proof:view"
	ActionProofReview Action = "proof:review"
	ActionUserView    Action = "user:view"
	ActionUserApprove Action = "user:approve"
	ActionUserReject  Action = "user:reject"

	ActionBalanceCredit     Action = "balance:credit"
	ActionBalanceDebit      Action = "balance:debit"
	ActionDepositApprove    Action = "deposit:approve"
	ActionWithdrawalView    Action = "withdrawal:view"
	ActionWithdrawalApprove Action = "withdrawal:approve"
	ActionWithdrawalDeny    Action = "withdrawal:deny"
	ActionTransactionView   Action = "transaction:view"
	ActionUserLevelUpdate   Action = "level:assign"
	ActionLevelUpdate       Action = "level:update"
	ActionWalletManage      Action = "wallet:manage"

	ActionRoleUpdate Action = "role:update"
	ActionAuditView  Action = "audit:view"
	ActionAll        Action = "*"
)

var rank = map[Role]int{
	RoleContentAdmin: 1,
	RoleSupportAdmin: 2,
	RoleFinanceAdmin: 3,
	RoleSuperAdmin:   4,
}

var contentActions = []Action{ActionView, ActionTaskCreate, ActionTaskUpdate, ActionTaskDelete}

// Capabilities maps each administrative role to the action tags it may invoke.
var Capabilities = map[Role][]Action{
	RoleContentAdmin: contentActions,
	RoleSupportAdmin: append(append([]Action{}, contentActions...),
		ActionProofView, ActionProofReview,
		ActionUserView, ActionUserApprove, ActionUserReject,
	),
	RoleFinanceAdmin: {
		ActionBalanceCredit, ActionBalanceDebit,
		ActionDepositApprove, ActionWalletManage,
		ActionWithdrawalView, ActionWithdrawalApprove, ActionWithdrawalDeny,
		ActionTransactionView, ActionUserLevelUpdate, ActionLevelUpdate,
	},
	RoleSuperAdmin: {ActionAll},
}

// Required is the minimum role for each action tag.
var Required = map[Action]Role{
	ActionView:              RoleContentAdmin,
	ActionTaskCreate:        RoleContentAdmin,
	ActionTaskUpdate:        RoleContentAdmin,
	ActionTaskDelete:        RoleContentAdmin,
	ActionProofView:         RoleSupportAdmin,
	ActionProofReview:       RoleSupportAdmin,
	ActionUserView:          RoleSupportAdmin,
	ActionUserApprove:       RoleSupportAdmin,
	ActionUserReject:        RoleSupportAdmin,
	ActionBalanceCredit:     RoleFinanceAdmin,
	ActionBalanceDebit:      RoleFinanceAdmin,
	ActionDepositApprove:    RoleFinanceAdmin,
	ActionWalletManage:      RoleFinanceAdmin,
	ActionWithdrawalView:    RoleFinanceAdmin,
	ActionWithdrawalApprove: RoleFinanceAdmin,
	ActionWithdrawalDeny:    RoleFinanceAdmin,
	ActionTransactionView:   RoleFinanceAdmin,
	ActionUserLevelUpdate:   RoleFinanceAdmin,
	ActionLevelUpdate:       RoleFinanceAdmin,
	ActionRoleUpdate:        RoleSuperAdmin,
	ActionAuditView:         RoleSuperAdmin,
}

const modelText = `
[request_definition]
r = sub, act

[policy_definition]
p = sub, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && (p.act == "*" || r.act == p.act)
`

var ErrForbidden = errutil.Sentinel(errutil.StatusForbidden, "insufficient permissions")

func ParseRole(s string) (Role, error) {
	r := Role(s)
	if r == RoleUser {
		return r, nil
	}
	if _, ok := rank[r]; ok {
		return r, nil
	}
	return "", errutil.ValidationFailed(fmt.Sprintf("unknown role %q", s), nil)
}

// Rank is 0 for non-administrative roles.
func (r Role) Rank() int { return rank[r] }

func (r Role) IsAdmin() bool { return rank[r] > 0 }

// Actor is the authenticated caller of an operation.
type Actor struct {
	ID   string
	Role Role
}

type Authorizer interface {
	Authorize(actor, required Role, action Action) error
	Check(actor Role, action Action) error
}

type Enforcer struct {
	e *casbin.Enforcer
}

// NewEnforcer builds the enforcer from Capabilities.
func NewEnforcer() (*Enforcer, error) {
	m, err := model.NewModelFromString(modelText)
	if err != nil {
		return nil, err
	}
	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}
	for role, actions := range Capabilities {
		for _, action := range actions {
			if _, err := e.AddPolicy(string(role), string(action)); err != nil {
				return nil, err
			}
		}
	}
	return &Enforcer{e: e}, nil
}

// NewEnforcerFromFiles loads a casbin model and CSV policy from disk. The model
// must accept (sub, act) requests.
func NewEnforcerFromFiles(modelPath, policyPath string) (*Enforcer, error) {
	e, err := casbin.NewEnforcer(modelPath, policyPath)
	if err != nil {
		return nil, err
	}
	return &Enforcer{e: e}, nil
}

// Authorize fails with Forbidden unless actor ranks at least as high as
// required and actor's capability set contains action.
func (a *Enforcer) Authorize(actor, required Role, action Action) error {
	if actor == RoleSuperAdmin {
		return nil
	}
	if !actor.IsAdmin() {
		return ErrForbidden.Wrap(fmt.Errorf("%s is not an administrative role", actor))
	}
	if actor.Rank() < required.Rank() {
		return ErrForbidden.Wrap(fmt.Errorf("%s requires %s", action, required))
	}
	ok, err := a.e.Enforce(string(actor), string(action))
	if err != nil {
		return errutil.Internal("failed to evaluate permission", err)
	}
	if !ok {
		return ErrForbidden.Wrap(fmt.Errorf("%s may not perform %s", actor, action))
	}
	return nil
}

// Check authorizes action against its registered minimum role.
func (a *Enforcer) Check(actor Role, action Action) error {
	required, ok := Required[action]
	if !ok {
		required = RoleSuperAdmin
	}
	return a.Authorize(actor, required, action)
}
