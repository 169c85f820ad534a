package access

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func newEnforcer(t *testing.T) *Enforcer {
	t.Helper()
	e, err := NewEnforcer()
	require.NoError(t, err)
	return e
}

func TestContentAdminCannotCredit(t *testing.T) {
	e := newEnforcer(t)
	err := e.Authorize(RoleContentAdmin, RoleFinanceAdmin, ActionBalanceCredit)
	require.ErrorIs(t, err, ErrForbidden)
}

func TestSuperAdminAuthorizesEverything(t *testing.T) {
	e := newEnforcer(t)
	for action := range Required {
		require.NoError(t, e.Check(RoleSuperAdmin, action), string(action))
	}
}

func TestDomainScoping(t *testing.T) {
	e := newEnforcer(t)

	require.NoError(t, e.Check(RoleFinanceAdmin, ActionBalanceCredit))
	require.NoError(t, e.Check(RoleFinanceAdmin, ActionWithdrawalApprove))
	// finance outranks content but task authoring is outside its domain
	require.ErrorIs(t, e.Check(RoleFinanceAdmin, ActionTaskCreate), ErrForbidden)
	require.ErrorIs(t, e.Check(RoleFinanceAdmin, ActionProofReview), ErrForbidden)

	require.NoError(t, e.Check(RoleSupportAdmin, ActionProofReview))
	require.NoError(t, e.Check(RoleSupportAdmin, ActionTaskUpdate))
	require.NoError(t, e.Check(RoleSupportAdmin, ActionUserApprove))
	require.ErrorIs(t, e.Check(RoleSupportAdmin, ActionBalanceDebit), ErrForbidden)

	require.NoError(t, e.Check(RoleContentAdmin, ActionTaskCreate))
	require.ErrorIs(t, e.Check(RoleContentAdmin, ActionProofReview), ErrForbidden)
}

func TestRankCheckedBeforeMembership(t *testing.T) {
	e := newEnforcer(t)
	// support holds task:update but the caller demands finance rank
	require.ErrorIs(t, e.Authorize(RoleSupportAdmin, RoleFinanceAdmin, ActionTaskUpdate), ErrForbidden)
}

func TestNonAdminRejected(t *testing.T) {
	e := newEnforcer(t)
	require.ErrorIs(t, e.Check(RoleUser, ActionView), ErrForbidden)
	require.ErrorIs(t, e.Check(Role(""), ActionView), ErrForbidden)
}

func TestOnlySuperAdminUpdatesRoles(t *testing.T) {
	e := newEnforcer(t)
	for _, r := range []Role{RoleContentAdmin, RoleSupportAdmin, RoleFinanceAdmin} {
		require.ErrorIs(t, e.Check(r, ActionRoleUpdate), ErrForbidden, string(r))
	}
}

func TestParseRole(t *testing.T) {
	r, err := ParseRole("finance_admin")
	require.NoError(t, err)
	require.Equal(t, RoleFinanceAdmin, r)

	_, err = ParseRole("root")
	require.Error(t, err)
}
