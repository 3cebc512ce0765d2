package authorization

import (
	"context"
	_ "embed"
	"fmt"
	"strings"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	gormadapter "github.com/casbin/gorm-adapter/v3"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

//go:embed model.conf
var modelText string

const (
	ObjectAdmission      = "admission"
	ObjectUsage          = "usage"
	ObjectAgent          = "agent"
	ObjectFreeTrial      = "free_trial"
	ObjectAccount        = "account"
	ObjectTransaction    = "transaction"
	ObjectReconciliation = "reconciliation"
	ObjectAPIKey         = "api_key"
)

const (
	ActionAdmissionAuthorize = "admission.authorize"
	ActionUsageRecord        = "usage.record"
	ActionAgentInvoke        = "agent.invoke"
	ActionTrialView          = "trial.view"

	ActionAccountProvision = "account.provision"
	ActionBalanceView      = "balance.view"
	ActionPlanSet          = "plan.set"
	ActionCreditTopUp      = "credit.topup"
	ActionTransactionView  = "transaction.view"

	ActionReconciliationView    = "reconciliation.view"
	ActionReconciliationResolve = "reconciliation.resolve"

	ActionAPIKeyView   = "api_key.view"
	ActionAPIKeyCreate = "api_key.create"
	ActionAPIKeyRotate = "api_key.rotate"
	ActionAPIKeyRevoke = "api_key.revoke"
)

const (
	RoleAdmin   = "role:admin"
	RoleBilling = "role:billing"
	RoleGateway = "role:gateway"
)

type Params struct {
	fx.In

	Log      *zap.Logger
	Enforcer *casbin.SyncedEnforcer
}

type ServiceImpl struct {
	log      *zap.Logger
	enforcer *casbin.SyncedEnforcer
}

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
	if err := seedPolicies(enforcer); err != nil {
		return nil, err
	}
	if err := enforcer.BuildRoleLinks(); err != nil {
		return nil, err
	}
	return enforcer, nil
}

func NewService(p Params) Service {
	return &ServiceImpl{
		log:      p.Log.Named("authorization.service"),
		enforcer: p.Enforcer,
	}
}

// Authorize checks that actor, acting under role, may perform action on object.
func (s *ServiceImpl) Authorize(ctx context.Context, actor string, role string, object string, action string) error {
	actor = strings.TrimSpace(actor)
	if actor == "" {
		return ErrInvalidActor
	}
	role = strings.ToLower(strings.TrimSpace(role))
	if role == "" {
		return ErrInvalidRole
	}
	object = strings.TrimSpace(object)
	if object == "" {
		return ErrInvalidObject
	}
	action = strings.TrimSpace(action)
	if action == "" {
		return ErrInvalidAction
	}

	roleName := fmt.Sprintf("role:%s", role)
	if err := s.ensureGrouping(actor, roleName); err != nil {
		return err
	}

	allowed, err := s.enforcer.Enforce(actor, object, action)
	if err != nil {
		return err
	}
	if !allowed {
		s.log.Debug("authorization denied",
			zap.String("actor", actor),
			zap.String("role", roleName),
			zap.String("object", object),
			zap.String("action", action),
		)
		return ErrForbidden
	}
	return nil
}

// ensureGrouping keeps exactly one role link for subject.
func (s *ServiceImpl) ensureGrouping(subject string, roleName string) error {
	existing, err := s.enforcer.GetFilteredGroupingPolicy(0, subject)
	if err != nil {
		return err
	}
	for _, rule := range existing {
		if len(rule) < 2 {
			continue
		}
		if rule[1] != roleName {
			params := make([]interface{}, 0, len(rule))
			for _, value := range rule {
				params = append(params, value)
			}
			_, _ = s.enforcer.RemoveGroupingPolicy(params...)
		}
	}

	has, err := s.enforcer.HasGroupingPolicy(subject, roleName)
	if err != nil {
		return err
	}
	if has {
		return nil
	}
	_, err = s.enforcer.AddGroupingPolicy(subject, roleName)
	return err
}

func seedPolicies(enforcer *casbin.SyncedEnforcer) error {
	policies := [][]string{
		// Gateway: the request layer in front of the agents
		{RoleGateway, ObjectAdmission, ActionAdmissionAuthorize},
		{RoleGateway, ObjectUsage, ActionUsageRecord},
		{RoleGateway, ObjectAgent, ActionAgentInvoke},
		{RoleGateway, ObjectAccount, ActionBalanceView},
		{RoleGateway, ObjectFreeTrial, ActionTrialView},

		// Billing: plan changes driven by the payment collaborator
		{RoleBilling, ObjectAccount, ActionAccountProvision},
		{RoleBilling, ObjectAccount, ActionPlanSet},
		{RoleBilling, ObjectAccount, ActionCreditTopUp},
		{RoleBilling, ObjectAccount, ActionBalanceView},
		{RoleBilling, ObjectTransaction, ActionTransactionView},
		{RoleBilling, ObjectReconciliation, ActionReconciliationView},
		{RoleBilling, ObjectReconciliation, ActionReconciliationResolve},

		{RoleAdmin, ObjectAPIKey, ActionAPIKeyView},
		{RoleAdmin, ObjectAPIKey, ActionAPIKeyCreate},
		{RoleAdmin, ObjectAPIKey, ActionAPIKeyRotate},
		{RoleAdmin, ObjectAPIKey, ActionAPIKeyRevoke},
	}

	for _, policy := range policies {
		if _, err := enforcer.AddPolicy(policy); err != nil {
			return err
		}
	}

	inherits := [][]string{
		{RoleAdmin, RoleGateway},
		{RoleAdmin, RoleBilling},
	}
	for _, link := range inherits {
		if _, err := enforcer.AddGroupingPolicy(link); err != nil {
			return err
		}
	}
	return nil
}
