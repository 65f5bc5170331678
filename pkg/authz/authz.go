package authz

import (
	"errors"
	"os"
	"path/filepath"
	"strings"

	"github.com/casbin/casbin/v2"
	fileadapter "github.com/casbin/casbin/v2/persist/file-adapter"
	"github.com/jacksonlee411/statutory-payroll/pkg/payrollerr"
)

type Mode string

const (
	ModeEnforce  Mode = "enforce"
	ModeShadow   Mode = "shadow"
	ModeDisabled Mode = "disabled"
)

const (
	DefaultModelPath  = "config/access/model.conf"
	DefaultPolicyPath = "config/access/policy.csv"
)

// ParseMode maps a configured mode string. Disabling enforcement must be
// explicitly unlocked.
func ParseMode(raw string, allowDisabled bool) (Mode, error) {
	raw = strings.TrimSpace(strings.ToLower(raw))
	if raw == "" {
		return ModeEnforce, nil
	}
	switch Mode(raw) {
	case ModeEnforce, ModeShadow:
		return Mode(raw), nil
	case ModeDisabled:
		if !allowDisabled {
			return "", errors.New("authz: AUTHZ_MODE=disabled requires AUTHZ_UNSAFE_ALLOW_DISABLED=1")
		}
		return ModeDisabled, nil
	default:
		return "", errors.New("authz: invalid AUTHZ_MODE (expected enforce|shadow|disabled)")
	}
}

func ModeFromEnv() (Mode, error) {
	return ParseMode(os.Getenv("AUTHZ_MODE"), os.Getenv("AUTHZ_UNSAFE_ALLOW_DISABLED") == "1")
}

// FindConfig walks up from the working directory looking for rel, so that
// binaries and tests started from nested directories share one policy.
func FindConfig(rel string) (string, error) {
	path := rel
	for range 8 {
		if _, err := os.Stat(path); err == nil {
			return path, nil
		}
		path = filepath.Join("..", path)
	}
	return "", errors.New("authz: " + rel + " not found")
}

type Authorizer struct {
	enforcer *casbin.Enforcer
	mode     Mode
}

func NewAuthorizer(modelPath string, policyPath string, mode Mode) (*Authorizer, error) {
	adapter := fileadapter.NewAdapter(policyPath)
	enforcer, err := casbin.NewEnforcer(modelPath)
	if err != nil {
		return nil, err
	}
	enforcer.SetAdapter(adapter)
	if err := enforcer.LoadPolicy(); err != nil {
		return nil, err
	}
	return &Authorizer{enforcer: enforcer, mode: mode}, nil
}

// Load resolves empty paths against the checked-in access config.
func Load(modelPath, policyPath string, mode Mode) (*Authorizer, error) {
	var err error
	if modelPath == "" {
		if modelPath, err = FindConfig(DefaultModelPath); err != nil {
			return nil, err
		}
	}
	if policyPath == "" {
		if policyPath, err = FindConfig(DefaultPolicyPath); err != nil {
			return nil, err
		}
	}
	return NewAuthorizer(modelPath, policyPath, mode)
}

func SubjectFromRoleSlug(roleSlug string) string {
	roleSlug = strings.TrimSpace(strings.ToLower(roleSlug))
	if roleSlug == "" {
		roleSlug = RoleAnonymous
	}
	return "role:" + roleSlug
}

func (a *Authorizer) Mode() Mode { return a.mode }

func (a *Authorizer) Authorize(subject string, domain string, object string, action string) (allowed bool, enforced bool, err error) {
	switch a.mode {
	case ModeDisabled:
		return true, false, nil
	case ModeShadow:
		ok, err := a.enforcer.Enforce(subject, domain, object, action)
		if err != nil {
			return false, false, err
		}
		return ok, false, nil
	case ModeEnforce:
		ok, err := a.enforcer.Enforce(subject, domain, object, action)
		if err != nil {
			return false, true, err
		}
		return ok, true, nil
	default:
		return false, false, errors.New("authz: unknown mode")
	}
}

// Require checks role against the global domain. A denial in shadow mode is
// reported through shadowDenied instead of an error.
func (a *Authorizer) Require(role, object, action string) (shadowDenied bool, err error) {
	if a == nil {
		return false, nil
	}
	allowed, enforced, err := a.Authorize(SubjectFromRoleSlug(role), DomainGlobal, object, action)
	if err != nil {
		return false, err
	}
	if allowed {
		return false, nil
	}
	if !enforced {
		return true, nil
	}
	return false, &payrollerr.ForbiddenError{Actor: role, Object: object, Action: action}
}
