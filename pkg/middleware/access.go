package middleware

import (
	"retail-loyalty/pkg/config"
	"retail-loyalty/pkg/errutil"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const defaultAccessModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch2(r.obj, p.obj) && (r.act == p.act || p.act == "*")
`

var defaultPolicies = [][]string{
	{RoleAdmin, "/admin/*", "*"},
	{RoleUser, "/v1/*", "*"},
	{RoleAdmin, "/v1/*", "*"},
}

// NewEnforcer builds an in-memory casbin enforcer. ACCESS_CONTROL.MODEL
// overrides the built-in model text.
func NewEnforcer(cfg *config.Config) (*casbin.Enforcer, error) {
	text := defaultAccessModel
	if cfg != nil && cfg.AccessControl.Model != "" {
		text = cfg.AccessControl.Model
	}

	m, err := model.NewModelFromString(text)
	if err != nil {
		return nil, err
	}

	e, err := casbin.NewEnforcer(m)
	if err != nil {
		return nil, err
	}

	if _, err := e.AddPolicies(defaultPolicies); err != nil {
		return nil, err
	}
	return e, nil
}

// Access enforces the role stored by Auth against the route path.
func Access(e *casbin.Enforcer) gin.HandlerFunc {
	return func(c *gin.Context) {
		ok, err := e.Enforce(Role(c), c.Request.URL.Path, c.Request.Method)
		if err != nil {
			zap.L().Error("failed to enforce access policy", zap.Error(err))
			c.Error(errutil.Internal("access check failed", err))
			c.Abort()
			return
		}
		if !ok {
			c.Error(errutil.Forbidden("access denied", nil))
			c.Abort()
			return
		}
		c.Next()
	}
}
