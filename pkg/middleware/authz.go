package middleware

import (
	"reviewhub/pkg/config"
	"reviewhub/pkg/errutil"
	"reviewhub/pkg/identity"

	"github.com/casbin/casbin/v2"
	"github.com/casbin/casbin/v2/model"
	stringadapter "github.com/casbin/casbin/v2/persist/string-adapter"
	"github.com/gin-gonic/gin"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

var Module = fx.Module("access.control", fx.Provide(NewEnforcer))

const defaultModel = `
[request_definition]
r = sub, obj, act

[policy_definition]
p = sub, obj, act

[policy_effect]
e = some(where (p.eft == allow))

[matchers]
m = r.sub == p.sub && keyMatch2(r.obj, p.obj) && regexMatch(r.act, p.act)
`

const defaultPolicy = `
p, intern, /v1/intern/*, ^(GET|POST|PUT)$
p, client, /v1/client/*, ^(GET|POST|PUT)$
p, admin, /v1/admin/*, ^(GET|POST|PUT)$
p, admin, /v1/intern/tasks, ^GET$
`

// NewEnforcer loads ACCESS_CONTROL.MODEL / ACCESS_CONTROL.POLICY files when set,
// otherwise the built-in role policy.
func NewEnforcer(cfg *config.Config) (*casbin.Enforcer, error) {
	if cfg.AccessControl.Model != "" && cfg.AccessControl.Policy != "" {
		zap.L().Info("loading access control policy",
			zap.String("model", cfg.AccessControl.Model),
			zap.String("policy", cfg.AccessControl.Policy),
		)
		return casbin.NewEnforcer(cfg.AccessControl.Model, cfg.AccessControl.Policy)
	}

	m, err := model.NewModelFromString(defaultModel)
	if err != nil {
		return nil, err
	}
	return casbin.NewEnforcer(m, stringadapter.NewAdapter(defaultPolicy))
}

// Authorize checks the caller's role against the request path and method.
func Authorize(enforcer *casbin.Enforcer) gin.HandlerFunc {
	return func(c *gin.Context) {
		u, ok := identity.FromContext(c.Request.Context())
		if !ok {
			_ = c.Error(errutil.Unauthorized("sign in required", nil))
			c.Abort()
			return
		}

		allowed, err := enforcer.Enforce(string(u.Role), c.Request.URL.Path, c.Request.Method)
		if err != nil {
			_ = c.Error(errutil.Internal("failed to evaluate access policy", err))
			c.Abort()
			return
		}

		if !allowed {
			_ = c.Error(errutil.Forbidden("role is not allowed to access this resource", nil))
			c.Abort()
			return
		}

		c.Next()
	}
}
