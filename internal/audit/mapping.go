package audit

import (
	"net/http"
	"strings"
)

// ActionResource holds action and resource derived from an HTTP route.
type ActionResource struct {
	Action   string
	Resource string
}

// Route overrides, keyed by "METHOD template".
var routeOverrides = map[string]ActionResource{
	"GET /auth/logout":               {Action: "logout", Resource: "session"},
	"POST /auth/token/refresh":       {Action: "refresh", Resource: "token"},
	"GET /auth/token":                {Action: "issue", Resource: "token"},
	"GET /access/check":              {Action: "check", Resource: "access"},
	"GET /access/permissions":        {Action: "get", Resource: "permissions"},
	"GET /login/{provider}":          {Action: "login_start", Resource: "login"},
	"GET /login/{provider}/callback": {Action: "login_callback", Resource: "login"},
}

// ParseRoute returns action and resource for an HTTP method and route template (e.g. GET /auth/profile).
// Action is a verb derived from the method; resource is the last static path segment.
func ParseRoute(method, template string) ActionResource {
	if ar, ok := routeOverrides[method+" "+template]; ok {
		return ar
	}
	return ActionResource{Action: methodToAction(method), Resource: pathToResource(template)}
}

func pathToResource(template string) string {
	parts := strings.Split(strings.Trim(template, "/"), "/")
	for i := len(parts) - 1; i >= 0; i-- {
		p := parts[i]
		if p != "" && !strings.HasPrefix(p, "{") {
			return strings.ReplaceAll(p, "-", "_")
		}
	}
	return "unknown"
}

func methodToAction(method string) string {
	switch method {
	case http.MethodGet, http.MethodHead:
		return "get"
	case http.MethodPost:
		return "create"
	case http.MethodPut, http.MethodPatch:
		return "update"
	case http.MethodDelete:
		return "delete"
	default:
		return strings.ToLower(method)
	}
}
