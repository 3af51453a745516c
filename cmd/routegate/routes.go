package main

import (
	"net/http"
	"time"

	"github.com/routegate/routegate/internal/registry"
	"github.com/routegate/routegate/internal/rules"
	"github.com/routegate/routegate/internal/util"
)

var startedAt = time.Now()

// routeModules declares the built-in route modules served by the data
// listener. Deployments embedding routegate register their own map.
func routeModules() registry.ModuleMap {
	return registry.ModuleMap{
		"/": {
			GET: &registry.Operation{
				Handler: indexHandler,
				Doc: &registry.DocSpec{
					Summary:     "Service information",
					OperationID: "getIndex",
					Tags:        []string{"system"},
					Responses: map[string]registry.ResponseSpec{
						"200": {Description: "Service name and version"},
					},
				},
			},
		},
		"/status": {
			GET: &registry.Operation{
				Handler: statusHandler,
				Doc: &registry.DocSpec{
					Summary:     "Process status",
					OperationID: "getStatus",
					Tags:        []string{"system"},
					Responses: map[string]registry.ResponseSpec{
						"200": {Description: "Uptime and build information"},
					},
				},
			},
		},
	}
}

// interceptionHooks binds hooks to rule names. Hooks cannot be
// expressed in YAML, so embedders register them here.
func interceptionHooks() map[string]rules.Hook {
	return nil
}

func indexHandler(w http.ResponseWriter, _ *registry.Request) error {
	util.WriteJSON(w, http.StatusOK, map[string]string{
		"service": "routegate",
		"version": version,
	})
	return nil
}

func statusHandler(w http.ResponseWriter, _ *registry.Request) error {
	util.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"uptime":    time.Since(startedAt).String(),
		"version":   version,
		"buildTime": buildTime,
		"gitCommit": gitCommit,
	})
	return nil
}
