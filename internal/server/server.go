// Package server exposes the worker's operational status API.
package server

import (
	"context"
	"net/http"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"udskrivning22/internal/engine"
	"udskrivning22/internal/worker"
)

// Config for the status API handler.
type Config struct {
	Worker   *worker.Worker
	BasePath string
	Auth     AuthConfig
}

// New returns an HTTP handler exposing health and worker status.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	router := chi.NewRouter()
	router.Use(newAuthMiddleware(basePath, cfg.Auth))
	hcfg := huma.DefaultConfig("Udskrivning 22 Worker", "0.1.0")
	hcfg.OpenAPIPath = basePath + "/openapi"
	hcfg.DocsPath = basePath + "/docs"
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerHealth(group)
	registerStatus(group, cfg.Worker)

	return router, nil
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

type statusBody struct {
	State     worker.State       `json:"state"`
	LastCycle *engine.CycleStats `json:"last_cycle,omitempty"`
}

func registerStatus(api huma.API, w *worker.Worker) {
	huma.Register(api, huma.Operation{
		OperationID: "status",
		Method:      http.MethodGet,
		Path:        "/status",
		Summary:     "Worker status",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body statusBody `json:"body"`
	}, error) {
		return &struct {
			Body statusBody `json:"body"`
		}{Body: statusBody{
			State:     w.State(),
			LastCycle: w.LastCycle(),
		}}, nil
	})
}
