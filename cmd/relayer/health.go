package main

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/AshFrancis/zkvote-relayer/indexer"
	"github.com/AshFrancis/zkvote-relayer/relayer"
)

type healthResponse struct {
	Status  string         `json:"status"`
	Uptime  string         `json:"uptime"`
	Indexer indexer.Status `json:"indexer"`
	Chain   chainHealth    `json:"chain"`
}

type chainHealth struct {
	Healthy bool   `json:"healthy"`
	Detail  string `json:"detail"`
}

type healthHandler struct {
	svc *relayer.Service
}

func newHealthHandler(svc *relayer.Service) *healthHandler {
	return &healthHandler{svc: svc}
}

func (h *healthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	healthy, detail := h.svc.ChainHealth(ctx)
	resp := healthResponse{
		Status:  "ok",
		Uptime:  h.svc.Uptime().Round(time.Second).String(),
		Indexer: h.svc.Indexer().Status(ctx),
		Chain:   chainHealth{Healthy: healthy, Detail: detail},
	}
	if !healthy {
		resp.Status = "degraded"
	}

	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(resp)
}
