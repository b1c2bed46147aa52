package handlers

import (
	"context"
	"time"

	"github.com/danielgtaylor/huma/v2"
)

type Health struct {
	Now func() time.Time
}

func (h *Health) RegisterAPI(api huma.API) { // called by [huma.AutoRegister]
	huma.Get(api, "", h.handle, opID("get-health", "Check the API is running"))
}

// HealthModel represents the health operation response data.
type HealthModel struct {
	Status    string    `json:"status"    example:"OK"`
	Timestamp time.Time `json:"timestamp"`
}

type HealthOutput struct {
	Body Envelope[HealthModel]
}

func (h *Health) handle(_ context.Context, _ *struct{}) (*HealthOutput, error) {
	resp := &HealthOutput{Body: success(HealthModel{Status: "OK", Timestamp: now(h.Now).UTC()})}
	resp.Body.Message = "Contact API is running"
	return resp, nil
}
