package ghl

import (
	"context"
	"net/url"
)

// PipelineStage is one stage within a pipeline.
type PipelineStage struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Pipeline is one opportunity pipeline owned by a location.
type Pipeline struct {
	ID     string          `json:"id"`
	Name   string          `json:"name"`
	Stages []PipelineStage `json:"stages"`
}

type pipelinesResponse struct {
	Pipelines []Pipeline `json:"pipelines"`
}

// ListPipelines returns all pipelines for a location, including their live
// stage ids and names.
func (c *Client) ListPipelines(ctx context.Context, locationToken, locationID string) ([]Pipeline, error) {
	path := "/opportunities/pipelines?locationId=" + url.QueryEscape(locationID)
	var out pipelinesResponse
	if err := c.doJSON(ctx, "GET", path, locationToken, nil, &out); err != nil {
		return nil, err
	}
	return out.Pipelines, nil
}
