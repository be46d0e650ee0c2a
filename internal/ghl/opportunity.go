package ghl

import (
	"context"
	"net/http"
	"net/url"
)

// Opportunity is one CRM opportunity as returned by the search endpoint.
type Opportunity struct {
	ID            string  `json:"id"`
	Name          string  `json:"name"`
	MonetaryValue float64 `json:"monetaryValue"`
	PipelineID    string  `json:"pipelineId"`
	StageID       string  `json:"pipelineStageId"`
	Contact       struct {
		Name string `json:"name"`
	} `json:"contact"`
}

type opportunitiesResponse struct {
	Opportunities []Opportunity `json:"opportunities"`
}

// ListOpportunities returns opportunities in the given pipeline.
func (c *Client) ListOpportunities(ctx context.Context, locationToken, locationID, pipelineID string) ([]Opportunity, error) {
	path := "/opportunities/search?location_id=" + url.QueryEscape(locationID) +
		"&pipeline_id=" + url.QueryEscape(pipelineID)
	var out opportunitiesResponse
	if err := c.doJSON(ctx, http.MethodGet, path, locationToken, nil, &out); err != nil {
		return nil, err
	}
	return out.Opportunities, nil
}

// MoveOpportunity sets an opportunity's pipeline stage.
func (c *Client) MoveOpportunity(ctx context.Context, locationToken, opportunityID, pipelineID, stageID string) error {
	body := map[string]string{
		"pipelineId":      pipelineID,
		"pipelineStageId": stageID,
	}
	return c.doJSON(ctx, http.MethodPut, "/opportunities/"+url.PathEscape(opportunityID), locationToken, body, nil)
}

// UpdateContactField sets one custom field on a contact.
func (c *Client) UpdateContactField(ctx context.Context, locationToken, contactID, fieldID, value string) error {
	body := map[string]interface{}{
		"customFields": []map[string]string{
			{"id": fieldID, "value": value},
		},
	}
	return c.doJSON(ctx, http.MethodPut, "/contacts/"+url.PathEscape(contactID), locationToken, body, nil)
}
