package api

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
)

// PupilInfo is a single pupil as the server represents it.
type PupilInfo struct {
	PupilID   int64   `json:"pupilId"`
	Name      string  `json:"name"`
	Country   string  `json:"country"`
	Image     *string `json:"image"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// PupilPage is one page of the roster. The server pages five pupils at a
// time; TotalPages on any page reports the full extent.
type PupilPage struct {
	Items      []PupilInfo `json:"items"`
	PageNumber int         `json:"pageNumber"`
	ItemCount  int         `json:"itemCount"`
	TotalPages int         `json:"totalPages"`
}

// PupilRequest is the body for create and update calls.
type PupilRequest struct {
	Name      string  `json:"name"`
	Country   string  `json:"country"`
	Image     *string `json:"image"`
	Latitude  float64 `json:"latitude"`
	Longitude float64 `json:"longitude"`
}

// ListPupils fetches one page of the roster.
func (c *Client) ListPupils(ctx context.Context, page int) (*PupilPage, error) {
	query := url.Values{"page": {strconv.Itoa(page)}}

	var out PupilPage
	if err := c.do(ctx, http.MethodGet, "/pupils", query, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// GetPupil fetches the pupil with the given remote id.
func (c *Client) GetPupil(ctx context.Context, id int64) (*PupilInfo, error) {
	var out PupilInfo
	if err := c.do(ctx, http.MethodGet, fmt.Sprintf("/pupils/%d", id), nil, nil, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// CreatePupil creates a new pupil and returns the server's copy, including
// the assigned remote id.
func (c *Client) CreatePupil(ctx context.Context, req PupilRequest) (*PupilInfo, error) {
	var out PupilInfo
	if err := c.do(ctx, http.MethodPost, "/pupils", nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// UpdatePupil replaces the pupil with the given remote id.
func (c *Client) UpdatePupil(ctx context.Context, id int64, req PupilRequest) (*PupilInfo, error) {
	var out PupilInfo
	if err := c.do(ctx, http.MethodPut, fmt.Sprintf("/pupils/%d", id), nil, req, &out); err != nil {
		return nil, err
	}
	return &out, nil
}

// DeletePupil removes the pupil with the given remote id.
func (c *Client) DeletePupil(ctx context.Context, id int64) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/pupils/%d", id), nil, nil, nil)
}
