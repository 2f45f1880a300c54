package httputil

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
)

const capsolverTaskURL = "https://api.capsolver.com/createTask"

// Capsolver classifies image-selection challenges through the capsolver
// recognition API. One createTask call returns the full tile mask; there
// is no polling.
type Capsolver struct {
	requester *Requester
	apiKey    string
}

func NewCapsolver(client *http.Client, apiKey string) *Capsolver {
	return &Capsolver{requester: NewRequester(client), apiKey: apiKey}
}

type capsolverTask struct {
	ClientKey string `json:"clientKey"`
	Task      struct {
		Type       string   `json:"type"`
		WebsiteURL string   `json:"websiteURL,omitempty"`
		Question   string   `json:"question"`
		Queries    []string `json:"queries"`
	} `json:"task"`
}

type capsolverResponse struct {
	ErrorID          int    `json:"errorId"`
	ErrorDescription string `json:"errorDescription"`
	Solution         struct {
		Objects []bool `json:"objects"`
	} `json:"solution"`
}

func (c *Capsolver) Classify(ctx context.Context, question string, images []string) ([]bool, error) {
	task := capsolverTask{ClientKey: c.apiKey}
	task.Task.Type = "HCaptchaClassification"
	task.Task.Question = question
	task.Task.Queries = images

	raw, err := c.requester.Post(ctx, capsolverTaskURL, task, nil)
	if err != nil {
		return nil, fmt.Errorf("classification request: %w", err)
	}

	var resp capsolverResponse
	if err := json.Unmarshal(raw, &resp); err != nil {
		return nil, fmt.Errorf("decode classification response: %w", err)
	}
	if resp.ErrorID != 0 {
		return nil, fmt.Errorf("classification rejected: %s", resp.ErrorDescription)
	}
	return resp.Solution.Objects, nil
}
