package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"
)

// DefaultClientTimeout is the default timeout for API requests.
const DefaultClientTimeout = 10 * time.Second

var apiClient = &http.Client{
	Timeout: DefaultClientTimeout,
}

type apiError struct {
	Error string `json:"error"`
	Code  string `json:"code"`
}

// apiGet performs a GET request to the API.
func apiGet(path string) ([]byte, error) {
	req, err := http.NewRequest(http.MethodGet, apiAddr+path, nil)
	if err != nil {
		return nil, err
	}
	return do(req)
}

// apiPost performs a POST request with a JSON body, identifying the reviewer.
func apiPost(path string, data interface{}) ([]byte, error) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	req, err := http.NewRequest(http.MethodPost, apiAddr+path, bytes.NewReader(jsonData))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-Reviewer-ID", reviewerID)
	return do(req)
}

func do(req *http.Request) ([]byte, error) {
	resp, err := apiClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("API request failed: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, err
	}

	if resp.StatusCode >= 400 {
		var e apiError
		if json.Unmarshal(body, &e) == nil && e.Error != "" {
			return nil, fmt.Errorf("API error (%d %s): %s", resp.StatusCode, e.Code, e.Error)
		}
		return nil, fmt.Errorf("API error (%d): %s", resp.StatusCode, string(body))
	}

	return body, nil
}
