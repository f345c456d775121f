package main

import (
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/go-resty/resty/v2"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
	Version   string `json:"version"`
	Services  struct {
		Database struct {
			Status string `json:"status"`
			Error  string `json:"error,omitempty"`
		} `json:"database"`
		Jobs struct {
			Running int `json:"running"`
		} `json:"jobs"`
	} `json:"services"`
}

func main() {
	url := "http://localhost:8080/health"
	if len(os.Args) > 1 {
		url = os.Args[1]
	}

	fmt.Printf("Checking health endpoint: %s\n", url)

	resp, err := resty.New().SetTimeout(10 * time.Second).R().Get(url)
	if err != nil {
		fmt.Printf("FAIL: error connecting to health endpoint: %v\n", err)
		os.Exit(1)
	}

	fmt.Printf("Response status: %s\n", resp.Status())

	var health HealthResponse
	if err := json.Unmarshal(resp.Body(), &health); err != nil {
		fmt.Printf("FAIL: error parsing JSON response: %v\n", err)
		fmt.Printf("Response body: %s\n", resp.String())
		os.Exit(1)
	}

	if health.Services.Database.Status != "ok" {
		fmt.Printf("FAIL: database status is not 'ok': %s\n", health.Services.Database.Status)
		if health.Services.Database.Error != "" {
			fmt.Printf("   database error: %s\n", health.Services.Database.Error)
		}
		os.Exit(1)
	}

	if resp.StatusCode() != 200 || health.Status != "ok" {
		fmt.Printf("FAIL: health status %q (HTTP %d)\n", health.Status, resp.StatusCode())
		os.Exit(1)
	}

	fmt.Printf("OK\n")
	fmt.Printf("   Version: %s\n", health.Version)
	fmt.Printf("   Database: %s\n", health.Services.Database.Status)
	fmt.Printf("   Running jobs: %d\n", health.Services.Jobs.Running)
	fmt.Printf("   Timestamp: %s\n", health.Timestamp)
}
