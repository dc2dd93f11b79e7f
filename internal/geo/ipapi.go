package geo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
)

// IPAPI queries the ip-api.com JSON endpoint.
type IPAPI struct {
	baseURL string
	client  *http.Client
}

// NewIPAPI creates an ip-api.com client. baseURL defaults to http://ip-api.com.
func NewIPAPI(baseURL string, client *http.Client) *IPAPI {
	if baseURL == "" {
		baseURL = "http://ip-api.com"
	}
	if client == nil {
		client = http.DefaultClient
	}
	return &IPAPI{baseURL: strings.TrimSuffix(baseURL, "/"), client: client}
}

type ipAPIResponse struct {
	Status     string `json:"status"`
	Message    string `json:"message"`
	Country    string `json:"country"`
	RegionName string `json:"regionName"`
	City       string `json:"city"`
}

// Locate implements Locator.
func (a *IPAPI) Locate(ctx context.Context, ip string) (Location, error) {
	endpoint := fmt.Sprintf("%s/json/%s?fields=status,message,country,regionName,city", a.baseURL, url.PathEscape(ip))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return Location{}, err
	}

	resp, err := a.client.Do(req)
	if err != nil {
		return Location{}, fmt.Errorf("ip-api request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Location{}, fmt.Errorf("ip-api returned status %d", resp.StatusCode)
	}

	var body ipAPIResponse
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return Location{}, fmt.Errorf("decoding ip-api response: %w", err)
	}
	if body.Status != "success" {
		return Location{}, fmt.Errorf("ip-api lookup failed: %s", body.Message)
	}

	return Location{Country: body.Country, Region: body.RegionName, City: body.City}, nil
}
