package analyzer

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"time"

	jsoniter "github.com/json-iterator/go"

	"github.com/diagnet/diagnet/modules/storage"
	"github.com/diagnet/diagnet/pkg/model"
)

// maxSliceScan bounds a single analysis fetch from the store.
const maxSliceScan = 10000

var jsonCodec = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrSourceUnavailable marks a failed slice fetch. The analysis fails as
// a whole; there is no partial result.
var ErrSourceUnavailable = fmt.Errorf("reading source unavailable")

// ReadingSource fetches the recent slice for one machine.
type ReadingSource interface {
	RecentReadings(ctx context.Context, machineID string, hours int) ([]model.Reading, error)
}

// storeSource reads the slice straight from the store. Default.
type storeSource struct {
	store storage.Store
	now   func() time.Time
}

func (s *storeSource) RecentReadings(ctx context.Context, machineID string, hours int) ([]model.Reading, error) {
	since := s.now().Add(-time.Duration(hours) * time.Hour)
	readings, err := s.store.ScanMachine(ctx, machineID, since, maxSliceScan)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, err)
	}
	return readings, nil
}

// httpSource fetches the slice through the ingestion REST surface, for
// deployments where the analyzer runs apart from the collector.
type httpSource struct {
	baseURL string
	token   string
	client  *http.Client
}

func newHTTPSource(cfg Config) *httpSource {
	return &httpSource{
		baseURL: cfg.CollectorURL,
		token:   cfg.CollectorToken.String(),
		client:  &http.Client{Timeout: cfg.ClientTimeout},
	}
}

func (s *httpSource) RecentReadings(ctx context.Context, machineID string, hours int) ([]model.Reading, error) {
	u := fmt.Sprintf("%s/data/machine/%s/recent?hours=%d", s.baseURL, url.PathEscape(machineID), hours)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u, nil)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, err)
	}
	if s.token != "" {
		req.Header.Set("Authorization", "Bearer "+s.token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("%w: collector returned %d", ErrSourceUnavailable, resp.StatusCode)
	}

	var readings []model.Reading
	if err := jsonCodec.NewDecoder(resp.Body).Decode(&readings); err != nil {
		return nil, fmt.Errorf("%w: %s", ErrSourceUnavailable, err)
	}
	return readings, nil
}
