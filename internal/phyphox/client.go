// Package phyphox reads the latest sensor values from the phyphox app's
// remote access HTTP interface.
package phyphox

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"sleepywoodpecker/motion-windows/internal/processing"
)

// Channel names used by the phyphox accelerometer and gyroscope experiments.
var (
	AccelerometerChannels = []string{"accX", "accY", "accZ"}
	GyroscopeChannels     = []string{"gyroX", "gyroY", "gyroZ"}
)

const DefaultTimeChannel = "acc_time"

var (
	ErrMissingChannel = errors.New("channel missing from response")
	ErrEmptyBuffer    = errors.New("no value buffered")
)

// FetchError reports a failed poll. Every FetchError is transient: the caller
// skips the poll and tries again.
type FetchError struct {
	URL        string
	StatusCode int
	Channel    string
	Err        error
}

func (e *FetchError) Error() string {
	switch {
	case e.StatusCode != 0:
		return fmt.Sprintf("phyphox: GET %s: status %d", e.URL, e.StatusCode)
	case e.Channel != "":
		return fmt.Sprintf("phyphox: GET %s: channel %q: %v", e.URL, e.Channel, e.Err)
	default:
		return fmt.Sprintf("phyphox: GET %s: %v", e.URL, e.Err)
	}
}

func (e *FetchError) Unwrap() error { return e.Err }

type response struct {
	Buffer map[string]struct {
		Buffer []*float64 `json:"buffer"`
	} `json:"buffer"`
}

// Client polls one phyphox device. It only consumes the first value of each
// channel buffer, which the app fills with the latest reading.
type Client struct {
	url         string
	channels    []string
	timeChannel string
	httpClient  *http.Client
}

// NewClient builds a client for host (host[:port]). timeout bounds every
// request.
func NewClient(host, timeChannel string, channels []string, timeout time.Duration) *Client {
	query := append(append([]string{}, channels...), timeChannel)
	return &Client{
		url:         fmt.Sprintf("http://%s/get?%s", host, strings.Join(query, "&")),
		channels:    append([]string(nil), channels...),
		timeChannel: timeChannel,
		httpClient:  &http.Client{Timeout: timeout},
	}
}

func (c *Client) URL() string        { return c.url }
func (c *Client) Channels() []string { return append([]string(nil), c.channels...) }

// Fetch performs one request and returns the latest sample. All failures are
// reported as *FetchError.
func (c *Client) Fetch(ctx context.Context) (processing.Sample, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.url, nil)
	if err != nil {
		return processing.Sample{}, &FetchError{URL: c.url, Err: err}
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return processing.Sample{}, &FetchError{URL: c.url, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		io.Copy(io.Discard, resp.Body)
		return processing.Sample{}, &FetchError{URL: c.url, StatusCode: resp.StatusCode}
	}

	var body response
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return processing.Sample{}, &FetchError{URL: c.url, Err: fmt.Errorf("decoding response: %w", err)}
	}

	timestamp, err := body.first(c.timeChannel)
	if err != nil {
		return processing.Sample{}, &FetchError{URL: c.url, Channel: c.timeChannel, Err: err}
	}

	sample := processing.Sample{
		Timestamp: timestamp,
		Channels:  make([]float64, len(c.channels)),
	}
	for i, name := range c.channels {
		v, err := body.first(name)
		if err != nil {
			return processing.Sample{}, &FetchError{URL: c.url, Channel: name, Err: err}
		}
		sample.Channels[i] = v
	}

	return sample, nil
}

func (r *response) first(channel string) (float64, error) {
	buf, ok := r.Buffer[channel]
	if !ok {
		return 0, ErrMissingChannel
	}
	if len(buf.Buffer) == 0 || buf.Buffer[0] == nil {
		return 0, ErrEmptyBuffer
	}
	return *buf.Buffer[0], nil
}
