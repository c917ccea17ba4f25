package kronos

import (
    "context"
    "errors"
    "fmt"
    "strings"
    "time"

    xhttp "KronosCast/pkg/http"
)

// HTTPServiceBase wraps the inference service endpoint and JSON POST handling.
type HTTPServiceBase struct {
    baseURL string
    client  *xhttp.Client
}

// NewHTTPServiceBase builds an HTTP client for baseURL with the given timeout.
func NewHTTPServiceBase(baseURL string, timeout time.Duration) *HTTPServiceBase {
    if timeout <= 0 {
        timeout = 60 * time.Second
    }
    return &HTTPServiceBase{
        baseURL: strings.TrimRight(baseURL, "/"),
        client:  xhttp.NewClient(xhttp.WithTimeout(timeout)),
    }
}

func (b *HTTPServiceBase) Configured() bool { return b != nil && b.client != nil && b.baseURL != "" }

// PostJSON posts the given payload to `path` under baseURL and decodes JSON into dest.
func (b *HTTPServiceBase) PostJSON(ctx context.Context, path string, payload interface{}, dest interface{}) error {
    if !b.Configured() {
        return fmt.Errorf("kronos http client not initialized")
    }
    err := b.client.PostJSON(ctx, b.baseURL+path, payload, dest)
    if err != nil {
        return fmt.Errorf("post %s: %w", path, err)
    }
    return nil
}

// GetJSON fetches `path` under baseURL and decodes JSON into dest.
func (b *HTTPServiceBase) GetJSON(ctx context.Context, path string, dest interface{}) error {
    if !b.Configured() {
        return fmt.Errorf("kronos http client not initialized")
    }
    if err := b.client.GetJSON(ctx, b.baseURL+path, nil, dest); err != nil {
        return fmt.Errorf("get %s: %w", path, err)
    }
    return nil
}

// PostJSONWithRetry posts JSON with up to `attempts` tries. Client errors (4xx) are not retried.
func (b *HTTPServiceBase) PostJSONWithRetry(ctx context.Context, path string, payload interface{}, dest interface{}, attempts int) error {
    if attempts <= 1 {
        return b.PostJSON(ctx, path, payload, dest)
    }
    var err error
    for i := 1; i <= attempts; i++ {
        err = b.PostJSON(ctx, path, payload, dest)
        if err == nil {
            return nil
        }
        var se *xhttp.StatusError
        if errors.As(err, &se) && !se.Temporary() {
            return err
        }
        if i == attempts {
            break
        }
        select {
        case <-time.After(time.Duration(i) * 50 * time.Millisecond):
        case <-ctx.Done():
            return ctx.Err()
        }
    }
    return err
}
