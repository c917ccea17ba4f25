package repository

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"KronosCast/internal/domain/models"
	domrepo "KronosCast/internal/domain/repository"
	pkghttp "KronosCast/pkg/http"
)

// HTTPKlineSource fetches daily bars from a JSON kline endpoint. It accepts either
// a {columns, rows} table or a column-oriented object of equal-length arrays.
type HTTPKlineSource struct {
	client  *pkghttp.Client
	baseURL string
}

func NewHTTPKlineSource(baseURL string, timeout time.Duration) *HTTPKlineSource {
	return &HTTPKlineSource{
		client:  pkghttp.NewClient(pkghttp.WithTimeout(timeout)),
		baseURL: strings.TrimRight(baseURL, "/"),
	}
}

var _ domrepo.FeedSource = (*HTTPKlineSource)(nil)

func (s *HTTPKlineSource) Fetch(ctx context.Context, q domrepo.FeedQuery) (models.RawFeed, error) {
	query := map[string][]string{"code": {q.Code}}
	if !q.From.IsZero() {
		query["from"] = []string{q.From.Format("2006-01-02")}
	}
	if !q.To.IsZero() {
		query["to"] = []string{q.To.Format("2006-01-02")}
	}

	var body map[string]interface{}
	if err := s.client.GetJSON(ctx, s.baseURL+"/kline", query, &body); err != nil {
		return models.RawFeed{}, fmt.Errorf("fetch kline %s: %w", q.Code, err)
	}
	return decodeKline(body)
}

func (s *HTTPKlineSource) Health(ctx context.Context) error {
	return s.client.GetJSON(ctx, s.baseURL+"/health", nil, nil)
}

func decodeKline(body map[string]interface{}) (models.RawFeed, error) {
	if inner, ok := body["data"].(map[string]interface{}); ok {
		body = inner
	}

	if cols, ok := body["columns"].([]interface{}); ok {
		feed := models.RawFeed{Columns: make([]string, len(cols))}
		for i, c := range cols {
			feed.Columns[i] = fmt.Sprint(c)
		}
		rows, _ := body["rows"].([]interface{})
		for _, r := range rows {
			cells, ok := r.([]interface{})
			if !ok {
				return models.RawFeed{}, fmt.Errorf("kline row is %T, want array", r)
			}
			feed.Rows = append(feed.Rows, cells)
		}
		return feed, nil
	}

	// Column-oriented: every array-valued key is a column.
	var names []string
	n := 0
	for k, v := range body {
		if arr, ok := v.([]interface{}); ok {
			names = append(names, k)
			if len(arr) > n {
				n = len(arr)
			}
		}
	}
	sort.Strings(names)
	feed := models.RawFeed{Columns: names}
	for i := 0; i < n; i++ {
		row := make([]interface{}, len(names))
		for j, name := range names {
			if arr := body[name].([]interface{}); i < len(arr) {
				row[j] = arr[i]
			}
		}
		feed.Rows = append(feed.Rows, row)
	}
	return feed, nil
}
