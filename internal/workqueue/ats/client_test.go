package ats

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JakeFAU/pagecount-runner/internal/workqueue"
)

type recordedRequest struct {
	Method string
	Path   string
	Auth   string
	Body   map[string]any
}

type fakeServer struct {
	mu       sync.Mutex
	requests []recordedRequest
	handler  func(w http.ResponseWriter, r *http.Request)
}

func (f *fakeServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	rec := recordedRequest{Method: r.Method, Path: r.URL.Path, Auth: r.Header.Get("Authorization")}
	if len(body) > 0 {
		_ = json.Unmarshal(body, &rec.Body)
	}
	f.mu.Lock()
	f.requests = append(f.requests, rec)
	f.mu.Unlock()
	f.handler(w, r)
}

func (f *fakeServer) last() recordedRequest {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.requests[len(f.requests)-1]
}

func newTestClient(t *testing.T, handler func(w http.ResponseWriter, r *http.Request)) (*Client, *fakeServer) {
	t.Helper()
	fake := &fakeServer{handler: handler}
	srv := httptest.NewServer(fake)
	t.Cleanup(srv.Close)
	client, err := NewClient(context.Background(), Config{URL: srv.URL + "/", Token: "secret", Workqueue: "7"})
	require.NoError(t, err)
	return client, fake
}

func TestNewClientValidation(t *testing.T) {
	t.Parallel()

	_, err := NewClient(context.Background(), Config{})
	require.ErrorContains(t, err, "ats url is required")

	_, err = NewClient(context.Background(), Config{URL: "http://localhost:1"})
	require.ErrorContains(t, err, "either ats workqueue or ats process must be set")
}

func TestNewClientKeepsSessionIdentity(t *testing.T) {
	t.Parallel()

	client, err := NewClient(context.Background(), Config{URL: "http://ats.invalid", Workqueue: "4", Session: "s-1", Resource: "r-2"})
	require.NoError(t, err)
	assert.Equal(t, "s-1", client.Session())
	assert.Equal(t, "r-2", client.Resource())
}

func TestNewClientResolvesWorkqueueFromProcess(t *testing.T) {
	t.Parallel()

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/processes/42", r.URL.Path)
		_, _ = io.WriteString(w, `{"id": 42, "name": "pagecount", "workqueue_id": 9}`)
	}))
	t.Cleanup(srv.Close)

	client, err := NewClient(context.Background(), Config{URL: srv.URL, Process: "42"})
	require.NoError(t, err)
	require.Equal(t, "9", client.WorkqueueID())
}

func TestAddSendsEncodedData(t *testing.T) {
	t.Parallel()

	client, fake := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w,
			`{"id": 11, "reference": "https://www.cnn.com", "status": "new",
			  "data": "{\"url\": \"https://www.cnn.com\", \"imagecount\": 0, \"hrefcount\": 0}"}`)
	})

	item, err := client.Add(context.Background(), workqueue.NewItemData("https://www.cnn.com"), "https://www.cnn.com")
	require.NoError(t, err)
	assert.Equal(t, "11", item.ID)
	assert.Equal(t, workqueue.StatusNew, item.Status)
	assert.Equal(t, workqueue.NewItemData("https://www.cnn.com"), item.Data)

	req := fake.last()
	assert.Equal(t, http.MethodPost, req.Method)
	assert.Equal(t, "/workqueues/7/add", req.Path)
	assert.Equal(t, "Bearer secret", req.Auth)
	assert.Equal(t, "https://www.cnn.com", req.Body["reference"])
	assert.JSONEq(t, `{"url":"https://www.cnn.com","imagecount":0,"hrefcount":0}`, req.Body["data"].(string))
}

func TestClearScopesToStatus(t *testing.T) {
	t.Parallel()

	client, fake := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	require.NoError(t, client.Clear(context.Background(), workqueue.StatusNew))
	req := fake.last()
	assert.Equal(t, "/workqueues/7/clear", req.Path)
	assert.Equal(t, "new", req.Body["workitem_status"])
}

func TestNextDecodesObjectPayload(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w,
			`{"id": 3, "reference": "https://example.com", "status": "in progress",
			  "data": {"url": "https://example.com", "imagecount": 0, "hrefcount": 0}}`)
	})

	item, err := client.Next(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "3", item.ID)
	assert.Equal(t, "https://example.com", item.Data.URL)
	assert.Equal(t, workqueue.StatusInProgress, item.Status)
}

func TestNextReturnsErrEmptyOnNoContent(t *testing.T) {
	t.Parallel()

	client, fake := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	})

	_, err := client.Next(context.Background())
	require.ErrorIs(t, err, workqueue.ErrEmpty)
	assert.Equal(t, "/workqueues/7/next_item", fake.last().Path)
}

func TestUpdateAndSetStatus(t *testing.T) {
	t.Parallel()

	client, fake := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		_, _ = io.WriteString(w, `{}`)
	})

	data := workqueue.ItemData{URL: "https://example.com", ImageCount: 3, HrefCount: 4}
	require.NoError(t, client.Update(context.Background(), "3", data, "https://example.com"))
	req := fake.last()
	assert.Equal(t, http.MethodPut, req.Method)
	assert.Equal(t, "/workitems/3", req.Path)
	assert.JSONEq(t, `{"url":"https://example.com","imagecount":3,"hrefcount":4}`, req.Body["data"].(string))

	require.NoError(t, client.SetStatus(context.Background(), "3", workqueue.StatusFailed, "net::ERR_TIMED_OUT"))
	req = fake.last()
	assert.Equal(t, "/workitems/3/status", req.Path)
	assert.Equal(t, "failed", req.Body["status"])
	assert.Equal(t, "net::ERR_TIMED_OUT", req.Body["message"])
}

func TestAPIErrorCarriesStatusAndBody(t *testing.T) {
	t.Parallel()

	client, _ := newTestClient(t, func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, `{"detail":"workqueue locked"}`, http.StatusConflict)
	})

	_, err := client.Add(context.Background(), workqueue.NewItemData("https://x.example"), "https://x.example")
	var apiErr *APIError
	require.True(t, errors.As(err, &apiErr))
	assert.Equal(t, http.StatusConflict, apiErr.StatusCode)
	assert.Contains(t, apiErr.Body, "workqueue locked")
}

func TestDecodeData(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name string
		raw  string
		want workqueue.ItemData
	}{
		{"null", `null`, workqueue.ItemData{}},
		{"empty string", `""`, workqueue.ItemData{}},
		{"object", `{"url":"u","imagecount":1,"hrefcount":-1}`, workqueue.ItemData{URL: "u", ImageCount: 1, HrefCount: -1}},
		{"encoded", `"{\"url\":\"u\",\"imagecount\":2,\"hrefcount\":5}"`, workqueue.ItemData{URL: "u", ImageCount: 2, HrefCount: 5}},
	}
	for _, tc := range testCases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeData(json.RawMessage(tc.raw))
			require.NoError(t, err)
			require.Equal(t, tc.want, got)
		})
	}

	_, err := decodeData(json.RawMessage(`"not json"`))
	require.Error(t, err)
}

func TestUpdateKeepsItemReference(t *testing.T) {
	t.Parallel()

	var (
		mu      sync.Mutex
		claimed bool
	)
	client, fake := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/workqueues/7/next_item" {
			mu.Lock()
			defer mu.Unlock()
			if claimed {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			claimed = true
			_, _ = io.WriteString(w,
				`{"id": 3, "reference": "ticket-42", "status": "in progress",
				  "data": {"url": "https://example.com", "imagecount": 0, "hrefcount": 0}}`)
			return
		}
		_, _ = io.WriteString(w, `{}`)
	})

	q := workqueue.New(client, nil)
	n, err := q.Each(context.Background(), func(ctx context.Context, h *workqueue.Handle) {
		data := h.Data()
		data.ImageCount, data.HrefCount = 3, 4
		h.SetData(data)
		require.NoError(t, h.Update(ctx))
	})
	require.NoError(t, err)
	require.Equal(t, 1, n)

	var put recordedRequest
	fake.mu.Lock()
	for _, req := range fake.requests {
		if req.Method == http.MethodPut && req.Path == "/workitems/3" {
			put = req
		}
	}
	fake.mu.Unlock()
	assert.Equal(t, "ticket-42", put.Body["reference"])
	assert.JSONEq(t, `{"url":"https://example.com","imagecount":3,"hrefcount":4}`, put.Body["data"].(string))
}
