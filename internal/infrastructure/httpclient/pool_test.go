package httpclient

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClientPool_DoRecordsStats(t *testing.T) {
	var gotUA string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		if r.URL.Path == "/slow" {
			time.Sleep(200 * time.Millisecond)
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	cp := NewClientPool(ClientConfig{MaxConcurrency: 2, UserAgent: "signalgate/test"})

	req, err := http.NewRequest(http.MethodGet, srv.URL+"/fast", nil)
	require.NoError(t, err)
	resp, err := cp.Do(context.Background(), req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, "signalgate/test", gotUA)

	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	req, err = http.NewRequest(http.MethodGet, srv.URL+"/slow", nil)
	require.NoError(t, err)
	_, err = cp.Do(ctx, req)
	require.Error(t, err)
	assert.True(t, IsTimeout(err))

	stats := cp.GetStats()
	assert.Equal(t, int64(2), stats.TotalRequests)
	assert.Equal(t, int64(1), stats.SuccessRequests)
	assert.Equal(t, int64(1), stats.TimeoutRequests)
}

func TestIsTimeout(t *testing.T) {
	assert.False(t, IsTimeout(nil))
	assert.True(t, IsTimeout(context.DeadlineExceeded))
	assert.False(t, IsTimeout(context.Canceled))
}
