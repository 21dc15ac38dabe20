package meta

import (
	"net/http"
	"sync"
	"sync/atomic"
	"testing"

	"bringmeimage/internal/api"

	"github.com/jarcoal/httpmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newMockedClient(t *testing.T) (*api.Client, *http.Client) {
	t.Helper()
	transport := httpmock.NewMockTransport()
	httpClient := &http.Client{Transport: transport}
	client := api.NewClient("", httpClient)

	transport.RegisterResponder("GET", api.CivitaiApiBaseUrl+"/model-versions/456",
		httpmock.NewStringResponder(200, `{"id":456,"modelId":77,"name":"v1.5"}`))
	transport.RegisterResponder("GET", api.CivitaiApiBaseUrl+"/models/77",
		httpmock.NewStringResponder(200, `{"id":77,"name":"Some Model","type":"LORA","creator":{"username":"artist"}}`))
	return client, httpClient
}

func TestResolveVersionChainsLookups(t *testing.T) {
	client, _ := newMockedClient(t)
	r := NewResolver(client, nil)

	info, err := r.ResolveVersion("456")
	require.NoError(t, err)
	assert.Equal(t, "v1.5", info.VersionName)
	assert.Equal(t, "77", info.ModelID)
	assert.Equal(t, "Some Model", info.ModelName)
	assert.Equal(t, "artist", info.Creator)

	cached, ok := r.Cached("456")
	assert.True(t, ok)
	assert.Equal(t, info, cached)
}

func TestResolveVersionSingleLookupPerID(t *testing.T) {
	transport := httpmock.NewMockTransport()
	httpClient := &http.Client{Transport: transport}
	client := api.NewClient("", httpClient)

	var versionCalls, modelCalls int64
	transport.RegisterResponder("GET", api.CivitaiApiBaseUrl+"/model-versions/456",
		func(req *http.Request) (*http.Response, error) {
			atomic.AddInt64(&versionCalls, 1)
			return httpmock.NewStringResponse(200, `{"id":456,"modelId":77,"name":"v1.5"}`), nil
		})
	transport.RegisterResponder("GET", api.CivitaiApiBaseUrl+"/models/77",
		func(req *http.Request) (*http.Response, error) {
			atomic.AddInt64(&modelCalls, 1)
			return httpmock.NewStringResponse(200, `{"id":77,"name":"Some Model","creator":{"username":"artist"}}`), nil
		})

	r := NewResolver(client, nil)
	_, err := r.ResolveVersion("456")
	require.NoError(t, err)

	// Subsequent resolutions, including concurrent ones, hit the cache.
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := r.ResolveVersion("456")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()

	assert.Equal(t, int64(1), atomic.LoadInt64(&versionCalls))
	assert.Equal(t, int64(1), atomic.LoadInt64(&modelCalls))
}

func TestResolveVersionNoPartialCaching(t *testing.T) {
	transport := httpmock.NewMockTransport()
	httpClient := &http.Client{Transport: transport}
	client := api.NewClient("", httpClient)

	transport.RegisterResponder("GET", api.CivitaiApiBaseUrl+"/model-versions/456",
		httpmock.NewStringResponder(200, `{"id":456,"modelId":77,"name":"v1.5"}`))
	transport.RegisterResponder("GET", api.CivitaiApiBaseUrl+"/models/77",
		httpmock.NewStringResponder(500, `{}`))

	r := NewResolver(client, nil)
	_, err := r.ResolveVersion("456")
	require.Error(t, err)
	assert.ErrorIs(t, err, api.ErrUnreachable)

	_, ok := r.Cached("456")
	assert.False(t, ok, "failed chain must not leave a cache entry")
}

func TestResolveVersionBadShape(t *testing.T) {
	transport := httpmock.NewMockTransport()
	httpClient := &http.Client{Transport: transport}
	client := api.NewClient("", httpClient)

	// Missing modelId and name.
	transport.RegisterResponder("GET", api.CivitaiApiBaseUrl+"/model-versions/456",
		httpmock.NewStringResponder(200, `{"id":456}`))

	r := NewResolver(client, nil)
	_, err := r.ResolveVersion("456")
	assert.ErrorIs(t, err, api.ErrBadResponse)
}
