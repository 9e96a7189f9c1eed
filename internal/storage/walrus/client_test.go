package walrus

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	xerrors "OpenMCP-Sui/internal/errors"
)

func newServer(t *testing.T) *httptest.Server {
	t.Helper()
	var mu sync.Mutex
	blobs := map[string][]byte{}
	mux := http.NewServeMux()
	mux.HandleFunc("/v1/blobs", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPut {
			w.WriteHeader(http.StatusMethodNotAllowed)
			return
		}
		assert.Equal(t, "3", r.URL.Query().Get("epochs"))
		data, _ := io.ReadAll(r.Body)
		mu.Lock()
		defer mu.Unlock()
		if string(data) == "dup" {
			_, _ = io.WriteString(w, `{"alreadyCertified":{"blobId":"existing","endEpoch":10}}`)
			return
		}
		blobs["blob-1"] = data
		_, _ = io.WriteString(w, `{"newlyCreated":{"blobObject":{"id":"0x1","blobId":"blob-1"},"cost":100}}`)
	})
	mux.HandleFunc("/v1/blobs/", func(w http.ResponseWriter, r *http.Request) {
		id := r.URL.Path[len("/v1/blobs/"):]
		mu.Lock()
		defer mu.Unlock()
		data, ok := blobs[id]
		if !ok {
			http.NotFound(w, r)
			return
		}
		_, _ = w.Write(data)
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestPutAndGet(t *testing.T) {
	srv := newServer(t)
	client, err := NewClient(Config{PublisherURL: srv.URL + "/", AggregatorURL: srv.URL, Epochs: 3})
	require.NoError(t, err)
	ctx := context.Background()

	id, err := client.Put(ctx, []byte("cipher"))
	require.NoError(t, err)
	assert.Equal(t, "blob-1", id)

	data, err := client.Get(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []byte("cipher"), data)

	id, err = client.Put(ctx, []byte("dup"))
	require.NoError(t, err)
	assert.Equal(t, "existing", id)
}

func TestGetMissingBlob(t *testing.T) {
	srv := newServer(t)
	client, err := NewClient(Config{PublisherURL: srv.URL, AggregatorURL: srv.URL, Epochs: 3})
	require.NoError(t, err)

	_, err = client.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeNotFound))
}

func TestPutServerError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	client, err := NewClient(Config{PublisherURL: srv.URL, AggregatorURL: srv.URL})
	require.NoError(t, err)

	_, err = client.Put(context.Background(), []byte("x"))
	require.Error(t, err)
	assert.True(t, xerrors.HasCode(err, xerrors.CodeStorageFailure))
	e, _ := xerrors.From(err)
	assert.Equal(t, "503", e.Metadata()["status"])
}

func TestNewClientRequiresURLs(t *testing.T) {
	_, err := NewClient(Config{PublisherURL: "http://p"})
	assert.True(t, xerrors.HasCode(err, xerrors.CodeInitializationFailure))
}
