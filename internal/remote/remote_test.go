package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestIsConflict(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"postgres duplicate key", errors.New(`duplicate key value violates unique constraint "work_records_pkey"`), true},
		{"already exists", errors.New("The resource already exists"), true},
		{"mixed case", errors.New("DUPLICATE entry"), true},
		{"wrapped", fmt.Errorf("insert failed with status 409: %w", errors.New("duplicate key")), true},
		{"plain network error", errors.New("connection refused"), false},
		{"timeout", errors.New("context deadline exceeded"), false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, IsConflict(tt.err))
		})
	}
}

func TestStaticSession(t *testing.T) {
	var nilSession *StaticSession
	_, ok := nilSession.CurrentUser()
	assert.False(t, ok)

	_, ok = (&StaticSession{}).CurrentUser()
	assert.False(t, ok)

	s := &StaticSession{User: &User{ID: "u1", Email: "tech@example.com"}}
	u, ok := s.CurrentUser()
	require.True(t, ok)
	assert.Equal(t, "u1", u.ID)
}

func newTestClient(t *testing.T, handler http.HandlerFunc) *RESTClient {
	t.Helper()
	srv := httptest.NewServer(handler)
	t.Cleanup(srv.Close)
	return NewRESTClient(&RESTConfig{Endpoint: srv.URL, APIKey: "test-key"})
}

func TestRESTClientSelect(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodGet, r.Method)
		assert.Equal(t, "/rest/v1/work_records", r.URL.Path)
		assert.Equal(t, "eq.r1", r.URL.Query().Get("id"))
		assert.Equal(t, "test-key", r.Header.Get("apikey"))
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))

		json.NewEncoder(w).Encode([]Row{{"id": "r1", "status": "created"}})
	})

	rows, err := c.Select(context.Background(), "work_records", Filter{"id": "r1"})
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "r1", rows[0]["id"])
}

func TestRESTClientInsert(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/rest/v1/work_records", r.URL.Path)

		var row Row
		require.NoError(t, json.NewDecoder(r.Body).Decode(&row))
		assert.Equal(t, "r1", row["id"])

		w.WriteHeader(http.StatusCreated)
	})

	err := c.Insert(context.Background(), "work_records", Row{"id": "r1"})
	assert.NoError(t, err)
}

func TestRESTClientInsertConflictPreservesBody(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusConflict)
		io.WriteString(w, `{"message":"duplicate key value violates unique constraint"}`)
	})

	err := c.Insert(context.Background(), "work_records", Row{"id": "r1"})
	require.Error(t, err)
	// The classification contract depends on the body text surviving.
	assert.True(t, IsConflict(err), "conflict body must remain classifiable: %v", err)
}

func TestRESTClientUpdate(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPatch, r.Method)
		assert.Equal(t, "eq.r1", r.URL.Query().Get("id"))
		w.WriteHeader(http.StatusNoContent)
	})

	err := c.Update(context.Background(), "work_records", Row{"status": "completed"}, Filter{"id": "r1"})
	assert.NoError(t, err)
}

func TestRESTClientUploadFile(t *testing.T) {
	var gotBody []byte
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "/storage/v1/object/work-photos/users/u1/photos/r1/m1.jpg", r.URL.Path)
		assert.Equal(t, "true", r.Header.Get("x-upsert"))
		gotBody, _ = io.ReadAll(r.Body)
		w.WriteHeader(http.StatusOK)
	})

	err := c.UploadFile(context.Background(), "work-photos", "users/u1/photos/r1/m1.jpg", []byte{0xFF, 0xD8, 0xFF})
	require.NoError(t, err)
	assert.Equal(t, []byte{0xFF, 0xD8, 0xFF}, gotBody)
}

func TestRESTClientServerError(t *testing.T) {
	c := newTestClient(t, func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "internal error", http.StatusInternalServerError)
	})

	_, err := c.Select(context.Background(), "work_records", nil)
	require.Error(t, err)
	assert.False(t, IsConflict(err))
}
