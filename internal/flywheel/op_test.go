package flywheel

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGjsonPath(t *testing.T) {
	tests := []struct {
		path string
		want string
	}{
		{"$", "@this"},
		{"$.name", "name"},
		{"$.users[0].name", "users.0.name"},
		{"$[1].id", "1.id"},
		{"$['data'][\"items\"][2]", "data.items.2"},
		{"status.code", "status.code"},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			if got := gjsonPath(tt.path); got != tt.want {
				t.Errorf("gjsonPath(%q) = %q, want %q", tt.path, got, tt.want)
			}
		})
	}
}

func TestExpect_Check(t *testing.T) {
	body := []byte(`{"status":"ok","items":[{"id":7}]}`)

	tests := []struct {
		name    string
		expect  Expect
		status  int
		wantErr bool
	}{
		{"default accepts 2xx", Expect{}, 200, false},
		{"default accepts 3xx", Expect{}, 304, false},
		{"default rejects 5xx", Expect{}, 503, true},
		{"explicit status match", Expect{Status: 201}, 201, false},
		{"explicit status mismatch", Expect{Status: 201}, 200, true},
		{"path exists", Expect{Path: "$.items[0].id"}, 200, false},
		{"path missing", Expect{Path: "$.missing"}, 200, true},
		{"path value match", Expect{Path: "$.status", Value: "ok"}, 200, false},
		{"path value mismatch", Expect{Path: "$.status", Value: "down"}, 200, true},
		{"gjson path value", Expect{Path: "items.0.id", Value: "7"}, 200, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.expect.Check(tt.status, body)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Check() error = %v, wantErr %v", err, tt.wantErr)
			}
			if err != nil {
				var expErr *ExpectationError
				assert.True(t, errors.As(err, &expErr))
			}
		})
	}
}

func TestNewHTTPOp_Validation(t *testing.T) {
	_, err := NewHTTPOp(HTTPConfig{URL: "ftp://example.com"})
	assert.Error(t, err)

	_, err = NewHTTPOp(HTTPConfig{URL: "://bad"})
	assert.Error(t, err)

	op, err := NewHTTPOp(HTTPConfig{URL: "http://localhost:1"})
	require.NoError(t, err)
	assert.Equal(t, http.MethodGet, op.method)
}

func TestHTTPOp_Do(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("X-Token") != "secret" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		if r.Method == http.MethodPost {
			w.WriteHeader(http.StatusCreated)
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"healthy":true}`))
	}))
	defer server.Close()

	t.Run("success with body check", func(t *testing.T) {
		op, err := NewHTTPOp(HTTPConfig{
			URL:     server.URL,
			Headers: map[string]string{"X-Token": "secret"},
			Expect:  Expect{Path: "$.healthy", Value: "true"},
		})
		require.NoError(t, err)
		defer op.CloseIdleConnections()

		assert.NoError(t, op.Do(context.Background()))
	})

	t.Run("post with status", func(t *testing.T) {
		op, err := NewHTTPOp(HTTPConfig{
			Method:  http.MethodPost,
			URL:     server.URL,
			Headers: map[string]string{"X-Token": "secret"},
			Body:    `{"n":1}`,
			Expect:  Expect{Status: http.StatusCreated},
		})
		require.NoError(t, err)
		assert.NoError(t, op.Do(context.Background()))
	})

	t.Run("unauthorized is a failure", func(t *testing.T) {
		op, err := NewHTTPOp(HTTPConfig{URL: server.URL})
		require.NoError(t, err)

		err = op.Do(context.Background())
		var expErr *ExpectationError
		require.True(t, errors.As(err, &expErr))
		assert.Equal(t, "status", expErr.Field)
	})

	t.Run("unreachable target", func(t *testing.T) {
		op, err := NewHTTPOp(HTTPConfig{URL: "http://127.0.0.1:1", Timeout: 200 * time.Millisecond})
		require.NoError(t, err)
		assert.Error(t, op.Do(context.Background()))
	})
}

func TestSyntheticOp(t *testing.T) {
	_, err := NewSyntheticOp(0, time.Millisecond, 0)
	assert.Error(t, err)
	_, err = NewSyntheticOp(1, 0, 0)
	assert.Error(t, err)
	_, err = NewSyntheticCapacity(10)
	assert.Error(t, err, "below one slot")

	op, err := NewSyntheticOp(1, 50*time.Millisecond, 0)
	require.NoError(t, err)
	assert.InDelta(t, 20, op.Capacity(), 1e-9)

	done := make(chan error, 1)
	go func() { done <- op.Do(context.Background()) }()

	// Wait for the slot to be taken, then overflow.
	require.Eventually(t, func() bool { return len(op.slots) == 1 }, time.Second, time.Millisecond)
	assert.ErrorIs(t, op.Do(context.Background()), ErrOverloaded)

	require.NoError(t, <-done)
	assert.NoError(t, op.Do(context.Background()))
}

func TestSyntheticCapacity(t *testing.T) {
	op, err := NewSyntheticCapacity(500)
	require.NoError(t, err)
	assert.Equal(t, 5, cap(op.slots))
	assert.InDelta(t, 500, op.Capacity(), 1e-9)
}
