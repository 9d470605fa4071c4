package apikeys

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadagent/internal/config"
	"leadagent/internal/ratelimit"
)

func apiConfig(apolloURL, rocketURL string) config.APIConfigs {
	return config.APIConfigs{
		Apollo:      config.ServiceConfig{BaseURL: apolloURL, APIKey: "apollo-key"},
		RocketReach: config.ServiceConfig{BaseURL: rocketURL, APIKey: "rr-key"},
	}
}

func TestValidateApolloOK(t *testing.T) {
	var gotAuth string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotAuth = r.Header.Get("Authorization")
		assert.Equal(t, "/organizations/search", r.URL.Path)
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	v := New(apiConfig(srv.URL, "http://unused"), srv.Client(), nil)
	require.NoError(t, v.ValidateApollo(context.Background()))
	assert.Equal(t, "Bearer apollo-key", gotAuth)
}

func TestValidateApolloInvalidKey(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer srv.Close()

	v := New(apiConfig(srv.URL, "http://unused"), srv.Client(), nil)
	err := v.ValidateApollo(context.Background())
	require.Error(t, err)

	var invalid *InvalidKeyError
	require.ErrorAs(t, err, &invalid)
	assert.Equal(t, "apollo", invalid.Service)
}

func TestValidateApolloServiceError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	v := New(apiConfig(srv.URL, "http://unused"), srv.Client(), nil)
	err := v.ValidateApollo(context.Background())

	var svcErr *ServiceError
	require.ErrorAs(t, err, &svcErr)
	assert.Equal(t, http.StatusBadGateway, svcErr.StatusCode)
}

func TestValidateRocketReach(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		invalid bool
		ok      bool
	}{
		{"accepted", http.StatusOK, false, true},
		{"unauthorized", http.StatusUnauthorized, true, false},
		{"forbidden", http.StatusForbidden, true, false},
		{"server error", http.StatusInternalServerError, false, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var gotKey string
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				gotKey = r.Header.Get("Api-Key")
				assert.Equal(t, "/account", r.URL.Path)
				w.WriteHeader(tt.status)
			}))
			defer srv.Close()

			v := New(apiConfig("http://unused", srv.URL), srv.Client(), nil)
			err := v.ValidateRocketReach(context.Background())

			if tt.ok {
				require.NoError(t, err)
				assert.Equal(t, "rr-key", gotKey)
				return
			}
			require.Error(t, err)
			var invalid *InvalidKeyError
			if tt.invalid {
				assert.True(t, errors.As(err, &invalid))
			} else {
				assert.False(t, errors.As(err, &invalid))
			}
		})
	}
}

func TestValidateAllJoinsFailures(t *testing.T) {
	unauthorized := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
	}))
	defer unauthorized.Close()

	v := New(apiConfig(unauthorized.URL, unauthorized.URL), unauthorized.Client(), nil)
	err := v.ValidateAll(context.Background())
	require.Error(t, err)

	var invalid *InvalidKeyError
	require.ErrorAs(t, err, &invalid)
	assert.Contains(t, err.Error(), "apollo")
	assert.Contains(t, err.Error(), "rocketreach")
}

func TestValidateTransportError(t *testing.T) {
	// Closed server: connection refused.
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	v := New(apiConfig(url, url), nil, nil)
	err := v.ValidateApollo(context.Background())
	require.Error(t, err)

	var invalid *InvalidKeyError
	assert.False(t, errors.As(err, &invalid), "transport errors are not key errors")
}

func TestValidateUsesLimiter(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	limiter := ratelimit.New(100, 2)
	v := New(apiConfig(srv.URL, srv.URL), srv.Client(), limiter)
	require.NoError(t, v.ValidateAll(context.Background()))

	assert.Equal(t, 1, limiter.Pending("apollo"))
	assert.Equal(t, 1, limiter.Pending("rocketreach"))
}
