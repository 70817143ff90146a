package client_test

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/infra/client"
	"github.com/conectados/conectados-api/internal/infra/resilience"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newPostal(t *testing.T, h http.HandlerFunc) *client.PostalClient {
	t.Helper()
	srv := httptest.NewServer(h)
	t.Cleanup(srv.Close)
	cfg := resilience.Config{MaxRetries: 1, InitialBackoff: time.Millisecond, MaxConcurrency: 2}
	return client.NewPostalClient(srv.Client(), srv.URL, resilience.NewCircuitBreaker("viacep-test"), cfg)
}

func TestLookup_Success(t *testing.T) {
	var path string
	c := newPostal(t, func(w http.ResponseWriter, r *http.Request) {
		path = r.URL.Path
		w.Write([]byte(`{"cep":"01001-000","logradouro":"Praça da Sé","bairro":"Sé","localidade":"São Paulo","uf":"SP"}`))
	})

	addr, err := c.Lookup(context.Background(), "01001-000")

	require.NoError(t, err)
	assert.Equal(t, "/ws/01001000/json/", path)
	assert.Equal(t, &domain.PostalAddress{CEP: "01001000", City: "São Paulo", Sector: "Sé", State: "SP", Street: "Praça da Sé"}, addr)
}

func TestLookup_UnknownCEP(t *testing.T) {
	for name, payload := range map[string]string{
		"bool":   `{"erro": true}`,
		"string": `{"erro": "true"}`,
	} {
		t.Run(name, func(t *testing.T) {
			c := newPostal(t, func(w http.ResponseWriter, r *http.Request) {
				w.Write([]byte(payload))
			})

			_, err := c.Lookup(context.Background(), "99999999")

			var nf *domain.ErrNotFound
			assert.ErrorAs(t, err, &nf)
		})
	}
}

func TestLookup_InvalidCEPSkipsRequest(t *testing.T) {
	var hits atomic.Int32
	c := newPostal(t, func(w http.ResponseWriter, r *http.Request) { hits.Add(1) })

	_, err := c.Lookup(context.Background(), "123")

	var ve *domain.ErrValidation
	assert.ErrorAs(t, err, &ve)
	assert.Zero(t, hits.Load())
}

func TestLookup_ServerErrorIsExternal(t *testing.T) {
	var hits atomic.Int32
	c := newPostal(t, func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	})

	_, err := c.Lookup(context.Background(), "01001000")

	var ext *domain.ErrExternalService
	require.ErrorAs(t, err, &ext)
	assert.Equal(t, "viacep", ext.Service)
	assert.Equal(t, int32(2), hits.Load(), "one retry")
}

func TestLookup_BadRequestIsNotFound(t *testing.T) {
	c := newPostal(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
	})

	_, err := c.Lookup(context.Background(), "00000000")

	var nf *domain.ErrNotFound
	assert.ErrorAs(t, err, &nf)
}
