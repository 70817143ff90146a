package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/infra/resilience"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
)

var tracer = otel.Tracer("client")

// viaCEPResponse maps the ViaCEP JSON payload. Erro is a bool in older
// responses and the string "true" in newer ones.
type viaCEPResponse struct {
	CEP        string `json:"cep"`
	Logradouro string `json:"logradouro"`
	Bairro     string `json:"bairro"`
	Localidade string `json:"localidade"`
	UF         string `json:"uf"`
	Erro       any    `json:"erro"`
}

func (r *viaCEPResponse) failed() bool {
	switch v := r.Erro.(type) {
	case bool:
		return v
	case string:
		return v == "true"
	}
	return false
}

// PostalClient resolves CEPs through the ViaCEP API.
type PostalClient struct {
	httpClient *http.Client
	baseURL    string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	bulkhead   *resilience.Bulkhead
}

// NewPostalClient creates a new PostalClient.
func NewPostalClient(httpClient *http.Client, baseURL string, cb *gobreaker.CircuitBreaker, cfg resilience.Config) *PostalClient {
	return &PostalClient{
		httpClient: httpClient,
		baseURL:    strings.TrimRight(baseURL, "/"),
		cb:         cb,
		cfg:        cfg,
		bulkhead:   resilience.NewBulkhead(cfg.MaxConcurrency),
	}
}

// Lookup fetches the address for a CEP with retry, circuit breaker, and tracing.
// An unknown CEP is reported as ErrNotFound without retrying.
func (c *PostalClient) Lookup(ctx context.Context, cep string) (*domain.PostalAddress, error) {
	ctx, span := tracer.Start(ctx, "PostalClient.Lookup")
	defer span.End()

	digits := onlyDigits(cep)
	span.SetAttributes(attribute.String("cep", digits))
	if len(digits) != 8 {
		return nil, &domain.ErrValidation{Field: "cep", Message: "CEP deve ter 8 dígitos"}
	}

	if err := c.bulkhead.Acquire(ctx); err != nil {
		return nil, &domain.ErrTimeout{Operation: "viacep lookup"}
	}
	defer c.bulkhead.Release()

	var payload viaCEPResponse
	notFound := false

	err := resilience.Execute(ctx, c.cb, c.cfg, true, func() error {
		url := fmt.Sprintf("%s/ws/%s/json/", c.baseURL, digits)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
		if err != nil {
			return resilience.Permanent(err)
		}

		resp, err := c.httpClient.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusBadRequest || resp.StatusCode == http.StatusNotFound {
			notFound = true
			return nil
		}
		if resp.StatusCode != http.StatusOK {
			return fmt.Errorf("viacep returned status %d", resp.StatusCode)
		}

		payload = viaCEPResponse{}
		if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
			return resilience.Permanent(fmt.Errorf("decode viacep: %w", err))
		}
		notFound = payload.failed()
		return nil
	})

	var circuitOpen *domain.ErrCircuitOpen
	if errors.As(err, &circuitOpen) {
		return nil, err
	}
	if err != nil {
		return nil, &domain.ErrExternalService{Service: "viacep", Err: err}
	}
	if notFound {
		return nil, &domain.ErrNotFound{Resource: "cep", ID: digits}
	}

	return &domain.PostalAddress{
		CEP:    digits,
		City:   payload.Localidade,
		Sector: payload.Bairro,
		State:  payload.UF,
		Street: payload.Logradouro,
	}, nil
}

func onlyDigits(s string) string {
	return strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)
}
