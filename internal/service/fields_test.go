package service_test

import (
	"testing"

	"github.com/conectados/conectados-api/internal/domain"
	"github.com/conectados/conectados-api/internal/service"

	"github.com/stretchr/testify/assert"
)

func TestNormalizers(t *testing.T) {
	assert.Equal(t, "11987654321", service.NormalizePhone("(11) 98765-4321"))
	assert.Equal(t, "maria.silva", service.NormalizeInstagram("  @Maria.Silva "))
	assert.Equal(t, "Maria da Silva", service.NormalizeName("  Maria   da\tSilva "))
}

func TestValidatePhone(t *testing.T) {
	tests := []struct {
		phone string
		ok    bool
	}{
		{"11987654321", true},
		{"(21) 99876-5432", true},
		{"", false},
		{"1198765432", false},
		{"09987654321", false},
		{"11887654321", false},
		{"99999999999", false},
	}
	for _, tt := range tests {
		msg := service.ValidatePhone(tt.phone)
		if tt.ok {
			assert.Empty(t, msg, tt.phone)
		} else {
			assert.NotEmpty(t, msg, tt.phone)
		}
	}
}

func TestValidateInstagram(t *testing.T) {
	valid := []string{"maria.silva", "@joao_souza", "ana2024", "Carla.Dias"}
	for _, h := range valid {
		assert.Empty(t, service.ValidateInstagram(h), h)
	}

	invalid := []string{
		"",
		"ab",
		"maria silva",
		".maria",
		"maria_",
		"maria..silva",
		"instagram",
		"naotenho",
		"123456789",
		"11.98765.4321",
		"a1234567",
		"maaaaria",
	}
	for _, h := range invalid {
		assert.NotEmpty(t, service.ValidateInstagram(h), h)
	}
}

func TestValidateName(t *testing.T) {
	assert.Empty(t, service.ValidateName("José Álvares"))
	assert.NotEmpty(t, service.ValidateName("José"))
	assert.NotEmpty(t, service.ValidateName("José 2"))
	assert.NotEmpty(t, service.ValidateName("   "))
}

func TestValidateCEP(t *testing.T) {
	assert.Empty(t, service.ValidateCEP("01001-000"))
	assert.Empty(t, service.ValidateCEP("01.001-000"))
	assert.NotEmpty(t, service.ValidateCEP("0100100"))
	assert.NotEmpty(t, service.ValidateCEP("01001-00a"))
	assert.NotEmpty(t, service.ValidateCEP(""))
}

func TestValidateRegistrationFields(t *testing.T) {
	req := validRequest()
	assert.Empty(t, service.ValidateRegistrationFields(&req))

	req.CoupleCEP = "123"
	req.Sector = ""
	req.CoupleInstagram = "@"
	errs := service.ValidateRegistrationFields(&req)
	assert.Contains(t, errs, "couple_cep")
	assert.Contains(t, errs, "sector")
	assert.Contains(t, errs, "couple_instagram")
	assert.Len(t, errs, 3)
}

func TestValidateRegistrationFields_EmptyForm(t *testing.T) {
	errs := service.ValidateRegistrationFields(&domain.RegistrationRequest{})
	for _, field := range []string{"name", "phone", "instagram", "cep", "city", "sector",
		"couple_name", "couple_phone", "couple_instagram", "couple_city", "couple_sector"} {
		assert.Contains(t, errs, field)
	}
	assert.NotContains(t, errs, "couple_cep")
}
