package service

import (
	"regexp"
	"strings"
	"unicode"

	"github.com/conectados/conectados-api/internal/domain"
)

// ============================================================
// Field formats for the public registration form
// ============================================================

var (
	instagramCharset = regexp.MustCompile(`^[a-zA-Z0-9._]+$`)
	phoneLikeHandle  = regexp.MustCompile(`^\d{2}[._]?\d{4,5}[._]?\d{4}$`)
)

// instagramPlaceholders are handles people type when they have no account.
var instagramPlaceholders = map[string]bool{
	"instagram":     true,
	"insta":         true,
	"teste":         true,
	"test":          true,
	"testes":        true,
	"usuario":       true,
	"user":          true,
	"username":      true,
	"nome":          true,
	"name":          true,
	"exemplo":       true,
	"example":       true,
	"admin":         true,
	"null":          true,
	"undefined":     true,
	"naotem":        true,
	"nao_tem":       true,
	"naotenho":      true,
	"nao_tenho":     true,
	"seminstagram":  true,
	"sem_instagram": true,
	"nenhum":        true,
	"nada":          true,
	"qualquer":      true,
	"abc":           true,
	"abcd":          true,
	"xxx":           true,
	"asdf":          true,
	"qwerty":        true,
	"conectados":    true,
}

// NormalizePhone strips everything but digits.
func NormalizePhone(phone string) string {
	var b strings.Builder
	for _, r := range phone {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeInstagram trims, strips a leading '@' and lowercases a handle.
func NormalizeInstagram(handle string) string {
	h := strings.TrimSpace(handle)
	h = strings.TrimPrefix(h, "@")
	return strings.ToLower(strings.TrimSpace(h))
}

// NormalizeName trims and collapses inner whitespace.
func NormalizeName(name string) string {
	return strings.Join(strings.Fields(name), " ")
}

// ValidatePhone returns a user-facing message, or "" when the phone is valid.
func ValidatePhone(phone string) string {
	digits := NormalizePhone(phone)
	if digits == "" {
		return "Telefone é obrigatório"
	}
	if len(digits) != 11 {
		return "Telefone deve ter 11 dígitos (DDD + 9 + número)"
	}
	ddd := int(digits[0]-'0')*10 + int(digits[1]-'0')
	if ddd < 11 || ddd > 99 {
		return "DDD inválido"
	}
	if digits[2] != '9' {
		return "Número de celular deve começar com 9 após o DDD"
	}
	if strings.Count(digits, digits[:1]) == len(digits) {
		return "Telefone inválido"
	}
	return ""
}

// ValidateInstagram returns a user-facing message, or "" when the handle is valid.
func ValidateInstagram(handle string) string {
	h := strings.TrimPrefix(strings.TrimSpace(handle), "@")
	if h == "" {
		return "Instagram é obrigatório"
	}
	if len(h) < 3 || len(h) > 30 {
		return "Instagram deve ter entre 3 e 30 caracteres"
	}
	if !instagramCharset.MatchString(h) {
		return "Instagram deve conter apenas letras, números, ponto e underline"
	}
	if strings.HasPrefix(h, ".") || strings.HasPrefix(h, "_") ||
		strings.HasSuffix(h, ".") || strings.HasSuffix(h, "_") {
		return "Instagram não pode começar ou terminar com ponto ou underline"
	}
	if strings.Contains(h, "..") || strings.Contains(h, "__") {
		return "Instagram não pode ter ponto ou underline repetidos"
	}

	lower := strings.ToLower(h)
	if instagramPlaceholders[lower] {
		return "Informe seu Instagram real"
	}

	digits := 0
	for _, r := range lower {
		if unicode.IsDigit(r) {
			digits++
		}
	}
	if digits == len(lower) {
		return "Instagram não pode conter apenas números"
	}
	if phoneLikeHandle.MatchString(lower) {
		return "Instagram não pode ser um número de telefone"
	}
	if float64(digits)/float64(len(lower)) > 0.7 {
		return "Instagram com números demais"
	}
	if hasRun(lower, 4) {
		return "Instagram com caracteres repetidos demais"
	}
	return ""
}

// hasRun reports whether s contains n or more consecutive identical runes.
func hasRun(s string, n int) bool {
	var prev rune
	count := 0
	for _, r := range s {
		if r == prev {
			count++
		} else {
			prev, count = r, 1
		}
		if count >= n {
			return true
		}
	}
	return false
}

// ValidateName returns a user-facing message, or "" when the name is valid.
func ValidateName(name string) string {
	n := NormalizeName(name)
	if n == "" {
		return "Nome é obrigatório"
	}
	for _, r := range n {
		if r != ' ' && !unicode.IsLetter(r) {
			return "Nome deve conter apenas letras"
		}
	}
	if len(strings.Fields(n)) < 2 {
		return "Informe nome e sobrenome"
	}
	return ""
}

// ValidateCEP returns a user-facing message, or "" when the CEP is valid.
func ValidateCEP(cep string) string {
	raw := strings.TrimSpace(cep)
	if raw == "" {
		return "CEP é obrigatório"
	}
	for _, r := range raw {
		if r != '-' && r != '.' && (r < '0' || r > '9') {
			return "CEP inválido"
		}
	}
	if len(NormalizePhone(raw)) != 8 {
		return "CEP deve ter 8 dígitos"
	}
	return ""
}

// ValidateRegistrationFields runs the format rules over both form steps.
// The returned map is keyed by request field name and is empty when valid.
func ValidateRegistrationFields(req *domain.RegistrationRequest) map[string]string {
	errs := make(map[string]string)
	set := func(field, msg string) {
		if msg != "" {
			errs[field] = msg
		}
	}

	// Step 1: primary registrant
	set("name", ValidateName(req.Name))
	set("phone", ValidatePhone(req.Phone))
	set("instagram", ValidateInstagram(req.Instagram))
	set("cep", ValidateCEP(req.CEP))
	if strings.TrimSpace(req.City) == "" {
		errs["city"] = "Cidade é obrigatória"
	}
	if strings.TrimSpace(req.Sector) == "" {
		errs["sector"] = "Setor é obrigatório"
	}

	// Step 2: partner
	set("couple_name", ValidateName(req.CoupleName))
	set("couple_phone", ValidatePhone(req.CouplePhone))
	set("couple_instagram", ValidateInstagram(req.CoupleInstagram))
	if strings.TrimSpace(req.CoupleCEP) != "" {
		set("couple_cep", ValidateCEP(req.CoupleCEP))
	}
	if strings.TrimSpace(req.CoupleCity) == "" {
		errs["couple_city"] = "Cidade da dupla é obrigatória"
	}
	if strings.TrimSpace(req.CoupleSector) == "" {
		errs["couple_sector"] = "Setor da dupla é obrigatório"
	}

	return errs
}
