package notion

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/anibalchinley/extractor-proveedores/internal/scrape"
)

func marshalProps(t *testing.T, p Properties) string {
	t.Helper()
	raw, err := json.Marshal(p)
	require.NoError(t, err)
	return string(raw)
}

func TestClienteProperties(t *testing.T) {
	claim := scrape.Claim{
		InsuredName:  "JUAN PÉREZ SOTO",
		InsuredRUT:   "12.345.678-9",
		InsuredPhone: "+56911112222",
		InsuredEmail: "juan@example.com",
	}

	assert.JSONEq(t, `{
		"Nombre":       {"title": [{"text": {"content": "Juan Pérez Soto"}}]},
		"Rut":          {"rich_text": [{"text": {"content": "12.345.678-9"}}]},
		"Teléfono (C)": {"phone_number": "+56911112222"},
		"Correo (C)":   {"email": "juan@example.com"}
	}`, marshalProps(t, clienteProperties(claim)))
}

func TestClientePropertiesBlankContactIsNull(t *testing.T) {
	claim := scrape.Claim{InsuredName: "ANA SILVA", InsuredRUT: "7.654.321-0"}

	assert.JSONEq(t, `{
		"Nombre":       {"title": [{"text": {"content": "Ana Silva"}}]},
		"Rut":          {"rich_text": [{"text": {"content": "7.654.321-0"}}]},
		"Teléfono (C)": {"phone_number": null},
		"Correo (C)":   {"email": null}
	}`, marshalProps(t, clienteProperties(claim)))
}

func TestPatenteProperties(t *testing.T) {
	claim := scrape.Claim{Plate: "ABCD12", Brand: "Toyota", Model: "Yaris"}

	assert.JSONEq(t, `{
		"Patente":    {"title": [{"text": {"content": "ABCD12"}}]},
		"Marca (P)":  {"select": {"name": "Toyota"}},
		"Modelo (P)": {"select": {"name": "Yaris"}}
	}`, marshalProps(t, patenteProperties(claim)))
}

func TestPatentePropertiesOmitsEmptySelects(t *testing.T) {
	props := patenteProperties(scrape.Claim{Plate: "ZZ9999"})
	assert.Contains(t, props, "Patente")
	assert.NotContains(t, props, "Marca (P)")
	assert.NotContains(t, props, "Modelo (P)")
}

func TestClaimStatus(t *testing.T) {
	tests := []struct {
		name  string
		claim scrape.Claim
		want  string
	}{
		{
			name:  "settlement always gets the settlement label",
			claim: scrape.Claim{Section: scrape.SectionSettlement, ContactStatus: "Contactado"},
			want:  "Análisis de Liquidación",
		},
		{
			name:  "assigned keeps the portal contact status",
			claim: scrape.Claim{Section: scrape.SectionAssigned, ContactStatus: "Agendado"},
			want:  "Agendado",
		},
		{
			name:  "assigned without status falls back",
			claim: scrape.Claim{Section: scrape.SectionAssigned},
			want:  "Sin Estado",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, claimStatus(tt.claim))
		})
	}
}

func TestScheduleDate(t *testing.T) {
	// Santiago runs UTC-3 in southern summer, UTC-4 in winter.
	got, err := scheduleDate("25/12/2025 18:30")
	require.NoError(t, err)
	assert.Equal(t, "2025-12-25T21:30:00", got)

	got, err = scheduleDate("15/06/2025 10:00")
	require.NoError(t, err)
	assert.Equal(t, "2025-06-15T14:00:00", got)

	_, err = scheduleDate("2025-12-25 18:30")
	assert.Error(t, err)
}

func TestSiniestroProperties(t *testing.T) {
	claim := scrape.Claim{
		Company:          "BCI",
		Section:          scrape.SectionAssigned,
		ClaimNumber:      "CLM-77",
		ContactStatus:    "Contactado",
		DamageType:       "Colisión",
		EstimatedArrival: "25/12/2025 18:30",
	}

	props, dateErr := siniestroProperties(claim, "cli-1", "pat-2")
	require.NoError(t, dateErr)

	assert.JSONEq(t, `{
		"Siniestro":      {"title": [{"text": {"content": "CLM-77 🤖"}}]},
		"CÍA":            {"select": {"name": "BCI"}},
		"Agend./Status":  {"select": {"name": "Contactado"}},
		"Tipo de Daño":   {"select": {"name": "Colisión"}},
		"📅Agendamiento": {"date": {"start": "2025-12-25T21:30:00"}},
		"Nombre":         {"relation": [{"id": "cli-1"}]},
		"Patente":        {"relation": [{"id": "pat-2"}]}
	}`, marshalProps(t, props))
}

func TestSiniestroPropertiesDropsBadDate(t *testing.T) {
	claim := scrape.Claim{
		Company:          "ZENIT",
		ClaimNumber:      "CLM-8",
		EstimatedArrival: "no es fecha",
	}

	props, dateErr := siniestroProperties(claim, "cli-1", "pat-2")
	assert.Error(t, dateErr)
	assert.NotContains(t, props, "📅Agendamiento")
	assert.Contains(t, props, "Siniestro", "payload stays usable without the date")
	assert.NotContains(t, props, "Tipo de Daño")
}

func TestNormalizeQueryValue(t *testing.T) {
	assert.Equal(t, "12345", normalizeQueryValue("  12345  "))
	assert.Equal(t, "BCI-123", normalizeQueryValue("ＢＣＩ－１２３"))
	assert.Equal(t, "abc", normalizeQueryValue("abc"))
}
