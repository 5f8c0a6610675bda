package scrape

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func assignedRow(cells ...string) string {
	var b strings.Builder
	b.WriteString(`<tr class="claim-row">`)
	for _, c := range cells {
		b.WriteString("<td>" + c + "</td>")
	}
	b.WriteString("</tr>")
	return b.String()
}

// fullAssignedRow renders the 18-column shape the Asignados table uses, with
// recognizable values at the indices the parser reads.
func fullAssignedRow(claim string) string {
	cells := make([]string, 18)
	cells[0] = "01/08/2026 09:30"
	cells[1] = claim
	cells[2] = "Contactado"
	cells[4] = "ABCD12"
	cells[9] = "MARIA PEREZ"
	cells[10] = "12.345.678-9"
	cells[11] = "+56911112222"
	cells[12] = "maria@example.cl"
	cells[13] = "TOYOTA"
	cells[14] = "YARIS"
	cells[16] = "Colisión"
	cells[17] = "15/08/2026 10:00"
	return assignedRow(cells...)
}

func settlementRow(claim string) string {
	return assignedRow("02/07/2026", claim, "WXYZ34", "9.876.543-2", "KIA", "RIO", "Granizo")
}

func TestParseAssignedTable(t *testing.T) {
	html := `<table><tbody>` +
		fullAssignedRow("6040123456") +
		fullAssignedRow("6040654321") +
		assignedRow("cabecera", "corta") + // too few cells, must be skipped
		`</tbody></table>`

	claims, err := parseTable(html, "tr.claim-row", "BCI", SectionAssigned)
	require.NoError(t, err)
	require.Len(t, claims, 2)

	first := claims[0]
	assert.Equal(t, "BCI", first.Company)
	assert.Equal(t, SectionAssigned, first.Section)
	assert.Equal(t, "6040123456", first.ClaimNumber)
	assert.Equal(t, "01/08/2026 09:30", first.AssignedDate)
	assert.Equal(t, "Contactado", first.ContactStatus)
	assert.Equal(t, "ABCD12", first.Plate)
	assert.Equal(t, "MARIA PEREZ", first.InsuredName)
	assert.Equal(t, "12.345.678-9", first.InsuredRUT)
	assert.Equal(t, "+56911112222", first.InsuredPhone)
	assert.Equal(t, "maria@example.cl", first.InsuredEmail)
	assert.Equal(t, "TOYOTA", first.Brand)
	assert.Equal(t, "YARIS", first.Model)
	assert.Equal(t, "Colisión", first.DamageType)
	assert.Equal(t, "15/08/2026 10:00", first.EstimatedArrival)
	assert.Empty(t, first.Status)
}

func TestParseSettlementTable(t *testing.T) {
	html := `<table><tbody>` +
		settlementRow("7001") +
		settlementRow("") + // blank claim number, must be skipped
		settlementRow("7002") +
		`</tbody></table>`

	claims, err := parseTable(html, "tr.claim-row", "ZENIT", SectionSettlement)
	require.NoError(t, err)
	require.Len(t, claims, 2)

	first := claims[0]
	assert.Equal(t, "ZENIT", first.Company)
	assert.Equal(t, SectionSettlement, first.Section)
	assert.Equal(t, "7001", first.ClaimNumber)
	assert.Equal(t, "02/07/2026", first.EntryDate)
	assert.Equal(t, "WXYZ34", first.Plate)
	assert.Equal(t, "9.876.543-2", first.InsuredRUT)
	assert.Equal(t, "KIA", first.Brand)
	assert.Equal(t, "RIO", first.Model)
	assert.Equal(t, "Granizo", first.DamageType)
	assert.Equal(t, "ANALISIS LIQUIDACION", first.Status)
	assert.Equal(t, "7002", claims[1].ClaimNumber)
}

func TestParseTableTrimsCellWhitespace(t *testing.T) {
	html := `<table>` + assignedRow(
		"  02/07/2026 ", " 7007\n", " AB CD ", " rut ", " M ", " M ", " D ",
	) + `</table>`

	claims, err := parseTable(html, "tr.claim-row", "BCI", SectionSettlement)
	require.NoError(t, err)
	require.Len(t, claims, 1)
	assert.Equal(t, "7007", claims[0].ClaimNumber)
	assert.Equal(t, "02/07/2026", claims[0].EntryDate)
}

func TestParseTableEmptyDocument(t *testing.T) {
	claims, err := parseTable("<html><body></body></html>", "tr.claim-row", "BCI", SectionAssigned)
	require.NoError(t, err)
	assert.Empty(t, claims)
}

func TestDedupe(t *testing.T) {
	t.Run("LastOccurrenceWinsFirstPositionKept", func(t *testing.T) {
		claims := []Claim{
			{ClaimNumber: "1", Section: SectionAssigned, ContactStatus: "Agendado"},
			{ClaimNumber: "2", Section: SectionAssigned},
			{ClaimNumber: "1", Section: SectionSettlement, Status: settlementStatus},
		}
		out := Dedupe(claims)
		require.Len(t, out, 2)
		// Claim 1 keeps its leading position but carries the settlement data.
		assert.Equal(t, "1", out[0].ClaimNumber)
		assert.Equal(t, SectionSettlement, out[0].Section)
		assert.Equal(t, settlementStatus, out[0].Status)
		assert.Equal(t, "2", out[1].ClaimNumber)
	})

	t.Run("NoDuplicatesIsIdentity", func(t *testing.T) {
		claims := []Claim{{ClaimNumber: "a"}, {ClaimNumber: "b"}}
		assert.Equal(t, claims, Dedupe(claims))
	})

	t.Run("EmptyInput", func(t *testing.T) {
		assert.Empty(t, Dedupe(nil))
	})
}
