// Package scrape drives the supplier portal: login, popup dismissal and the
// page-by-page harvest of claim tables. Every page interaction goes through
// the platform guard so waits, re-location and retries follow one discipline.
package scrape

import (
	"fmt"
	"strconv"
)

// Section identifies which portal tab a claim row came from.
type Section uint8

const (
	// SectionAssigned is the "Asignados" tab: freshly assigned claims with
	// the full 18-column row shape.
	SectionAssigned Section = iota
	// SectionSettlement is the "Análisis de Liquidación" tab with the
	// reduced 7-column row shape.
	SectionSettlement
)

func (s Section) String() string {
	switch s {
	case SectionAssigned:
		return "asignados"
	case SectionSettlement:
		return "liquidacion"
	default:
		return fmt.Sprintf("Section(%d)", uint8(s))
	}
}

// MarshalJSON emits the section label rather than the numeric value.
func (s Section) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Quote(s.String())), nil
}

// ParseSection maps a stored section label back to its value.
func ParseSection(label string) (Section, error) {
	switch label {
	case "asignados":
		return SectionAssigned, nil
	case "liquidacion":
		return SectionSettlement, nil
	default:
		return SectionAssigned, fmt.Errorf("unknown section label %q", label)
	}
}

// settlementStatus is the fixed status the portal gives claims under
// settlement analysis.
const settlementStatus = "ANALISIS LIQUIDACION"

// Claim is one extracted claim row. Field values are kept exactly as the
// portal renders them; normalization happens at the sync boundary.
type Claim struct {
	Company     string  `json:"company"`
	Section     Section `json:"section"`
	ClaimNumber string  `json:"claim_number"`

	// Assigned-tab fields.
	AssignedDate     string `json:"assigned_date,omitempty"`
	ContactStatus    string `json:"contact_status,omitempty"`
	InsuredName      string `json:"insured_name,omitempty"`
	InsuredPhone     string `json:"insured_phone,omitempty"`
	InsuredEmail     string `json:"insured_email,omitempty"`
	EstimatedArrival string `json:"estimated_arrival,omitempty"`

	// Settlement-tab fields.
	EntryDate string `json:"entry_date,omitempty"`
	Status    string `json:"status,omitempty"`

	// Shared fields.
	Plate      string `json:"plate,omitempty"`
	InsuredRUT string `json:"insured_rut,omitempty"`
	Brand      string `json:"brand,omitempty"`
	Model      string `json:"model,omitempty"`
	DamageType string `json:"damage_type,omitempty"`
}

// Dedupe collapses claims that share a claim number. The first occurrence
// keeps its position, the last occurrence supplies the data, so a claim seen
// on both tabs ends up with its settlement-stage fields.
func Dedupe(claims []Claim) []Claim {
	out := make([]Claim, 0, len(claims))
	pos := make(map[string]int, len(claims))
	for _, c := range claims {
		if i, ok := pos[c.ClaimNumber]; ok {
			out[i] = c
			continue
		}
		pos[c.ClaimNumber] = len(out)
		out = append(out, c)
	}
	return out
}
