package notion

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"
	"golang.org/x/text/unicode/norm"

	"github.com/anibalchinley/extractor-proveedores/internal/scrape"
)

// Property names in the workspace databases. The schema is owned by the
// Notion side; these must match it verbatim, accents and emoji included.
const (
	propClaimTitle   = "Siniestro"
	propCompany      = "CÍA"
	propStatus       = "Agend./Status"
	propDamageType   = "Tipo de Daño"
	propSchedule     = "📅Agendamiento"
	propClientRel    = "Nombre"
	propPlateRel     = "Patente"
	propClientName   = "Nombre"
	propClientRUT    = "Rut"
	propClientPhone  = "Teléfono (C)"
	propClientEmail  = "Correo (C)"
	propPlateTitle   = "Patente"
	propPlateBrand   = "Marca (P)"
	propPlateModel   = "Modelo (P)"
	defaultStatus    = "Sin Estado"
	settlementStatus = "Análisis de Liquidación"
)

// claimTitleSuffix marks pages created by this tool so humans can tell them
// from hand-entered ones.
const claimTitleSuffix = " 🤖"

// scheduleLayout is how the portal prints the estimated arrival timestamp.
const scheduleLayout = "02/01/2006 15:04"

// Properties is the property bag of a page create request. Values are the
// typed shapes below so the payload marshals exactly as the API expects.
type Properties map[string]any

type textContent struct {
	Content string `json:"content"`
}

type richText struct {
	Text textContent `json:"text"`
}

type titleValue struct {
	Title []richText `json:"title"`
}

type richTextValue struct {
	RichText []richText `json:"rich_text"`
}

type selectOption struct {
	Name string `json:"name"`
}

type selectValue struct {
	Select selectOption `json:"select"`
}

// phoneValue and emailValue use pointers so an absent value marshals as
// JSON null, which is how the API clears an optional property.
type phoneValue struct {
	PhoneNumber *string `json:"phone_number"`
}

type emailValue struct {
	Email *string `json:"email"`
}

type dateStart struct {
	Start string `json:"start"`
}

type dateValue struct {
	Date dateStart `json:"date"`
}

type relationRef struct {
	ID string `json:"id"`
}

type relationValue struct {
	Relation []relationRef `json:"relation"`
}

func title(content string) titleValue {
	return titleValue{Title: []richText{{Text: textContent{Content: content}}}}
}

func text(content string) richTextValue {
	return richTextValue{RichText: []richText{{Text: textContent{Content: content}}}}
}

func option(name string) selectValue {
	return selectValue{Select: selectOption{Name: name}}
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}

func relation(id string) relationValue {
	return relationValue{Relation: []relationRef{{ID: id}}}
}

// normalizeQueryValue folds the value to NFKC and trims it so lookups are not
// defeated by the portal's stray whitespace or width variants.
func normalizeQueryValue(v string) string {
	return strings.TrimSpace(norm.NFKC.String(v))
}

// clientName title-cases the insured's name, which the portal shouts in
// uppercase. A fresh caser per call: cases.Caser is not safe for concurrent
// use and sync happens from several workers.
func clientName(raw string) string {
	return cases.Title(language.Spanish).String(raw)
}

// clienteProperties builds the page for the Clientes database.
func clienteProperties(c scrape.Claim) Properties {
	return Properties{
		propClientName:  title(clientName(c.InsuredName)),
		propClientRUT:   text(c.InsuredRUT),
		propClientPhone: phoneValue{PhoneNumber: optional(c.InsuredPhone)},
		propClientEmail: emailValue{Email: optional(c.InsuredEmail)},
	}
}

// patenteProperties builds the page for the Patentes database. Empty brand or
// model is omitted: the API rejects a select option with an empty name.
func patenteProperties(c scrape.Claim) Properties {
	p := Properties{
		propPlateTitle: title(c.Plate),
	}
	if c.Brand != "" {
		p[propPlateBrand] = option(c.Brand)
	}
	if c.Model != "" {
		p[propPlateModel] = option(c.Model)
	}
	return p
}

// claimStatus maps a claim to the Agend./Status select. Settlement claims get
// the fixed settlement label; assigned claims carry their portal contact
// status, or the fallback when the portal left it blank.
func claimStatus(c scrape.Claim) string {
	if c.Section == scrape.SectionSettlement {
		return settlementStatus
	}
	if c.ContactStatus != "" {
		return c.ContactStatus
	}
	return defaultStatus
}

// siniestroProperties builds the page for the Siniestros database, wired to
// the already-resolved client and plate pages. A malformed schedule date is
// reported through dateErr but does not invalidate the payload; the property
// is simply left off, matching how operators expect partial rows to behave.
func siniestroProperties(c scrape.Claim, clienteID, patenteID string) (props Properties, dateErr error) {
	props = Properties{
		propClaimTitle: title(c.ClaimNumber + claimTitleSuffix),
		propCompany:    option(c.Company),
		propStatus:     option(claimStatus(c)),
	}
	if c.DamageType != "" {
		props[propDamageType] = option(c.DamageType)
	}
	if c.EstimatedArrival != "" {
		start, err := scheduleDate(c.EstimatedArrival)
		if err != nil {
			dateErr = err
		} else {
			props[propSchedule] = dateValue{Date: dateStart{Start: start}}
		}
	}
	if clienteID != "" {
		props[propClientRel] = relation(clienteID)
	}
	if patenteID != "" {
		props[propPlateRel] = relation(patenteID)
	}
	return props, dateErr
}

var (
	santiagoOnce sync.Once
	santiagoLoc  *time.Location
	santiagoErr  error
)

// santiago returns the portal's local timezone, loaded once.
func santiago() (*time.Location, error) {
	santiagoOnce.Do(func() {
		santiagoLoc, santiagoErr = time.LoadLocation("America/Santiago")
	})
	return santiagoLoc, santiagoErr
}

// scheduleDate converts the portal's local "DD/MM/YYYY HH:MM" timestamp to
// the UTC ISO form the date property wants.
func scheduleDate(raw string) (string, error) {
	loc, err := santiago()
	if err != nil {
		return "", fmt.Errorf("load portal timezone: %w", err)
	}
	t, err := time.ParseInLocation(scheduleLayout, strings.TrimSpace(raw), loc)
	if err != nil {
		return "", fmt.Errorf("parse schedule date %q: %w", raw, err)
	}
	return t.UTC().Format("2006-01-02T15:04:05"), nil
}
