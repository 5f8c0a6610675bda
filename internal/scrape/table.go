package scrape

import (
	"fmt"
	"strings"

	"github.com/PuerkitoBio/goquery"
)

// Column layout of the "Asignados" table. The portal renders more columns
// than the extractor needs; only these indices are read.
const (
	assignedColDate      = 0
	assignedColClaim     = 1
	assignedColContact   = 2
	assignedColPlate     = 4
	assignedColName      = 9
	assignedColRUT       = 10
	assignedColPhone     = 11
	assignedColEmail     = 12
	assignedColBrand     = 13
	assignedColModel     = 14
	assignedColDamage    = 16
	assignedColEstimated = 17

	assignedMinCells = 18
)

// Column layout of the "Análisis de Liquidación" table.
const (
	settlementColDate   = 0
	settlementColClaim  = 1
	settlementColPlate  = 2
	settlementColRUT    = 3
	settlementColBrand  = 4
	settlementColModel  = 5
	settlementColDamage = 6

	settlementMinCells = 7
)

// parseTable extracts claim rows of the given section from captured page
// HTML. rowSelector picks the data rows; anything without enough cells (tab
// headers, expansion rows) is skipped.
func parseTable(html, rowSelector, company string, section Section) ([]Claim, error) {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return nil, fmt.Errorf("parse claims page: %w", err)
	}

	var claims []Claim
	doc.Find(rowSelector).Each(func(_ int, row *goquery.Selection) {
		cells := row.Find("td")
		switch section {
		case SectionAssigned:
			if cells.Length() < assignedMinCells {
				return
			}
			claims = append(claims, Claim{
				Company:          company,
				Section:          SectionAssigned,
				AssignedDate:     cellText(cells, assignedColDate),
				ClaimNumber:      cellText(cells, assignedColClaim),
				ContactStatus:    cellText(cells, assignedColContact),
				Plate:            cellText(cells, assignedColPlate),
				InsuredName:      cellText(cells, assignedColName),
				InsuredRUT:       cellText(cells, assignedColRUT),
				InsuredPhone:     cellText(cells, assignedColPhone),
				InsuredEmail:     cellText(cells, assignedColEmail),
				Brand:            cellText(cells, assignedColBrand),
				Model:            cellText(cells, assignedColModel),
				DamageType:       cellText(cells, assignedColDamage),
				EstimatedArrival: cellText(cells, assignedColEstimated),
			})
		case SectionSettlement:
			if cells.Length() < settlementMinCells {
				return
			}
			claimNumber := cellText(cells, settlementColClaim)
			if claimNumber == "" {
				return
			}
			claims = append(claims, Claim{
				Company:     company,
				Section:     SectionSettlement,
				EntryDate:   cellText(cells, settlementColDate),
				ClaimNumber: claimNumber,
				Plate:       cellText(cells, settlementColPlate),
				InsuredRUT:  cellText(cells, settlementColRUT),
				Brand:       cellText(cells, settlementColBrand),
				Model:       cellText(cells, settlementColModel),
				DamageType:  cellText(cells, settlementColDamage),
				Status:      settlementStatus,
			})
		}
	})
	return claims, nil
}

func cellText(cells *goquery.Selection, i int) string {
	return strings.TrimSpace(cells.Eq(i).Text())
}
