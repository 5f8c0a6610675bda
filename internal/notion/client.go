// Package notion pushes extracted claims into the team's Notion workspace:
// one page per claim in the Siniestros database, linked to client and plate
// pages that are looked up first and created only when missing. Existing
// claim pages are never overwritten.
package notion

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.uber.org/zap"

	"github.com/anibalchinley/extractor-proveedores/internal/config"
	"github.com/anibalchinley/extractor-proveedores/internal/network"
	"github.com/anibalchinley/extractor-proveedores/internal/scrape"
)

// Client is a minimal Notion API client covering database queries and page
// creation. Safe for concurrent use.
type Client struct {
	cfg        config.NotionConfig
	httpClient *http.Client
	log        *zap.Logger
}

// New builds a client from configuration.
func New(cfg config.NotionConfig, log *zap.Logger) *Client {
	log = log.Named("notion")
	clientCfg := network.DefaultClientConfig()
	clientCfg.RequestTimeout = cfg.RequestTimeout
	return &Client{
		cfg:        cfg,
		httpClient: network.NewClient(clientCfg, log),
		log:        log,
	}
}

// SyncResult reports what SyncClaim did for one claim.
type SyncResult struct {
	PageID  string
	Created bool
}

// filter is the single-condition database query filter. Exactly one of the
// condition fields is set; its JSON key selects the property type.
type filter struct {
	Property string         `json:"property"`
	Title    *textCondition `json:"title,omitempty"`
	RichText *textCondition `json:"rich_text,omitempty"`
}

type textCondition struct {
	Equals   string `json:"equals,omitempty"`
	Contains string `json:"contains,omitempty"`
}

type queryRequest struct {
	Filter filter `json:"filter"`
}

type page struct {
	ID string `json:"id"`
}

type queryResponse struct {
	Results []page `json:"results"`
}

type parent struct {
	DatabaseID string `json:"database_id"`
}

type createRequest struct {
	Parent     parent     `json:"parent"`
	Properties Properties `json:"properties"`
}

// SyncClaim ensures the claim exists in the Siniestros database. A claim
// whose number already matches a page is skipped, so manual edits on existing
// pages survive repeated runs. New claims get their client and plate pages
// resolved first and are created with relations to both.
func (c *Client) SyncClaim(ctx context.Context, claim scrape.Claim) (SyncResult, error) {
	number := normalizeQueryValue(claim.ClaimNumber)
	if number == "" {
		return SyncResult{}, fmt.Errorf("claim has no number")
	}

	existing, found, err := c.queryFirst(ctx, c.cfg.SiniestrosDB, filter{
		Property: propClaimTitle,
		Title:    &textCondition{Contains: number},
	})
	if err != nil {
		return SyncResult{}, fmt.Errorf("look up claim %s: %w", number, err)
	}
	if found {
		c.log.Debug("Claim already in Notion, skipping",
			zap.String("claim", number),
			zap.String("page_id", existing))
		return SyncResult{PageID: existing, Created: false}, nil
	}

	clienteID, err := c.ensureCliente(ctx, claim)
	if err != nil {
		return SyncResult{}, fmt.Errorf("claim %s: %w", number, err)
	}
	patenteID, err := c.ensurePatente(ctx, claim)
	if err != nil {
		return SyncResult{}, fmt.Errorf("claim %s: %w", number, err)
	}

	props, dateErr := siniestroProperties(claim, clienteID, patenteID)
	if dateErr != nil {
		c.log.Warn("Dropping unparseable schedule date",
			zap.String("claim", number),
			zap.Error(dateErr))
	}
	id, err := c.createPage(ctx, c.cfg.SiniestrosDB, props)
	if err != nil {
		return SyncResult{}, fmt.Errorf("create claim %s: %w", number, err)
	}
	c.log.Info("Claim created in Notion",
		zap.String("claim", number),
		zap.String("page_id", id))
	return SyncResult{PageID: id, Created: true}, nil
}

// ensureCliente finds the client page by RUT or creates it.
func (c *Client) ensureCliente(ctx context.Context, claim scrape.Claim) (string, error) {
	rut := normalizeQueryValue(claim.InsuredRUT)
	id, found, err := c.queryFirst(ctx, c.cfg.ClientesDB, filter{
		Property: propClientRUT,
		RichText: &textCondition{Equals: rut},
	})
	if err != nil {
		return "", fmt.Errorf("look up client %s: %w", rut, err)
	}
	if found {
		return id, nil
	}
	id, err = c.createPage(ctx, c.cfg.ClientesDB, clienteProperties(claim))
	if err != nil {
		return "", fmt.Errorf("create client %s: %w", rut, err)
	}
	c.log.Debug("Client created in Notion", zap.String("rut", rut), zap.String("page_id", id))
	return id, nil
}

// ensurePatente finds the plate page or creates it.
func (c *Client) ensurePatente(ctx context.Context, claim scrape.Claim) (string, error) {
	plate := normalizeQueryValue(claim.Plate)
	id, found, err := c.queryFirst(ctx, c.cfg.PatentesDB, filter{
		Property: propPlateTitle,
		Title:    &textCondition{Equals: plate},
	})
	if err != nil {
		return "", fmt.Errorf("look up plate %s: %w", plate, err)
	}
	if found {
		return id, nil
	}
	id, err = c.createPage(ctx, c.cfg.PatentesDB, patenteProperties(claim))
	if err != nil {
		return "", fmt.Errorf("create plate %s: %w", plate, err)
	}
	c.log.Debug("Plate created in Notion", zap.String("plate", plate), zap.String("page_id", id))
	return id, nil
}

// queryFirst runs a database query and returns the first matching page id.
func (c *Client) queryFirst(ctx context.Context, dbID string, f filter) (string, bool, error) {
	var out queryResponse
	endpoint := fmt.Sprintf("%s/v1/databases/%s/query", c.cfg.BaseURL, dbID)
	if err := c.post(ctx, endpoint, queryRequest{Filter: f}, &out); err != nil {
		return "", false, err
	}
	if len(out.Results) == 0 {
		return "", false, nil
	}
	return out.Results[0].ID, true, nil
}

// createPage creates a page in the database and returns its id.
func (c *Client) createPage(ctx context.Context, dbID string, props Properties) (string, error) {
	var out page
	endpoint := c.cfg.BaseURL + "/v1/pages"
	req := createRequest{Parent: parent{DatabaseID: dbID}, Properties: props}
	if err := c.post(ctx, endpoint, req, &out); err != nil {
		return "", err
	}
	return out.ID, nil
}

// post sends a JSON request with the API headers and decodes the response.
func (c *Client) post(ctx context.Context, endpoint string, body, out any) error {
	payload, err := json.Marshal(body)
	if err != nil {
		return fmt.Errorf("encode request: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+c.cfg.Token)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Notion-Version", c.cfg.Version)

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		detail, _ := io.ReadAll(io.LimitReader(resp.Body, 2048))
		return fmt.Errorf("notion API returned status %d: %s", resp.StatusCode, detail)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
