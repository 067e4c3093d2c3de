package source

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/gaigenticai/Regulens-sub006/pkg/docparse"
	"github.com/gaigenticai/Regulens-sub006/pkg/httpx"
	"github.com/gaigenticai/Regulens-sub006/pkg/model"
)

const (
	secDefaultInterval = 300 * time.Second
	secCursorKey       = "last_filing_cursor"
)

// secTrackedForms is the closed set of filing form types the source emits
// changes for.
var secTrackedForms = map[string]struct{}{
	"8-K": {}, "10-K": {}, "10-Q": {}, "20-F": {},
	"6-K": {}, "S-1": {}, "S-3": {}, "8-A12B": {},
}

// SECEdgarConfig configures the EDGAR source.
type SECEdgarConfig struct {
	BaseURL string
	APIKey  string
}

// SECEdgarSource polls the SEC EDGAR current-filings endpoint. The cursor
// is the (filing_date, accession) pair of the newest processed filing;
// accession numbers alone are not globally ordered across filers.
type SECEdgarSource struct {
	BaseSource
	cfg    SECEdgarConfig
	client *httpx.Client
	ids    *model.IDGenerator

	cursor secCursor
}

type secCursor struct {
	FilingDate string
	Accession  string
}

func (c secCursor) String() string { return c.FilingDate + "|" + c.Accession }

func parseSECCursor(s string) secCursor {
	date, accession, ok := strings.Cut(s, "|")
	if !ok {
		// Legacy cursors carried only the accession number.
		return secCursor{Accession: s}
	}
	return secCursor{FilingDate: date, Accession: accession}
}

// newer reports whether a filing sorts strictly after the cursor.
func (c secCursor) newer(filingDate, accession string) bool {
	if filingDate != c.FilingDate {
		return filingDate > c.FilingDate
	}
	return accession > c.Accession
}

type secFiling struct {
	AccessionNumber string `json:"accessionNumber"`
	FormType        string `json:"formType"`
	FilingDate      string `json:"filingDate"`
	CompanyName     string `json:"companyName"`
	Description     string `json:"description"`
	LinkToHTML      string `json:"linkToHtml"`
}

type secFilingsResponse struct {
	Filings []secFiling `json:"filings"`
}

// NewSECEdgarSource creates the EDGAR source.
func NewSECEdgarSource(cfg SECEdgarConfig, client *httpx.Client, state StateStore, ids *model.IDGenerator, logger *slog.Logger) *SECEdgarSource {
	return &SECEdgarSource{
		BaseSource: NewBaseSource("sec_edgar", "SEC EDGAR", secDefaultInterval, state, logger),
		cfg:        cfg,
		client:     client,
		ids:        ids,
	}
}

func (s *SECEdgarSource) Initialize(ctx context.Context) error {
	s.cursor = parseSECCursor(s.loadState(ctx, secCursorKey, ""))
	if !s.TestConnectivity(ctx) {
		return fmt.Errorf("sec edgar unreachable at %s", s.cfg.BaseURL)
	}
	return nil
}

func (s *SECEdgarSource) TestConnectivity(ctx context.Context) bool {
	resp, err := s.client.Get(ctx, s.filingsURL(), nil)
	return err == nil && resp.StatusCode < 500
}

func (s *SECEdgarSource) filingsURL() string {
	u := strings.TrimSuffix(s.cfg.BaseURL, "/") + "/filings/current"
	if s.cfg.APIKey != "" {
		u += "?api_key=" + s.cfg.APIKey
	}
	return u
}

func (s *SECEdgarSource) Configuration() map[string]any {
	cfg := s.baseConfiguration()
	cfg["base_url"] = s.cfg.BaseURL
	cfg["api_key_set"] = s.cfg.APIKey != ""
	return cfg
}

// CheckForChanges fetches current filings and emits one change per
// strictly-new filing of a tracked form type.
func (s *SECEdgarSource) CheckForChanges(ctx context.Context) ([]*model.RegulatoryChange, error) {
	defer s.MarkChecked(time.Now())

	resp, err := s.client.Get(ctx, s.filingsURL(), nil)
	if err != nil {
		s.RecordFailure()
		return nil, fmt.Errorf("fetch filings: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		s.RecordFailure()
		return nil, fmt.Errorf("fetch filings: status %d", resp.StatusCode)
	}

	var payload secFilingsResponse
	if err := json.Unmarshal(resp.Body, &payload); err != nil {
		s.RecordFailure()
		return nil, fmt.Errorf("decode filings: %w", err)
	}

	var changes []*model.RegulatoryChange
	maxCursor := s.cursor
	for _, filing := range payload.Filings {
		if _, tracked := secTrackedForms[filing.FormType]; !tracked {
			continue
		}
		if !s.cursor.newer(filing.FilingDate, filing.AccessionNumber) {
			continue
		}
		changes = append(changes, s.buildChange(filing))
		if maxCursor.newer(filing.FilingDate, filing.AccessionNumber) {
			maxCursor = secCursor{FilingDate: filing.FilingDate, Accession: filing.AccessionNumber}
		}
	}

	if maxCursor != s.cursor {
		s.cursor = maxCursor
		s.persistState(ctx, secCursorKey, maxCursor.String())
	}
	s.RecordSuccess()
	return changes, nil
}

func (s *SECEdgarSource) buildChange(filing secFiling) *model.RegulatoryChange {
	title := fmt.Sprintf("%s filing: %s", filing.FormType, filing.CompanyName)
	text := title + " " + filing.Description
	return &model.RegulatoryChange{
		ChangeID:   s.ids.NextChangeID(),
		SourceID:   s.SourceID(),
		Title:      title,
		ContentURL: filing.LinkToHTML,
		Metadata: model.ChangeMetadata{
			RegulatoryBody: "SEC",
			DocumentType:   "filing",
			DocumentNumber: filing.AccessionNumber,
			Keywords:       docparse.ExtractKeywords(text),
			CustomFields: map[string]string{
				"form_type":    filing.FormType,
				"filing_date":  filing.FilingDate,
				"company_name": filing.CompanyName,
				"severity":     secSeverity(filing.FormType),
			},
		},
		Status:     model.StatusDetected,
		DetectedAt: time.Now().UTC(),
	}
}

func secSeverity(formType string) string {
	switch formType {
	case "8-K":
		return SeverityHigh
	case "10-K", "10-Q":
		return SeverityMedium
	default:
		return SeverityLow
	}
}
