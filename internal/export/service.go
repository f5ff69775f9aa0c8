package export

import (
	"context"
	"fmt"
	"time"

	"kycdesk/api/internal/store"
)

// Service renders case summaries as PDF.
type Service struct {
	now   func() time.Time
	print func(ctx context.Context, html, title string) (*Result, error)
}

// NewService creates a summary service backed by headless Chrome.
func NewService() *Service {
	return &Service{now: time.Now, print: exportPDF}
}

// CaseSummary renders c and prints it to PDF.
func (s *Service) CaseSummary(ctx context.Context, c store.Case) (*Result, error) {
	html, err := RenderCaseSummaryHTML(NewTemplateData(c, s.now()))
	if err != nil {
		return nil, fmt.Errorf("render template: %w", err)
	}
	return s.print(ctx, html, c.Name+" KYC summary")
}
