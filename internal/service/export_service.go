package service

import (
	"context"
	"fmt"
	"strconv"

	"go.uber.org/zap"

	"github.com/tutorstack/tutorstack-api/internal/models"
	appErrors "github.com/tutorstack/tutorstack-api/pkg/errors"
	"github.com/tutorstack/tutorstack-api/pkg/export"
)

// ExportFormat selects the rendered output type.
type ExportFormat string

const (
	ExportFormatCSV ExportFormat = "csv"
	ExportFormatPDF ExportFormat = "pdf"
)

// ExportResult carries rendered bytes plus HTTP metadata.
type ExportResult struct {
	Content     []byte
	ContentType string
	Filename    string
}

type courseReader interface {
	Get(ctx context.Context, identity models.Identity, id string) (*models.CourseView, error)
}

// ExportService renders course schedules and financial summaries as CSV or
// PDF downloads. Downloads are owner only.
type ExportService struct {
	courses courseReader
	logger  *zap.Logger
}

// NewExportService constructs an ExportService instance.
func NewExportService(courses courseReader, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ExportService{courses: courses, logger: logger}
}

// Schedule renders the course session calendar.
func (s *ExportService) Schedule(ctx context.Context, identity models.Identity, courseID string, format ExportFormat) (*ExportResult, error) {
	view, err := s.loadOwned(ctx, identity, courseID)
	if err != nil {
		return nil, err
	}

	data := export.Dataset{
		Headers: []string{"#", "Date", "Start", "End"},
	}
	for i, session := range view.Sessions {
		data.Rows = append(data.Rows, map[string]string{
			"#":     strconv.Itoa(i + 1),
			"Date":  session.Date,
			"Start": session.StartTime,
			"End":   session.EndTime,
		})
	}

	return s.render(data, format, view.Title+" schedule")
}

// Financials renders the derived financial summary for a course.
func (s *ExportService) Financials(ctx context.Context, identity models.Identity, courseID string, format ExportFormat) (*ExportResult, error) {
	view, err := s.loadOwned(ctx, identity, courseID)
	if err != nil {
		return nil, err
	}

	data := export.Dataset{
		Headers: []string{"Metric", "Value"},
		Rows: []map[string]string{
			{"Metric": "Total sessions", "Value": strconv.Itoa(view.Financials.TotalSessions)},
			{"Metric": "Total hours", "Value": formatAmount(view.Financials.TotalHours)},
			{"Metric": "Revenue", "Value": formatAmount(view.Financials.Revenue)},
			{"Metric": "Instructor expense", "Value": formatAmount(view.Financials.InstructorExpense)},
			{"Metric": "Materials cost", "Value": formatAmount(view.MaterialsCost)},
			{"Metric": "Profit", "Value": formatAmount(view.Financials.Profit)},
		},
	}

	return s.render(data, format, view.Title+" financials")
}

func (s *ExportService) loadOwned(ctx context.Context, identity models.Identity, courseID string) (*models.CourseView, error) {
	view, err := s.courses.Get(ctx, identity, courseID)
	if err != nil {
		return nil, err
	}
	if view.OwnerID != identity.UserID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only the owner may export this course")
	}
	return view, nil
}

func (s *ExportService) render(data export.Dataset, format ExportFormat, title string) (*ExportResult, error) {
	switch format {
	case ExportFormatCSV:
		content, err := export.RenderCSV(data)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		return &ExportResult{Content: content, ContentType: "text/csv", Filename: title + ".csv"}, nil
	case ExportFormatPDF:
		content, err := export.RenderPDF(data, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		return &ExportResult{Content: content, ContentType: "application/pdf", Filename: title + ".pdf"}, nil
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unknown export format "+string(format))
	}
}

func formatAmount(v float64) string {
	return fmt.Sprintf("%.2f", v)
}
