package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/engineerpark/cdulog/internal/clock"
	"github.com/engineerpark/cdulog/internal/config"
	"github.com/engineerpark/cdulog/internal/identity"
	"github.com/engineerpark/cdulog/internal/maintenance/domain"
	"github.com/engineerpark/cdulog/internal/observability/metrics"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
	FormatPDF  Format = "pdf"
)

var ErrUnsupportedFormat = &domain.Error{
	Kind:    domain.KindValidation,
	Code:    "invalid_format",
	Message: "export format must be csv, xlsx or pdf",
}

func ParseFormat(raw string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(raw))) {
	case FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	case FormatPDF:
		return FormatPDF, nil
	default:
		return "", ErrUnsupportedFormat
	}
}

func (f Format) ContentType() string {
	switch f {
	case FormatXLSX:
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	case FormatPDF:
		return "application/pdf"
	default:
		return "text/csv; charset=utf-8"
	}
}

type Request struct {
	Format  Format
	Factory string
	Status  string
	// Locale overrides the policy's export locale.
	Locale string
}

type Document struct {
	Filename    string
	ContentType string
	Body        []byte
}

type Params struct {
	fx.In

	Log     *zap.Logger
	Store   domain.Store
	Clock   clock.Clock
	Policy  *config.PolicyHolder `optional:"true"`
	Metrics *metrics.Metrics     `optional:"true"`
}

type Service struct {
	log     *zap.Logger
	store   domain.Store
	clock   clock.Clock
	policy  *config.PolicyHolder
	metrics *metrics.Metrics
}

func NewService(p Params) *Service {
	c := p.Clock
	if c == nil {
		c = clock.SystemClock{}
	}
	return &Service{
		log:     p.Log.Named("export.service"),
		store:   p.Store,
		clock:   c,
		policy:  p.Policy,
		metrics: p.Metrics,
	}
}

// Export renders the maintenance history visible to actor.
func (s *Service) Export(ctx context.Context, actor identity.Actor, req Request) (*Document, error) {
	if !actor.Role.AtLeast(identity.RoleViewer) {
		return nil, domain.ErrForbiddenRole
	}
	format, err := ParseFormat(string(req.Format))
	if err != nil {
		return nil, err
	}
	status := domain.UnitStatus(strings.TrimSpace(req.Status))
	if status != "" && !status.Valid() {
		return nil, domain.ErrInvalidUnitStatus
	}

	snapshot, err := s.Snapshot(ctx, domain.UnitFilter{
		Factory: strings.TrimSpace(req.Factory),
		Status:  status,
	})
	if err != nil {
		return nil, err
	}

	locale := strings.TrimSpace(req.Locale)
	if locale == "" && s.policy != nil {
		locale = s.policy.Get().ExportLocale
	}
	// The bundled PDF fonts have no Hangul glyphs.
	if format == FormatPDF {
		locale = "en"
	}
	table := BuildTable(snapshot, LabelsFor(locale))

	var buf bytes.Buffer
	switch format {
	case FormatXLSX:
		err = renderXLSX(&buf, table)
	case FormatPDF:
		err = renderPDF(&buf, table, snapshot.GeneratedAt.Format(time.RFC3339))
	default:
		err = renderCSV(&buf, table)
	}
	if err != nil {
		s.log.Error("export render failed", zap.String("format", string(format)), zap.Error(err))
		return nil, domain.Storage(err)
	}

	s.metrics.RecordExport(ctx, string(format))
	s.log.Info("export rendered",
		zap.String("format", string(format)),
		zap.String("actor_id", actor.ID),
		zap.Int("units", len(snapshot.Units)),
		zap.Int("rows", len(table.Rows)),
	)
	return &Document{
		Filename:    fmt.Sprintf("maintenance-%s.%s", snapshot.GeneratedAt.Format("20060102-1504"), format),
		ContentType: format.ContentType(),
		Body:        buf.Bytes(),
	}, nil
}

// Snapshot reads units and their records in a single store view.
func (s *Service) Snapshot(ctx context.Context, filter domain.UnitFilter) (Snapshot, error) {
	snapshot := Snapshot{GeneratedAt: s.clock.Now()}
	err := s.store.Atomic(ctx, func(st domain.Store) error {
		units, err := st.ListUnits(ctx, filter)
		if err != nil {
			return err
		}
		wanted := make(map[snowflake.ID]struct{}, len(units))
		for _, unit := range units {
			snapshot.Units = append(snapshot.Units, *unit)
			wanted[unit.ID] = struct{}{}
		}
		if len(units) == 0 {
			return nil
		}

		records, err := st.ListRecords(ctx, domain.RecordFilter{})
		if err != nil {
			return err
		}
		for _, record := range records {
			if _, ok := wanted[record.UnitID]; !ok {
				continue
			}
			snapshot.Records = append(snapshot.Records, *record)
		}
		return nil
	})
	if err != nil {
		return Snapshot{}, domain.Storage(err)
	}
	return snapshot, nil
}
