package worker

import (
	"bytes"
	"context"
	"encoding/csv"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"leadops/internal/domain"
	"leadops/internal/engine"
	"leadops/internal/query"
)

const defaultExportLimit = 5000

// ExportResult is the lead_export job output, stored on the job row. The CSV
// is inlined; URL stays null until an object store backend exists.
type ExportResult struct {
	Rows      int     `json:"rows"`
	CSVInline string  `json:"csv_inline"`
	URL       *string `json:"url"`
	Truncated bool    `json:"truncated,omitempty"`
}

var exportHeader = []string{
	"id", "created_at", "type", "status", "sub_status",
	"full_name", "phone", "email", "region",
	"priority_score", "est_monthly_premium_cents", "est_commission_cents",
	"last_activity_at", "next_action_at", "version",
}

// ExportHandler builds the lead_export job handler. The export reuses the
// list compiler with the job's stored filters but ignores page limits; rows
// are capped by limit (site config's worker.export_limit when zero).
func ExportHandler(e engine.Engine, limit int) HandlerFunc {
	return func(ctx context.Context, job domain.Job) (any, error) {
		var payload engine.ExportPayload
		if err := json.Unmarshal([]byte(job.Payload), &payload); err != nil {
			return nil, fmt.Errorf("decode export payload: %v", err)
		}
		sort, err := query.ParseSort(payload.Sort)
		if err != nil {
			return nil, err
		}

		max := limit
		if max <= 0 {
			max = defaultExportLimit
			if cfg, err := e.Repo.GetSiteConfig(ctx, job.SiteID); err == nil && cfg.Worker.ExportLimit > 0 {
				max = cfg.Worker.ExportLimit
			}
		}

		now := time.Now()
		if e.Now != nil {
			now = e.Now()
		}
		plan, err := query.Compile(job.SiteID, payload.Filters, sort, nil, max, now)
		if err != nil {
			return nil, err
		}
		// Fetch one past the cap to detect truncation.
		leads, err := e.Repo.ListLeads(ctx, plan, max+1)
		if err != nil {
			return nil, err
		}
		truncated := len(leads) > max
		if truncated {
			leads = leads[:max]
		}

		var buf bytes.Buffer
		w := csv.NewWriter(&buf)
		if err := w.Write(exportHeader); err != nil {
			return nil, err
		}
		for _, l := range leads {
			if err := w.Write(exportRow(l)); err != nil {
				return nil, err
			}
		}
		w.Flush()
		if err := w.Error(); err != nil {
			return nil, err
		}

		return ExportResult{
			Rows:      len(leads),
			CSVInline: buf.String(),
			Truncated: truncated,
		}, nil
	}
}

func exportRow(l domain.Lead) []string {
	return []string{
		l.ID, l.CreatedAt, l.Type, l.Status, strOrEmpty(l.SubStatus),
		l.FullName, l.Phone, l.Email, l.Region,
		strconv.Itoa(l.PriorityScore),
		int64OrEmpty(l.EstMonthlyPremiumCents),
		int64OrEmpty(l.EstCommissionCents),
		strOrEmpty(l.LastActivityAt), strOrEmpty(l.NextActionAt),
		strconv.FormatInt(l.Version, 10),
	}
}

func strOrEmpty(p *string) string {
	if p == nil {
		return ""
	}
	return *p
}

func int64OrEmpty(p *int64) string {
	if p == nil {
		return ""
	}
	return strconv.FormatInt(*p, 10)
}
