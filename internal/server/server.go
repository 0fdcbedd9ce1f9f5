package server

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"

	"leadops/internal/config"
	"leadops/internal/engine"
	"leadops/internal/query"
	"leadops/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	Engine   engine.Engine
	BasePath string
	Auth     AuthConfig
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"version_conflict"`
	Message string         `json:"message" example:"lead version conflict (expected 3)"`
	Details map[string]any `json:"details,omitempty" jsonschema:"type=object,additionalProperties=true"`
}

type requestKey struct{}
type bodyBytesKey struct{}

// apiError models the error envelope.
type apiError struct {
	status int
	Body   apiErrorBody `json:"error"`
}

func (e *apiError) GetStatus() int { return e.status }
func (e *apiError) Error() string  { return e.Body.Message }

// New returns an HTTP handler exposing the Leadops API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	// Override Huma errors to use the envelope.
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
			// Schema/request validation errors should be 400 bad_request
			status = http.StatusBadRequest
		}
		var details map[string]any
		if len(errs) > 0 {
			details = map[string]any{"errors": errs}
		}
		return newAPIError(status, "", msg, details)
	}

	router := chi.NewRouter()
	router.Use(func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			bodyData, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyData))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyData)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Engine.Repo))
	hcfg := huma.DefaultConfig("Leadops API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerSites(group, cfg.Engine)
	registerLeads(group, cfg.Engine)
	registerExports(group, cfg.Engine)
	registerSavedViews(group, cfg.Engine)
	registerOpenAPI(router, api, basePath)

	return router, nil
}

func newAPIError(status int, code, message string, details map[string]any) huma.StatusError {
	if code == "" {
		code = defaultCodeForStatus(status)
	}
	return &apiError{
		status: status,
		Body: apiErrorBody{
			Code:    code,
			Message: message,
			Details: details,
		},
	}
}

func handleError(err error) huma.StatusError {
	if err == nil {
		return nil
	}
	var ce engine.ConflictError
	if errors.As(err, &ce) {
		return newAPIError(http.StatusConflict, "version_conflict", err.Error(), map[string]any{
			"lead_id":          ce.LeadID,
			"expected_version": ce.ExpectedVersion,
		})
	}
	var ve engine.ValidationError
	if errors.As(err, &ve) {
		msg := ve.Msg
		lowered := strings.ToLower(msg)
		// Cursor and sort problems are request-shape errors, not semantic ones.
		if strings.Contains(lowered, "cursor") || strings.Contains(lowered, "sort") {
			return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
		}
		return newAPIError(http.StatusUnprocessableEntity, "validation_failed", msg, nil)
	}
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	msg := err.Error()
	lowered := strings.ToLower(msg)
	switch {
	case strings.Contains(lowered, "invalid") || strings.Contains(lowered, "missing") || strings.Contains(lowered, "required"):
		return newAPIError(http.StatusBadRequest, "bad_request", msg, nil)
	default:
		return newAPIError(http.StatusInternalServerError, "internal_error", "internal error", map[string]any{"error": msg})
	}
}

func defaultCodeForStatus(status int) string {
	switch status {
	case http.StatusBadRequest:
		return "bad_request"
	case http.StatusNotFound:
		return "not_found"
	case http.StatusConflict:
		return "conflict"
	case http.StatusUnprocessableEntity:
		return "validation_failed"
	case http.StatusForbidden:
		return "forbidden"
	case http.StatusInternalServerError:
		return "internal_error"
	default:
		return strings.ToLower(strings.ReplaceAll(http.StatusText(status), " ", "_"))
	}
}

func bodyBytes(ctx context.Context) []byte {
	data, _ := ctx.Value(bodyBytesKey{}).([]byte)
	return data
}

func hasPermission(perms []string, perm string) bool {
	for _, p := range perms {
		if p == perm {
			return true
		}
	}
	return false
}

// requireSiteMember checks that the authenticated actor belongs to the site.
// The leads.admin permission claim bypasses the membership lookup.
func requireSiteMember(ctx context.Context, e engine.Engine, siteID string) huma.StatusError {
	principal, ok := principalFromContext(ctx)
	if !ok || principal.ActorID == "" {
		return newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil)
	}
	if hasPermission(principal.Permissions, "leads.admin") {
		return nil
	}
	member, err := e.Repo.IsMember(ctx, siteID, principal.ActorID)
	if err != nil {
		return handleError(err)
	}
	if !member {
		return newAPIError(http.StatusForbidden, "forbidden", "not a member of this site", map[string]any{"site_id": siteID})
	}
	return nil
}

func registerDocs(r chi.Router, basePath string) {
	r.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		io.WriteString(w, swaggerHTML(basePath))
	})
}

func registerOpenAPI(r chi.Router, api huma.API, basePath string) {
	var spec []byte
	specPath := path.Join(basePath, "openapi.json")
	r.Get(specPath, func(w http.ResponseWriter, r *http.Request) {
		if spec == nil {
			oas := api.OpenAPI()
			applyAuthSecurity(oas, basePath)
			spec, _ = json.Marshal(oas)
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write(spec)
	})
}

func applyAuthSecurity(oas *huma.OpenAPI, basePath string) {
	if oas == nil {
		return
	}
	if oas.Components == nil {
		oas.Components = &huma.Components{}
	}
	if oas.Components.SecuritySchemes == nil {
		oas.Components.SecuritySchemes = map[string]*huma.SecurityScheme{}
	}
	oas.Components.SecuritySchemes["bearerAuth"] = &huma.SecurityScheme{
		Type:         "http",
		Scheme:       "bearer",
		BearerFormat: "JWT",
	}
	oas.Components.SecuritySchemes["apiKeyAuth"] = &huma.SecurityScheme{
		Type: "apiKey",
		In:   "header",
		Name: "X-Api-Key",
	}
	security := []map[string][]string{
		{"bearerAuth": {}},
		{"apiKeyAuth": {}},
	}
	oas.Security = security
	healthPath := path.Join(basePath, "health")
	if !strings.HasPrefix(healthPath, "/") {
		healthPath = "/" + healthPath
	}
	for route, item := range oas.Paths {
		for _, op := range []*huma.Operation{
			item.Get, item.Put, item.Post, item.Delete, item.Options, item.Head, item.Patch, item.Trace,
		} {
			if op == nil {
				continue
			}
			if route == healthPath {
				op.Security = []map[string][]string{}
				continue
			}
			op.Security = security
		}
	}
}

func swaggerHTML(basePath string) string {
	specURL := path.Join("/", path.Join(basePath, "openapi.json"))
	return fmt.Sprintf(`<!doctype html>
<html lang="en">
  <head>
    <meta charset="utf-8"/>
    <meta name="viewport" content="width=device-width, initial-scale=1"/>
    <title>Leadops API Docs</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5/swagger-ui.css" />
  </head>
  <body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5/swagger-ui-bundle.js" crossorigin></script>
    <script>
      window.onload = () => {
        SwaggerUIBundle({
          url: '%s',
          dom_id: '#swagger-ui'
        });
      };
    </script>
    <p style="padding: 1rem; font-family: sans-serif; color: #444;">
      Authenticate with Authorization: Bearer &lt;token&gt; or X-Api-Key.
    </p>
  </body>
</html>`, specURL)
}

func registerHealth(api huma.API) {
	huma.Register(api, huma.Operation{
		OperationID: "health",
		Method:      http.MethodGet,
		Path:        "/health",
		Summary:     "Health check",
	}, func(ctx context.Context, _ *struct{}) (*struct {
		Body map[string]string `json:"body"`
	}, error) {
		return &struct {
			Body map[string]string `json:"body"`
		}{Body: map[string]string{"status": "ok"}}, nil
	})
}

func registerSites(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-site",
		Method:        http.MethodPost,
		Path:          "/sites",
		Summary:       "Create site",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusConflict,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Body CreateSiteRequest `json:"body"`
	}) (*struct {
		Body SiteResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.ID == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "id is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		s, err := e.InitSite(ctx, input.Body.ID, input.Body.Name, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SiteResponse `json:"body"`
		}{Body: siteResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-site",
		Method:      http.MethodGet,
		Path:        "/sites/{site_id}",
		Summary:     "Get site",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SiteID string `path:"site_id"`
	}) (*struct {
		Body SiteResponse `json:"body"`
	}, error) {
		if err := requireSiteMember(ctx, e, input.SiteID); err != nil {
			return nil, err
		}
		s, err := e.Repo.GetSite(ctx, input.SiteID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body SiteResponse `json:"body"`
		}{Body: siteResponse(s)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-site-config",
		Method:      http.MethodGet,
		Path:        "/sites/{site_id}/config",
		Summary:     "Get site config",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SiteID string `path:"site_id"`
	}) (*struct {
		Body *config.Config `json:"body"`
	}, error) {
		if err := requireSiteMember(ctx, e, input.SiteID); err != nil {
			return nil, err
		}
		cfg, err := e.Repo.GetSiteConfig(ctx, input.SiteID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *config.Config `json:"body"`
		}{Body: cfg}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-site-config",
		Method:      http.MethodPut,
		Path:        "/sites/{site_id}/config",
		Summary:     "Replace site config",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		SiteID string         `path:"site_id"`
		Body   *config.Config `json:"body"`
	}) (*struct {
		Body *config.Config `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if err := requireSiteMember(ctx, e, input.SiteID); err != nil {
			return nil, err
		}
		if _, err := e.Repo.GetSite(ctx, input.SiteID); err != nil {
			return nil, handleError(err)
		}
		cfg := input.Body
		cfg.Site.ID = input.SiteID
		if err := cfg.Validate(); err != nil {
			return nil, newAPIError(http.StatusUnprocessableEntity, "validation_failed", err.Error(), nil)
		}
		if err := e.Repo.UpsertSiteConfig(ctx, input.SiteID, cfg); err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body *config.Config `json:"body"`
		}{Body: cfg}, nil
	})
}

func registerLeads(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-lead",
		Method:        http.MethodPost,
		Path:          "/sites/{site_id}/leads",
		Summary:       "Create lead",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		SiteID string            `path:"site_id"`
		Body   CreateLeadRequest `json:"body"`
	}) (*struct {
		Body LeadResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.FullName == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "full_name is required", nil)
		}
		if err := requireSiteMember(ctx, e, input.SiteID); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		opts := engine.LeadCreateOptions{
			SiteID:                 input.SiteID,
			Type:                   input.Body.Type,
			FullName:               input.Body.FullName,
			Phone:                  input.Body.Phone,
			Email:                  input.Body.Email,
			Region:                 input.Body.Region,
			PriorityScore:          input.Body.PriorityScore,
			PriorityReason:         input.Body.PriorityReason,
			EstMonthlyPremiumCents: input.Body.EstMonthlyPremiumCents,
			EstCommissionCents:     input.Body.EstCommissionCents,
			NextActionAt:           input.Body.NextActionAt,
			NextActionType:         input.Body.NextActionType,
			ActorID:                actorID,
		}
		if input.Body.ID != nil {
			opts.ID = *input.Body.ID
		}
		l, err := e.CreateLead(ctx, opts)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LeadResponse `json:"body"`
		}{Body: leadResponse(l)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-leads",
		Method:      http.MethodGet,
		Path:        "/sites/{site_id}/leads",
		Summary:     "List leads",
		Errors:      []int{http.StatusBadRequest, http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		SiteID        string `path:"site_id"`
		Search        string `query:"search"`
		Status        string `query:"status"`
		SubStatus     string `query:"sub_status"`
		Type          string `query:"type"`
		Region        string `query:"region"`
		PriorityMin   *int   `query:"priority_min"`
		PriorityMax   *int   `query:"priority_max"`
		CreatedFrom   string `query:"created_from"`
		CreatedTo     string `query:"created_to"`
		NextActionDue string `query:"next_action_due" enum:"any,overdue,today,next_7_days"`
		Archived      string `query:"archived" enum:"active,only,any"`
		Sort          string `query:"sort"`
		Cursor        string `query:"cursor"`
		Limit         int    `query:"limit" default:"50"`
	}) (*struct {
		Body paginatedLeads `json:"body"`
	}, error) {
		if err := requireSiteMember(ctx, e, input.SiteID); err != nil {
			return nil, err
		}
		archived, err := parseArchived(input.Archived)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		filters := query.Filters{
			Search:        input.Search,
			Statuses:      splitCSV(input.Status),
			SubStatuses:   splitCSV(input.SubStatus),
			Types:         splitCSV(input.Type),
			Regions:       splitCSV(input.Region),
			PriorityMin:   input.PriorityMin,
			PriorityMax:   input.PriorityMax,
			CreatedFrom:   input.CreatedFrom,
			CreatedTo:     input.CreatedTo,
			NextActionDue: query.NextActionDue(input.NextActionDue),
			Archived:      archived,
		}
		res, err := e.ListLeads(ctx, engine.ListOptions{
			SiteID:  input.SiteID,
			Filters: filters,
			Sort:    input.Sort,
			Cursor:  input.Cursor,
			Limit:   input.Limit,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body paginatedLeads `json:"body"`
		}{Body: paginatedLeads{
			Items:         mapLeads(res.Items),
			NextCursor:    res.NextCursor,
			FilteredCount: res.FilteredCount,
		}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-lead",
		Method:      http.MethodGet,
		Path:        "/sites/{site_id}/leads/{id}",
		Summary:     "Get lead detail",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SiteID string `path:"site_id"`
		ID     string `path:"id"`
	}) (*struct {
		Body LeadDetailResponse `json:"body"`
	}, error) {
		if err := requireSiteMember(ctx, e, input.SiteID); err != nil {
			return nil, err
		}
		d, err := e.GetLeadDetail(ctx, input.ID, input.SiteID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LeadDetailResponse `json:"body"`
		}{Body: detailResponse(d)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "update-lead-status",
		Method:      http.MethodPatch,
		Path:        "/sites/{site_id}/leads/{id}/status",
		Summary:     "Update lead status",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusConflict,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		SiteID string                  `path:"site_id"`
		ID     string                  `path:"id"`
		Body   UpdateLeadStatusRequest `json:"body"`
	}) (*struct {
		Body LeadResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Status == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "status is required", nil)
		}
		if input.Body.ExpectedVersion <= 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "expected_version is required", nil)
		}
		if err := requireSiteMember(ctx, e, input.SiteID); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		l, err := e.UpdateStatus(ctx, engine.UpdateStatusOptions{
			SiteID:          input.SiteID,
			LeadID:          input.ID,
			ExpectedVersion: input.Body.ExpectedVersion,
			Status:          input.Body.Status,
			SubStatus:       input.Body.SubStatus,
			ReasonCode:      input.Body.ReasonCode,
			NextActionAt:    input.Body.NextActionAt,
			NextActionType:  input.Body.NextActionType,
			ActorID:         actorID,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body LeadResponse `json:"body"`
		}{Body: leadResponse(l)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID:   "add-lead-note",
		Method:        http.MethodPost,
		Path:          "/sites/{site_id}/leads/{id}/notes",
		Summary:       "Add lead note",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		SiteID string            `path:"site_id"`
		ID     string            `path:"id"`
		Body   CreateNoteRequest `json:"body"`
	}) (*struct {
		Body NoteResponse `json:"body"`
	}, error) {
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if strings.TrimSpace(input.Body.NoteText) == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "note_text is required", nil)
		}
		if err := requireSiteMember(ctx, e, input.SiteID); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		n, err := e.AddNote(ctx, engine.NoteOptions{
			SiteID:   input.SiteID,
			LeadID:   input.ID,
			ActorID:  actorID,
			NoteText: input.Body.NoteText,
			Pinned:   input.Body.Pinned,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body NoteResponse `json:"body"`
		}{Body: noteResponse(n)}, nil
	})
}

func registerExports(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID:   "start-lead-export",
		Method:        http.MethodPost,
		Path:          "/sites/{site_id}/leads/export",
		Summary:       "Start lead export job",
		DefaultStatus: http.StatusAccepted,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusForbidden,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		SiteID string             `path:"site_id"`
		Body   StartExportRequest `json:"body"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		if err := requireSiteMember(ctx, e, input.SiteID); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		filters, err := filtersFromDTO(input.Body.Filters)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
		}
		if input.Body.Sort != "" {
			if _, err := query.ParseSort(input.Body.Sort); err != nil {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", err.Error(), nil)
			}
		}
		j, err := e.EnqueueExport(ctx, input.SiteID, actorID, engine.ExportPayload{
			Filters: filters,
			Sort:    input.Body.Sort,
		})
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(j)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-job",
		Method:      http.MethodGet,
		Path:        "/sites/{site_id}/jobs/{job_id}",
		Summary:     "Get job status",
		Errors:      []int{http.StatusForbidden, http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		SiteID string `path:"site_id"`
		JobID  string `path:"job_id"`
	}) (*struct {
		Body JobResponse `json:"body"`
	}, error) {
		if err := requireSiteMember(ctx, e, input.SiteID); err != nil {
			return nil, err
		}
		j, err := e.Repo.GetJob(ctx, input.JobID, input.SiteID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body JobResponse `json:"body"`
		}{Body: jobResponse(j)}, nil
	})
}

func registerSavedViews(api huma.API, e engine.Engine) {
	huma.Register(api, huma.Operation{
		OperationID: "list-saved-views",
		Method:      http.MethodGet,
		Path:        "/sites/{site_id}/saved-views",
		Summary:     "List saved views",
		Errors:      []int{http.StatusForbidden},
	}, func(ctx context.Context, input *struct {
		SiteID string `path:"site_id"`
	}) (*struct {
		Body []SavedViewResponse `json:"body"`
	}, error) {
		if err := requireSiteMember(ctx, e, input.SiteID); err != nil {
			return nil, err
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		views, err := e.SavedViews(ctx, input.SiteID, actorID)
		if err != nil {
			return nil, handleError(err)
		}
		out := make([]SavedViewResponse, 0, len(views))
		for _, v := range views {
			out = append(out, savedViewResponse(v))
		}
		return &struct {
			Body []SavedViewResponse `json:"body"`
		}{Body: out}, nil
	})
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}

func parseArchived(raw string) (query.Archived, error) {
	switch raw {
	case "", "active":
		return query.ArchivedActive, nil
	case "only":
		return query.ArchivedOnly, nil
	case "any":
		return query.ArchivedAny, nil
	}
	return 0, fmt.Errorf("invalid archived value %q", raw)
}

func filtersFromDTO(dto leadFiltersDTO) (query.Filters, error) {
	archived, err := parseArchived(dto.Archived)
	if err != nil {
		return query.Filters{}, err
	}
	return query.Filters{
		Search:        dto.Search,
		Statuses:      dto.Status,
		SubStatuses:   dto.SubStatus,
		Types:         dto.Type,
		Regions:       dto.Region,
		PriorityMin:   dto.PriorityMin,
		PriorityMax:   dto.PriorityMax,
		CreatedFrom:   dto.CreatedFrom,
		CreatedTo:     dto.CreatedTo,
		NextActionDue: query.NextActionDue(dto.NextActionDue),
		Archived:      archived,
	}, nil
}
