package server

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"path"
	"strconv"
	"strings"

	"github.com/danielgtaylor/huma/v2"
	humachi "github.com/danielgtaylor/huma/v2/adapters/humachi"
	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"veriline/internal/config"
	"veriline/internal/domain"
	"veriline/internal/events"
	"veriline/internal/machine"
	"veriline/internal/repo"
)

// Config for the HTTP API handler.
type Config struct {
	DB        *sql.DB
	Repo      repo.Repo
	Events    events.Writer
	Workspace string
	BasePath  string
	Auth      AuthConfig
	Webhooks  []config.WebhookConfig
	Log       zerolog.Logger
}

type apiErrorBody struct {
	Code    string         `json:"code" example:"not_found"`
	Message string         `json:"message" example:"methodology not found"`
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

// New returns an HTTP handler exposing the Veriline store API.
func New(cfg Config) (http.Handler, error) {
	basePath := cfg.BasePath
	if basePath == "" {
		basePath = "/v0"
	}
	if !strings.HasPrefix(basePath, "/") {
		basePath = "/" + basePath
	}
	huma.DefaultArrayNullable = false
	huma.NewError = func(status int, msg string, errs ...error) huma.StatusError {
		return newAPIError(status, "", msg, nil)
	}
	huma.NewErrorWithContext = func(_ huma.Context, status int, msg string, errs ...error) huma.StatusError {
		if status == http.StatusUnprocessableEntity && strings.Contains(strings.ToLower(msg), "validation") {
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
			bodyBytes, _ := io.ReadAll(r.Body)
			r.Body = io.NopCloser(bytes.NewBuffer(bodyBytes))
			ctx := context.WithValue(r.Context(), requestKey{}, r)
			ctx = context.WithValue(ctx, bodyBytesKey{}, bodyBytes)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	})
	router.Use(newAuthMiddleware(basePath, cfg.Auth, cfg.Repo))
	hcfg := huma.DefaultConfig("Veriline Store API", "0.1.0")
	hcfg.OpenAPIPath = "/openapi"
	hcfg.DocsPath = "" // custom Swagger UI below
	api := humachi.New(router, hcfg)
	group := huma.NewGroup(api, basePath)

	registerDocs(router, basePath)
	registerHealth(group)
	registerMethodologies(group, cfg)
	registerInvestigations(group, cfg)
	registerUnits(group, cfg)
	registerAnnotations(group, cfg)
	registerOpenAPI(router, api, basePath)

	startWebhookDispatcher(cfg)

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
	if errors.Is(err, repo.ErrNotFound) {
		return newAPIError(http.StatusNotFound, "not_found", err.Error(), nil)
	}
	if errors.Is(err, machine.ErrMalformed) {
		return newAPIError(http.StatusUnprocessableEntity, "malformed_methodology", err.Error(), nil)
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
	if b, ok := ctx.Value(bodyBytesKey{}).([]byte); ok {
		return b
	}
	return nil
}

// checkWorkspace rejects requests addressed to a workspace this store does
// not serve.
func checkWorkspace(cfg Config, workspace string) huma.StatusError {
	if cfg.Workspace != "" && workspace != cfg.Workspace {
		return newAPIError(http.StatusNotFound, "not_found", "unknown workspace", map[string]any{"workspace": workspace})
	}
	return nil
}

// loadDefinition resolves the investigation's methodology into a parsed
// machine definition.
func loadDefinition(ctx context.Context, cfg Config, investigation string) (*machine.Definition, error) {
	inv, err := cfg.Repo.GetInvestigation(ctx, investigation)
	if err != nil {
		return nil, err
	}
	m, err := cfg.Repo.GetMethodology(ctx, inv.Methodology)
	if err != nil {
		return nil, err
	}
	def, err := machine.Parse(m.Process)
	if err != nil {
		return nil, err
	}
	def.ID = m.ID
	def.Slug = m.Slug
	def.Title = m.Title
	def.Description = m.Description
	return def, nil
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
    <title>Veriline Store API Docs</title>
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

func registerMethodologies(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "import-methodology",
		Method:        http.MethodPost,
		Path:          "/workspaces/{workspace}/methodologies",
		Summary:       "Import methodology",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Workspace string                   `path:"workspace"`
		Body      ImportMethodologyRequest `json:"body"`
	}) (*struct {
		Body MethodologyResponse `json:"body"`
	}, error) {
		if err := checkWorkspace(cfg, input.Workspace); err != nil {
			return nil, err
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		slug := input.Body.Slug
		title := input.Body.Title
		description := input.Body.Description
		process := input.Body.Process
		if process == "" && input.Body.ProcessYAML != "" {
			var err error
			var ySlug, yTitle, yDesc string
			ySlug, yTitle, yDesc, process, err = machine.FromYAML([]byte(input.Body.ProcessYAML))
			if err != nil {
				return nil, handleError(err)
			}
			if slug == "" {
				slug = ySlug
			}
			if title == "" {
				title = yTitle
			}
			if description == "" {
				description = yDesc
			}
		}
		if slug == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "slug is required", nil)
		}
		if process == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "process is required", nil)
		}
		if _, err := machine.Parse(process); err != nil {
			return nil, handleError(err)
		}
		now := cfg.Events.Timestamp()
		m := domain.Methodology{
			ID:          uuid.NewString(),
			Slug:        slug,
			Title:       title,
			Description: description,
			Process:     process,
			CreatedAt:   now,
			UpdatedAt:   now,
		}
		tx, err := cfg.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		if err := cfg.Repo.UpsertMethodology(ctx, tx, m); err != nil {
			return nil, handleError(err)
		}
		if err := cfg.Events.Append(ctx, tx, "methodology.imported", "", "methodology", m.Slug, actorID, events.EventPayload{"slug": m.Slug}); err != nil {
			return nil, handleError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(err)
		}
		stored, err := cfg.Repo.GetMethodology(ctx, m.Slug)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MethodologyResponse `json:"body"`
		}{Body: methodologyResponse(stored)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-methodology",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace}/methodologies/{slug}",
		Summary:     "Get methodology",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Workspace string `path:"workspace"`
		Slug      string `path:"slug"`
	}) (*struct {
		Body MethodologyResponse `json:"body"`
	}, error) {
		if err := checkWorkspace(cfg, input.Workspace); err != nil {
			return nil, err
		}
		m, err := cfg.Repo.GetMethodology(ctx, input.Slug)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body MethodologyResponse `json:"body"`
		}{Body: methodologyResponse(m)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-methodologies",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace}/methodologies",
		Summary:     "List methodologies",
	}, func(ctx context.Context, input *struct {
		Workspace string `path:"workspace"`
	}) (*struct {
		Body methodologyList `json:"body"`
	}, error) {
		if err := checkWorkspace(cfg, input.Workspace); err != nil {
			return nil, err
		}
		items, err := cfg.Repo.ListMethodologies(ctx)
		if err != nil {
			return nil, handleError(err)
		}
		resp := methodologyList{Items: []MethodologyResponse{}}
		for _, m := range items {
			resp.Items = append(resp.Items, methodologyResponse(m))
		}
		return &struct {
			Body methodologyList `json:"body"`
		}{Body: resp}, nil
	})
}

func registerInvestigations(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "create-investigation",
		Method:        http.MethodPost,
		Path:          "/workspaces/{workspace}/investigations",
		Summary:       "Create investigation",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Workspace string                     `path:"workspace"`
		Body      CreateInvestigationRequest `json:"body"`
	}) (*struct {
		Body InvestigationResponse `json:"body"`
	}, error) {
		if err := checkWorkspace(cfg, input.Workspace); err != nil {
			return nil, err
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Slug == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "slug is required", nil)
		}
		if input.Body.Methodology == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "methodology is required", nil)
		}
		if _, authErr := actorIDFromContext(ctx); authErr != nil {
			return nil, authErr
		}
		// The methodology must exist before an investigation can bind to it.
		if _, err := cfg.Repo.GetMethodology(ctx, input.Body.Methodology); err != nil {
			return nil, handleError(err)
		}
		inv := domain.Investigation{
			Slug:        input.Body.Slug,
			Title:       input.Body.Title,
			Methodology: input.Body.Methodology,
		}
		if err := cfg.Repo.UpsertInvestigation(ctx, inv); err != nil {
			return nil, handleError(err)
		}
		stored, err := cfg.Repo.GetInvestigation(ctx, inv.Slug)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InvestigationResponse `json:"body"`
		}{Body: investigationResponse(stored)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-investigation",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace}/investigations/{slug}",
		Summary:     "Get investigation",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Workspace string `path:"workspace"`
		Slug      string `path:"slug"`
	}) (*struct {
		Body InvestigationResponse `json:"body"`
	}, error) {
		if err := checkWorkspace(cfg, input.Workspace); err != nil {
			return nil, err
		}
		inv, err := cfg.Repo.GetInvestigation(ctx, input.Slug)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body InvestigationResponse `json:"body"`
		}{Body: investigationResponse(inv)}, nil
	})
}

func registerUnits(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID:   "ingest-units",
		Method:        http.MethodPost,
		Path:          "/workspaces/{workspace}/investigations/{investigation}/segments/{segment}/units",
		Summary:       "Ingest preserved units",
		DefaultStatus: http.StatusCreated,
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Workspace     string `path:"workspace"`
		Investigation string `path:"investigation"`
		Segment       string `path:"segment"`
		Body          struct {
			Items []IngestUnitRequest `json:"items"`
		} `json:"body"`
	}) (*struct {
		Body unitList `json:"body"`
	}, error) {
		if err := checkWorkspace(cfg, input.Workspace); err != nil {
			return nil, err
		}
		if len(input.Body.Items) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "items is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := cfg.Repo.GetInvestigation(ctx, input.Investigation); err != nil {
			return nil, handleError(err)
		}
		tx, err := cfg.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		var created []int
		for i, item := range input.Body.Items {
			if item.Source == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("items[%d].source is required", i), nil)
			}
			if item.UnitID == "" {
				return nil, newAPIError(http.StatusBadRequest, "bad_request", fmt.Sprintf("items[%d].unit_id is required", i), nil)
			}
			idHash := item.IDHash
			if idHash == "" {
				idHash = repo.HashAPIKey(item.Source + ":" + item.UnitID)
			}
			fetchedAt := item.FetchedAt
			if fetchedAt == "" {
				fetchedAt = cfg.Events.Timestamp()
			}
			id, err := cfg.Repo.InsertUnit(ctx, tx, input.Investigation, input.Segment, repo.UnitIngest{
				Source:      item.Source,
				UnitID:      item.UnitID,
				IDHash:      idHash,
				Body:        item.Body,
				Href:        item.Href,
				Author:      item.Author,
				Title:       item.Title,
				Description: item.Description,
				Photos:      item.Photos,
				Videos:      item.Videos,
				CreatedAt:   item.CreatedAt,
				FetchedAt:   fetchedAt,
			})
			if err != nil {
				return nil, handleError(err)
			}
			if err := cfg.Events.Append(ctx, tx, "unit.ingested", input.Investigation, "unit", strconv.Itoa(id), actorID, events.EventPayload{"segment": input.Segment, "source": item.Source}); err != nil {
				return nil, handleError(err)
			}
			created = append(created, id)
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(err)
		}
		units, err := cfg.Repo.ListSegmentUnits(ctx, input.Investigation, input.Segment)
		if err != nil {
			return nil, handleError(err)
		}
		resp := unitList{Items: []UnitResponse{}}
		for _, u := range units {
			for _, id := range created {
				if u.ID == id {
					resp.Items = append(resp.Items, unitResponse(u))
					break
				}
			}
		}
		return &struct {
			Body unitList `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "list-segment-units",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace}/investigations/{investigation}/segments/{segment}/units",
		Summary:     "List segment units by column",
		Errors: []int{
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
		},
	}, func(ctx context.Context, input *struct {
		Workspace     string `path:"workspace"`
		Investigation string `path:"investigation"`
		Segment       string `path:"segment"`
		State         string `query:"state"`
	}) (*struct {
		Body unitList `json:"body"`
	}, error) {
		if err := checkWorkspace(cfg, input.Workspace); err != nil {
			return nil, err
		}
		units, err := cfg.Repo.ListSegmentUnits(ctx, input.Investigation, input.Segment)
		if err != nil {
			return nil, handleError(err)
		}
		resp := unitList{Items: []UnitResponse{}}
		if input.State == "" {
			resp.Items = mapUnits(units)
			return &struct {
				Body unitList `json:"body"`
			}{Body: resp}, nil
		}
		def, err := loadDefinition(ctx, cfg, input.Investigation)
		if err != nil {
			return nil, handleError(err)
		}
		for _, u := range units {
			snap, err := machine.DecodeSnapshot(u.State)
			if err != nil {
				cfg.Log.Warn().Err(err).Int("unit", u.ID).Msg("undecodable unit state; treating as initial")
				snap = machine.Snapshot{}
			}
			if machine.ColumnOf(def, snap) == input.State {
				resp.Items = append(resp.Items, unitResponse(u))
			}
		}
		return &struct {
			Body unitList `json:"body"`
		}{Body: resp}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-unit-state",
		Method:      http.MethodPut,
		Path:        "/workspaces/{workspace}/investigations/{investigation}/segments/{segment}/units/{id}/state",
		Summary:     "Persist a unit's machine snapshot",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusUnprocessableEntity,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Workspace     string              `path:"workspace"`
		Investigation string              `path:"investigation"`
		Segment       string              `path:"segment"`
		ID            int                 `path:"id"`
		Body          PutUnitStateRequest `json:"body"`
	}) (*struct {
		Body UnitResponse `json:"body"`
	}, error) {
		if err := checkWorkspace(cfg, input.Workspace); err != nil {
			return nil, err
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Snapshot == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "snapshot is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		if _, err := machine.DecodeSnapshot(input.Body.Snapshot); err != nil {
			return nil, newAPIError(http.StatusUnprocessableEntity, "invalid_snapshot", err.Error(), nil)
		}
		tx, err := cfg.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		if err := cfg.Repo.UpdateUnitState(ctx, tx, input.Investigation, input.Segment, input.ID, input.Body.Snapshot); err != nil {
			return nil, handleError(err)
		}
		if err := cfg.Events.Append(ctx, tx, "unit.state.changed", input.Investigation, "unit", strconv.Itoa(input.ID), actorID, events.EventPayload{
			"segment":  input.Segment,
			"snapshot": input.Body.Snapshot,
		}); err != nil {
			return nil, handleError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(err)
		}
		u, err := cfg.Repo.GetUnit(ctx, input.Investigation, input.Segment, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body UnitResponse `json:"body"`
		}{Body: unitResponse(u)}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "get-units-by-ids",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace}/units",
		Summary:     "Fetch full unit records by id",
		Errors:      []int{http.StatusBadRequest},
	}, func(ctx context.Context, input *struct {
		Workspace string `path:"workspace"`
		IDs       string `query:"ids"`
	}) (*struct {
		Body fullUnitList `json:"body"`
	}, error) {
		if err := checkWorkspace(cfg, input.Workspace); err != nil {
			return nil, err
		}
		ids, err := parseIDList(input.IDs)
		if err != nil {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "invalid ids", map[string]any{"ids": input.IDs})
		}
		units, err := cfg.Repo.UnitsByIDs(ctx, ids)
		if err != nil {
			return nil, handleError(err)
		}
		resp := fullUnitList{Items: []FullUnitResponse{}}
		for _, u := range units {
			resp.Items = append(resp.Items, fullUnitResponse(u))
		}
		return &struct {
			Body fullUnitList `json:"body"`
		}{Body: resp}, nil
	})
}

func registerAnnotations(api huma.API, cfg Config) {
	huma.Register(api, huma.Operation{
		OperationID: "list-annotations",
		Method:      http.MethodGet,
		Path:        "/workspaces/{workspace}/investigations/{investigation}/verifications/{id}/annotations",
		Summary:     "List annotations for a verification record",
		Errors:      []int{http.StatusNotFound},
	}, func(ctx context.Context, input *struct {
		Workspace     string `path:"workspace"`
		Investigation string `path:"investigation"`
		ID            int    `path:"id"`
	}) (*struct {
		Body annotationList `json:"body"`
	}, error) {
		if err := checkWorkspace(cfg, input.Workspace); err != nil {
			return nil, err
		}
		items, err := cfg.Repo.ListAnnotations(ctx, input.Investigation, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body annotationList `json:"body"`
		}{Body: annotationList{Items: mapAnnotations(items)}}, nil
	})

	huma.Register(api, huma.Operation{
		OperationID: "put-annotation",
		Method:      http.MethodPut,
		Path:        "/workspaces/{workspace}/investigations/{investigation}/verifications/{id}/annotations",
		Summary:     "Record an annotation value",
		Errors: []int{
			http.StatusBadRequest,
			http.StatusNotFound,
			http.StatusInternalServerError,
		},
	}, func(ctx context.Context, input *struct {
		Workspace     string               `path:"workspace"`
		Investigation string               `path:"investigation"`
		ID            int                  `path:"id"`
		Body          PutAnnotationRequest `json:"body"`
	}) (*struct {
		Body annotationList `json:"body"`
	}, error) {
		if err := checkWorkspace(cfg, input.Workspace); err != nil {
			return nil, err
		}
		if len(bodyBytes(ctx)) == 0 {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "body required", nil)
		}
		if input.Body.Key == "" {
			return nil, newAPIError(http.StatusBadRequest, "bad_request", "key is required", nil)
		}
		actorID, authErr := actorIDFromContext(ctx)
		if authErr != nil {
			return nil, authErr
		}
		tx, err := cfg.DB.BeginTx(ctx, nil)
		if err != nil {
			return nil, handleError(err)
		}
		defer tx.Rollback()
		a := domain.Annotation{
			Key:   input.Body.Key,
			Name:  input.Body.Name,
			Value: input.Body.Value,
			Note:  input.Body.Note,
		}
		if err := cfg.Repo.UpsertAnnotation(ctx, tx, input.Investigation, input.ID, a); err != nil {
			return nil, handleError(err)
		}
		if err := cfg.Events.Append(ctx, tx, "annotation.submitted", input.Investigation, "verification", strconv.Itoa(input.ID), actorID, events.EventPayload{"key": a.Key}); err != nil {
			return nil, handleError(err)
		}
		if err := tx.Commit(); err != nil {
			return nil, handleError(err)
		}
		items, err := cfg.Repo.ListAnnotations(ctx, input.Investigation, input.ID)
		if err != nil {
			return nil, handleError(err)
		}
		return &struct {
			Body annotationList `json:"body"`
		}{Body: annotationList{Items: mapAnnotations(items)}}, nil
	})
}

func parseIDList(raw string) ([]int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	parts := strings.Split(raw, ",")
	ids := make([]int, 0, len(parts))
	for _, p := range parts {
		id, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, nil
}
