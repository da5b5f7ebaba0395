// Package rest exposes the FHIR interactions over HTTP with echo.
package rest

import (
	"net/http"
	"strconv"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/caretide/fhir-server/internal/platform/bundle"
	"github.com/caretide/fhir-server/internal/platform/fhir"
	"github.com/caretide/fhir-server/internal/platform/search"
	"github.com/caretide/fhir-server/internal/platform/service"
)

const fhirJSON = "application/fhir+json"

// Handler serves the RESTful FHIR endpoints.
type Handler struct {
	svc       *service.Service
	processor *bundle.Processor
	catalog   *search.Catalog
	log       zerolog.Logger
}

func NewHandler(svc *service.Service, processor *bundle.Processor, catalog *search.Catalog, log zerolog.Logger) *Handler {
	return &Handler{svc: svc, processor: processor, catalog: catalog, log: log}
}

// Register mounts all routes under the given group.
func (h *Handler) Register(g *echo.Group) {
	g.GET("/metadata", h.Metadata)
	g.POST("", h.Bundle)
	g.GET("/_history", h.SystemHistory)

	g.GET("/:type", h.Search)
	g.POST("/:type", h.Create)
	g.POST("/:type/_search", h.Search)
	g.GET("/:type/_history", h.TypeHistory)

	g.GET("/:type/:id", h.Read)
	g.PUT("/:type/:id", h.Update)
	g.DELETE("/:type/:id", h.Delete)
	g.GET("/:type/:id/_history", h.InstanceHistory)
	g.GET("/:type/:id/_history/:vid", h.VRead)
}

func (h *Handler) Create(c echo.Context) error {
	resource, err := readResource(c)
	if err != nil {
		return h.fail(c, err)
	}
	entry, err := h.svc.Create(c.Request().Context(), c.Param("type"), resource)
	if err != nil {
		return h.fail(c, err)
	}
	setEntryHeaders(c, entry, true)
	return respond(c, http.StatusCreated, entry.Resource)
}

func (h *Handler) Read(c echo.Context) error {
	entry, err := h.svc.Read(c.Request().Context(), fhir.NewKey(c.Param("type"), c.Param("id")))
	if err != nil {
		return h.fail(c, err)
	}
	setEntryHeaders(c, entry, false)
	return respond(c, http.StatusOK, entry.Resource)
}

func (h *Handler) VRead(c echo.Context) error {
	version, err := strconv.Atoi(c.Param("vid"))
	if err != nil {
		return h.fail(c, fhir.BadRequestf("version id must be numeric, got %q", c.Param("vid")))
	}
	key := fhir.NewVersionedKey(c.Param("type"), c.Param("id"), version)
	entry, err := h.svc.VRead(c.Request().Context(), key)
	if err != nil {
		return h.fail(c, err)
	}
	setEntryHeaders(c, entry, false)
	return respond(c, http.StatusOK, entry.Resource)
}

func (h *Handler) Update(c echo.Context) error {
	resource, err := readResource(c)
	if err != nil {
		return h.fail(c, err)
	}
	expected, err := ifMatchVersion(c)
	if err != nil {
		return h.fail(c, err)
	}
	key := fhir.NewKey(c.Param("type"), c.Param("id"))
	entry, created, err := h.svc.Update(c.Request().Context(), key, resource, expected)
	if err != nil {
		return h.fail(c, err)
	}
	status := http.StatusOK
	if created {
		status = http.StatusCreated
	}
	setEntryHeaders(c, entry, created)
	return respond(c, status, entry.Resource)
}

func (h *Handler) Delete(c echo.Context) error {
	expected, err := ifMatchVersion(c)
	if err != nil {
		return h.fail(c, err)
	}
	key := fhir.NewKey(c.Param("type"), c.Param("id"))
	if err := h.svc.Delete(c.Request().Context(), key, expected); err != nil {
		if fhir.KindOf(err) == fhir.KindNotFound {
			// Deleting what never existed still answers no content.
			return c.NoContent(http.StatusNoContent)
		}
		return h.fail(c, err)
	}
	return c.NoContent(http.StatusNoContent)
}

// Search serves GET searches, POST _search form submissions and page
// fetches against an existing snapshot.
func (h *Handler) Search(c echo.Context) error {
	values := c.QueryParams()
	if c.Request().Method == http.MethodPost {
		form, err := c.FormParams()
		if err != nil {
			return h.fail(c, fhir.BadRequestf("malformed search form"))
		}
		for name, vals := range form {
			values[name] = append(values[name], vals...)
		}
	}

	ctx := c.Request().Context()
	if snapshotID := values.Get("_snapshot"); snapshotID != "" {
		offset, _ := strconv.Atoi(values.Get("_offset"))
		result, err := h.svc.Page(ctx, snapshotID, offset)
		if err != nil {
			return h.fail(c, err)
		}
		return respond(c, http.StatusOK, result)
	}

	result, err := h.svc.Search(ctx, c.Param("type"), values)
	if err != nil {
		return h.fail(c, err)
	}
	return respond(c, http.StatusOK, result)
}

func (h *Handler) Bundle(c echo.Context) error {
	raw, err := readResource(c)
	if err != nil {
		return h.fail(c, err)
	}
	result, err := h.processor.Process(c.Request().Context(), raw)
	if err != nil {
		return h.fail(c, err)
	}
	return respond(c, http.StatusOK, result)
}

func (h *Handler) InstanceHistory(c echo.Context) error {
	return h.history(c, fhir.NewKey(c.Param("type"), c.Param("id")))
}

func (h *Handler) TypeHistory(c echo.Context) error {
	return h.history(c, fhir.Key{TypeName: c.Param("type")})
}

func (h *Handler) SystemHistory(c echo.Context) error {
	return h.history(c, fhir.Key{})
}

func (h *Handler) history(c echo.Context, key fhir.Key) error {
	since, err := sinceParam(c)
	if err != nil {
		return h.fail(c, err)
	}
	count, _ := strconv.Atoi(c.QueryParam("_count"))
	result, err := h.svc.History(c.Request().Context(), key, since, count)
	if err != nil {
		return h.fail(c, err)
	}
	return respond(c, http.StatusOK, result)
}

func (h *Handler) fail(c echo.Context, err error) error {
	status := fhir.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.Request().URL.Path).Msg("request failed")
	}
	return respond(c, status, fhir.OutcomeFor(err))
}

func readResource(c echo.Context) (map[string]interface{}, error) {
	var resource map[string]interface{}
	if err := c.Bind(&resource); err != nil {
		return nil, fhir.BadRequestf("request body is not valid JSON")
	}
	if len(resource) == 0 {
		return nil, fhir.BadRequestf("request body is empty")
	}
	return resource, nil
}

func respond(c echo.Context, status int, body interface{}) error {
	c.Response().Header().Set(echo.HeaderContentType, fhirJSON)
	return c.JSON(status, body)
}

func setEntryHeaders(c echo.Context, entry *fhir.Entry, created bool) {
	h := c.Response().Header()
	h.Set("ETag", fhir.FormatETag(entry.Key.VersionID))
	h.Set("Last-Modified", entry.When.UTC().Format(http.TimeFormat))
	if created {
		h.Set("Location", entry.Key.String())
	}
}

func ifMatchVersion(c echo.Context) (*int, error) {
	raw := c.Request().Header.Get("If-Match")
	if raw == "" {
		return nil, nil
	}
	v, err := fhir.ParseETag(raw)
	if err != nil {
		return nil, fhir.BadRequestf("malformed If-Match header %q", raw)
	}
	return &v, nil
}

func sinceParam(c echo.Context) (time.Time, error) {
	raw := c.QueryParam("_since")
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, fhir.BadRequestf("_since must be an RFC3339 instant, got %q", raw)
	}
	return t, nil
}
