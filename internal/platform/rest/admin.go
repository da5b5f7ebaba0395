package rest

import (
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/caretide/fhir-server/internal/platform/fhir"
	"github.com/caretide/fhir-server/internal/platform/reindex"
)

// AdminHandler exposes maintenance operations that act on the running
// server process. Reindex runs here rather than in a separate process so
// the maintenance lock it takes actually gates this process's writes.
type AdminHandler struct {
	job          *reindex.Job
	clearDefault bool
	log          zerolog.Logger
}

func NewAdminHandler(job *reindex.Job, clearDefault bool, log zerolog.Logger) *AdminHandler {
	return &AdminHandler{job: job, clearDefault: clearDefault, log: log}
}

func (h *AdminHandler) Register(g *echo.Group) {
	g.POST("/reindex", h.Reindex)
}

// Reindex rebuilds the search index. The clear query parameter overrides
// the configured default for dropping the index before the rebuild. A
// reindex already in flight answers 409.
func (h *AdminHandler) Reindex(c echo.Context) error {
	clearFirst := h.clearDefault
	if v := c.QueryParam("clear"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return h.fail(c, fhir.BadRequestf("clear must be a boolean, got %q", v))
		}
		clearFirst = b
	}

	count, err := h.job.Run(c.Request().Context(), clearFirst)
	if err != nil {
		return h.fail(c, err)
	}
	return c.JSON(http.StatusOK, map[string]interface{}{"reindexed": count})
}

func (h *AdminHandler) fail(c echo.Context, err error) error {
	status := fhir.StatusFor(err)
	if status >= http.StatusInternalServerError {
		h.log.Error().Err(err).Str("path", c.Request().URL.Path).Msg("request failed")
	}
	return respond(c, status, fhir.OutcomeFor(err))
}
