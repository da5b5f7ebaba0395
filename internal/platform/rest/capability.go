package rest

import (
	"net/http"
	"sort"
	"time"

	"github.com/labstack/echo/v4"
)

// Metadata answers the server's CapabilityStatement: the supported
// resource types with their interactions and search parameters.
func (h *Handler) Metadata(c echo.Context) error {
	types := h.catalog.ResourceTypes()
	sort.Strings(types)

	resources := make([]map[string]interface{}, 0, len(types))
	for _, rt := range types {
		var params []map[string]interface{}
		for _, def := range h.catalog.ForResource(rt) {
			params = append(params, map[string]interface{}{
				"name": def.Name,
				"type": string(def.Type),
			})
		}
		sort.Slice(params, func(i, j int) bool {
			return params[i]["name"].(string) < params[j]["name"].(string)
		})
		resources = append(resources, map[string]interface{}{
			"type":        rt,
			"versioning":  "versioned",
			"readHistory": true,
			"interaction": []map[string]string{
				{"code": "read"}, {"code": "vread"}, {"code": "update"},
				{"code": "delete"}, {"code": "history-instance"},
				{"code": "history-type"}, {"code": "create"}, {"code": "search-type"},
			},
			"searchParam": params,
		})
	}

	statement := map[string]interface{}{
		"resourceType": "CapabilityStatement",
		"status":       "active",
		"date":         time.Now().UTC().Format(time.RFC3339),
		"kind":         "instance",
		"fhirVersion":  "4.0.1",
		"format":       []string{"application/fhir+json"},
		"implementation": map[string]interface{}{
			"description": "Caretide FHIR server",
			"url":         h.svc.Base(),
		},
		"rest": []map[string]interface{}{{
			"mode":     "server",
			"resource": resources,
			"interaction": []map[string]string{
				{"code": "transaction"}, {"code": "batch"}, {"code": "history-system"},
			},
		}},
	}
	return respond(c, http.StatusOK, statement)
}
