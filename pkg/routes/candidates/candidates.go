package candidates

import (
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/Gobusters/ectolinq"
	"github.com/labstack/echo/v4"

	candidatesvc "github.com/Ramsey-B/clover/internal/services/candidates"
	"github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/mapping"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Register registers candidate pool routes
func Register(g *echo.Group) {
	g.GET("", ListCandidates)
	g.GET("/frameworks", ListFrameworks)
}

// excludeParams carries the item keys already present on the active
// session's sides so they are never offered again.
type excludeParams struct {
	ControlIDs    []string `query:"exclude_control_ids"`
	SubcontrolIDs []string `query:"exclude_subcontrol_ids"`
}

// ListCandidates returns the grouped candidate pool for the active filter
func ListCandidates(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	var filter models.CandidateFilter
	if err := c.Bind(&filter); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid filter")
	}

	var exclude excludeParams
	if err := c.Bind(&exclude); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid exclusion list")
	}

	keys := append(
		ectolinq.Map(exclude.ControlIDs, func(id string) models.ItemKey {
			return models.ItemKey{Kind: models.ItemKindControl, ID: id}
		}),
		ectolinq.Map(exclude.SubcontrolIDs, func(id string) models.ItemKey {
			return models.ItemKey{Kind: models.ItemKindSubcontrol, ID: id}
		})...,
	)

	ctx, svc, err := ectoinject.GetContext[*candidatesvc.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	grouped, err := svc.Grouped(ctx, tenantID, filter, mapping.NewExcludeSet(keys))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, grouped)
}

// ListFrameworks lists the frameworks available for filtering
func ListFrameworks(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	ctx, svc, err := ectoinject.GetContext[*candidatesvc.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	frameworks, err := svc.Frameworks(ctx, tenantID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, frameworks)
}
