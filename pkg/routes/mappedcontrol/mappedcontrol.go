package mappedcontrol

import (
	"net/http"
	"strconv"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"

	mappedcontrolsvc "github.com/Ramsey-B/clover/internal/services/mappedcontrol"
	"github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/models"
)

var validate = validator.New()

// Register registers mapped control routes
func Register(g *echo.Group) {
	g.POST("", CreateMappedControl)
	g.GET("", ListMappedControls)
	g.GET("/:id", GetMappedControl)
	g.PATCH("/:id", UpdateMappedControl)
	g.DELETE("/:id", DeleteMappedControl)
	g.GET("/:id/revisions", ListRevisions)
}

// CreateMappedControl persists a new mapping from its full initial state
func CreateMappedControl(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	var req models.CreateMappedControlRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, svc, err := ectoinject.GetContext[*mappedcontrolsvc.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	record, err := svc.Create(ctx, tenantID, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, record)
}

// ListMappedControls lists mappings for the tenant
func ListMappedControls(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	limit, _ := strconv.Atoi(c.QueryParam("limit"))
	offset, _ := strconv.Atoi(c.QueryParam("offset"))

	ctx, svc, err := ectoinject.GetContext[*mappedcontrolsvc.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	records, err := svc.List(ctx, tenantID, limit, offset)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, records)
}

// GetMappedControl returns a mapping with its association sets
func GetMappedControl(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	id := c.Param("id")

	ctx, svc, err := ectoinject.GetContext[*mappedcontrolsvc.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	record, err := svc.Get(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, record)
}

// UpdateMappedControl applies an add/remove delta to a mapping
func UpdateMappedControl(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	id := c.Param("id")

	var req models.UpdateMappedControlRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	if err := validate.Struct(req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, err.Error())
	}

	ctx, svc, err := ectoinject.GetContext[*mappedcontrolsvc.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	record, err := svc.Update(ctx, tenantID, id, req)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, record)
}

// DeleteMappedControl soft deletes a mapping
func DeleteMappedControl(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	id := c.Param("id")

	ctx, svc, err := ectoinject.GetContext[*mappedcontrolsvc.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := svc.Delete(ctx, tenantID, id); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "deleted"})
}

// ListRevisions returns the delta history of a mapping
func ListRevisions(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)
	id := c.Param("id")

	ctx, svc, err := ectoinject.GetContext[*mappedcontrolsvc.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	revisions, err := svc.ListRevisions(ctx, tenantID, id)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, revisions)
}
