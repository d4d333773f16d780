package mappingsession

import (
	"io"
	"net/http"

	"github.com/Gobusters/ectoerror/httperror"
	"github.com/Gobusters/ectoinject"
	"github.com/labstack/echo/v4"

	sessionsvc "github.com/Ramsey-B/clover/internal/services/mappingsession"
	"github.com/Ramsey-B/clover/pkg/context"
	"github.com/Ramsey-B/clover/pkg/mapping"
	"github.com/Ramsey-B/clover/pkg/models"
)

// Register registers mapping session routes
func Register(g *echo.Group) {
	g.POST("", OpenSession)
	g.GET("/:id", GetSession)
	g.POST("/:id/sides/:direction/drop", DropItems)
	g.DELETE("/:id/sides/:direction/items/:kind/:itemId", RemoveItem)
	g.PUT("/:id/relation", SetRelation)
	g.POST("/:id/submit", SubmitSession)
	g.POST("/:id/cancel", CancelSession)
	g.DELETE("/:id", CloseSession)
}

type openSessionRequest struct {
	RecordID string `json:"record_id"`
}

type sessionResponse struct {
	*mapping.Session
	FromItems []models.RelationshipItem `json:"from_items"`
	ToItems   []models.RelationshipItem `json:"to_items"`
}

func toResponse(session *mapping.Session) sessionResponse {
	return sessionResponse{
		Session:   session,
		FromItems: session.From.Items(),
		ToItems:   session.To.Items(),
	}
}

// OpenSession starts a mapping session, optionally loading a persisted record
func OpenSession(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	var req openSessionRequest
	if err := c.Bind(&req); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx, svc, err := ectoinject.GetContext[*sessionsvc.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	session, err := svc.Open(ctx, tenantID, req.RecordID)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusCreated, toResponse(session))
}

// GetSession returns a session's current state
func GetSession(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	ctx, svc, err := ectoinject.GetContext[*sessionsvc.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	session, err := svc.Get(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, toResponse(session))
}

// DropItems adds dropped items to one side of the session. The body is the
// raw item array so schema validation happens at the decode boundary.
func DropItems(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	payload, err := io.ReadAll(c.Request().Body)
	if err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "failed to read request body")
	}

	ctx, svc, err := ectoinject.GetContext[*sessionsvc.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	added, err := svc.Drop(ctx, tenantID, c.Param("id"), mapping.Direction(c.Param("direction")), payload)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]any{"added": added})
}

// RemoveItem takes one item off a side
func RemoveItem(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	key := models.ItemKey{
		Kind: models.ItemKind(c.Param("kind")),
		ID:   c.Param("itemId"),
	}

	ctx, svc, err := ectoinject.GetContext[*sessionsvc.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	removed, err := svc.Remove(ctx, tenantID, c.Param("id"), mapping.Direction(c.Param("direction")), key)
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]bool{"removed": removed})
}

// SetRelation updates the session's classification metadata
func SetRelation(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	var relation mapping.Relation
	if err := c.Bind(&relation); err != nil {
		return httperror.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}

	ctx, svc, err := ectoinject.GetContext[*sessionsvc.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := svc.SetRelation(ctx, tenantID, c.Param("id"), relation); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}

// SubmitSession persists the session as a create or a delta update
func SubmitSession(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	ctx, svc, err := ectoinject.GetContext[*sessionsvc.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	record, err := svc.Submit(ctx, tenantID, c.Param("id"))
	if err != nil {
		return err
	}

	return c.JSON(http.StatusOK, record)
}

// CancelSession reverts and closes a session
func CancelSession(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	ctx, svc, err := ectoinject.GetContext[*sessionsvc.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := svc.Cancel(ctx, tenantID, c.Param("id")); err != nil {
		return err
	}

	return c.JSON(http.StatusOK, map[string]string{"status": "cancelled"})
}

// CloseSession drops a session without reverting anything
func CloseSession(c echo.Context) error {
	ctx := c.Request().Context()
	tenantID := context.GetTenantID(ctx)

	ctx, svc, err := ectoinject.GetContext[*sessionsvc.Service](ctx)
	if err != nil {
		return httperror.NewHTTPError(http.StatusInternalServerError, "service unavailable")
	}

	if err := svc.Close(ctx, tenantID, c.Param("id")); err != nil {
		return err
	}

	return c.NoContent(http.StatusNoContent)
}
