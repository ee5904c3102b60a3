package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/mansoorceksport/fitsync/internal/service"
)

// GridHandler exposes the tabular data endpoint. It never fails on upstream errors;
// the service falls back to mock rows or a local acknowledgement.
type GridHandler struct {
	grid *service.GridService
}

func NewGridHandler(grid *service.GridService) *GridHandler {
	return &GridHandler{grid: grid}
}

type saveGridRequest struct {
	Grid []service.GridRow `json:"grid" validate:"required,max=500"`
}

// GetGrid handles GET /v1/grid?rows=N
func (h *GridHandler) GetGrid(c *fiber.Ctx) error {
	rows := c.QueryInt("rows", 0)
	if rows < 0 {
		return badRequest(c, "rows must not be negative")
	}
	return c.JSON(fiber.Map{"grid": h.grid.FetchInitialGrid(c.UserContext(), rows)})
}

// SaveGrid handles POST /v1/grid
func (h *GridHandler) SaveGrid(c *fiber.Ctx) error {
	var req saveGridRequest
	if err := parseBody(c, &req); err != nil {
		return err
	}
	if err := validateStruct(req); err != nil {
		return err
	}
	return c.JSON(h.grid.SaveGrid(c.UserContext(), req.Grid))
}
