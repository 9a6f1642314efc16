package pdgm

import (
	"errors"
	"net/http"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"

	"github.com/homehealth/pdgm/pkg/pagination"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(api *echo.Group) {
	g := api.Group("/pdgm")
	g.POST("/hipps", h.CalculateHIPPS)
	g.GET("/hipps/:code", h.DecodeHIPPS)
	g.POST("/optimize", h.Optimize)
	g.GET("/clinical-groups", h.ListClinicalGroups)
	g.GET("/clinical-groups/:icd10", h.ClassifyDiagnosis)
	g.GET("/calculations", h.ListCalculations)
	g.GET("/calculations/:id", h.GetCalculation)
}

func httpError(err error) error {
	switch {
	case IsValidationError(err):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, ErrZeroCurrentRevenue):
		return echo.NewHTTPError(http.StatusUnprocessableEntity, err.Error())
	case errors.Is(err, ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	}
	return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
}

func (h *Handler) CalculateHIPPS(c echo.Context) error {
	var p HIPPSParams
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	res, err := h.svc.CalculateHIPPS(c.Request().Context(), p)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, res)
}

func (h *Handler) DecodeHIPPS(c echo.Context) error {
	out, err := h.svc.DecodeHIPPS(c.Param("code"))
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) Optimize(c echo.Context) error {
	var req OptimizeRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	out, err := h.svc.Optimize(c.Request().Context(), &req)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, out)
}

func (h *Handler) ListClinicalGroups(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.Engine().ClinicalGroups())
}

func (h *Handler) ClassifyDiagnosis(c echo.Context) error {
	return c.JSON(http.StatusOK, h.svc.ClassifyDiagnosis(c.Param("icd10")))
}

func (h *Handler) GetCalculation(c echo.Context) error {
	id, err := uuid.Parse(c.Param("id"))
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid id")
	}
	calc, err := h.svc.GetCalculation(c.Request().Context(), id)
	if err != nil {
		return httpError(err)
	}
	return c.JSON(http.StatusOK, calc)
}

func (h *Handler) ListCalculations(c echo.Context) error {
	pg := pagination.FromContext(c)
	items, total, err := h.svc.ListCalculations(c.Request().Context(), pg.Limit, pg.Offset)
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, err.Error())
	}
	return c.JSON(http.StatusOK, pagination.NewResponse(items, total, pg.Limit, pg.Offset).WithLinks(c))
}
