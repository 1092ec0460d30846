package handler

import (
	"errors"
	"net/http"
	"order-reconciler/internal/service"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
)

// toHTTPError maps service errors onto status codes. Anything unrecognised is
// left for echo's error handler, which answers 500.
func toHTTPError(err error) error {
	if err == nil {
		return nil
	}

	var (
		illegal *service.IllegalTransitionError
		gwErr   *service.GatewayError
	)
	switch {
	case errors.Is(err, service.ErrOrderNotFound):
		return echo.NewHTTPError(http.StatusNotFound, err.Error())
	case errors.As(err, &illegal):
		return echo.NewHTTPError(http.StatusConflict, illegal.Error())
	case errors.As(err, &gwErr):
		return echo.NewHTTPError(http.StatusBadGateway, err.Error())
	case errors.Is(err, service.ErrConcurrentUpdate):
		return echo.NewHTTPError(http.StatusServiceUnavailable, err.Error())
	case errors.Is(err, service.ErrAuthentication):
		return echo.NewHTTPError(http.StatusUnauthorized, "invalid callback token")
	case errors.Is(err, service.ErrMalformedPayload):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return err
}

func bindAndValidate(c echo.Context, req any) error {
	if err := c.Bind(req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid req body")
	}
	if err := c.Validate(req); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make(map[string]string, len(verrs))
			for _, ve := range verrs {
				fields[ve.Field()] = ve.Tag()
			}
			return echo.NewHTTPError(http.StatusBadRequest, fields)
		}
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return nil
}
