package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/clientctx"
	"github.com/trezcool/chuo/core/metrics"
	"github.com/trezcool/chuo/core/schema"
	"github.com/trezcool/chuo/core/user"
)

const actionCheckPermission = "checkPermission"

type validateApi struct {
	validator *schema.Validator
	schemas   *schema.Registry
	validate  *validator.Validate
}

func registerValidateAPI(g *echo.Group, api *validateApi) {
	g.POST("/validate", api.validateData)
	g.GET("/validate", api.checkPermission)
	g.GET("/schemas", api.listSchemas)
	g.GET("/client-ip", clientIP)
}

// validateData validates data against a registered schema; only `field` (and its cross-field rules) when given.
func (api *validateApi) validateData(ctx echo.Context) error {
	var data ValidateRequest
	if err := bindJSON(ctx, &data); err != nil {
		return err
	}
	if err := api.validate.Struct(data); err != nil {
		return err
	}
	s, ok := api.schemas.Get(data.Schema)
	if !ok {
		return core.NewFieldError("schema", "unknown schema")
	}
	if data.Data == nil {
		data.Data = schema.Values{}
	}

	var errs schema.Errors
	if data.Field != "" {
		if _, declared := s.Field(data.Field); !declared {
			return core.NewFieldError("field", "unknown field")
		}
		errs = api.validator.FieldErrors(s, data.Data, data.Field)
	} else {
		var err error
		if _, errs, err = api.validator.ValidateAllContext(ctx.Request().Context(), s, data.Data); err != nil {
			return errors.Wrap(err, "validating "+s.Name())
		}
	}

	result := metrics.ResultOK
	if len(errs) > 0 {
		result = metrics.ResultInvalid
	} else {
		errs = schema.Errors{}
	}
	metrics.Validations.WithLabelValues(s.Name(), result).Inc()
	return ctx.JSON(http.StatusOK, ValidateResponse{Valid: len(errs) == 0, Errors: errs})
}

func (api *validateApi) checkPermission(ctx echo.Context) error {
	if action := ctx.QueryParam("action"); action != actionCheckPermission {
		return core.NewFieldError("action", "unknown action")
	}
	role, resource := ctx.QueryParam("userRole"), ctx.QueryParam("resource")
	return ctx.JSON(http.StatusOK, echo.Map{"allowed": user.CanAccess(role, resource)})
}

func (api *validateApi) listSchemas(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, api.schemas.Names())
}

func clientIP(ctx echo.Context) error {
	return ctx.JSON(http.StatusOK, echo.Map{"ip": clientctx.ClientIP(ctx.Request())})
}

type (
	ValidateRequest struct {
		Schema string        `json:"schema" validate:"required"`
		Data   schema.Values `json:"data"`
		Field  string        `json:"field"`
	}

	ValidateResponse struct {
		Valid  bool          `json:"valid"`
		Errors schema.Errors `json:"errors"`
	}
)
