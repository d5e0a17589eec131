package echoapi

import (
	"net/http"

	"github.com/go-playground/validator/v10"
	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core/form"
	"github.com/trezcool/chuo/core/schema"
	"github.com/trezcool/chuo/core/user"
)

type formsApi struct {
	forms    *form.Manager
	svc      user.ServiceInterface
	validate *validator.Validate
}

func registerFormsAPI(g *echo.Group, jwt echo.MiddlewareFunc, api *formsApi) {
	fg := g.Group("/forms", jwt)
	fg.POST("", api.open)

	dg := fg.Group("/:id", api.ownerMiddleware)
	dg.GET("", api.state)
	dg.DELETE("", api.close)
	dg.GET("/fields/:name", api.fieldProps)
	dg.PATCH("/fields/:name", api.change)
	dg.POST("/blur/:name", api.blur)
	dg.POST("/submit", api.submit)
}

func (api *formsApi) open(ctx echo.Context) error {
	usr, err := getContextUser(ctx, api.svc)
	if err != nil {
		return errors.Wrap(err, "getting context user")
	}
	var data OpenFormRequest
	if err = bindJSON(ctx, &data); err != nil {
		return err
	}
	if err = api.validate.Struct(data); err != nil {
		return err
	}

	var opts []form.Option
	if data.ValidateOnChange != nil {
		opts = append(opts, form.WithValidateOnChange(*data.ValidateOnChange))
	}
	if data.ValidateOnBlur != nil {
		opts = append(opts, form.WithValidateOnBlur(*data.ValidateOnBlur))
	}
	id, f, err := api.forms.Open(usr.ID, data.Schema, data.Values, opts...)
	if err != nil {
		return errors.Wrap(err, "opening form")
	}
	return ctx.JSON(http.StatusCreated, FormResponse{ID: id, State: f.State()})
}

func (api *formsApi) state(ctx echo.Context) error {
	f := ctx.Get("object").(*form.Form)
	return ctx.JSON(http.StatusOK, FormResponse{ID: ctx.Param("id"), State: f.State()})
}

func (api *formsApi) fieldProps(ctx echo.Context) error {
	f := ctx.Get("object").(*form.Form)
	return ctx.JSON(http.StatusOK, f.FieldProps(ctx.Param("name")))
}

func (api *formsApi) change(ctx echo.Context) error {
	f := ctx.Get("object").(*form.Form)
	var data ChangeFieldRequest
	if err := bindJSON(ctx, &data); err != nil {
		return err
	}
	if err := f.Change(ctx.Param("name"), data.Value); err != nil {
		return errors.Wrap(err, "changing field")
	}
	return ctx.JSON(http.StatusOK, FormResponse{ID: ctx.Param("id"), State: f.State()})
}

func (api *formsApi) blur(ctx echo.Context) error {
	f := ctx.Get("object").(*form.Form)
	if err := f.Blur(ctx.Param("name")); err != nil {
		return errors.Wrap(err, "blurring field")
	}
	return ctx.JSON(http.StatusOK, FormResponse{ID: ctx.Param("id"), State: f.State()})
}

// submit waits for the submission to settle. Submit handlers act on behalf of the authenticated user.
func (api *formsApi) submit(ctx echo.Context) error {
	id := ctx.Param("id")
	ok, err := api.forms.Submit(ctx.Request().Context(), ctx.Get("owner").(string), id)
	if err != nil {
		return errors.Wrap(err, "submitting form")
	}
	f := ctx.Get("object").(*form.Form)
	return ctx.JSON(http.StatusOK, SubmitResponse{OK: ok, FormResponse: FormResponse{ID: id, State: f.State()}})
}

func (api *formsApi) close(ctx echo.Context) error {
	if err := api.forms.Close(ctx.Get("owner").(string), ctx.Param("id")); err != nil {
		return errors.Wrap(err, "closing form")
	}
	return ctx.NoContent(http.StatusNoContent)
}

// ownerMiddleware loads the form `:id` into the context ("object"). Users only see the forms they opened.
func (api *formsApi) ownerMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(ctx echo.Context) error {
		usr, err := getContextUser(ctx, api.svc)
		if err != nil {
			return errors.Wrap(err, "getting context user")
		}

		f, err := api.forms.Get(usr.ID, ctx.Param("id"))
		if err != nil {
			return errors.Wrap(err, "finding form")
		}
		ctx.Set("owner", usr.ID)
		ctx.Set("object", f)
		return next(ctx)
	}
}

type (
	OpenFormRequest struct {
		Schema           string        `json:"schema" validate:"required"`
		Values           schema.Values `json:"values"`
		ValidateOnChange *bool         `json:"validateOnChange"`
		ValidateOnBlur   *bool         `json:"validateOnBlur"`
	}

	ChangeFieldRequest struct {
		Value interface{} `json:"value"`
	}

	FormResponse struct {
		ID    string     `json:"id"`
		State form.State `json:"state"`
	}

	SubmitResponse struct {
		OK bool `json:"ok"`
		FormResponse
	}
)
