package echoapi

import (
	"encoding/json"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"

	"github.com/trezcool/chuo/core"
	"github.com/trezcool/chuo/core/schema"
	"github.com/trezcool/chuo/core/user"
)

const (
	orderingParam = "ordering"
	dateLayout    = "2006-01-02"
)

type Ordering struct {
	Orderings []core.DBOrdering
}

// Bind reads the comma-separated `ordering` query param, keeping the allowed fields only.
func (ord *Ordering) Bind(ctx echo.Context, allowed ...string) {
	if val := ctx.QueryParam(orderingParam); val != "" {
		ord.Orderings = core.ParseOrdering(val, allowed...)
	}
}

// bindUserFilter reads the user query filter from the query params. Dates are YYYY-MM-DD; `created_to` is inclusive.
func bindUserFilter(ctx echo.Context) (*user.QueryFilter, error) {
	params := ctx.QueryParams()
	filter := &user.QueryFilter{
		Search:     params.Get("search"),
		Roles:      params["role"],
		Statuses:   params["status"],
		Department: params.Get("department"),
	}

	var fldErrs core.FieldErrors
	for _, date := range []struct {
		param string
		dst   *time.Time
		end   bool
	}{
		{"created_from", &filter.CreatedFrom, false},
		{"created_to", &filter.CreatedTo, true},
	} {
		val := params.Get(date.param)
		if val == "" {
			continue
		}
		t, err := time.Parse(dateLayout, val)
		if err != nil {
			if fldErrs == nil {
				fldErrs = make(core.FieldErrors)
			}
			fldErrs.Add(date.param, "enter a valid date (YYYY-MM-DD)")
			continue
		}
		if date.end {
			t = t.Add(24*time.Hour - time.Nanosecond)
		}
		*date.dst = t
	}
	if len(fldErrs) > 0 {
		return nil, core.NewValidationError(nil, fldErrs)
	}
	filter.Clean()
	return filter, nil
}

// bindValues decodes the JSON body of the request into form values. Path & query params are left out.
func bindValues(ctx echo.Context) (schema.Values, error) {
	var values schema.Values
	if err := json.NewDecoder(ctx.Request().Body).Decode(&values); err != nil {
		return nil, core.NewValidationError(errors.Wrap(err, "malformed body"), nil)
	}
	if values == nil {
		values = schema.Values{}
	}
	return values, nil
}

// bindJSON binds the request body to i, reporting malformed bodies as validation errors.
func bindJSON(ctx echo.Context, i interface{}) error {
	if err := ctx.Bind(i); err != nil {
		return core.NewValidationError(errors.Wrap(err, "malformed body"), nil)
	}
	return nil
}
