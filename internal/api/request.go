package api

import (
	"bytes"
	"errors"
	"fmt"
	"io"
	"net/http"

	"churn-api/internal/features"
	"churn-api/internal/validation"

	"github.com/goccy/go-json"
)

// MaxBodyBytes bounds request bodies.
const MaxBodyBytes = 8 << 20

// customerRequest is the wire form of a customer record. Pointers tell a
// missing field apart from an explicit zero.
type customerRequest struct {
	CreditScore      *float64 `json:"CreditScore" validate:"required,finite"`
	Age              *float64 `json:"Age" validate:"required,finite"`
	Tenure           *float64 `json:"Tenure" validate:"required,finite"`
	Balance          *float64 `json:"Balance" validate:"required,finite"`
	NumOfProducts    *float64 `json:"NumOfProducts" validate:"required,finite"`
	HasCrCard        *float64 `json:"HasCrCard" validate:"required,binary"`
	IsActiveMember   *float64 `json:"IsActiveMember" validate:"required,binary"`
	EstimatedSalary  *float64 `json:"EstimatedSalary" validate:"required,finite"`
	GeographyGermany *float64 `json:"Geography_Germany" validate:"required,binary"`
	GeographySpain   *float64 `json:"Geography_Spain" validate:"required,binary"`
}

// customer converts a validated request.
func (c *customerRequest) customer() features.Customer {
	return features.Customer{
		CreditScore:      *c.CreditScore,
		Age:              *c.Age,
		Tenure:           *c.Tenure,
		Balance:          *c.Balance,
		NumOfProducts:    *c.NumOfProducts,
		HasCrCard:        *c.HasCrCard,
		IsActiveMember:   *c.IsActiveMember,
		EstimatedSalary:  *c.EstimatedSalary,
		GeographyGermany: *c.GeographyGermany,
		GeographySpain:   *c.GeographySpain,
	}
}

func readBody(w http.ResponseWriter, r *http.Request) ([]byte, *validation.RequestValidationError) {
	data, err := io.ReadAll(http.MaxBytesReader(w, r.Body, MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return nil, validation.NewError("body", "too_large", fmt.Sprintf("request body exceeds %d bytes", MaxBodyBytes))
		}
		return nil, validation.NewError("body", "read_error", err.Error())
	}
	if len(bytes.TrimSpace(data)) == 0 {
		return nil, validation.NewError("body", "missing", "request body is required")
	}
	return data, nil
}

// decodeCustomer parses and validates a single record.
func decodeCustomer(w http.ResponseWriter, r *http.Request) (features.Customer, *validation.RequestValidationError) {
	data, verr := readBody(w, r)
	if verr != nil {
		return features.Customer{}, verr
	}

	var req customerRequest
	if err := json.Unmarshal(data, &req); err != nil {
		return features.Customer{}, validation.NewError("body", "json_invalid", err.Error())
	}
	if verr := validation.ValidateStruct(&req); verr != nil {
		return features.Customer{}, verr
	}
	return req.customer(), nil
}

// decodeBatch parses a JSON array of records. Every invalid element is
// reported, prefixed with its index.
func decodeBatch(w http.ResponseWriter, r *http.Request) ([]features.Customer, *validation.RequestValidationError) {
	data, verr := readBody(w, r)
	if verr != nil {
		return nil, verr
	}

	if bytes.TrimSpace(data)[0] != '[' {
		return nil, validation.NewError("body", "list_type", "request body must be a JSON array")
	}

	var reqs []*customerRequest
	if err := json.Unmarshal(data, &reqs); err != nil {
		return nil, validation.NewError("body", "json_invalid", err.Error())
	}

	var errs []*validation.RequestValidationError
	customers := make([]features.Customer, len(reqs))
	for i, req := range reqs {
		if req == nil {
			errs = append(errs, validation.NewError(fmt.Sprintf("[%d]", i), "object_type", "record must be an object"))
			continue
		}
		if verr := validation.ValidateStruct(req); verr != nil {
			errs = append(errs, verr.Prefix(fmt.Sprintf("[%d].", i)))
			continue
		}
		customers[i] = req.customer()
	}
	if merged := validation.Merge(errs...); merged != nil {
		return nil, merged
	}
	return customers, nil
}
