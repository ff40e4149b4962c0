package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"github.com/go-playground/validator"
	"github.com/meghashyamc/presssync/logger"
	"github.com/meghashyamc/presssync/services/query"
)

type Validator struct {
	validator                *validator.Validate
	logger                   logger.Logger
	tagValidationDetailsOnce sync.Once
	tagValidationDetailsMap  map[string]tagValidationDetails
}

type tagValidationDetails struct {
	validatorFunc validator.Func
	err           error
}

func New(logger logger.Logger) (*Validator, error) {
	validator := &Validator{validator: validator.New(), logger: logger}
	validator.validator.RegisterTagNameFunc(useJSONFieldNames)
	if err := validator.registerCustomValidatorsForTags(); err != nil {
		return nil, err
	}

	return validator, nil
}

func (v *Validator) Validate(i any) error {

	if err := v.validator.Struct(i); err != nil {
		v.logger.Warn("validation failed", "err", err.Error())
		var validationErrs validator.ValidationErrors
		if errors.As(err, &validationErrs) && len(validationErrs) > 0 {

			tagValidationDetails, ok := v.getTagValidationDetails()[validationErrs[0].Tag()]
			if ok {
				return tagValidationDetails.err
			}

			switch validationErrs[0].Tag() {
			case "required":
				return fmt.Errorf("missing required field '%s'", validationErrs[0].Field())

			case "min", "max":
				return fmt.Errorf("value or length of field '%s' is not in the expected range", validationErrs[0].Field())

			}
		}
		return err
	}
	return nil
}
func (v *Validator) getTagValidationDetails() map[string]tagValidationDetails {
	v.tagValidationDetailsOnce.Do(func() {
		v.tagValidationDetailsMap = map[string]tagValidationDetails{
			"valid_orderby": {validatorFunc: v.isValidOrderBy, err: errors.New("invalid orderby")},
			"valid_order":   {validatorFunc: v.isValidOrder, err: errors.New("invalid order, expected asc or desc")},
			"valid_facets":  {validatorFunc: v.isValidFacets, err: errors.New("invalid facets")},
		}
	})
	return v.tagValidationDetailsMap
}

func (v *Validator) registerCustomValidatorsForTags() error {

	tagValidationDetailsMap := v.getTagValidationDetails()

	for tag, tagValidationDetails := range tagValidationDetailsMap {
		if err := v.validator.RegisterValidation(tag, tagValidationDetails.validatorFunc); err != nil {
			v.logger.Error("failed to register customer validator function", "err", err.Error())
			return err
		}
	}
	return nil
}

func useJSONFieldNames(fld reflect.StructField) string {
	name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
	if name == "-" {
		return ""
	}
	return name
}

func (v *Validator) isValidOrderBy(fl validator.FieldLevel) bool {
	orderBy := fl.Field().String()
	if !query.IsOrderBy(orderBy) {
		v.logger.Warn("unknown orderby", "orderby", orderBy)
		return false
	}
	return true
}

func (v *Validator) isValidOrder(fl validator.FieldLevel) bool {
	order := strings.ToLower(fl.Field().String())
	return order == query.OrderAsc || order == query.OrderDesc
}

func (v *Validator) isValidFacets(fl validator.FieldLevel) bool {
	field := fl.Field()
	if field.Kind() != reflect.Map {
		return false
	}

	facets, ok := field.Interface().(map[string]query.Facet)
	if !ok {
		return false
	}
	for label, facet := range facets {
		if strings.TrimSpace(label) == "" {
			v.logger.Warn("facet label is empty")
			return false
		}
		if err := query.ValidateFacet(facet); err != nil {
			v.logger.Warn("invalid facet", "facet", label, "err", err.Error())
			return false
		}
	}
	return true
}
