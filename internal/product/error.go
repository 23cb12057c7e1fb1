package product

import "errors"

var (
	ErrProductNotFound = errors.New("product not found")
	ErrVariantNotFound = errors.New("variant not found")
	ErrVariantRequired = errors.New("product has variants; choose one")
	ErrProductInactive = errors.New("product is not available for rent")
)
