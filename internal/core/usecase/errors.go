package usecase

import "errors"

// Таксономия ошибок, видимых presentation-слою. Сырые строки провайдера
// и шлюза наружу не выходят - только эти значения.
var (
	ErrInsufficientFunds   = errors.New("insufficient funds")
	ErrInvalidOrder        = errors.New("order not found")
	ErrNoNumbers           = errors.New("no numbers available for this service")
	ErrPriceUnknown        = errors.New("unable to determine price for this service")
	ErrProviderUnavailable = errors.New("otp provider unavailable")
	ErrGatewayUnavailable  = errors.New("payment gateway unavailable")
	ErrInvalidAmount       = errors.New("recharge amount out of bounds")
)
