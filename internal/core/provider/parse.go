package provider

import "strings"

// Текстовый протокол провайдера разбирается в явные варианты один раз,
// на входе. Машина состояний дальше работает только с ними, сырые строки
// остаются лишь в Raw для аудита.

type NumberKind int

const (
	NumberAllocated NumberKind = iota
	NumberNoNumbers
	NumberNoBalance
	NumberError
	NumberUnrecognized
)

// NumberResult - разобранный ответ на запрос номера.
type NumberResult struct {
	Kind    NumberKind
	OrderID string
	Phone   string
	Raw     string
}

// ParseNumberResponse разбирает ответ вида ACCESS_NUMBER:<order_id>:<phone>.
func ParseNumberResponse(body string) NumberResult {
	body = strings.TrimSpace(body)
	switch {
	case strings.HasPrefix(body, "ACCESS_NUMBER:"):
		parts := strings.Split(body, ":")
		if len(parts) >= 3 && parts[1] != "" && parts[2] != "" {
			return NumberResult{Kind: NumberAllocated, OrderID: parts[1], Phone: parts[2], Raw: body}
		}
		return NumberResult{Kind: NumberUnrecognized, Raw: body}
	case strings.HasPrefix(body, "NO_NUMBERS"):
		return NumberResult{Kind: NumberNoNumbers, Raw: body}
	case strings.HasPrefix(body, "NO_BALANCE"):
		return NumberResult{Kind: NumberNoBalance, Raw: body}
	case strings.HasPrefix(body, "ERROR"), strings.HasPrefix(body, "BAD_"):
		return NumberResult{Kind: NumberError, Raw: body}
	default:
		return NumberResult{Kind: NumberUnrecognized, Raw: body}
	}
}

type StatusKind int

const (
	StatusCodeReceived StatusKind = iota
	StatusWaiting
	StatusCancelled
	StatusNoActivation
	StatusUnrecognized
)

// StatusResult - разобранный ответ на проверку статуса заказа.
type StatusResult struct {
	Kind StatusKind
	Code string
	Raw  string
}

// ParseStatusResponse разбирает STATUS_OK:<code>, STATUS_WAIT_CODE,
// STATUS_CANCEL / CANCEL_* и NO_ACTIVATION.
func ParseStatusResponse(body string) StatusResult {
	body = strings.TrimSpace(body)
	switch {
	case strings.HasPrefix(body, "STATUS_OK:"):
		code := strings.TrimPrefix(body, "STATUS_OK:")
		if code != "" {
			return StatusResult{Kind: StatusCodeReceived, Code: code, Raw: body}
		}
		return StatusResult{Kind: StatusUnrecognized, Raw: body}
	case body == "STATUS_WAIT_CODE":
		return StatusResult{Kind: StatusWaiting, Raw: body}
	case body == "STATUS_CANCEL", strings.HasPrefix(body, "CANCEL_"):
		return StatusResult{Kind: StatusCancelled, Raw: body}
	case body == "NO_ACTIVATION":
		return StatusResult{Kind: StatusNoActivation, Raw: body}
	default:
		return StatusResult{Kind: StatusUnrecognized, Raw: body}
	}
}

type CancelKind int

const (
	CancelOK CancelKind = iota
	CancelNoActivation
	CancelUnrecognized
)

// CancelResult - разобранный ответ на отмену номера.
type CancelResult struct {
	Kind CancelKind
	Raw  string
}

func ParseCancelResponse(body string) CancelResult {
	body = strings.TrimSpace(body)
	switch body {
	case "ACCESS_CANCEL", "SUCCESS_CANCEL":
		return CancelResult{Kind: CancelOK, Raw: body}
	case "NO_ACTIVATION":
		return CancelResult{Kind: CancelNoActivation, Raw: body}
	default:
		return CancelResult{Kind: CancelUnrecognized, Raw: body}
	}
}
