package shopify

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"

	"github.com/nichepass/nichepass/internal/apperr"
)

// CustomerPayload is the body of a customers/create webhook.
type CustomerPayload struct {
	ID        int64  `json:"id"`
	Email     string `json:"email"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
}

// OrderDiscount is one applied discount code on an order.
type OrderDiscount struct {
	Code   string `json:"code"`
	Amount string `json:"amount"`
	Type   string `json:"type"`
}

// OrderPayload is the body of an orders/paid or orders/updated webhook.
type OrderPayload struct {
	ID            int64            `json:"id"`
	Name          string           `json:"name"`
	Email         string           `json:"email"`
	TotalPrice    string           `json:"total_price"`
	Currency      string           `json:"currency"`
	DiscountCodes []OrderDiscount  `json:"discount_codes"`
	Customer      *CustomerPayload `json:"customer"`
}

// TotalCents converts the order total from Shopify's decimal string into
// integer cents. Money never travels as a float past this point.
func (o *OrderPayload) TotalCents() (int64, error) {
	return parseCents(o.TotalPrice)
}

func parseCents(s string) (int64, error) {
	if s == "" {
		return 0, nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0, fmt.Errorf("parse amount %q: %w", s, err)
	}
	return int64(math.Round(f * 100)), nil
}

// DecodeCustomer parses and validates a customers/create body.
func DecodeCustomer(body []byte) (*CustomerPayload, error) {
	var p CustomerPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, apperr.Validation("malformed customer payload")
	}
	if p.ID == 0 {
		return nil, apperr.Validation("customer payload missing id")
	}
	return &p, nil
}

// DecodeOrder parses and validates an orders/* body.
func DecodeOrder(body []byte) (*OrderPayload, error) {
	var p OrderPayload
	if err := json.Unmarshal(body, &p); err != nil {
		return nil, apperr.Validation("malformed order payload")
	}
	if p.ID == 0 {
		return nil, apperr.Validation("order payload missing id")
	}
	if _, err := p.TotalCents(); err != nil {
		return nil, apperr.Validation("order payload has invalid total_price")
	}
	return &p, nil
}
