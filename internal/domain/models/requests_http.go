package models

import (
	"github.com/shopspring/decimal"
)

// Requests for the analytics HTTP endpoints. Defined in domain for consistency and reuse.

type SeriesRequest struct {
	Product string `query:"product" json:"product" validate:"required"`
	Market  string `query:"market" json:"market"`
	From    string `query:"from" json:"from" validate:"omitempty,pricedate"`
	To      string `query:"to" json:"to" validate:"omitempty,pricedate"`
	Limit   int    `query:"limit" json:"limit" default:"5000" validate:"gte=1,lte=50000"`
}

type ForecastRequest struct {
	Product string `query:"product" json:"product" validate:"required"`
	Market  string `query:"market" json:"market"`
	Horizon int    `query:"horizon" json:"horizon" default:"7"`
}

type AnomalyRequest struct {
	Product string `query:"product" json:"product" validate:"required"`
	Market  string `query:"market" json:"market"`
	From    string `query:"from" json:"from" validate:"omitempty,pricedate"`
	To      string `query:"to" json:"to" validate:"omitempty,pricedate"`
}

type ElasticityRequest struct {
	Product string `query:"product" json:"product" validate:"required"`
}

type SentimentRequest struct {
	Product string `query:"product" json:"product" validate:"required"`
}

type AlertsRequest struct {
	Since string `query:"since" json:"since" validate:"omitempty,pricedate"`
}

// ObservationPayload is the wire form of a PriceObservation.
// Dates are YYYY-MM-DD or RFC3339; prices are JSON numbers or strings.
type ObservationPayload struct {
	Product string           `json:"product"`
	Market  string           `json:"market"`
	Origin  string           `json:"origin"`
	Date    string           `json:"date"`
	Price   decimal.Decimal  `json:"price"`
	Unit    string           `json:"unit"`
	Volume  *decimal.Decimal `json:"volume,omitempty"`
}

// ToObservation converts the payload; it fails only on an unparsable date.
func (p ObservationPayload) ToObservation() (PriceObservation, error) {
	d, err := ParseDate(p.Date)
	if err != nil {
		return PriceObservation{}, err
	}
	o := PriceObservation{
		Product: p.Product,
		Market:  p.Market,
		Origin:  p.Origin,
		Date:    d,
		Price:   p.Price,
		Unit:    p.Unit,
	}
	if p.Volume != nil {
		o.Volume = decimal.NewNullDecimal(*p.Volume)
	}
	return o, nil
}

// PayloadFromObservation renders an observation for the wire.
func PayloadFromObservation(o PriceObservation) ObservationPayload {
	p := ObservationPayload{
		Product: o.Product,
		Market:  o.Market,
		Origin:  o.Origin,
		Date:    o.Date.Format(DateLayout),
		Price:   o.Price,
		Unit:    o.Unit,
	}
	if o.Volume.Valid {
		v := o.Volume.Decimal
		p.Volume = &v
	}
	return p
}

type IngestRequest struct {
	Observations []ObservationPayload `json:"observations" validate:"required,min=1,max=100000"`
}
