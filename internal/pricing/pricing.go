// Package pricing turns tiered item rates and a rental span into amounts.
package pricing

import (
	"math"
	"time"
)

const (
	Day   = 24 * time.Hour
	Week  = 7 * Day
	Month = 4 * Week // месяц аренды считается как четыре недели
)

// Rates is a day/week/month rate triple in one currency.
type Rates struct {
	Day   float64 `json:"day"`
	Week  float64 `json:"week"`
	Month float64 `json:"month"`
}

// Period is a rental span broken down into billable units.
type Period struct {
	Months int
	Weeks  int
	Days   int
}

// Decompose splits d into whole months, weeks and days. Any leftover hours
// bill as one more day; seven days roll into a week and four weeks into a month.
func Decompose(d time.Duration) Period {
	if d <= 0 {
		return Period{}
	}

	p := Period{Months: int(d / Month)}
	rem := d % Month
	p.Weeks = int(rem / Week)
	rem %= Week
	p.Days = int(rem / Day)
	rem %= Day

	if rem > 0 {
		p.Days++
		if p.Days == 7 {
			p.Days = 0
			p.Weeks++
			if p.Weeks == 4 {
				p.Weeks = 0
				p.Months++
			}
		}
	}
	return p
}

// Amount applies the rates to the period. The result is not rounded.
func (p Period) Amount(r Rates) float64 {
	return r.Day*float64(p.Days) + r.Week*float64(p.Weeks) + r.Month*float64(p.Months)
}

// PriceForPeriod prices [start, end) with the given rates.
// Non-positive spans price to zero.
func PriceForPeriod(dayRate, weekRate, monthRate float64, start, end time.Time) float64 {
	return Decompose(end.Sub(start)).Amount(Rates{Day: dayRate, Week: weekRate, Month: monthRate})
}

// Price is PriceForPeriod over a Rates value.
func (r Rates) Price(start, end time.Time) float64 {
	return PriceForPeriod(r.Day, r.Week, r.Month, start, end)
}

// ConvertRates multiplies every tier by fx and rounds each tier up to the cent.
func ConvertRates(r Rates, fx float64) Rates {
	return Rates{
		Day:   CeilCents(r.Day * fx),
		Week:  CeilCents(r.Week * fx),
		Month: CeilCents(r.Month * fx),
	}
}

// CeilCents rounds up to two decimals, ignoring float noise below 1e-9 of a cent.
func CeilCents(v float64) float64 {
	return math.Ceil(v*100-1e-9) / 100
}

// RoundCents rounds half away from zero to two decimals.
func RoundCents(v float64) float64 {
	return math.Round(v*100) / 100
}

// Fee computes a percentage fee of price rounded to the cent.
func Fee(price, ratePercent float64) float64 {
	if price <= 0 || ratePercent <= 0 {
		return 0
	}
	return math.Round(price*ratePercent) / 100
}
