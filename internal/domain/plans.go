package domain

import "fmt"

// Plan is a purchasable subscription period.
type Plan struct {
	Days        int
	PriceRubles int64
	Label       string
}

// Plans lists the checkout offers in display order.
var Plans = []Plan{
	{Days: 30, PriceRubles: 149, Label: "1 месяц"},
	{Days: 90, PriceRubles: 370, Label: "3 месяца"},
	{Days: 180, PriceRubles: 625, Label: "6 месяцев"},
}

// PlanByDays finds the plan granting the given number of days.
func PlanByDays(days int) (Plan, error) {
	for _, p := range Plans {
		if p.Days == days {
			return p, nil
		}
	}
	return Plan{}, fmt.Errorf("%w: no plan for %d days", ErrInvalidArgument, days)
}

// PriceMinor is the plan price in kopecks.
func (p Plan) PriceMinor() int64 {
	return p.PriceRubles * 100
}

// Description is the payment description shown on the receipt.
func (p Plan) Description() string {
	return fmt.Sprintf("Подписка на %d дней", p.Days)
}
