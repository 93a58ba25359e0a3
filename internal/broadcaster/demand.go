package broadcaster

import (
	"math"
	"strconv"
)

// Demand is the number of items a subscriber is willing to accept.
// Unlimited absorbs every addition and subtraction.
type Demand int64

const (
	None      Demand = 0
	Unlimited Demand = math.MaxInt64
)

// Add returns d+n, saturating at Unlimited. Non-positive n leaves d unchanged.
func (d Demand) Add(n Demand) Demand {
	if d == Unlimited || n == Unlimited {
		return Unlimited
	}
	if n <= 0 {
		return d
	}
	if d > Unlimited-n {
		return Unlimited
	}
	return d + n
}

// Sub returns d-n, floored at zero. Unlimited stays Unlimited.
func (d Demand) Sub(n Demand) Demand {
	if d == Unlimited {
		return Unlimited
	}
	if n <= 0 {
		return d
	}
	if n >= d {
		return None
	}
	return d - n
}

func (d Demand) IsUnlimited() bool {
	return d == Unlimited
}

func (d Demand) String() string {
	if d == Unlimited {
		return "unlimited"
	}
	return strconv.FormatInt(int64(d), 10)
}
