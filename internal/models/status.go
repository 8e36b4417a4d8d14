package models

// Status: каноническое состояние посылки.
type Status string

const (
	StatusPending        Status = "pending"
	StatusShipped        Status = "shipped"
	StatusInTransit      Status = "inTransit"
	StatusArrivedAtStore Status = "arrivedAtStore"
	StatusDelivered      Status = "delivered"
	StatusReturned       Status = "returned"
)

var AllStatuses = []Status{
	StatusPending, StatusShipped, StatusInTransit,
	StatusArrivedAtStore, StatusDelivered, StatusReturned,
}

// Rank returns the position in the progress order. delivered and returned share
// the top rank and are not comparable to each other.
func (s Status) Rank() int {
	switch s {
	case StatusShipped:
		return 1
	case StatusInTransit:
		return 2
	case StatusArrivedAtStore:
		return 3
	case StatusDelivered, StatusReturned:
		return 4
	default:
		return 0
	}
}

// ProgressedBeyond reports whether s is strictly further along than other.
func (s Status) ProgressedBeyond(other Status) bool {
	return s.Rank() > other.Rank()
}

func (s Status) IsTerminal() bool {
	return s == StatusDelivered || s == StatusReturned
}

func (s Status) Valid() bool {
	for _, v := range AllStatuses {
		if v == s {
			return true
		}
	}
	return false
}

// ParseStatus возвращает pending для неизвестных значений.
func ParseStatus(raw string) Status {
	s := Status(raw)
	if s.Valid() {
		return s
	}
	return StatusPending
}
