package domain

import "fmt"

// Event is one exam session listed on the portal calendar.
type Event struct {
	UID         string
	Title       string
	StartDate   string
	Price       string
	AntennaID   int
	AntennaName string
	Local       string
	Status      int
	Full        int
}

func (e Event) IsOpen() bool { return e.Status == 1 }

func (e Event) IsFull() bool { return e.Full == 1 }

// CanReserve reports whether the event still accepts bookings.
func (e Event) CanReserve() bool { return e.IsOpen() && !e.IsFull() }

// WithDefaults applies the values the portal omits for sparse events.
func (e Event) WithDefaults() Event {
	if e.Price == "" {
		e.Price = "0"
	}
	if e.AntennaID == 0 {
		e.AntennaID = DefaultAntenna
	}
	return e
}

// OpenEvents keeps the events that can still be booked, preserving order.
func OpenEvents(events []Event) []Event {
	var out []Event
	for _, e := range events {
		if e.CanReserve() {
			out = append(out, e)
		}
	}
	return out
}

// PaymentWindow is a bookable time shift attached to an event.
type PaymentWindow struct {
	TimeShiftUID string
	DateFrom     string
	DateTo       string
	IsMorning    bool
	EventUID     string
}

// Timeshift renders the window the way the reserve form expects it.
func (w PaymentWindow) Timeshift() string {
	return fmt.Sprintf("%s-%s", w.DateFrom, w.DateTo)
}
