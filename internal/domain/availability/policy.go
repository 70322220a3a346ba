package availability

// Policy is the subset of the reservation policy slot generation depends on.
// Zero means the field is not configured.
type Policy struct {
	AdvanceBookingDays  int `json:"advance_booking_days"`
	SlotDurationMinutes int `json:"slot_duration_minutes"`
}

// Missing lists the required fields that are not configured.
func (p Policy) Missing() []string {
	var out []string
	if p.AdvanceBookingDays <= 0 {
		out = append(out, "advance_booking_days")
	}
	if p.SlotDurationMinutes <= 0 {
		out = append(out, "slot_duration_minutes")
	}
	return out
}
