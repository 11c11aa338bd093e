package domain

// NextPrice walks one decay step, never dropping below the floor. A floor of
// zero means no floor.
func NextPrice(current int64, decay DecayType, amount, floor int64) int64 {
	next := current
	switch decay {
	case DecayFixed:
		next = current - amount
	case DecayPercent:
		next = current - current*amount/100
	}
	if next < floor {
		next = floor
	}
	if next < 0 {
		next = 0
	}
	return next
}
