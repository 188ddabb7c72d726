package payments

const (
	secondsPerDay  int64 = 86_400
	secondsPerWeek int64 = 604_800
)

// NextPaymentDue advances currentDue by whole periods of the supplied
// frequency until it is strictly past now. Skipped periods are caught up
// rather than charged: a policy that sat unexecuted for ten days on a daily
// schedule owes one charge, with the new due date one period past now.
//
// The function is pure and fails only on arithmetic overflow.
func NextPaymentDue(currentDue int64, freq PaymentFrequency, now int64) (int64, error) {
	nextDue := currentDue
	switch freq.Kind {
	case FrequencyDaily:
		return advanceBySeconds(nextDue, secondsPerDay, now)
	case FrequencyWeekly:
		return advanceBySeconds(nextDue, secondsPerWeek, now)
	case FrequencyMonthly:
		return advanceByMonths(nextDue, 1, now)
	case FrequencyQuarterly:
		return advanceByMonths(nextDue, 3, now)
	case FrequencySemiAnnually:
		return advanceByMonths(nextDue, 6, now)
	case FrequencyAnnually:
		return advanceByMonths(nextDue, 12, now)
	case FrequencyCustom:
		if freq.Interval == 0 || freq.Interval > uint64(1<<62) {
			return 0, ErrInvalidInterval
		}
		return advanceBySeconds(nextDue, int64(freq.Interval), now)
	default:
		return 0, ErrInvalidFrequency
	}
}

func advanceBySeconds(due, step, now int64) (int64, error) {
	for due <= now {
		next, err := checkedAdd(due, step)
		if err != nil {
			return 0, err
		}
		due = next
	}
	return due, nil
}

func advanceByMonths(due int64, months int, now int64) (int64, error) {
	for due <= now {
		next, err := addMonths(due, months)
		if err != nil {
			return 0, err
		}
		due = next
	}
	return due, nil
}

// addMonths adds the requested number of months to a Unix timestamp while
// preserving the time-of-day component. The day of month is clamped to the
// target month's maximum, so Jan 31 plus one month lands on Feb 28 (or 29 in
// a leap year). Dates use proleptic Gregorian rules anchored at 1970-01-01.
func addMonths(timestamp int64, months int) (int64, error) {
	daysSinceEpoch := timestamp / secondsPerDay
	secondsInDay := timestamp % secondsPerDay
	if secondsInDay < 0 {
		daysSinceEpoch--
		secondsInDay += secondsPerDay
	}

	year, month, day, err := civilFromDays(daysSinceEpoch)
	if err != nil {
		return 0, err
	}

	newMonth := month + months
	newYear := year
	for newMonth > 12 {
		newMonth -= 12
		newYear++
	}
	for newMonth < 1 {
		newMonth += 12
		newYear--
	}

	maxDay := daysInMonth(newYear, newMonth)
	newDay := day
	if newDay > maxDay {
		newDay = maxDay
	}

	newDays, err := daysFromCivil(newYear, newMonth, newDay)
	if err != nil {
		return 0, err
	}
	stamp, err := checkedMul(newDays, secondsPerDay)
	if err != nil {
		return 0, err
	}
	return checkedAdd(stamp, secondsInDay)
}

// civilFromDays decomposes a day count since 1970-01-01 into a calendar date.
func civilFromDays(days int64) (year int, month int, day int, err error) {
	if days < 0 {
		return 0, 0, 0, ErrInvalidPaymentDueDate
	}
	if days > int64(1<<31) {
		return 0, 0, 0, ErrArithmeticOverflow
	}
	year = 1970
	remaining := int(days)
	for {
		yearDays := 365
		if isLeapYear(year) {
			yearDays = 366
		}
		if remaining < yearDays {
			break
		}
		remaining -= yearDays
		year++
	}
	month = 1
	for {
		monthDays := daysInMonth(year, month)
		if remaining < monthDays {
			break
		}
		remaining -= monthDays
		month++
	}
	day = remaining + 1
	return year, month, day, nil
}

// daysFromCivil re-encodes a calendar date into a day count since 1970-01-01.
func daysFromCivil(year, month, day int) (int64, error) {
	if year < 1970 {
		return 0, ErrInvalidPaymentDueDate
	}
	var days int64
	for y := 1970; y < year; y++ {
		if isLeapYear(y) {
			days += 366
		} else {
			days += 365
		}
	}
	for m := 1; m < month; m++ {
		days += int64(daysInMonth(year, m))
	}
	return days + int64(day-1), nil
}

func isLeapYear(year int) bool {
	return (year%4 == 0 && year%100 != 0) || year%400 == 0
}

func daysInMonth(year, month int) int {
	switch month {
	case 1, 3, 5, 7, 8, 10, 12:
		return 31
	case 4, 6, 9, 11:
		return 30
	case 2:
		if isLeapYear(year) {
			return 29
		}
		return 28
	default:
		return 0
	}
}

func checkedAdd(a, b int64) (int64, error) {
	sum := a + b
	if (b > 0 && sum < a) || (b < 0 && sum > a) {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

func checkedMul(a, b int64) (int64, error) {
	if a == 0 || b == 0 {
		return 0, nil
	}
	product := a * b
	if product/b != a {
		return 0, ErrArithmeticOverflow
	}
	return product, nil
}
