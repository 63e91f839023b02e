package udf

import "time"

// Timestamp is the ECMA-167 14.1.1 on-disk timestamp layout.
type Timestamp struct {
	TypeAndTimezone uint16
	Year            int16
	Month           uint8
	Day             uint8
	Hour            uint8
	Minute          uint8
	Second          uint8
	Centiseconds    uint8
	HundredsOfMicro uint8
	Microseconds    uint8
}

// The type (1 = local time) occupies the top 4 bits of TypeAndTimezone;
// timezoneMask selects the remaining 12 bits, a signed offset in minutes
// from UTC.
const timezoneMask = 0x0FFF

// Offset returns the timestamp's signed timezone offset in minutes, or
// (0, false) if the timestamp does not carry a local-time offset (the
// all-ones "not specified" sentinel, ECMA-167 14.1.1).
func (t Timestamp) Offset() (int, bool) {
	raw := t.TypeAndTimezone & timezoneMask
	if raw == timezoneMask {
		return 0, false
	}
	// sign-extend a 12-bit field
	v := int(raw)
	if v&0x0800 != 0 {
		v -= 0x1000
	}
	return v, true
}

// Time converts t into a time.Time, applying its recorded offset when
// present and otherwise assuming UTC.
func (t Timestamp) Time() time.Time {
	offsetMinutes, ok := t.Offset()
	loc := time.UTC
	if ok {
		loc = time.FixedZone("", offsetMinutes*60)
	}
	return time.Date(int(t.Year), time.Month(t.Month), int(t.Day),
		int(t.Hour), int(t.Minute), int(t.Second),
		int(t.Centiseconds)*10_000_000+int(t.HundredsOfMicro)*100_000+int(t.Microseconds)*1000,
		loc)
}

// NewTimestamp encodes tm as an ECMA-167 timestamp, recording its zone offset
// as a local-time offset.
func NewTimestamp(tm time.Time) Timestamp {
	_, offsetSeconds := tm.Zone()
	offsetMinutes := offsetSeconds / 60

	nsec := tm.Nanosecond()
	centi := nsec / 10_000_000
	nsec -= centi * 10_000_000
	hundredsOfMicro := nsec / 100_000
	nsec -= hundredsOfMicro * 100_000
	micro := nsec / 1000

	return Timestamp{
		TypeAndTimezone: 0x1000 | uint16(offsetMinutes)&timezoneMask,
		Year:            int16(tm.Year()),
		Month:           uint8(tm.Month()),
		Day:             uint8(tm.Day()),
		Hour:            uint8(tm.Hour()),
		Minute:          uint8(tm.Minute()),
		Second:          uint8(tm.Second()),
		Centiseconds:    uint8(centi),
		HundredsOfMicro: uint8(hundredsOfMicro),
		Microseconds:    uint8(micro),
	}
}

// Before reports whether t represents an instant strictly before o.
func (t Timestamp) Before(o Timestamp) bool {
	return t.Time().Before(o.Time())
}
