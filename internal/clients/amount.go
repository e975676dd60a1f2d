package clients

import (
	"fmt"
	"strconv"
	"strings"
)

// Unit is a binary size unit. Each unit is 1024 of the previous one.
type Unit int

const (
	Byte Unit = iota
	KB
	MB
	GB
	TB
	PB
)

const unitJump = 1024

var unitNames = [...]string{"bytes", "KB", "MB", "GB", "TB", "PB"}

func (u Unit) String() string {
	if u < Byte || u > PB {
		return "Unit(" + strconv.Itoa(int(u)) + ")"
	}
	return unitNames[u]
}

// TransferAmount is a byte count expressed in a display unit. The zero value
// means "no limit" when used as a bandwidth cap.
type TransferAmount struct {
	Amount uint64
	Unit   Unit
}

// Bytes converts the amount to bytes.
func (t TransferAmount) Bytes() uint64 {
	total := t.Amount
	for u := t.Unit; u > Byte; u-- {
		total *= unitJump
	}
	return total
}

func (t TransferAmount) String() string {
	return fmt.Sprintf("%d %s", t.Amount, t.Unit)
}

// AmountFromBytes picks the largest unit that keeps the amount above 1024,
// rounding down.
func AmountFromBytes(total uint64) TransferAmount {
	amount, unit := total, Byte
	for amount > unitJump && unit < PB {
		amount /= unitJump
		unit++
	}
	return TransferAmount{Amount: amount, Unit: unit}
}

// ParseTransferAmount parses "512", "512B", "10KB", "1 MB" and the like.
// Units are case-insensitive.
func ParseTransferAmount(s string) (TransferAmount, error) {
	s = strings.TrimSpace(s)
	i := strings.IndexFunc(s, func(r rune) bool { return r < '0' || r > '9' })
	num, suffix := s, ""
	if i >= 0 {
		num, suffix = s[:i], strings.TrimSpace(s[i:])
	}

	n, err := strconv.ParseUint(num, 10, 64)
	if err != nil {
		return TransferAmount{}, fmt.Errorf("transfer amount %q: %w", s, err)
	}

	var unit Unit
	switch strings.ToUpper(suffix) {
	case "", "B", "BYTE", "BYTES":
		unit = Byte
	case "K", "KB":
		unit = KB
	case "M", "MB":
		unit = MB
	case "G", "GB":
		unit = GB
	case "T", "TB":
		unit = TB
	case "P", "PB":
		unit = PB
	default:
		return TransferAmount{}, fmt.Errorf("transfer amount %q: unknown unit %q", s, suffix)
	}
	return TransferAmount{Amount: n, Unit: unit}, nil
}
