package permission

// Mask is a set of permission bits.
type Mask uint64

// RootBit grants every permission.
const RootBit = 63

// Has reports whether bit is set, or whether the mask carries the root bit.
func (m Mask) Has(bit int) bool {
	if bit < 0 || bit > RootBit {
		return false
	}
	if m&(1<<RootBit) != 0 {
		return true
	}
	return m&(1<<bit) != 0
}

// Set returns m with bit set. Out-of-range bits are ignored.
func (m Mask) Set(bit int) Mask {
	if bit < 0 || bit > RootBit {
		return m
	}
	return m | 1<<bit
}

// Clear returns m with bit cleared.
func (m Mask) Clear(bit int) Mask {
	if bit < 0 || bit > RootBit {
		return m
	}
	return m &^ (1 << bit)
}
