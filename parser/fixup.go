package parser

// Multi sector structures (MFT records, index blocks and log pages)
// protect against torn writes by replacing the last two bytes of
// every 512 byte stride with an update sequence number. The original
// bytes are kept in the update sequence array following the header.

// applyFixups restores the original bytes in place. usa_offset and
// usa_count are read from the structure header. A count of zero
// means the structure carries no fixups.
func applyFixups(buffer []byte, usa_offset, usa_count int, file_offset int64) error {
	if usa_count == 0 {
		return nil
	}

	if usa_offset+usa_count*2 > len(buffer) {
		return newDecodeError(TruncatedHeader, file_offset,
			"update sequence array (%d entries @ %#x) overruns %d bytes",
			usa_count, usa_offset, len(buffer))
	}

	fixup_table := buffer[usa_offset : usa_offset+usa_count*2]
	fixup_magic := []byte{fixup_table[0], fixup_table[1]}

	sector_idx := 0
	for idx := 2; idx < len(fixup_table); idx += 2 {
		fixup_offset := (sector_idx+1)*FIXUP_STRIDE - 2
		if fixup_offset+1 >= len(buffer) {
			// The table covers more strides than we have. This
			// happens with records read from a short stream.
			return newDecodeError(TruncatedHeader, file_offset,
				"fixup stride %d past end of %d bytes", sector_idx, len(buffer))
		}

		if buffer[fixup_offset] != fixup_magic[0] ||
			buffer[fixup_offset+1] != fixup_magic[1] {
			return newDecodeError(FixupMismatch, file_offset+int64(fixup_offset),
				"stride %d has %#02x%02x expected %#02x%02x", sector_idx,
				buffer[fixup_offset+1], buffer[fixup_offset],
				fixup_magic[1], fixup_magic[0])
		}

		buffer[fixup_offset] = fixup_table[idx]
		buffer[fixup_offset+1] = fixup_table[idx+1]
		sector_idx += 1
	}

	return nil
}

// protectFixups is the inverse of applyFixups: it saves the last two
// bytes of each stride into the update sequence array and stamps
// the stride with the sequence number. Used to build images.
func protectFixups(buffer []byte, usa_offset, usa_count int, sequence uint16) {
	if usa_count == 0 || usa_offset+usa_count*2 > len(buffer) {
		return
	}

	buffer[usa_offset] = byte(sequence)
	buffer[usa_offset+1] = byte(sequence >> 8)

	for idx := 1; idx < usa_count; idx++ {
		fixup_offset := idx*FIXUP_STRIDE - 2
		if fixup_offset+1 >= len(buffer) {
			return
		}
		buffer[usa_offset+idx*2] = buffer[fixup_offset]
		buffer[usa_offset+idx*2+1] = buffer[fixup_offset+1]
		buffer[fixup_offset] = byte(sequence)
		buffer[fixup_offset+1] = byte(sequence >> 8)
	}
}
