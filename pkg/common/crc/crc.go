// Package crc computes the masked CRC-32C checksums used by the WAL and
// SSTable file formats. The mask constant is part of the on-disk format
// and must match between writer and reader.
package crc

import "hash/crc32"

const maskDelta = 0xa282ead8

var table = crc32.MakeTable(crc32.Castagnoli)

// Value returns the CRC-32C of data.
func Value(data []byte) uint32 {
	return crc32.Checksum(data, table)
}

// Extend returns the CRC-32C of the concatenation of the bytes that
// produced c and data.
func Extend(c uint32, data []byte) uint32 {
	return crc32.Update(c, table, data)
}

// Mask rotates the checksum and adds a constant so that computing the
// CRC of a string containing embedded CRCs stays well behaved.
func Mask(c uint32) uint32 {
	return ((c >> 15) | (c << 17)) + maskDelta
}

// Unmask reverses Mask.
func Unmask(masked uint32) uint32 {
	rot := masked - maskDelta
	return (rot >> 17) | (rot << 15)
}
