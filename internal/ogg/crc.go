package ogg

// Ogg uses CRC-32 with polynomial 0x04C11DB7, MSB first, zero initial value
// and no final xor. This differs from hash/crc32, which is reflected.
const crcPolynomial = 0x04C11DB7

var crcTable = makeCRCTable()

func makeCRCTable() [256]uint32 {
	var table [256]uint32
	for i := range table {
		crc := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if crc&0x80000000 != 0 {
				crc = (crc << 1) ^ crcPolynomial
			} else {
				crc <<= 1
			}
		}
		table[i] = crc
	}
	return table
}

// Checksum returns the Ogg page checksum of data.
func Checksum(data []byte) uint32 {
	var crc uint32
	for _, b := range data {
		crc = (crc << 8) ^ crcTable[byte(crc>>24)^b]
	}
	return crc
}
