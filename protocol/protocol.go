// Package protocol implements the framed VLQ message protocol spoken between
// linewatch firmware and its host tools.
//
// A message block is
//
//	len | seq | payload... | crc_hi | crc_lo | 0x7E
//
// where len counts the whole block, seq carries 0x10 in its high nibble and a
// four-bit sequence number in its low nibble, and the CRC covers len, seq and
// payload. The payload is a run of commands, each a VLQ command id followed by
// VLQ-encoded arguments. A block with an empty payload is an ACK/NAK.
package protocol

// Version is the protocol and firmware release string
const Version = "0.3.0"

// Message block layout
const (
	MessageMax         = 512 // Scratch buffer size; fits several blocks
	MessageHeaderSize  = 2
	MessageTrailerSize = 3
	MessageLengthMin   = MessageHeaderSize + MessageTrailerSize
	MessageLengthMax   = 64
	MessagePositionLen = 0
	MessagePositionSeq = 1
	MessageTrailerCRC  = 3
	MessageTrailerSync = 1
	MessageValueSync   = 0x7E
	MessageDest        = 0x10
	MessageSeqMask     = 0x0F
)

// MessagePayloadMax is the largest payload one block can carry
const MessagePayloadMax = MessageLengthMax - MessageLengthMin

// NextSequence returns the sequence byte following seq
func NextSequence(seq uint8) uint8 {
	return ((seq + 1) & MessageSeqMask) | MessageDest
}
