package normalizer

import (
	"bytes"

	"github.com/dagpulse/dagpulse-backend/internal/model"
)

var (
	kasiaMarker   = []byte("ciph_msg")
	kasplexMarker = []byte("kasplex")
	krcMarkers    = [][]byte{[]byte("kasplex"), []byte("kspr")}
	knsMarker     = []byte("kns")
)

// detectProtocol classifies a transaction by its payload and the inscription
// envelopes found in its input signature scripts.
func detectProtocol(payload []byte, inputs []model.TransactionInput) model.Protocol {
	if bytes.Contains(payload, kasiaMarker) {
		return model.ProtocolKasia
	}
	if bytes.Contains(payload, kasplexMarker) {
		return model.ProtocolKasplex
	}

	for _, in := range inputs {
		for _, push := range scriptPushData(in.SignatureScript) {
			for _, marker := range krcMarkers {
				if bytes.Equal(push, marker) {
					return model.ProtocolKRC
				}
			}
			if bytes.Equal(push, knsMarker) {
				return model.ProtocolKNS
			}
		}
	}

	return model.ProtocolNative
}

// scriptPushData extracts pushed data elements from a signature script.
// Non-printable OP_PUSHDATA1 payloads are parsed recursively since inscription
// envelopes nest their redeem script inside a single push.
func scriptPushData(script []byte) [][]byte {
	var pushes [][]byte

	offset := 0
	for offset < len(script) {
		opcode := script[offset]
		offset++

		switch {
		case opcode >= 0x01 && opcode <= 0x4b:
			length := int(opcode)
			if offset+length > len(script) {
				return pushes
			}
			pushes = append(pushes, script[offset:offset+length])
			offset += length

		case opcode == 0x4c: // OP_PUSHDATA1
			if offset >= len(script) {
				return pushes
			}
			length := int(script[offset])
			offset++
			if offset+length > len(script) {
				return pushes
			}
			data := script[offset : offset+length]
			offset += length
			if printable(data) {
				pushes = append(pushes, data)
			} else {
				pushes = append(pushes, scriptPushData(data)...)
			}

		default:
			// Non-push opcodes carry no data.
		}
	}

	return pushes
}

func printable(data []byte) bool {
	for _, b := range data {
		if b < 0x02 || b > 0x7e {
			return false
		}
	}
	return true
}
