package chain

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
)

// AddressLength é o tamanho em bytes de endereços e ids de objeto no Sui.
const AddressLength = 32

// NormalizeAddress devolve o endereço com prefixo 0x e 64 dígitos hex.
func NormalizeAddress(addr string) (string, error) {
	s := strings.TrimPrefix(strings.ToLower(strings.TrimSpace(addr)), "0x")
	if s == "" || len(s) > AddressLength*2 {
		return "", fmt.Errorf("invalid sui address %q", addr)
	}
	if _, err := hex.DecodeString(padHex(s)); err != nil {
		return "", fmt.Errorf("invalid sui address %q: %w", addr, err)
	}
	return "0x" + padHex(s), nil
}

// AddressBytes converte um endereço (curto ou longo) em 32 bytes.
func AddressBytes(addr string) ([AddressLength]byte, error) {
	var out [AddressLength]byte
	norm, err := NormalizeAddress(addr)
	if err != nil {
		return out, err
	}
	b, _ := hex.DecodeString(norm[2:])
	copy(out[:], b)
	return out, nil
}

func padHex(s string) string {
	if len(s) >= AddressLength*2 {
		return s
	}
	return strings.Repeat("0", AddressLength*2-len(s)) + s
}

// Valores puros serializados em BCS.

func PureU64(v uint64) PlanInput {
	b := make([]byte, 8)
	binary.LittleEndian.PutUint64(b, v)
	return PlanInput{Kind: InputPure, Pure: b}
}

func PureBool(v bool) PlanInput {
	if v {
		return PlanInput{Kind: InputPure, Pure: []byte{1}}
	}
	return PlanInput{Kind: InputPure, Pure: []byte{0}}
}

func PureAddress(addr string) (PlanInput, error) {
	b, err := AddressBytes(addr)
	if err != nil {
		return PlanInput{}, err
	}
	return PlanInput{Kind: InputPure, Pure: b[:]}, nil
}

// PureString serializa como vector<u8> (ULEB128 do tamanho + bytes).
func PureString(s string) PlanInput {
	out := AppendULEB128(nil, uint64(len(s)))
	return PlanInput{Kind: InputPure, Pure: append(out, s...)}
}

// AppendULEB128 acrescenta v codificado em ULEB128.
func AppendULEB128(dst []byte, v uint64) []byte {
	for {
		b := byte(v & 0x7f)
		v >>= 7
		if v != 0 {
			dst = append(dst, b|0x80)
			continue
		}
		return append(dst, b)
	}
}

func OwnedObject(id string) PlanInput { return PlanInput{Kind: InputOwnedObject, ObjectID: id} }

func SharedObject(id string, mutable bool) PlanInput {
	return PlanInput{Kind: InputSharedObject, ObjectID: id, Mutable: mutable}
}

func PureU8(v uint8) PlanInput { return PlanInput{Kind: InputPure, Pure: []byte{v}} }
