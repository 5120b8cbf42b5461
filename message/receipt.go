package message

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"

	cassieq "github.com/paradoxical-io/cassieq-sub001"
)

// PopReceipt is the opaque proof of possession handed to a consumer. It
// encodes the message index and the version the consumer saw.
type PopReceipt string

// receiptSep never appears in the decimal rendering of either field.
const receiptSep = ":"

// EncodeReceipt renders (index, version) as a URL-safe token.
func EncodeReceipt(index uint64, version int) PopReceipt {
	raw := strconv.FormatUint(index, 10) + receiptSep + strconv.Itoa(version)
	return PopReceipt(base64.RawURLEncoding.EncodeToString([]byte(raw)))
}

// DecodeReceipt is the exact inverse of EncodeReceipt. Malformed tokens
// return an error wrapping cassieq.ErrInvalidReceipt.
func DecodeReceipt(r PopReceipt) (index uint64, version int, err error) {
	raw, err := base64.RawURLEncoding.DecodeString(string(r))
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %w", cassieq.ErrInvalidReceipt, err)
	}

	idxPart, verPart, ok := strings.Cut(string(raw), receiptSep)
	if !ok {
		return 0, 0, fmt.Errorf("%w: missing separator", cassieq.ErrInvalidReceipt)
	}

	index, err = strconv.ParseUint(idxPart, 10, 64)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: index: %w", cassieq.ErrInvalidReceipt, err)
	}
	version, err = strconv.Atoi(verPart)
	if err != nil || version < 0 {
		return 0, 0, fmt.Errorf("%w: version %q", cassieq.ErrInvalidReceipt, verPart)
	}
	return index, version, nil
}

func (r PopReceipt) String() string { return string(r) }
