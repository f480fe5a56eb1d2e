package wallet

import (
	"fmt"
	"strconv"
	"strings"
)

// AccountPlaceholder is replaced by the account index in path templates.
const AccountPlaceholder = "{account}"

const hardenedOffset = uint32(0x80000000)

// ResolvePath substitutes the account index into a template such as
// m/44'/60'/{account}'/0/0 and parses it into child indexes.
// Hardened segments may be written with ' or h.
func ResolvePath(template string, account uint32) (string, []uint32, error) {
	if account >= hardenedOffset {
		return "", nil, fmt.Errorf("%w: account index %d out of range", ErrDerivationFailed, account)
	}

	path := strings.ReplaceAll(template, AccountPlaceholder, strconv.FormatUint(uint64(account), 10))
	parts := strings.Split(path, "/")
	if len(parts) < 2 || parts[0] != "m" {
		return "", nil, fmt.Errorf("%w: malformed path %q", ErrDerivationFailed, path)
	}

	segments := make([]uint32, 0, len(parts)-1)
	for _, part := range parts[1:] {
		hardened := false
		if strings.HasSuffix(part, "'") || strings.HasSuffix(part, "h") || strings.HasSuffix(part, "H") {
			hardened = true
			part = part[:len(part)-1]
		}

		n, err := strconv.ParseUint(part, 10, 32)
		if err != nil {
			return "", nil, fmt.Errorf("%w: malformed segment in path %q", ErrDerivationFailed, path)
		}
		idx := uint32(n)
		if idx >= hardenedOffset {
			return "", nil, fmt.Errorf("%w: segment %d out of range in path %q", ErrDerivationFailed, idx, path)
		}
		if hardened {
			idx += hardenedOffset
		}
		segments = append(segments, idx)
	}

	return path, segments, nil
}
