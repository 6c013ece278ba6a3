package oci

import (
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"github.com/opensciencearchive/server/infrastructure/errors"
)

// memoryRe is the canonical memory-string grammar: a decimal amount with
// an optional g/m/k suffix and optional trailing "i", case-insensitive.
var memoryRe = regexp.MustCompile(`^([0-9]+(?:\.[0-9]+)?)(g|m|k)?(i)?$`)

// ParseMemory converts a memory string like "2g" or "512m" to bytes.
// This is the single parser for container limits; both runners use it.
func ParseMemory(memory string) (int64, error) {
	m := memoryRe.FindStringSubmatch(strings.ToLower(strings.TrimSpace(memory)))
	if m == nil {
		return 0, errors.Validation(fmt.Sprintf("invalid memory format: %q", memory))
	}

	amount, err := strconv.ParseFloat(m[1], 64)
	if err != nil {
		return 0, errors.Validation(fmt.Sprintf("invalid memory amount: %q", memory))
	}

	switch m[2] {
	case "g":
		return int64(amount * 1024 * 1024 * 1024), nil
	case "m":
		return int64(amount * 1024 * 1024), nil
	case "k":
		return int64(amount * 1024), nil
	default:
		return int64(amount), nil
	}
}

// ParseCPU converts a CPU string like "2.0" or "0.5" to NanoCPUs.
func ParseCPU(cpu string) (int64, error) {
	amount, err := strconv.ParseFloat(strings.TrimSpace(cpu), 64)
	if err != nil || amount <= 0 {
		return 0, errors.Validation(fmt.Sprintf("invalid cpu format: %q", cpu))
	}
	return int64(amount * 1e9), nil
}
