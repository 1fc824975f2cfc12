// Package options parses the administrative option string accepted by
// format and mount. Unlike the routine it is grounded on, parsing never
// mutates the input: it returns a value-typed record instead.
package options

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/mringgaard/dfs/pkg/dfs/dfserr"
	"github.com/mringgaard/dfs/pkg/dfs/layout"
)

// Options holds the parsed, defaulted administrative options.
type Options struct {
	BlockSize      int
	Cache          int
	InodeRatio     int
	ReservedBlocks int
	ReservedInodes int
	Quick          bool
}

// Default returns the option set in effect when no string is given.
func Default() Options {
	return Options{
		BlockSize:      layout.DefaultBlockSize,
		Cache:          0,
		InodeRatio:     layout.DefaultInodeRatio,
		ReservedBlocks: layout.DefaultReservedBlocks,
		ReservedInodes: layout.DefaultReservedInodes,
		Quick:          false,
	}
}

// Parse parses a comma-separated key[=value] option string, recognising
// exactly blocksize, cache, inoderatio, resvblks, resvinodes and quick. A
// value of "-1" keeps the corresponding default. An unrecognised key is an
// error; on error the returned Options is the zero value.
func Parse(s string) (Options, error) {
	opt := Default()
	if s == "" {
		return opt, nil
	}

	for _, field := range strings.Split(s, ",") {
		if field == "" {
			continue
		}

		key := field
		value := ""
		hasValue := false
		if idx := strings.IndexByte(field, '='); idx >= 0 {
			key = field[:idx]
			value = field[idx+1:]
			hasValue = true
		}

		switch key {
		case "blocksize":
			if n, ok, err := parseInt(value, hasValue); err != nil {
				return Options{}, err
			} else if ok {
				opt.BlockSize = n
			}
		case "cache":
			if n, ok, err := parseInt(value, hasValue); err != nil {
				return Options{}, err
			} else if ok {
				opt.Cache = n
			}
		case "inoderatio":
			if n, ok, err := parseInt(value, hasValue); err != nil {
				return Options{}, err
			} else if ok {
				opt.InodeRatio = n
			}
		case "resvblks":
			if n, ok, err := parseInt(value, hasValue); err != nil {
				return Options{}, err
			} else if ok {
				opt.ReservedBlocks = n
			}
		case "resvinodes":
			if n, ok, err := parseInt(value, hasValue); err != nil {
				return Options{}, err
			} else if ok {
				opt.ReservedInodes = n
			}
		case "quick":
			opt.Quick = true
		default:
			return Options{}, fmt.Errorf("%w: unrecognised option %q", dfserr.ErrInvalid, key)
		}
	}

	return opt, nil
}

// parseInt converts an option value to an int, applying the "-1 keeps
// default" rule. ok is false when the caller should leave the field at its
// default (no value given, or the value is "-1").
func parseInt(value string, hasValue bool) (n int, ok bool, err error) {
	if !hasValue {
		return 0, false, nil
	}
	n, err = strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%w: %q is not an integer", dfserr.ErrInvalid, value)
	}
	if n == -1 {
		return 0, false, nil
	}
	return n, true, nil
}
