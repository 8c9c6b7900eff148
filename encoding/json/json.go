// Package json wraps encoding/json and annotates unmarshal errors with the
// position of the offending byte.
package json

import (
	"encoding/json"
	"fmt"
)

// Marshal is a wrapper for json.Marshal
func Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

// MarshalIndent is a wrapper for json.MarshalIndent
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return json.MarshalIndent(v, prefix, indent)
}

// Unmarshal is a wrapper for json.Unmarshal
func Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

// FormatError takes the marshalled data and the error from Unmarshal and returns
// a detailed error message of where the error was and what the error is.
func FormatError(input []byte, err error) error {
	if jsonError, ok := err.(*json.SyntaxError); ok {
		line, character := lineAndCharacter(input, int(jsonError.Offset))

		return fmt.Errorf("syntax error at line %d, character %d: %w", line, character, err)
	}

	if jsonError, ok := err.(*json.UnmarshalTypeError); ok {
		line, character := lineAndCharacter(input, int(jsonError.Offset))

		return fmt.Errorf("expect type '%s' for '%s' at line %d, character %d: %w", jsonError.Type.String(), jsonError.Field, line, character, err)
	}

	return err
}

func lineAndCharacter(input []byte, offset int) (line int, character int) {
	lf := byte(0x0A)

	if offset > len(input) || offset < 0 {
		return 0, 0
	}

	// Humans tend to count from 1.
	line = 1

	for i, b := range input {
		if b == lf {
			line++
			character = 0
		}
		character++
		if i == offset {
			break
		}
	}

	return line, character
}
