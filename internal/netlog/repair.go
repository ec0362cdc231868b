package netlog

import (
	"bytes"
	"encoding/json"
)

// closing is appended to a capture whose writer died before finishing the
// events array and the root object.
var closing = []byte("]}")

// maxRepairAttempts bounds how many '}' positions the truncation stage tries,
// walking back from the end of the file.
const maxRepairAttempts = 16

// Repair returns data unchanged when it is valid JSON. Otherwise it tries,
// in order: drop a dangling comma and close the array and object; truncate
// after the last complete '}' and close. repaired reports whether the
// returned bytes differ from the input.
func Repair(data []byte) (fixed []byte, repaired bool, err error) {
	if json.Valid(data) {
		return data, false, nil
	}

	trimmed := bytes.TrimRight(data, " \t\r\n")
	trimmed = bytes.TrimSuffix(trimmed, []byte(","))
	trimmed = bytes.TrimRight(trimmed, " \t\r\n")
	if candidate := closeCapture(trimmed); json.Valid(candidate) {
		return candidate, true, nil
	}

	end := bytes.LastIndexByte(trimmed, '}')
	for attempt := 0; attempt < maxRepairAttempts && end >= 0; attempt++ {
		if candidate := closeCapture(trimmed[:end+1]); json.Valid(candidate) {
			return candidate, true, nil
		}
		end = bytes.LastIndexByte(trimmed[:end], '}')
	}
	return nil, false, ErrMalformedCapture
}

func closeCapture(body []byte) []byte {
	out := make([]byte, 0, len(body)+len(closing))
	out = append(out, body...)
	return append(out, closing...)
}
