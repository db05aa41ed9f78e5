package structured

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// FlexInt decodes from a JSON number, a float, or a numeric string. Values
// that are none of these decode to zero without error.
type FlexInt int

func (f *FlexInt) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*f = 0
		return nil
	}
	var num float64
	if err := json.Unmarshal(b, &num); err == nil {
		*f = FlexInt(math.Round(num))
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		if n, err := strconv.ParseFloat(strings.TrimSpace(s), 64); err == nil {
			*f = FlexInt(math.Round(n))
			return nil
		}
	}
	*f = 0
	return nil
}

// FlexFloat decodes from a JSON number or a numeric string, with an optional
// trailing percent sign scaled to a fraction.
type FlexFloat float64

func (f *FlexFloat) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	var num float64
	if err := json.Unmarshal(b, &num); err == nil {
		*f = FlexFloat(num)
		return nil
	}
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		s = strings.TrimSpace(s)
		pct := strings.HasSuffix(s, "%")
		s = strings.TrimSuffix(s, "%")
		if n, err := strconv.ParseFloat(s, 64); err == nil {
			if pct {
				n /= 100
			}
			*f = FlexFloat(n)
			return nil
		}
	}
	*f = 0
	return nil
}

// FlexString decodes from a JSON string, or keeps the literal text of a
// number or boolean. Objects and arrays decode to "".
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	var s string
	if err := json.Unmarshal(b, &s); err == nil {
		*f = FlexString(s)
		return nil
	}
	var num json.Number
	if err := json.Unmarshal(b, &num); err == nil {
		*f = FlexString(num.String())
		return nil
	}
	var v bool
	if err := json.Unmarshal(b, &v); err == nil {
		*f = FlexString(strconv.FormatBool(v))
		return nil
	}
	*f = ""
	return nil
}
