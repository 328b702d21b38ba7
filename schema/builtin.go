package schema

import (
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"math/big"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

var (
	reDecimal  = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)$`)
	reFloat    = regexp.MustCompile(`^[+-]?(\d+(\.\d*)?|\.\d+)([eE][+-]?\d+)?$`)
	reInteger  = regexp.MustCompile(`^[+-]?\d+$`)
	reNCName   = regexp.MustCompile(`^[\p{L}_][\p{L}\p{N}\p{M}._\-]*$`)
	reName     = regexp.MustCompile(`^[\p{L}_:][\p{L}\p{N}\p{M}._:\-]*$`)
	reNMToken  = regexp.MustCompile(`^[\p{L}\p{N}\p{M}._:\-]+$`)
	reLanguage = regexp.MustCompile(`^[a-zA-Z]{1,8}(-[a-zA-Z0-9]{1,8})*$`)
	reDateTime = regexp.MustCompile(`^(-?\d{4,})-(\d{2})-(\d{2})T(\d{2}):(\d{2}):(\d{2})(\.\d+)?(Z|[+-]\d{2}:\d{2})?$`)
	reDate     = regexp.MustCompile(`^(-?\d{4,})-(\d{2})-(\d{2})(Z|[+-]\d{2}:\d{2})?$`)
	reTime     = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2})(\.\d+)?(Z|[+-]\d{2}:\d{2})?$`)
	reDuration = regexp.MustCompile(`^-?P(\d+Y)?(\d+M)?(\d+D)?(T(\d+H)?(\d+M)?(\d+(\.\d+)?S)?)?$`)
	reGYear    = regexp.MustCompile(`^-?\d{4,}(Z|[+-]\d{2}:\d{2})?$`)
)

type intRange struct {
	min, max *big.Int
}

func bigInt(s string) *big.Int {
	n, _ := new(big.Int).SetString(s, 10)
	return n
}

var integerRanges = map[string]intRange{
	"integer":            {},
	"nonNegativeInteger": {min: bigInt("0")},
	"positiveInteger":    {min: bigInt("1")},
	"nonPositiveInteger": {max: bigInt("0")},
	"negativeInteger":    {max: bigInt("-1")},
	"long":               {bigInt("-9223372036854775808"), bigInt("9223372036854775807")},
	"int":                {bigInt("-2147483648"), bigInt("2147483647")},
	"short":              {bigInt("-32768"), bigInt("32767")},
	"byte":               {bigInt("-128"), bigInt("127")},
	"unsignedLong":       {bigInt("0"), bigInt("18446744073709551615")},
	"unsignedInt":        {bigInt("0"), bigInt("4294967295")},
	"unsignedShort":      {bigInt("0"), bigInt("65535")},
	"unsignedByte":       {bigInt("0"), bigInt("255")},
}

var builtinNames = map[string]bool{
	"anySimpleType": true, "string": true, "normalizedString": true, "token": true,
	"boolean": true, "decimal": true, "float": true, "double": true,
	"dateTime": true, "date": true, "time": true, "duration": true, "gYear": true,
	"base64Binary": true, "hexBinary": true, "anyURI": true, "QName": true,
	"Name": true, "NCName": true, "ID": true, "IDREF": true, "IDREFS": true,
	"ENTITY": true, "ENTITIES": true, "NMTOKEN": true, "NMTOKENS": true, "language": true,
}

// checkBuiltin validates a whitespace-normalized value against a built-in
// simple type.
func checkBuiltin(name, v string) error {
	if r, ok := integerRanges[name]; ok {
		if !reInteger.MatchString(v) {
			return fmt.Errorf("%q is not an integer", v)
		}
		n, _ := new(big.Int).SetString(strings.TrimPrefix(v, "+"), 10)
		if r.min != nil && n.Cmp(r.min) < 0 {
			return fmt.Errorf("%s out of range for %s", v, name)
		}
		if r.max != nil && n.Cmp(r.max) > 0 {
			return fmt.Errorf("%s out of range for %s", v, name)
		}
		return nil
	}

	switch name {
	case "anySimpleType", "string", "token", "anyURI":
		if name == "anyURI" {
			if _, err := url.Parse(v); err != nil {
				return fmt.Errorf("%q is not a URI", v)
			}
		}
		return nil
	case "normalizedString":
		if strings.ContainsAny(v, "\t\r\n") {
			return fmt.Errorf("normalizedString contains line breaks or tabs")
		}
		return nil
	case "boolean":
		switch v {
		case "true", "false", "1", "0":
			return nil
		}
		return fmt.Errorf("%q is not a boolean", v)
	case "decimal":
		return matchOrFail(reDecimal, v, name)
	case "float", "double":
		switch v {
		case "INF", "-INF", "NaN":
			return nil
		}
		return matchOrFail(reFloat, v, name)
	case "dateTime":
		return checkDateTime(v)
	case "date":
		m := reDate.FindStringSubmatch(v)
		if m == nil {
			return fmt.Errorf("%q is not a date", v)
		}
		return checkCalendar(m[1], m[2], m[3], "00", "00", "00")
	case "time":
		m := reTime.FindStringSubmatch(v)
		if m == nil {
			return fmt.Errorf("%q is not a time", v)
		}
		return checkCalendar("2000", "01", "01", m[1], m[2], m[3])
	case "duration":
		if !reDuration.MatchString(v) || strings.HasSuffix(v, "P") || strings.HasSuffix(v, "T") {
			return fmt.Errorf("%q is not a duration", v)
		}
		return nil
	case "gYear":
		return matchOrFail(reGYear, v, name)
	case "base64Binary":
		if _, err := base64.StdEncoding.DecodeString(strings.Join(strings.Fields(v), "")); err != nil {
			return fmt.Errorf("invalid base64Binary: %v", err)
		}
		return nil
	case "hexBinary":
		if _, err := hex.DecodeString(v); err != nil {
			return fmt.Errorf("invalid hexBinary: %v", err)
		}
		return nil
	case "QName":
		prefix, local, found := strings.Cut(v, ":")
		if (found && !reNCName.MatchString(prefix)) || !reNCName.MatchString(local) {
			return fmt.Errorf("%q is not a QName", v)
		}
		return nil
	case "NCName", "ID", "IDREF", "ENTITY":
		return matchOrFail(reNCName, v, name)
	case "Name":
		return matchOrFail(reName, v, name)
	case "NMTOKEN":
		return matchOrFail(reNMToken, v, name)
	case "IDREFS", "ENTITIES", "NMTOKENS":
		items := strings.Fields(v)
		if len(items) == 0 {
			return fmt.Errorf("%s must not be empty", name)
		}
		re := reNCName
		if name == "NMTOKENS" {
			re = reNMToken
		}
		for _, item := range items {
			if err := matchOrFail(re, item, name); err != nil {
				return err
			}
		}
		return nil
	case "language":
		return matchOrFail(reLanguage, v, name)
	}
	return fmt.Errorf("unsupported built-in type %s", name)
}

func matchOrFail(re *regexp.Regexp, v, name string) error {
	if !re.MatchString(v) {
		return fmt.Errorf("%q is not a valid %s", v, name)
	}
	return nil
}

func checkDateTime(v string) error {
	m := reDateTime.FindStringSubmatch(v)
	if m == nil {
		return fmt.Errorf("%q is not a dateTime", v)
	}
	if m[4] == "24" {
		if m[5] != "00" || m[6] != "00" || strings.Trim(m[7], ".0") != "" {
			return fmt.Errorf("%q is not a dateTime", v)
		}
		return checkCalendar(m[1], m[2], m[3], "00", "00", "00")
	}
	return checkCalendar(m[1], m[2], m[3], m[4], m[5], m[6])
}

// checkCalendar rejects field values that are out of range, such as
// February 30th or minute 61.
func checkCalendar(year, month, day, hour, minute, second string) error {
	y, err := strconv.Atoi(strings.TrimPrefix(year, "-"))
	if err != nil {
		return err
	}
	// Leap years repeat every 400 years; fold the year into a range
	// time.Date handles without overflow.
	y = 2000 + y%400
	mo, _ := strconv.Atoi(month)
	d, _ := strconv.Atoi(day)
	h, _ := strconv.Atoi(hour)
	mi, _ := strconv.Atoi(minute)
	s, _ := strconv.Atoi(second)
	t := time.Date(y, time.Month(mo), d, h, mi, s, 0, time.UTC)
	if t.Year() != y || int(t.Month()) != mo || t.Day() != d || t.Hour() != h || t.Minute() != mi || t.Second() != s {
		return fmt.Errorf("date or time field out of range")
	}
	return nil
}

var builtinTypes = map[string]*simpleType{}

func init() {
	add := func(local string) {
		st := newSimpleType(qname{Space: xsdNamespace, Local: local})
		st.builtin = local
		builtinTypes[local] = st
	}
	for local := range builtinNames {
		add(local)
	}
	for local := range integerRanges {
		add(local)
	}
}

// builtinType returns the shared simple type for a built-in name, or nil.
func builtinType(local string) *simpleType {
	return builtinTypes[local]
}
