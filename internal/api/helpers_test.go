package api

import (
	"encoding/xml"
	"strings"
)

func xmlUnmarshal(body string, out any) error {
	return xml.Unmarshal([]byte(strings.TrimPrefix(body, xml.Header)), out)
}
