package webhook

import (
	"encoding/xml"
	"net/http"
)

// ContentTypeXML is the content type of TwiML responses.
const ContentTypeXML = "application/xml"

type twimlResponse struct {
	XMLName xml.Name `xml:"Response"`
	Message *string  `xml:"Message,omitempty"`
}

// TwiML renders a messaging response. An empty text renders an empty
// Response, which sends nothing back.
func TwiML(text string) []byte {
	resp := twimlResponse{}
	if text != "" {
		resp.Message = &text
	}
	out, err := xml.Marshal(resp)
	if err != nil {
		return []byte(xml.Header + "<Response></Response>")
	}
	return append([]byte(xml.Header), out...)
}

// WriteTwiML writes text as a 200 TwiML response.
func WriteTwiML(w http.ResponseWriter, text string) {
	w.Header().Set("Content-Type", ContentTypeXML)
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(TwiML(text))
}
