package provider

import (
	"encoding/xml"
	"fmt"
)

// twimlResponse is the root element of a spoken-menu payload understood by
// Twilio and LaML-compatible carriers.
type twimlResponse struct {
	XMLName xml.Name    `xml:"Response"`
	Gather  *twimlGather `xml:"Gather,omitempty"`
	Hangup  *struct{}    `xml:"Hangup,omitempty"`
}

type twimlGather struct {
	NumDigits int        `xml:"numDigits,attr"`
	Timeout   int        `xml:"timeout,attr"`
	Action    string     `xml:"action,attr"`
	Method    string     `xml:"method,attr"`
	Play      *twimlPlay `xml:"Play,omitempty"`
}

type twimlPlay struct {
	URL string `xml:",chardata"`
}

// BroadcastTwiML renders the spoken-menu document for an audio broadcast:
// play the pre-rendered message while gathering a single keypress, posting
// any digit to dtmfURL, then hang up.
func BroadcastTwiML(audioURL, dtmfURL string) (string, error) {
	doc := twimlResponse{
		Gather: &twimlGather{
			NumDigits: 1,
			Timeout:   5,
			Action:    dtmfURL,
			Method:    "POST",
			Play:      &twimlPlay{URL: audioURL},
		},
		Hangup: &struct{}{},
	}

	out, err := xml.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("marshalling twiml: %w", err)
	}
	return xml.Header + string(out), nil
}

// HangupTwiML renders the minimal document that ends the call.
func HangupTwiML() string {
	return xml.Header + "<Response><Hangup></Hangup></Response>"
}
