package twilio

import (
	"encoding/xml"
	"fmt"
	"strings"
)

const (
	sayVoice       = "alice"
	gatherLanguage = "en-US"
	gatherTimeout  = 3
)

// Say renders one spoken line.
type Say struct {
	XMLName xml.Name `xml:"Say"`
	Voice   string   `xml:"voice,attr,omitempty"`
	Text    string   `xml:",chardata"`
}

// Gather asks Twilio to collect speech input and post the transcript
// to the given callback.
type Gather struct {
	XMLName            xml.Name `xml:"Gather"`
	Input              string   `xml:"input,attr,omitempty"`
	Timeout            int      `xml:"timeout,attr,omitempty"`
	Language           string   `xml:"language,attr,omitempty"`
	Transcribe         bool     `xml:"transcribe,attr,omitempty"`
	TranscribeCallback string   `xml:"transcribeCallback,attr,omitempty"`
	Say                *Say     `xml:"Say,omitempty"`
}

type Hangup struct {
	XMLName xml.Name `xml:"Hangup"`
}

// VoiceResponse is a minimal TwiML document: an ordered list of verbs
// under <Response>.
type VoiceResponse struct {
	verbs []any
}

func NewVoiceResponse() *VoiceResponse {
	return &VoiceResponse{}
}

func (r *VoiceResponse) WithSay(text string) *VoiceResponse {
	r.verbs = append(r.verbs, Say{Voice: sayVoice, Text: text})
	return r
}

// WithGather arms speech collection; prompt may be empty when the
// spoken line was already said.
func (r *VoiceResponse) WithGather(prompt, callbackURL string) *VoiceResponse {
	g := Gather{
		Input:              "speech",
		Timeout:            gatherTimeout,
		Language:           gatherLanguage,
		Transcribe:         true,
		TranscribeCallback: callbackURL,
	}
	if prompt != "" {
		g.Say = &Say{Voice: sayVoice, Text: prompt}
	}
	r.verbs = append(r.verbs, g)

	return r
}

func (r *VoiceResponse) WithHangup() *VoiceResponse {
	r.verbs = append(r.verbs, Hangup{})
	return r
}

// Render serializes the document with the XML declaration Twilio
// expects, verbs in insertion order.
func (r *VoiceResponse) Render() (string, error) {
	var builder strings.Builder
	builder.WriteString(xml.Header)

	encoder := xml.NewEncoder(&builder)

	start := xml.StartElement{Name: xml.Name{Local: "Response"}}
	if err := encoder.EncodeToken(start); err != nil {
		return "", fmt.Errorf("failed to open TwiML response: %w", err)
	}

	for _, verb := range r.verbs {
		if err := encoder.Encode(verb); err != nil {
			return "", fmt.Errorf("failed to encode TwiML verb: %w", err)
		}
	}

	if err := encoder.EncodeToken(start.End()); err != nil {
		return "", fmt.Errorf("failed to close TwiML response: %w", err)
	}
	if err := encoder.Flush(); err != nil {
		return "", fmt.Errorf("failed to flush TwiML: %w", err)
	}

	return builder.String(), nil
}
